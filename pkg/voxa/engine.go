package voxa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/voxa-labs/voxa/pkg/backend"
	"github.com/voxa-labs/voxa/pkg/configutil"
	"github.com/voxa-labs/voxa/pkg/logging"
	"github.com/voxa-labs/voxa/pkg/metrics"
	"github.com/voxa-labs/voxa/pkg/redact"
	"github.com/voxa-labs/voxa/pkg/runner"
	"github.com/voxa-labs/voxa/pkg/session"
	"github.com/voxa-labs/voxa/pkg/transports"
)

// Engine wires the session registry, the configured adapters, and a
// transport into one runnable service.
type Engine struct {
	cfg       Config
	registry  *session.Registry
	transport transports.Transport
	providers *ProviderRegistry
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	ctx       context.Context
	cancel    context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Backend handles each finalized utterance. Required.
	Backend backend.Dispatcher
	// Transport overrides the one named in config when set.
	Transport transports.Transport
	// Observer receives metrics events; defaults to a no-op sink.
	Observer metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("backend dispatcher is required")
	}
	cfg := opts.Config
	logging.SetDefault(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("voxa_init",
		"environment", cfg.Environment,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"transport", cfg.Transports.Provider,
		"backend", opts.Backend.Name(),
	)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}

	var inner metrics.Observer = metrics.NoopObserver{}
	if opts.Observer != nil {
		inner = opts.Observer
	}
	asyncObs := metrics.NewAsyncObserver(inner, configutil.IntValue(cfg.Metrics.Buffer, 2048))

	sessCfg := session.Config{
		UtteranceThresholdBytes: cfg.Session.UtteranceThresholdBytes,
		BargeInMinBytes:         cfg.Session.BargeInMinBytes,
	}
	registry := session.NewRegistry(func(ctx context.Context, id string) (*session.Session, error) {
		transcriber, err := providers.BuildSTT(cfg.Vendors.STT.Provider, cfg)
		if err != nil {
			return nil, err
		}
		synthesizer, err := providers.BuildTTS(cfg.Vendors.TTS.Provider, cfg)
		if err != nil {
			return nil, err
		}
		s := session.New(ctx, id, transcriber, synthesizer, opts.Backend, sessCfg)
		s.SetObserver(asyncObs)
		return s, nil
	})

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = providers.BuildTransport(cfg.Transports.Provider, cfg, registry)
		if err != nil {
			return nil, fmt.Errorf("build transport: %w", err)
		}
	}

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Voxa Engine Ready"}
			if rr, ok := transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			asyncObs.Close()
			slog.Info("shutdown",
				"goroutines", runtime.NumGoroutine(),
				"active_sessions", registry.Count())
		},
	}

	drainer := runner.DrainerFunc(func() error {
		_ = transport.Stop()
		registry.SetDraining(true)
		registry.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = registry.WaitForEmpty(ctx, 200*time.Millisecond)
		return nil
	})

	lr := runner.NewLifecycleRunner(drainer, hooks, 30*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:       cfg,
		registry:  registry,
		transport: transport,
		providers: providers,
		runner:    lr,
		asyncObs:  asyncObs,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

func (e *Engine) Registry() *session.Registry { return e.registry }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

func (e *Engine) Health() error {
	if e.transport == nil {
		return fmt.Errorf("missing transport")
	}
	return nil
}
