package voxa

import (
	"fmt"
	"strings"

	"github.com/voxa-labs/voxa/pkg/adapters/stt"
	"github.com/voxa-labs/voxa/pkg/adapters/tts"
	"github.com/voxa-labs/voxa/pkg/configutil"
	"github.com/voxa-labs/voxa/pkg/providers/deepgram"
	"github.com/voxa-labs/voxa/pkg/providers/elevenlabs"
	"github.com/voxa-labs/voxa/pkg/providers/mock"
	"github.com/voxa-labs/voxa/pkg/providers/whisper"
	"github.com/voxa-labs/voxa/pkg/session"
	"github.com/voxa-labs/voxa/pkg/transports"
	"github.com/voxa-labs/voxa/pkg/transports/twilio"
	wstransport "github.com/voxa-labs/voxa/pkg/transports/ws"
)

type STTFactory func(cfg Config) (stt.Transcriber, error)
type TTSFactory func(cfg Config) (tts.Synthesizer, error)
type TransportFactory func(cfg Config, registry *session.Registry) (transports.Transport, error)

// ProviderRegistry maps config provider names to adapter factories.
// Embedders register their own factories alongside the defaults.
type ProviderRegistry struct {
	stt        map[string]STTFactory
	tts        map[string]TTSFactory
	transports map[string]TransportFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:        make(map[string]STTFactory),
		tts:        make(map[string]TTSFactory),
		transports: make(map[string]TransportFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterTransport(name string, factory TransportFactory) {
	r.transports[normalizeName(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(provider string, cfg Config) (stt.Transcriber, error) {
	fn := r.stt[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg Config) (tts.Synthesizer, error) {
	fn := r.tts[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTransport(provider string, cfg Config, registry *session.Registry) (transports.Transport, error) {
	fn := r.transports[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("transport provider not registered: %s", provider)
	}
	return fn(cfg, registry)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultProviders returns a registry with the built-in adapters.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterSTT("mock", func(cfg Config) (stt.Transcriber, error) {
		var mc mock.STTConfig
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &mc); err != nil {
			return nil, err
		}
		return mock.NewSTT(mc), nil
	})
	r.RegisterSTT("whisper", func(cfg Config) (stt.Transcriber, error) {
		var wc whisper.Config
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &wc); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(wc.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		return whisper.New(wc), nil
	})
	r.RegisterSTT("deepgram", func(cfg Config) (stt.Transcriber, error) {
		var dc deepgram.Config
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &dc); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(dc.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		return deepgram.New(dc), nil
	})

	r.RegisterTTS("mock", func(cfg Config) (tts.Synthesizer, error) {
		var mc mock.TTSConfig
		if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &mc); err != nil {
			return nil, err
		}
		return mock.NewTTS(mc), nil
	})
	r.RegisterTTS("elevenlabs", func(cfg Config) (tts.Synthesizer, error) {
		var ec elevenlabs.Config
		if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &ec); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(ec.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		return elevenlabs.New(ec), nil
	})

	r.RegisterTransport("ws", func(cfg Config, registry *session.Registry) (transports.Transport, error) {
		var wc wstransport.Config
		if err := configutil.DecodeSettings(cfg.Transports.Settings, &wc); err != nil {
			return nil, err
		}
		return wstransport.New(wc, registry), nil
	})
	r.RegisterTransport("twilio", func(cfg Config, registry *session.Registry) (transports.Transport, error) {
		var tc twilio.Config
		if err := configutil.DecodeSettings(cfg.Transports.Settings, &tc); err != nil {
			return nil, err
		}
		return twilio.New(tc, registry), nil
	})

	return r
}
