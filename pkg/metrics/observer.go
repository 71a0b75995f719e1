package metrics

import "time"

// MetricsEvent is one observable occurrence inside a session: turn
// lifecycle, barge-in, adapter latency, transport traffic.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
