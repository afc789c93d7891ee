package metrics

import "time"

// NoopSink discards everything. Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunStarted(pastDue bool)                              {}
func (n *NoopSink) RunCompleted(outcome string, duration time.Duration)  {}
func (n *NoopSink) AlertsFetched(count int, pages int)                   {}
func (n *NoopSink) BatchesUploaded(count int)                            {}
func (n *NoopSink) WindowObserved(span time.Duration, lag time.Duration) {}
func (n *NoopSink) LastSuccess(at time.Time)                             {}

var _ Sink = (*NoopSink)(nil)
