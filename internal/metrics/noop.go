package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncPrediction is a no-op.
func (n *NoopRecorder) IncPrediction(modelType, outcome string) {}

// ObserveInferenceDuration is a no-op.
func (n *NoopRecorder) ObserveInferenceDuration(modelType string, duration time.Duration) {}

// AddCreditsDebited is a no-op.
func (n *NoopRecorder) AddCreditsDebited(modelType string, amount int64) {}

// RecordModelLoad is a no-op.
func (n *NoopRecorder) RecordModelLoad(modelType string, ok bool, duration time.Duration) {}

// IncRegistration is a no-op.
func (n *NoopRecorder) IncRegistration(status string) {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(status string) {}

// IncUsageEventPublished is a no-op.
func (n *NoopRecorder) IncUsageEventPublished(status string) {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited() {}
