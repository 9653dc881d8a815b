// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Prediction outcomes used as the "outcome" label.
const (
	OutcomeBilled              = "billed"
	OutcomeUnknownModel        = "unknown_model"
	OutcomeLoadError           = "load_error"
	OutcomeInsufficientCredits = "insufficient_credits"
	OutcomePredictionError     = "prediction_error"
	OutcomeTimeout             = "timeout"
	OutcomeCancelled           = "cancelled"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Gateway metrics
	IncPrediction(modelType, outcome string)
	ObserveInferenceDuration(modelType string, duration time.Duration)
	AddCreditsDebited(modelType string, amount int64)

	// Model registry metrics
	RecordModelLoad(modelType string, ok bool, duration time.Duration)

	// Account metrics
	IncRegistration(status string) // status: "success", "duplicate", "invalid"
	IncLogin(status string)        // status: "success", "failed"

	// Usage event pipeline
	IncUsageEventPublished(status string) // status: "success" or "dropped"

	// Edge
	IncRateLimited()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
