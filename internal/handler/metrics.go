package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/creditgate/creditgate/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
// Series are emitted in sorted label order so scrapes are stable.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	for _, mt := range sortedKeys(snap.PredictionOutcomes) {
		outcomes := snap.PredictionOutcomes[mt]
		for _, outcome := range sortedKeys(outcomes) {
			writeMetric(w, "creditgate_predictions_total{model_type=%q,outcome=%q} %d\n", mt, outcome, outcomes[outcome])
		}
	}
	for _, mt := range sortedKeys(snap.InferenceDurations) {
		d := snap.InferenceDurations[mt]
		writeMetric(w, "creditgate_inference_duration_seconds_count{model_type=%q} %d\n", mt, d.Count)
		writeMetric(w, "creditgate_inference_duration_seconds_sum{model_type=%q} %.6f\n", mt, d.Seconds())
	}
	for _, mt := range sortedKeys(snap.CreditsDebited) {
		writeMetric(w, "creditgate_credits_debited_total{model_type=%q} %d\n", mt, snap.CreditsDebited[mt])
	}

	for _, mt := range sortedKeys(snap.ModelLoads) {
		writeMetric(w, "creditgate_model_loads_total{model_type=%q,status=\"success\"} %d\n", mt, snap.ModelLoads[mt])
	}
	for _, mt := range sortedKeys(snap.ModelLoadFailures) {
		writeMetric(w, "creditgate_model_loads_total{model_type=%q,status=\"failed\"} %d\n", mt, snap.ModelLoadFailures[mt])
	}
	for _, mt := range sortedKeys(snap.ModelLoadDuration) {
		d := snap.ModelLoadDuration[mt]
		writeMetric(w, "creditgate_model_load_duration_seconds_count{model_type=%q} %d\n", mt, d.Count)
		writeMetric(w, "creditgate_model_load_duration_seconds_sum{model_type=%q} %.6f\n", mt, d.Seconds())
	}

	for _, status := range sortedKeys(snap.Registrations) {
		writeMetric(w, "creditgate_registrations_total{status=%q} %d\n", status, snap.Registrations[status])
	}
	for _, status := range sortedKeys(snap.Logins) {
		writeMetric(w, "creditgate_logins_total{status=%q} %d\n", status, snap.Logins[status])
	}

	writeMetric(w, "creditgate_usage_events_published_total{status=\"success\"} %d\n", snap.UsageEventsPublished)
	writeMetric(w, "creditgate_usage_events_published_total{status=\"dropped\"} %d\n", snap.UsageEventsDropped)
	writeMetric(w, "creditgate_rate_limited_total %d\n", snap.RateLimited)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
