package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Duration aggregates observations of one series.
type Duration struct {
	Count   uint64
	TotalNs int64
}

// Seconds returns the summed duration in seconds.
func (d Duration) Seconds() float64 {
	return float64(d.TotalNs) / 1e9
}

// Snapshot captures current in-memory counters. Map keys are label values;
// PredictionOutcomes is keyed by model type then outcome.
type Snapshot struct {
	PredictionOutcomes map[string]map[string]uint64
	InferenceDurations map[string]Duration
	CreditsDebited     map[string]int64

	ModelLoads        map[string]uint64
	ModelLoadFailures map[string]uint64
	ModelLoadDuration map[string]Duration

	Registrations map[string]uint64
	Logins        map[string]uint64

	UsageEventsPublished uint64
	UsageEventsDropped   uint64

	RateLimited uint64
}

// InMemoryRecorder stores metrics in memory. It backs the /metrics endpoint
// and tests.
type InMemoryRecorder struct {
	mu sync.Mutex

	predictionOutcomes map[string]map[string]uint64
	inferenceDurations map[string]Duration
	creditsDebited     map[string]int64
	modelLoads         map[string]uint64
	modelLoadFailures  map[string]uint64
	modelLoadDuration  map[string]Duration
	registrations      map[string]uint64
	logins             map[string]uint64

	usageEventsPublished uint64
	usageEventsDropped   uint64
	rateLimited          uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		predictionOutcomes: make(map[string]map[string]uint64),
		inferenceDurations: make(map[string]Duration),
		creditsDebited:     make(map[string]int64),
		modelLoads:         make(map[string]uint64),
		modelLoadFailures:  make(map[string]uint64),
		modelLoadDuration:  make(map[string]Duration),
		registrations:      make(map[string]uint64),
		logins:             make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcomes := make(map[string]map[string]uint64, len(m.predictionOutcomes))
	for mt, byOutcome := range m.predictionOutcomes {
		outcomes[mt] = copyMap(byOutcome)
	}

	return Snapshot{
		PredictionOutcomes:   outcomes,
		InferenceDurations:   copyMap(m.inferenceDurations),
		CreditsDebited:       copyMap(m.creditsDebited),
		ModelLoads:           copyMap(m.modelLoads),
		ModelLoadFailures:    copyMap(m.modelLoadFailures),
		ModelLoadDuration:    copyMap(m.modelLoadDuration),
		Registrations:        copyMap(m.registrations),
		Logins:               copyMap(m.logins),
		UsageEventsPublished: atomic.LoadUint64(&m.usageEventsPublished),
		UsageEventsDropped:   atomic.LoadUint64(&m.usageEventsDropped),
		RateLimited:          atomic.LoadUint64(&m.rateLimited),
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IncPrediction counts a finished prediction request by outcome.
func (m *InMemoryRecorder) IncPrediction(modelType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byOutcome, ok := m.predictionOutcomes[modelType]
	if !ok {
		byOutcome = make(map[string]uint64)
		m.predictionOutcomes[modelType] = byOutcome
	}
	byOutcome[outcome]++
}

// ObserveInferenceDuration records how long a predictor ran.
func (m *InMemoryRecorder) ObserveInferenceDuration(modelType string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.inferenceDurations[modelType]
	d.Count++
	d.TotalNs += duration.Nanoseconds()
	m.inferenceDurations[modelType] = d
}

// AddCreditsDebited adds to the billed credits total.
func (m *InMemoryRecorder) AddCreditsDebited(modelType string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creditsDebited[modelType] += amount
}

// RecordModelLoad counts a predictor load attempt.
func (m *InMemoryRecorder) RecordModelLoad(modelType string, ok bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ok {
		m.modelLoads[modelType]++
	} else {
		m.modelLoadFailures[modelType]++
	}
	d := m.modelLoadDuration[modelType]
	d.Count++
	d.TotalNs += duration.Nanoseconds()
	m.modelLoadDuration[modelType] = d
}

// IncRegistration counts registration attempts by status.
func (m *InMemoryRecorder) IncRegistration(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.registrations[status]++
}

// IncLogin counts login attempts by status.
func (m *InMemoryRecorder) IncLogin(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logins[status]++
}

// IncUsageEventPublished increments the usage event counter for status.
func (m *InMemoryRecorder) IncUsageEventPublished(status string) {
	switch status {
	case "success":
		atomic.AddUint64(&m.usageEventsPublished, 1)
	case "dropped":
		atomic.AddUint64(&m.usageEventsDropped, 1)
	}
}

// IncRateLimited counts requests rejected by the rate limiter.
func (m *InMemoryRecorder) IncRateLimited() {
	atomic.AddUint64(&m.rateLimited, 1)
}
