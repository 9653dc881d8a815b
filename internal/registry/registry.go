// Package registry resolves model type keys to loaded predictors and keeps
// them cached for the life of the process.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/creditgate/creditgate/internal/metrics"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/predictor"
)

// ErrModelLoad matches every *LoadError.
var ErrModelLoad = errors.New("model load failed")

// LoadError reports a predictor that could not be loaded.
type LoadError struct {
	ModelType model.ModelType
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.ModelType, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrModelLoad) match.
func (e *LoadError) Is(target error) bool { return target == ErrModelLoad }

// Loader produces a predictor for one model type.
type Loader interface {
	Load(ctx context.Context, modelType model.ModelType) (predictor.Predictor, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, modelType model.ModelType) (predictor.Predictor, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, modelType model.ModelType) (predictor.Predictor, error) {
	return f(ctx, modelType)
}

// Registry caches predictors by model type. Concurrent first requests for
// the same key share a single load; failed loads are not cached.
type Registry struct {
	loader      Loader
	loadTimeout time.Duration
	logger      *slog.Logger
	metrics     metrics.Recorder

	mu     sync.RWMutex
	loaded map[model.ModelType]predictor.Predictor
	group  singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoadTimeout bounds each load. Zero disables the bound.
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Registry) { r.loadTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty registry.
func New(loader Loader, opts ...Option) *Registry {
	r := &Registry{
		loader:  loader,
		logger:  slog.Default(),
		metrics: metrics.NewNoop(),
		loaded:  make(map[model.ModelType]predictor.Predictor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the predictor for modelType, loading it on first use.
// Keys outside the closed model set fail with model.ErrUnknownModel before
// any load is attempted.
func (r *Registry) Resolve(ctx context.Context, modelType model.ModelType) (predictor.Predictor, error) {
	if !modelType.IsValid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownModel, modelType)
	}

	r.mu.RLock()
	p, ok := r.loaded[modelType]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	ch := r.group.DoChan(modelType.String(), func() (interface{}, error) {
		return r.load(modelType)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(predictor.Predictor), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load runs detached from any single caller's context so that one caller
// giving up does not fail the load for the others sharing it.
func (r *Registry) load(modelType model.ModelType) (predictor.Predictor, error) {
	r.mu.RLock()
	p, ok := r.loaded[modelType]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	ctx := context.Background()
	if r.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.loadTimeout)
		defer cancel()
	}

	start := time.Now()
	p, err := r.loader.Load(ctx, modelType)
	duration := time.Since(start)

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		r.metrics.RecordModelLoad(modelType.String(), false, duration)
		r.logger.Error("model load failed",
			"model_type", modelType,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, &LoadError{ModelType: modelType, Err: err}
	}

	if safe, ok := p.(predictor.ConcurrencySafe); ok && !safe.ConcurrencySafe() {
		p = Serialize(p)
	}

	r.mu.Lock()
	r.loaded[modelType] = p
	r.mu.Unlock()

	r.metrics.RecordModelLoad(modelType.String(), true, duration)
	r.logger.Info("model loaded",
		"model_type", modelType,
		"duration_ms", duration.Milliseconds(),
	)
	return p, nil
}

// Evict drops a cached predictor so the next Resolve reloads it.
func (r *Registry) Evict(modelType model.ModelType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.loaded[modelType]
	delete(r.loaded, modelType)
	return ok
}

// Loaded lists the model types currently cached, in declaration order.
func (r *Registry) Loaded() []model.ModelType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ModelType, 0, len(r.loaded))
	for _, mt := range model.ModelTypes {
		if _, ok := r.loaded[mt]; ok {
			out = append(out, mt)
		}
	}
	return out
}

// Warm loads every model type and returns the first error.
func (r *Registry) Warm(ctx context.Context) error {
	for _, mt := range model.ModelTypes {
		if _, err := r.Resolve(ctx, mt); err != nil {
			return err
		}
	}
	return nil
}

// serialized guards a predictor that must not be called concurrently.
type serialized struct {
	mu sync.Mutex
	p  predictor.Predictor
}

// Serialize wraps p so that at most one Predict call runs at a time.
func Serialize(p predictor.Predictor) predictor.Predictor {
	return &serialized{p: p}
}

func (s *serialized) Predict(ctx context.Context, input []byte) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.p.Predict(ctx, input)
}

func (s *serialized) ConcurrencySafe() bool { return true }
