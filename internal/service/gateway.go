package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creditgate/creditgate/internal/metrics"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/predictor"
	"github.com/creditgate/creditgate/internal/registry"
	"github.com/creditgate/creditgate/internal/repository"
	"github.com/creditgate/creditgate/internal/usage"
)

// Gateway errors.
var (
	// ErrPrediction wraps a failure reported by the predictor.
	ErrPrediction = errors.New("prediction failed")
	// ErrPredictionTimeout indicates inference ran past the predict timeout.
	ErrPredictionTimeout = errors.New("prediction timed out")
)

// ModelResolver returns the predictor for a model type.
type ModelResolver interface {
	Resolve(ctx context.Context, modelType model.ModelType) (predictor.Predictor, error)
}

// UsagePublisher receives an event for every billed prediction.
type UsagePublisher interface {
	PublishAsync(event usage.Event)
}

// PredictRequest is one metered prediction call.
type PredictRequest struct {
	Token     string
	ModelType string // empty selects model.DefaultModelType
	Input     []byte
	RequestID string // copied into the usage event
}

// PredictResult is a billed prediction.
type PredictResult struct {
	Username     string
	Labels       []string
	ModelType    model.ModelType
	Price        int64
	Balance      int64
	PredictionID int64
}

// Gateway meters predictions: it authenticates the caller, checks the
// balance, runs the predictor and bills only successful results.
type Gateway struct {
	auth           *Authenticator
	models         ModelResolver
	ledger         repository.Ledger
	pricing        model.Pricing
	predictTimeout time.Duration
	publisher      UsagePublisher
	logger         *slog.Logger
	metrics        metrics.Recorder
	now            func() time.Time
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithPredictTimeout bounds each inference call. Zero disables the bound.
func WithPredictTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.predictTimeout = d }
}

// WithUsagePublisher sets where billed usage events go.
func WithUsagePublisher(p UsagePublisher) GatewayOption {
	return func(g *Gateway) { g.publisher = p }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithGatewayMetrics sets the metrics recorder.
func WithGatewayMetrics(m metrics.Recorder) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithGatewayClock overrides the clock used for prediction timestamps.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates a Gateway. pricing must cover every model type.
func NewGateway(authn *Authenticator, models ModelResolver, ledger repository.Ledger, pricing model.Pricing, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		auth:    authn,
		models:  models,
		ledger:  ledger,
		pricing: pricing,
		logger:  slog.Default(),
		metrics: metrics.NewNoop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HandlePredict authenticates the token and runs Predict.
func (g *Gateway) HandlePredict(ctx context.Context, req PredictRequest) (*PredictResult, error) {
	user, err := g.auth.Authenticate(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	return g.Predict(ctx, user, req)
}

// Predict runs a metered prediction for an authenticated, active user.
//
// The balance is read before inference and the charge re-checks it
// atomically afterwards, so a concurrent request that drained the balance
// in between makes this one fail with InsufficientCredits and nothing is
// billed. The ledger is never locked across inference. req.Token is
// ignored.
func (g *Gateway) Predict(ctx context.Context, user *model.User, req PredictRequest) (*PredictResult, error) {
	modelType, err := model.ParseModelType(req.ModelType)
	if err != nil {
		g.metrics.IncPrediction("unknown", metrics.OutcomeUnknownModel)
		return nil, err
	}
	mt := modelType.String()

	price, ok := g.pricing.Price(modelType)
	if !ok {
		return nil, fmt.Errorf("no price configured for model type %s", modelType)
	}

	p, err := g.models.Resolve(ctx, modelType)
	if err != nil {
		if errors.Is(err, registry.ErrModelLoad) {
			g.metrics.IncPrediction(mt, metrics.OutcomeLoadError)
		}
		return nil, err
	}

	balance, err := g.ledger.GetBalance(ctx, user.Username)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if balance < price {
		g.metrics.IncPrediction(mt, metrics.OutcomeInsufficientCredits)
		return nil, &repository.InsufficientCreditsError{Balance: balance, Required: price}
	}

	labels, err := g.infer(ctx, p, mt, req.Input)
	if err != nil {
		return nil, err
	}

	// A caller that went away before billing is not charged.
	if err := ctx.Err(); err != nil {
		g.metrics.IncPrediction(mt, metrics.OutcomeCancelled)
		return nil, err
	}

	record := &model.Prediction{
		ModelType: modelType,
		CreatedAt: g.now().UTC().Truncate(time.Microsecond),
	}
	newBalance, err := g.ledger.Charge(ctx, user.Username, price, record)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientCredits) {
			g.metrics.IncPrediction(mt, metrics.OutcomeInsufficientCredits)
			return nil, err
		}
		return nil, fmt.Errorf("charge: %w", err)
	}

	g.metrics.IncPrediction(mt, metrics.OutcomeBilled)
	g.metrics.AddCreditsDebited(mt, price)
	if g.publisher != nil {
		event := usage.NewEvent(record, price, newBalance, len(labels))
		event.RequestID = req.RequestID
		g.publisher.PublishAsync(event)
	}

	g.logger.Info("prediction billed",
		"username", user.Username,
		"model_type", mt,
		"price", price,
		"balance", newBalance,
		"prediction_id", record.ID,
		"rows", len(labels),
		"request_id", req.RequestID,
	)

	return &PredictResult{
		Username:     user.Username,
		Labels:       labels,
		ModelType:    modelType,
		Price:        price,
		Balance:      newBalance,
		PredictionID: record.ID,
	}, nil
}

type inferResult struct {
	labels []string
	err    error
}

// infer runs the predictor under the predict timeout. The call runs in its
// own goroutine so a predictor that ignores its context cannot hold the
// request past the deadline.
func (g *Gateway) infer(ctx context.Context, p predictor.Predictor, mt string, input []byte) ([]string, error) {
	pctx := ctx
	if g.predictTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, g.predictTimeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan inferResult, 1)
	go func() {
		labels, err := p.Predict(pctx, input)
		done <- inferResult{labels: labels, err: err}
	}()

	var res inferResult
	select {
	case res = <-done:
	case <-pctx.Done():
		res = inferResult{err: pctx.Err()}
	}
	g.metrics.ObserveInferenceDuration(mt, time.Since(start))

	if res.err == nil {
		return res.labels, nil
	}

	switch {
	case ctx.Err() != nil:
		g.metrics.IncPrediction(mt, metrics.OutcomeCancelled)
		return nil, ctx.Err()
	case pctx.Err() != nil:
		g.metrics.IncPrediction(mt, metrics.OutcomeTimeout)
		return nil, fmt.Errorf("%w after %s", ErrPredictionTimeout, g.predictTimeout)
	default:
		g.metrics.IncPrediction(mt, metrics.OutcomePredictionError)
		return nil, fmt.Errorf("%w: %w", ErrPrediction, res.err)
	}
}
