package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditgate/creditgate/internal/metrics"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/predictor"
	"github.com/creditgate/creditgate/internal/registry"
	"github.com/creditgate/creditgate/internal/repository"
)

var testInput = []byte(`["wireless phone charger"]`)

func TestGateway_TwentyOneCalls(t *testing.T) {
	ctx := context.Background()
	env := newGatewayEnv(t, 100)
	p := labelsPredictor("electronics")
	gw := env.gateway(t, allModels(p))
	token := registerAndLogin(t, env.auth, "alice")

	for i := 1; i <= 20; i++ {
		res, err := gw.HandlePredict(ctx, PredictRequest{Token: token, ModelType: "logreg", Input: testInput})
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, []string{"electronics"}, res.Labels)
		assert.Equal(t, int64(100-5*i), res.Balance)
	}

	_, err := gw.HandlePredict(ctx, PredictRequest{Token: token, ModelType: "logreg", Input: testInput})
	require.ErrorIs(t, err, repository.ErrInsufficientCredits)

	var insufficient *repository.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(0), insufficient.Balance)

	assert.Equal(t, int32(20), p.calls.Load(), "the rejected call must not run inference")

	count, err := env.store.CountPredictions(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(20), count)
	assert.Len(t, env.publisher.Events(), 20)
}

func TestGateway_UnknownModelRejectedFirst(t *testing.T) {
	ctx := context.Background()
	env := newGatewayEnv(t, 100)
	p := labelsPredictor("x")
	resolver := allModels(p)
	gw := env.gateway(t, resolver)
	token := registerAndLogin(t, env.auth, "alice")

	_, err := gw.HandlePredict(ctx, PredictRequest{Token: token, ModelType: "svm", Input: testInput})
	require.ErrorIs(t, err, model.ErrUnknownModel)

	assert.Zero(t, resolver.calls.Load())
	assert.Zero(t, env.ledger.balanceReads.Load())
	assert.Zero(t, p.calls.Load())

	balance, err := env.store.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestGateway_DefaultModelType(t *testing.T) {
	env := newGatewayEnv(t, 100)
	gw := env.gateway(t, allModels(labelsPredictor("x")))
	token := registerAndLogin(t, env.auth, "alice")

	res, err := gw.HandlePredict(context.Background(), PredictRequest{Token: token, Input: testInput})
	require.NoError(t, err)
	assert.Equal(t, model.ModelLogReg, res.ModelType)
	assert.Equal(t, int64(5), res.Price)
}

func TestGateway_PricesPerModel(t *testing.T) {
	env := newGatewayEnv(t, 100)
	gw := env.gateway(t, allModels(labelsPredictor("x")))
	token := registerAndLogin(t, env.auth, "alice")

	res, err := gw.HandlePredict(context.Background(), PredictRequest{Token: token, ModelType: "rd_forest", Input: testInput})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Price)
	assert.Equal(t, int64(90), res.Balance)
}

func TestGateway_InsufficientSkipsInference(t *testing.T) {
	env := newGatewayEnv(t, 4)
	p := labelsPredictor("x")
	gw := env.gateway(t, allModels(p))
	token := registerAndLogin(t, env.auth, "alice")

	_, err := gw.HandlePredict(context.Background(), PredictRequest{Token: token, Input: testInput})

	var insufficient *repository.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(4), insufficient.Balance)
	assert.Equal(t, int64(5), insufficient.Required)
	assert.Zero(t, p.calls.Load())
}

func TestGateway_PredictorFailureNotBilled(t *testing.T) {
	ctx := context.Background()
	env := newGatewayEnv(t, 100)
	rec := metrics.NewInMemory()
	p := &fakePredictor{fn: func(context.Context, []byte) ([]string, error) {
		return nil, predictor.ErrInvalidInput
	}}
	gw := env.gateway(t, allModels(p), WithGatewayMetrics(rec))
	token := registerAndLogin(t, env.auth, "alice")

	_, err := gw.HandlePredict(ctx, PredictRequest{Token: token, Input: []byte(`nope`)})
	require.ErrorIs(t, err, ErrPrediction)
	require.ErrorIs(t, err, predictor.ErrInvalidInput)

	balance, err := env.store.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	count, err := env.store.CountPredictions(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, env.publisher.Events())
	assert.Equal(t, uint64(1), rec.Snapshot().PredictionOutcomes["logreg"][metrics.OutcomePredictionError])
}

func TestGateway_PredictTimeoutNotBilled(t *testing.T) {
	ctx := context.Background()
	env := newGatewayEnv(t, 100)
	release := make(chan struct{})
	defer close(release)

	// Ignores its context on purpose.
	p := &fakePredictor{fn: func(context.Context, []byte) ([]string, error) {
		<-release
		return []string{"late"}, nil
	}}
	gw := env.gateway(t, allModels(p), WithPredictTimeout(20*time.Millisecond))
	token := registerAndLogin(t, env.auth, "alice")

	start := time.Now()
	_, err := gw.HandlePredict(ctx, PredictRequest{Token: token, Input: testInput})
	require.ErrorIs(t, err, ErrPredictionTimeout)
	assert.Less(t, time.Since(start), time.Second)

	balance, err := env.store.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestGateway_CancelledBeforeBillingNotCharged(t *testing.T) {
	env := newGatewayEnv(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakePredictor{fn: func(context.Context, []byte) ([]string, error) {
		cancel()
		return []string{"x"}, nil
	}}
	gw := env.gateway(t, allModels(p))
	token := registerAndLogin(t, env.auth, "alice")

	_, err := gw.HandlePredict(ctx, PredictRequest{Token: token, Input: testInput})
	require.ErrorIs(t, err, context.Canceled)

	balance, err := env.store.GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestGateway_ConcurrentCallsOnLastCredits(t *testing.T) {
	ctx := context.Background()
	env := newGatewayEnv(t, 5)

	// Both calls pass the balance check before either is billed.
	var entered sync.WaitGroup
	entered.Add(2)
	p := &fakePredictor{fn: func(context.Context, []byte) ([]string, error) {
		entered.Done()
		entered.Wait()
		return []string{"x"}, nil
	}}
	gw := env.gateway(t, allModels(p), WithPredictTimeout(5*time.Second))
	token := registerAndLogin(t, env.auth, "alice")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gw.HandlePredict(ctx, PredictRequest{Token: token, Input: testInput})
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repository.ErrInsufficientCredits):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	balance, err := env.store.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, balance)

	count, err := env.store.CountPredictions(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGateway_ModelLoadFailure(t *testing.T) {
	ctx := context.Background()
	env := newGatewayEnv(t, 100)
	reg := registry.New(registry.LoaderFunc(func(context.Context, model.ModelType) (predictor.Predictor, error) {
		return nil, errors.New("artifact missing")
	}), registry.WithLogger(discardLogger()))
	gw := env.gateway(t, reg)
	token := registerAndLogin(t, env.auth, "alice")

	_, err := gw.HandlePredict(ctx, PredictRequest{Token: token, ModelType: "ds_tree", Input: testInput})
	require.ErrorIs(t, err, registry.ErrModelLoad)
	assert.Zero(t, env.ledger.balanceReads.Load())

	balance, err := env.store.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestGateway_AuthFailures(t *testing.T) {
	ctx := context.Background()
	env := newGatewayEnv(t, 100)
	p := labelsPredictor("x")
	gw := env.gateway(t, allModels(p))
	token := registerAndLogin(t, env.auth, "alice")

	_, err := gw.HandlePredict(ctx, PredictRequest{Token: "garbage", Input: testInput})
	assert.ErrorIs(t, err, ErrUnauthorized)

	env.clock.Advance(30 * time.Minute)
	_, err = gw.HandlePredict(ctx, PredictRequest{Token: token, Input: testInput})
	assert.ErrorIs(t, err, ErrUnauthorized)

	fresh := registerAndLogin(t, env.auth, "bob")
	require.NoError(t, env.store.SetUserActive(ctx, "bob", false))
	_, err = gw.HandlePredict(ctx, PredictRequest{Token: fresh, Input: testInput})
	assert.ErrorIs(t, err, ErrForbidden)

	assert.Zero(t, p.calls.Load())
}

func TestGateway_PublishesUsageEvent(t *testing.T) {
	env := newGatewayEnv(t, 100)
	rec := metrics.NewInMemory()
	gw := env.gateway(t, allModels(labelsPredictor("a", "b")), WithGatewayMetrics(rec))
	token := registerAndLogin(t, env.auth, "alice")

	res, err := gw.HandlePredict(context.Background(), PredictRequest{
		Token:     token,
		ModelType: "ds_tree",
		Input:     []byte(`["x","y"]`),
		RequestID: "req-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Username)

	events := env.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, res.PredictionID, events[0].PredictionID)
	assert.Equal(t, "alice", events[0].Username)
	assert.Equal(t, "ds_tree", events[0].ModelType)
	assert.Equal(t, int64(5), events[0].Price)
	assert.Equal(t, int64(95), events[0].BalanceAfter)
	assert.Equal(t, 2, events[0].Rows)
	assert.Equal(t, env.clock.Now().UnixMilli(), events[0].BilledAt)
	assert.Equal(t, "req-42", events[0].RequestID)

	snap := rec.Snapshot()
	assert.Equal(t, uint64(1), snap.PredictionOutcomes["ds_tree"][metrics.OutcomeBilled])
	assert.Equal(t, int64(5), snap.CreditsDebited["ds_tree"])
}
