package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/creditgate/creditgate/internal/auth"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/predictor"
	"github.com/creditgate/creditgate/internal/repository"
	"github.com/creditgate/creditgate/internal/repository/memory"
	"github.com/creditgate/creditgate/internal/usage"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct horse battery"
)

var fastParams = auth.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestAuthenticator(t *testing.T, store repository.Store, startingCredits int64, clock *testClock) *Authenticator {
	t.Helper()
	hasher, err := auth.NewPasswordHasher(fastParams)
	require.NoError(t, err)

	return NewAuthenticator(store, hasher, AuthConfig{
		Secret:          []byte(testSecret),
		TokenTTL:        30 * time.Minute,
		StartingCredits: startingCredits,
	}, WithClock(clock.Now), WithAuthLogger(discardLogger()))
}

func registerAndLogin(t *testing.T, a *Authenticator, username string) string {
	t.Helper()
	ctx := context.Background()

	_, err := a.Register(ctx, model.UserCreateRequest{
		Username: username,
		Email:    username + "@example.test",
		Password: testPassword,
	})
	require.NoError(t, err)

	tok, err := a.Login(ctx, username, testPassword)
	require.NoError(t, err)
	return tok.AccessToken
}

func testPricing(t *testing.T) model.Pricing {
	t.Helper()
	p, err := model.NewPricing(map[string]int64{"logreg": 5, "ds_tree": 5, "rd_forest": 10})
	require.NoError(t, err)
	return p
}

// fakePredictor runs fn for every call.
type fakePredictor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, input []byte) ([]string, error)
}

func (f *fakePredictor) Predict(ctx context.Context, input []byte) ([]string, error) {
	f.calls.Add(1)
	return f.fn(ctx, input)
}

func labelsPredictor(labels ...string) *fakePredictor {
	return &fakePredictor{fn: func(context.Context, []byte) ([]string, error) {
		return labels, nil
	}}
}

// fakeResolver serves fixed predictors and counts lookups.
type fakeResolver struct {
	calls      atomic.Int32
	predictors map[model.ModelType]predictor.Predictor
	err        error
}

func (r *fakeResolver) Resolve(_ context.Context, mt model.ModelType) (predictor.Predictor, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.predictors[mt], nil
}

func allModels(p predictor.Predictor) *fakeResolver {
	return &fakeResolver{predictors: map[model.ModelType]predictor.Predictor{
		model.ModelLogReg:       p,
		model.ModelDecisionTree: p,
		model.ModelRandomForest: p,
	}}
}

// spyLedger counts balance reads.
type spyLedger struct {
	repository.Ledger
	balanceReads atomic.Int32
}

func (s *spyLedger) GetBalance(ctx context.Context, username string) (int64, error) {
	s.balanceReads.Add(1)
	return s.Ledger.GetBalance(ctx, username)
}

// recordingPublisher keeps published usage events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []usage.Event
}

func (p *recordingPublisher) PublishAsync(e usage.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Events() []usage.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]usage.Event(nil), p.events...)
}

type gatewayEnv struct {
	store     *memory.Store
	ledger    *spyLedger
	auth      *Authenticator
	publisher *recordingPublisher
	clock     *testClock
}

func newGatewayEnv(t *testing.T, startingCredits int64) *gatewayEnv {
	t.Helper()
	store := memory.New()
	clock := newTestClock()
	return &gatewayEnv{
		store:     store,
		ledger:    &spyLedger{Ledger: store},
		auth:      newTestAuthenticator(t, store, startingCredits, clock),
		publisher: &recordingPublisher{},
		clock:     clock,
	}
}

func (e *gatewayEnv) gateway(t *testing.T, models ModelResolver, opts ...GatewayOption) *Gateway {
	t.Helper()
	base := []GatewayOption{
		WithUsagePublisher(e.publisher),
		WithGatewayLogger(discardLogger()),
		WithGatewayClock(e.clock.Now),
	}
	return NewGateway(e.auth, models, e.ledger, testPricing(t), append(base, opts...)...)
}
