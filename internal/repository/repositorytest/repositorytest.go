// Package repositorytest is a conformance suite run against every
// repository.Store backend.
package repositorytest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/repository"
	"github.com/creditgate/creditgate/internal/testutil"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) repository.Store

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetUser", func(t *testing.T) { testCreateAndGetUser(t, newStore(t)) })
	t.Run("DuplicateEmailGrantsNothing", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("DuplicateUsername", func(t *testing.T) { testDuplicateUsername(t, newStore(t)) })
	t.Run("ConcurrentDuplicateRegistration", func(t *testing.T) { testConcurrentRegistration(t, newStore(t)) })
	t.Run("SetUserActive", func(t *testing.T) { testSetUserActive(t, newStore(t)) })
	t.Run("TryDebit", func(t *testing.T) { testTryDebit(t, newStore(t)) })
	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) { testConcurrentDebits(t, newStore(t)) })
	t.Run("Credit", func(t *testing.T) { testCredit(t, newStore(t)) })
	t.Run("ChargeAppendsExactlyOneRecord", func(t *testing.T) { testCharge(t, newStore(t)) })
	t.Run("ChargeRejectedLeavesNoTrace", func(t *testing.T) { testChargeRejected(t, newStore(t)) })
	t.Run("ConcurrentChargesLastCredit", func(t *testing.T) { testConcurrentCharges(t, newStore(t)) })
	t.Run("MissingLedgerEntry", func(t *testing.T) { testMissingEntry(t, newStore(t)) })
}

func createUser(t *testing.T, store repository.Store, credits int64) *model.User {
	t.Helper()
	user := testutil.NewTestUser(t, "user")
	require.NoError(t, store.CreateUserWithCredits(context.Background(), user, credits))
	return user
}

func testCreateAndGetUser(t *testing.T, store repository.Store) {
	ctx := context.Background()
	user := createUser(t, store, 100)

	byName, err := store.GetUserByUsername(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, user.Email, byName.Email)
	assert.Equal(t, user.PasswordHash, byName.PasswordHash)
	assert.True(t, byName.IsActive)

	byEmail, err := store.GetUserByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, user.Username, byEmail.Username)

	balance, err := store.GetBalance(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	_, err = store.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	_, err = store.GetUserByEmail(ctx, "nobody@example.test")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func testDuplicateEmail(t *testing.T, store repository.Store) {
	ctx := context.Background()
	first := createUser(t, store, 100)

	second := testutil.NewTestUser(t, "other")
	second.Email = first.Email

	err := store.CreateUserWithCredits(ctx, second, 100)
	require.ErrorIs(t, err, repository.ErrEmailExists)

	_, err = store.GetUserByUsername(ctx, second.Username)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	_, err = store.GetBalance(ctx, second.Username)
	assert.ErrorIs(t, err, repository.ErrCreditsNotFound)

	balance, err := store.GetBalance(ctx, first.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func testDuplicateUsername(t *testing.T, store repository.Store) {
	ctx := context.Background()
	first := createUser(t, store, 100)

	second := testutil.NewTestUser(t, "other")
	second.Username = first.Username

	err := store.CreateUserWithCredits(ctx, second, 100)
	require.ErrorIs(t, err, repository.ErrUsernameExists)

	balance, err := store.GetBalance(ctx, first.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance, "duplicate registration must not grant credits twice")
}

func testConcurrentRegistration(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const attempts = 8
	template := testutil.NewTestUser(t, "race")

	var wg sync.WaitGroup
	var succeeded, duplicates atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := *template
			u.Username = testutil.UniqueID("race") + string(rune('a'+i))
			err := store.CreateUserWithCredits(ctx, &u, 100)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, repository.ErrEmailExists):
				duplicates.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(attempts-1), duplicates.Load())

	owner, err := store.GetUserByEmail(ctx, template.Email)
	require.NoError(t, err)
	balance, err := store.GetBalance(ctx, owner.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func testSetUserActive(t *testing.T, store repository.Store) {
	ctx := context.Background()
	user := createUser(t, store, 0)

	require.NoError(t, store.SetUserActive(ctx, user.Username, false))
	got, err := store.GetUserByUsername(ctx, user.Username)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	require.NoError(t, store.SetUserActive(ctx, user.Username, true))
	got, err = store.GetUserByUsername(ctx, user.Username)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	assert.ErrorIs(t, store.SetUserActive(ctx, "nobody", false), repository.ErrUserNotFound)
}

func testTryDebit(t *testing.T, store repository.Store) {
	ctx := context.Background()
	user := createUser(t, store, 10)

	balance, err := store.TryDebit(ctx, user.Username, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), balance)

	balance, err = store.TryDebit(ctx, user.Username, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	_, err = store.TryDebit(ctx, user.Username, 1)
	require.ErrorIs(t, err, repository.ErrInsufficientCredits)

	var insufficient *repository.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(0), insufficient.Balance)
	assert.Equal(t, int64(1), insufficient.Required)

	_, err = store.TryDebit(ctx, user.Username, -1)
	assert.ErrorIs(t, err, repository.ErrInvalidAmount)
}

func testConcurrentDebits(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const initial, price, workers = 100, 7, 40
	user := createUser(t, store, initial)

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TryDebit(ctx, user.Username, price)
			if err == nil {
				succeeded.Add(1)
				return
			}
			if !errors.Is(err, repository.ErrInsufficientCredits) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, err := store.GetBalance(ctx, user.Username)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, balance, int64(0))
	assert.Equal(t, int64(initial)-succeeded.Load()*price, balance)
	assert.Equal(t, int64(initial/price), succeeded.Load())
}

func testCredit(t *testing.T, store repository.Store) {
	ctx := context.Background()
	user := createUser(t, store, 5)

	require.NoError(t, store.Credit(ctx, user.Username, 10))
	balance, err := store.GetBalance(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)

	assert.ErrorIs(t, store.Credit(ctx, user.Username, -3), repository.ErrInvalidAmount)
}

func testCharge(t *testing.T, store repository.Store) {
	ctx := context.Background()
	user := createUser(t, store, 100)

	for i := 0; i < 3; i++ {
		p := testutil.NewTestPrediction(model.ModelLogReg)
		balance, err := store.Charge(ctx, user.Username, 5, p)
		require.NoError(t, err)
		assert.Equal(t, int64(100-5*(i+1)), balance)
		assert.NotZero(t, p.ID)
		assert.Equal(t, user.Username, p.RequesterUsername)
	}

	count, err := store.CountPredictions(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	list, err := store.ListPredictions(ctx, user.Username, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Greater(t, list[0].ID, list[1].ID, "newest first with monotonic ids")
	assert.Greater(t, list[1].ID, list[2].ID)
	assert.Equal(t, model.ModelLogReg, list[0].ModelType)

	limited, err := store.ListPredictions(ctx, user.Username, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testChargeRejected(t *testing.T, store repository.Store) {
	ctx := context.Background()
	user := createUser(t, store, 4)

	_, err := store.Charge(ctx, user.Username, 5, testutil.NewTestPrediction(model.ModelLogReg))
	require.ErrorIs(t, err, repository.ErrInsufficientCredits)

	balance, err := store.GetBalance(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance)

	count, err := store.CountPredictions(ctx, user.Username)
	require.NoError(t, err)
	assert.Zero(t, count)

	list, err := store.ListPredictions(ctx, user.Username, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testConcurrentCharges(t *testing.T, store repository.Store) {
	ctx := context.Background()
	user := createUser(t, store, 5)

	models := []model.ModelType{model.ModelLogReg, model.ModelDecisionTree}
	errs := make([]error, len(models))

	var wg sync.WaitGroup
	for i, mt := range models {
		wg.Add(1)
		go func(i int, mt model.ModelType) {
			defer wg.Done()
			_, errs[i] = store.Charge(ctx, user.Username, 5, testutil.NewTestPrediction(mt))
		}(i, mt)
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

	balance, err := store.GetBalance(ctx, user.Username)
	require.NoError(t, err)
	assert.Zero(t, balance)

	count, err := store.CountPredictions(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func testMissingEntry(t *testing.T, store repository.Store) {
	ctx := context.Background()

	_, err := store.GetBalance(ctx, "ghost")
	assert.ErrorIs(t, err, repository.ErrCreditsNotFound)

	_, err = store.TryDebit(ctx, "ghost", 1)
	assert.ErrorIs(t, err, repository.ErrCreditsNotFound)

	_, err = store.Charge(ctx, "ghost", 1, testutil.NewTestPrediction(model.ModelLogReg))
	assert.ErrorIs(t, err, repository.ErrCreditsNotFound)

	err = store.Credit(ctx, "ghost", 10)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	_, err = store.GetBalance(ctx, "ghost")
	assert.ErrorIs(t, err, repository.ErrCreditsNotFound)
}
