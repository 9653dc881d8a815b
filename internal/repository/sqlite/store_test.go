package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/repository"
	"github.com/creditgate/creditgate/internal/repository/repositorytest"
	"github.com/creditgate/creditgate/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "creditgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Conformance(t *testing.T) {
	repositorytest.Run(t, func(t *testing.T) repository.Store { return openTestStore(t) })
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	store, err := Open(path)
	require.NoError(t, err)
	user := testutil.NewTestUser(t, "reopen")
	require.NoError(t, store.CreateUserWithCredits(ctx, user, 20))
	_, err = store.Charge(ctx, user.Username, 5, testutil.NewTestPrediction(model.ModelRandomForest))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	balance, err := store.GetBalance(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)

	list, err := store.ListPredictions(ctx, user.Username, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.ModelRandomForest, list[0].ModelType)
	assert.WithinDuration(t, user.CreatedAt, list[0].CreatedAt, time.Minute)
}

func TestPathFromURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "sqlite:///var/lib/creditgate.db", want: "/var/lib/creditgate.db"},
		{url: "sqlite://creditgate.db", want: "creditgate.db"},
		{url: "sqlite://", wantErr: true},
		{url: "postgres://localhost/db", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := PathFromURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
