package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/repository"
	"github.com/creditgate/creditgate/internal/repository/memory"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.CreateUserWithCredits(ctx, &model.User{
		Username:     "alice",
		Email:        "alice@example.test",
		PasswordHash: "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}, 100))
	_, err := store.Charge(ctx, "alice", 5, &model.Prediction{ModelType: model.ModelLogReg, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	return store
}

func TestRun_DeactivateAndActivate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := seededStore(t)

	var buf bytes.Buffer
	require.NoError(t, run(ctx, store, options{username: "alice", deactivate: true, format: "plain"}, &buf))
	assert.Contains(t, buf.String(), "active:  false")

	user, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, user.IsActive)

	buf.Reset()
	require.NoError(t, run(ctx, store, options{username: "alice", activate: true, format: "plain"}, &buf))
	user, err = store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, user.IsActive)
}

func TestRun_BalanceAndCreditJSON(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := seededStore(t)

	var buf bytes.Buffer
	require.NoError(t, run(ctx, store, options{username: "alice", credit: 20, history: 10, format: "json"}, &buf))

	var out output
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.NotNil(t, out.Balance)
	assert.Equal(t, int64(115), *out.Balance)
	require.Len(t, out.Predictions, 1)
	assert.Equal(t, "logreg", out.Predictions[0].ModelType)
}

func TestRun_YAML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), seededStore(t), options{username: "alice", balance: true, format: "yaml"}, &buf))

	var out map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "alice", out["username"])
	assert.Equal(t, 95, out["balance"])
	assert.Equal(t, true, out["is_active"])
}

func TestRun_UnknownUser(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), seededStore(t), options{username: "ghost", balance: true, format: "plain"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts options
	}{
		{"missing user", options{format: "plain"}},
		{"both toggles", options{username: "a", activate: true, deactivate: true, format: "plain"}},
		{"negative credit", options{username: "a", credit: -1, format: "plain"}},
		{"negative history", options{username: "a", history: -1, format: "plain"}},
		{"bad format", options{username: "a", format: "yaml"}},
	}
	for _, tt := range tests {
		assert.Error(t, tt.opts.validate(), tt.name)
	}
	assert.NoError(t, options{username: "a", format: "JSON"}.validate())
}
