package usage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditgate/creditgate/internal/model"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	billedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &model.Prediction{
		ID:                42,
		ModelType:         model.ModelRandomForest,
		CreatedAt:         billedAt,
		RequesterUsername: "alice",
	}

	event := NewEvent(p, 10, 90, 3)

	_, err := ulid.ParseStrict(event.EventID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), event.PredictionID)
	assert.Equal(t, "alice", event.Username)
	assert.Equal(t, "rd_forest", event.ModelType)
	assert.Equal(t, int64(10), event.Price)
	assert.Equal(t, int64(90), event.BalanceAfter)
	assert.Equal(t, 3, event.Rows)
	assert.Equal(t, billedAt.UnixMilli(), event.BilledAt)

	other := NewEvent(p, 10, 90, 3)
	assert.NotEqual(t, event.EventID, other.EventID)
}

func TestPublisher_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	var nilPublisher *Publisher
	nilPublisher.PublishAsync(Event{})
	require.NoError(t, nilPublisher.Wait(context.Background()))

	p := NewPublisher(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	p.PublishAsync(Event{EventID: "x"})
	require.NoError(t, p.Wait(context.Background()))
}
