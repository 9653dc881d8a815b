// Package usage publishes billed prediction events to a Redis stream for
// downstream consumers such as invoicing and dashboards.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/creditgate/creditgate/internal/metrics"
	"github.com/creditgate/creditgate/internal/model"
)

const (
	// StreamKey is the Redis stream for billed prediction events.
	StreamKey = "stream:prediction_events"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// Event is the compressed event format for the Redis stream.
type Event struct {
	EventID      string `json:"eid"`
	PredictionID int64  `json:"pid"`
	Username     string `json:"u"`
	ModelType    string `json:"m"`
	Price        int64  `json:"p"`
	BalanceAfter int64  `json:"b"`
	Rows         int    `json:"n"`
	BilledAt     int64  `json:"t"` // Unix milliseconds
	RequestID    string `json:"rid,omitempty"`
}

// NewEvent builds the event for a billed prediction.
func NewEvent(p *model.Prediction, price, balanceAfter int64, rows int) Event {
	return Event{
		EventID:      ulid.Make().String(),
		PredictionID: p.ID,
		Username:     p.RequesterUsername,
		ModelType:    p.ModelType.String(),
		Price:        price,
		BalanceAfter: balanceAfter,
		Rows:         rows,
		BilledAt:     p.CreatedAt.UnixMilli(),
	}
}

// Publisher enqueues usage events to a Redis stream. A nil *Publisher, or
// one built without a client, drops everything silently.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder

	wg sync.WaitGroup
}

// NewPublisher creates a new usage event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "usage.publisher"),
		metrics: recorder,
	}
}

// Publish adds an event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"event_id": event.EventID,
			"payload":  string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned.
func (p *Publisher) PublishAsync(event Event) {
	if p == nil || p.redis == nil {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish usage event",
				"event_id", event.EventID,
				"model_type", event.ModelType,
				"error", err,
			)
			p.metrics.IncUsageEventPublished("dropped")
			return
		}

		p.logger.Debug("usage event published",
			"event_id", event.EventID,
			"stream_id", streamID,
		)
		p.metrics.IncUsageEventPublished("success")
	}()
}

// Wait blocks until in-flight publishes finish or ctx is done.
func (p *Publisher) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
