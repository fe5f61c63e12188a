package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultStreamMaxLen bounds the catalog stream. Storefront caches only need
// recent entries; a full reimport writes one entry per product.
const DefaultStreamMaxLen int64 = 10000

// RedisClient is the subset of the redis client the relay uses.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is the outbox access the relay needs.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen trims streams approximately. Zero means DefaultStreamMaxLen,
	// a negative value leaves streams untrimmed.
	StreamMaxLen int64
}

// Relay moves product events from the outbox into redis streams. After a
// large import the outbox holds one event per product, so a full batch is
// followed by another one straight away instead of waiting for the next tick.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.StreamMaxLen == 0 {
		config.StreamMaxLen = DefaultStreamMaxLen
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		maxLen:    config.StreamMaxLen,
	}
}

// Start relays until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize, "stream_max_len", r.maxLen)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.drain(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain relays batches until the outbox returns a short batch or an error.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		fetched, err := r.relayBatch(ctx)
		if err != nil {
			r.logger.Error("failed to relay events", "error", err)
			return
		}
		if fetched < r.batchSize {
			return
		}
	}
}

// relayBatch publishes one batch of pending events and returns how many were
// fetched. A failed event is marked for retry and never stops the batch.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	published := 0
	for _, event := range events {
		if err := r.publish(ctx, event); err != nil {
			r.logger.Warn("event not published",
				"event_id", event.ID,
				"product", event.AggregateID,
				"attempt", event.RetryCount+1,
				"error", err)
			if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
				r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
			}
			continue
		}
		if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
			// The event is published again on the next batch; consumers key on outbox_id.
			r.logger.Error("failed to mark event as processed", "event_id", event.ID, "error", err)
			continue
		}
		published++
	}

	if len(events) > 0 {
		r.logger.Debug("batch relayed", "fetched", len(events), "published", published)
	}
	return len(events), nil
}

// publish appends the event to its stream as flat fields. The payload is
// passed through as the JSON the publisher wrote.
func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("event %s has an invalid payload", event.ID)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]interface{}{
			"outbox_id":   event.ID.String(),
			"event_type":  event.EventType,
			"product_id":  event.AggregateID,
			"occurred_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
			"attempt":     strconv.Itoa(event.RetryCount + 1),
			"payload":     string(event.Payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}
