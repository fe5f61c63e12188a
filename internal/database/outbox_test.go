package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to the database named by NURSERY_TEST_DATABASE_URL,
// applies the schema and empties every table. Tests skip when it is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("NURSERY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("NURSERY_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewFromURL(ctx, dsn)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))
	_, err = db.Exec(ctx, `TRUNCATE outbox_event, import_jobs, products, categories`)
	require.NoError(t, err)

	return db
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("fills defaults", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "product",
			AggregateID:   "p-1",
			EventType:     "PRODUCT_IMPORTED",
			Payload:       json.RawMessage(`{"product_id":"p-1"}`),
		}

		require.NoError(t, repo.Insert(ctx, event))
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, CatalogStream, event.TargetStream)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rollback discards the event", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "product",
			AggregateID:   "p-rollback",
			EventType:     "PRODUCT_IMPORTED",
			Payload:       json.RawMessage(`{}`),
		}

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return fmt.Errorf("abort")
		})
		assert.Error(t, err)

		events, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range events {
			assert.NotEqual(t, "p-rollback", e.AggregateID)
		}
	})
}

func TestOutboxRepository_GetPending(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	now := time.Now()
	for i, status := range []string{OutboxStatusPending, OutboxStatusProcessed, OutboxStatusPending, OutboxStatusFailed} {
		event := &OutboxEvent{
			AggregateType: "product",
			AggregateID:   fmt.Sprintf("p-%d", i),
			EventType:     "PRODUCT_IMPORTED",
			Payload:       json.RawMessage(`{}`),
			Status:        status,
			NextRetryAt:   &now,
		}
		require.NoError(t, repo.Insert(ctx, event))
	}

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	for i := 1; i < len(pending); i++ {
		assert.False(t, pending[i].CreatedAt.Before(pending[i-1].CreatedAt))
	}

	limited, err := repo.GetPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = db.Exec(ctx, "UPDATE outbox_event SET next_retry_at = $1 WHERE aggregate_id = $2",
		time.Now().Add(time.Hour), "p-3")
	require.NoError(t, err)

	pending, err = repo.GetPending(ctx, 10)
	require.NoError(t, err)
	for _, e := range pending {
		assert.NotEqual(t, "p-3", e.AggregateID)
	}

	count, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestOutboxRepository_MarkProcessedAndFailed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	event := &OutboxEvent{AggregateType: "product", AggregateID: "p-1", EventType: "PRODUCT_IMPORTED", Payload: json.RawMessage(`{}`)}
	require.NoError(t, repo.Insert(ctx, event))
	require.NoError(t, repo.MarkProcessed(ctx, event.ID))
	assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))

	retry := &OutboxEvent{AggregateType: "product", AggregateID: "p-2", EventType: "PRODUCT_IMPORTED", Payload: json.RawMessage(`{}`)}
	require.NoError(t, repo.Insert(ctx, retry))
	require.NoError(t, repo.MarkFailed(ctx, retry.ID, assert.AnError))

	var status string
	var retryCount int
	var nextRetry time.Time
	require.NoError(t, db.QueryRow(ctx,
		"SELECT status, retry_count, next_retry_at FROM outbox_event WHERE id = $1", retry.ID,
	).Scan(&status, &retryCount, &nextRetry))
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, 1, retryCount)
	assert.True(t, nextRetry.After(time.Now()))

	dead := &OutboxEvent{AggregateType: "product", AggregateID: "p-3", EventType: "PRODUCT_IMPORTED", Payload: json.RawMessage(`{}`), RetryCount: MaxRetryCount - 1}
	require.NoError(t, repo.Insert(ctx, dead))
	require.NoError(t, repo.MarkFailed(ctx, dead.ID, assert.AnError))

	count, err := repo.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryBackoff(1))
	assert.Equal(t, 16*time.Second, retryBackoff(4))
	assert.Equal(t, 256*time.Second, retryBackoff(8))
	assert.Equal(t, 300*time.Second, retryBackoff(9))
	assert.Equal(t, 300*time.Second, retryBackoff(64))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(nil))
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "importer", Password: "secret", Database: "nursery"}
	assert.Equal(t, "postgres://importer:secret@db:5432/nursery?sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}
