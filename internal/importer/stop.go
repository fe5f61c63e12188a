package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StopSignal carries operator stop requests to a running job. Requests are
// honored between products.
type StopSignal interface {
	Stop(ctx context.Context, jobID string) error
	IsStopped(ctx context.Context, jobID string) (bool, error)
	Clear(ctx context.Context, jobID string) error
}

// MemoryStopSignal serves a single process.
type MemoryStopSignal struct {
	mu      sync.RWMutex
	stopped map[string]bool
}

func NewMemoryStopSignal() *MemoryStopSignal {
	return &MemoryStopSignal{stopped: make(map[string]bool)}
}

func (m *MemoryStopSignal) Stop(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped[jobID] = true
	return nil
}

func (m *MemoryStopSignal) IsStopped(ctx context.Context, jobID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped[jobID], nil
}

func (m *MemoryStopSignal) Clear(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stopped, jobID)
	return nil
}

type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStopSignal lets the CLI or another replica stop a job. Keys expire after
// ttl so a request for a job that never runs again does not linger.
type RedisStopSignal struct {
	client redisKV
	ttl    time.Duration
}

func NewRedisStopSignal(client redisKV, ttl time.Duration) *RedisStopSignal {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStopSignal{client: client, ttl: ttl}
}

func stopKey(jobID string) string {
	return "importer:stop:" + jobID
}

func (r *RedisStopSignal) Stop(ctx context.Context, jobID string) error {
	if err := r.client.Set(ctx, stopKey(jobID), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set stop signal: %w", err)
	}
	return nil
}

func (r *RedisStopSignal) IsStopped(ctx context.Context, jobID string) (bool, error) {
	n, err := r.client.Exists(ctx, stopKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read stop signal: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStopSignal) Clear(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, stopKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to clear stop signal: %w", err)
	}
	return nil
}
