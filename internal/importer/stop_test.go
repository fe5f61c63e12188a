package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/nursery-importer/internal/models"
)

type MockRedisKV struct {
	mock.Mock
}

func (m *MockRedisKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *MockRedisKV) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *MockRedisKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func TestMemoryStopSignal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStopSignal()

	stopped, err := s.IsStopped(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, stopped)

	require.NoError(t, s.Stop(ctx, "job-1"))
	stopped, _ = s.IsStopped(ctx, "job-1")
	assert.True(t, stopped)
	stopped, _ = s.IsStopped(ctx, "job-2")
	assert.False(t, stopped)

	require.NoError(t, s.Clear(ctx, "job-1"))
	stopped, _ = s.IsStopped(ctx, "job-1")
	assert.False(t, stopped)
}

func TestRedisStopSignal(t *testing.T) {
	ctx := context.Background()

	t.Run("stop sets key with ttl", func(t *testing.T) {
		kv := new(MockRedisKV)
		kv.On("Set", ctx, "importer:stop:job-1", "1", time.Hour).Return(redis.NewStatusResult("OK", nil))

		s := NewRedisStopSignal(kv, time.Hour)
		require.NoError(t, s.Stop(ctx, "job-1"))
		kv.AssertExpectations(t)
	})

	t.Run("default ttl", func(t *testing.T) {
		s := NewRedisStopSignal(new(MockRedisKV), 0)
		assert.Equal(t, 24*time.Hour, s.ttl)
	})

	t.Run("is stopped reads existence", func(t *testing.T) {
		kv := new(MockRedisKV)
		kv.On("Exists", ctx, []string{"importer:stop:job-1"}).Return(redis.NewIntResult(1, nil))
		kv.On("Exists", ctx, []string{"importer:stop:job-2"}).Return(redis.NewIntResult(0, nil))

		s := NewRedisStopSignal(kv, time.Hour)
		stopped, err := s.IsStopped(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, stopped)

		stopped, err = s.IsStopped(ctx, "job-2")
		require.NoError(t, err)
		assert.False(t, stopped)
	})

	t.Run("errors are wrapped", func(t *testing.T) {
		kv := new(MockRedisKV)
		kv.On("Exists", ctx, []string{"importer:stop:job-1"}).Return(redis.NewIntResult(0, errors.New("connection refused")))
		kv.On("Del", ctx, []string{"importer:stop:job-1"}).Return(redis.NewIntResult(0, errors.New("connection refused")))

		s := NewRedisStopSignal(kv, time.Hour)
		_, err := s.IsStopped(ctx, "job-1")
		assert.ErrorContains(t, err, "failed to read stop signal")
		assert.ErrorContains(t, s.Clear(ctx, "job-1"), "failed to clear stop signal")
	})

	t.Run("drives an import", func(t *testing.T) {
		kv := new(MockRedisKV)
		sc := &fakeScraper{pages: [][]*models.ScrapedProduct{{plant("1", "A Plant"), plant("2", "B Plant")}}}
		env := newTestEnv(t, sc, func(d *Deps) { d.Stops = NewRedisStopSignal(kv, time.Hour) })
		jobID := env.startJob(t, models.JobOptions{})

		key := []string{"importer:stop:" + jobID}
		kv.On("Exists", mock.Anything, key).Return(redis.NewIntResult(1, nil))
		kv.On("Del", mock.Anything, key).Return(redis.NewIntResult(1, nil))

		result, err := env.imp.ExecuteImport(ctx, jobID, models.JobOptions{})
		require.NoError(t, err)
		assert.True(t, result.Stopped)
		assert.Equal(t, 0, result.Created)
		kv.AssertExpectations(t)
	})
}
