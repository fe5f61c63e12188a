package importer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/nursery-importer/internal/models"
)

func TestProcessNextJob(t *testing.T) {
	ctx := context.Background()
	sc := &fakeScraper{pages: [][]*models.ScrapedProduct{{plant("1", "A Plant"), plant("2", "B Plant")}}}
	env := newTestEnv(t, sc, nil)

	assert.False(t, env.imp.processNextJob(ctx))

	jobID := env.startJob(t, models.JobOptions{MaxProducts: 1})
	assert.True(t, env.imp.processNextJob(ctx))
	assert.False(t, env.imp.processNextJob(ctx))

	job, err := env.imp.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.ProductsCreated, "options stored on the job are applied")
}

func TestStartWorker(t *testing.T) {
	sc := &fakeScraper{pages: [][]*models.ScrapedProduct{{plant("1", "A Plant")}}}
	env := newTestEnv(t, sc, nil)
	env.imp.cfg.WorkerInterval = 10 * time.Millisecond

	first := env.startJob(t, models.JobOptions{})
	second := env.startJob(t, models.JobOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.imp.StartWorker(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stats, err := env.imp.Stats(context.Background())
		return err == nil && stats.CompletedJobs == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	for _, id := range []string{first, second} {
		job, err := env.imp.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
	}
}
