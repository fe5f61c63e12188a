package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Interval enforces a minimum delay between consecutive actions. With a max delay
// above the min, each wait picks a random delay in [min, max).
type Interval struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewInterval(minDelay, maxDelay time.Duration) *Interval {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Interval{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (r *Interval) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.calculateDelay()

	if !r.lastAction.IsZero() && elapsed < delay {
		timer := time.NewTimer(delay - elapsed)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *Interval) calculateDelay() time.Duration {
	if r.minDelay == r.maxDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(rand.Int63n(int64(delta)))
}

// Gate serializes access to a shared resource and spaces the start of each
// access by at least the configured interval. One Gate is shared by every
// caller that talks to the same remote host.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func NewGate(interval time.Duration) *Gate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Gate{
		sem:     semaphore.NewWeighted(1),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Do runs fn once the gate is free and the interval has elapsed. It returns
// the context error without calling fn when ctx ends first.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
