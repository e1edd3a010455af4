package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter caps how many LLM completion streams run at once. Every turn
// goes through a shared Limiter so a burst of chat clients cannot pile
// unbounded concurrent requests onto the upstream model.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter creates a Limiter allowing at most limit concurrent calls.
func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot. Blocks while all
// slots are busy and returns ctx.Err() if the context is cancelled before
// a slot frees up. A nil Limiter runs fn directly.
func (l *Limiter) Run(ctx context.Context, fn func() error) error {
	if l == nil || l.sem == nil {
		return fn()
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}
