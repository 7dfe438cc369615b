package aiclient

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent bounds simultaneous in-flight model calls when no
// explicit limit is configured.
const DefaultMaxConcurrent = 5

// Limiter is an owned counting semaphore bounding simultaneous in-flight
// model calls. Construct one per process (or per worker pool) and pass it
// into every client that should share the budget. Waiters are served FIFO.
type Limiter struct {
	sem *semaphore.Weighted
	max int64
}

// NewLimiter creates a Limiter with the given slot count. Non-positive
// values fall back to DefaultMaxConcurrent.
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(maxConcurrent)),
		max: int64(maxConcurrent),
	}
}

// Acquire blocks until a slot is free or ctx is done. Every successful
// Acquire must be matched by exactly one Release on every exit path.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release returns a slot to the pool.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Max returns the configured slot count.
func (l *Limiter) Max() int {
	return int(l.max)
}
