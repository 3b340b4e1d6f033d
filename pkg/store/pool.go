package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrent in-flight store operations,
// independent of the database/sql connection pool, so a burst of JSON-RPC
// calls degrades to queuing rather than exhausting backend connections.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool builds a Pool that admits at most maxConcurrent operations at
// once.
func NewPool(maxConcurrent int64) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	return &Pool{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Do runs fn after acquiring a slot, releasing it on return. It returns
// ctx.Err(), wrapped, without running fn if ctx is cancelled before a slot
// frees up.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("store: pool acquire: %w", err)
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
