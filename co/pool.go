// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool runs submitted work with a bounded number of goroutines in flight.
// It is the concurrency primitive behind the load-test worker pool.
type Pool struct {
	sem  *semaphore.Weighted
	goes Goes
}

// NewPool creates a pool allowing at most size concurrent tasks. Size values
// below 1 are treated as 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit blocks until a worker slot is free or ctx is done, then runs f on
// its own goroutine. The only error returned is ctx.Err().
func (p *Pool) Submit(ctx context.Context, f func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.goes.Go(func() {
		defer p.sem.Release(1)
		f()
	})
	return nil
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.goes.Wait()
}
