// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGoesWait(t *testing.T) {
	var g Goes
	var n int32
	for i := 0; i < 10; i++ {
		g.Go(func() { atomic.AddInt32(&n, 1) })
	}
	g.Wait()
	assert.Equal(t, int32(10), atomic.LoadInt32(&n))
}

func TestGoesDone(t *testing.T) {
	var g Goes
	g.Go(func() { time.Sleep(10 * time.Millisecond) })
	select {
	case <-g.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3)
	var inFlight, peak int32
	for i := 0; i < 20; i++ {
		err := p.Submit(context.Background(), func() {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		})
		assert.NoError(t, err)
	}
	p.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestPoolSubmitHonorsContext(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	assert.NoError(t, p.Submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Wait()
}

func TestSignalBroadcast(t *testing.T) {
	var s Signal
	w1 := s.Waiter()
	w2 := s.Waiter()
	s.Broadcast()
	for _, w := range []<-chan struct{}{w1, w2} {
		select {
		case <-w:
		case <-time.After(time.Second):
			t.Fatal("waiter not woken")
		}
	}
}
