// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import "sync"

// Signal is a channel-based rendezvous point. Unlike sync.Cond, waiters get a
// channel so they can select on the event together with cancellation.
type Signal struct {
	l  sync.Mutex
	ch chan struct{}
}

func (s *Signal) init() {
	if s.ch == nil {
		s.ch = make(chan struct{}, 1)
	}
}

// Signal wakes one waiter, if any.
func (s *Signal) Signal() {
	s.l.Lock()
	s.init()
	select {
	case s.ch <- struct{}{}:
	default:
	}
	s.l.Unlock()
}

// Broadcast wakes all current waiters.
func (s *Signal) Broadcast() {
	s.l.Lock()
	s.init()
	close(s.ch)
	s.ch = make(chan struct{}, 1)
	s.l.Unlock()
}

// Waiter returns the channel to wait on for the next Signal or Broadcast.
func (s *Signal) Waiter() <-chan struct{} {
	s.l.Lock()
	s.init()
	ch := s.ch
	s.l.Unlock()
	return ch
}
