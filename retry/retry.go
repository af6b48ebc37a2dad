// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package retry executes operations under per-network, per-error-class
// backoff policies. Jitter spreads simultaneous retries across a parallel
// network fan-out so one flaky upstream does not see a thundering herd.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/log"
	"github.com/evmgauntlet/gauntlet/netreg"
)

var logger = log.WithContext("pkg", "retry")

// Policy caps retries and paces them for one error class.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Default policies per error class. Reverts and unknowns are not retried,
// matching their classification.
var defaults = map[errs.Category]Policy{
	errs.CategoryGas:        {MaxRetries: 3, BaseDelay: 2 * time.Second},
	errs.CategoryTimeout:    {MaxRetries: 5, BaseDelay: 3 * time.Second},
	errs.CategoryNonce:      {MaxRetries: 3, BaseDelay: time.Second},
	errs.CategoryConnection: {MaxRetries: 5, BaseDelay: 2 * time.Second},
	errs.CategoryRatelimit:  {MaxRetries: 6, BaseDelay: 5 * time.Second},
	errs.CategoryRevert:     {},
	errs.CategoryUnknown:    {},
}

// Manager resolves policies and runs operations under them.
type Manager struct {
	maxDelay  time.Duration
	jitterMax float64

	mu       sync.RWMutex
	networks map[uint64]map[errs.Category]Policy

	// injectable for deterministic tests
	rnd   func() float64
	sleep func(ctx context.Context, d time.Duration) error
}

// Option tweaks a Manager.
type Option func(*Manager)

// WithMaxDelay caps any single backoff sleep.
func WithMaxDelay(d time.Duration) Option {
	return func(m *Manager) { m.maxDelay = d }
}

// WithJitterMax sets the upper bound of the uniform jitter factor.
func WithJitterMax(j float64) Option {
	return func(m *Manager) { m.jitterMax = j }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		maxDelay:  30 * time.Second,
		jitterMax: 0.3,
		networks:  make(map[uint64]map[errs.Category]Policy),
		rnd:       rand.Float64,
		sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Register installs a network's per-class overrides from its spec.
func (m *Manager) Register(spec *netreg.Spec) {
	if len(spec.Retry) == 0 {
		return
	}
	overrides := make(map[errs.Category]Policy, len(spec.Retry))
	for cat, o := range spec.Retry {
		p := defaults[cat]
		p.MaxRetries = o.MaxRetries
		if o.BaseDelay > 0 {
			p.BaseDelay = o.BaseDelay
		}
		overrides[cat] = p
	}
	m.mu.Lock()
	m.networks[spec.ChainID] = overrides
	m.mu.Unlock()
}

// PolicyFor resolves (chainID, category) to a policy, falling back to the
// class default.
func (m *Manager) PolicyFor(chainID uint64, cat errs.Category) Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if net, ok := m.networks[chainID]; ok {
		if p, ok := net[cat]; ok {
			return p
		}
	}
	return defaults[cat]
}

// Delay computes the backoff before retry attempt k (1-based):
// min(maxDelay, base·2^(k−1)·(1+U[0,jitterMax])).
func (m *Manager) Delay(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.maxDelay {
			return m.maxDelay
		}
	}
	d = time.Duration(float64(d) * (1 + m.rnd()*m.jitterMax))
	if d > m.maxDelay {
		d = m.maxDelay
	}
	return d
}

// Opts tune a single Execute call.
type Opts struct {
	// ChainID selects per-network policy overrides; zero uses defaults.
	ChainID uint64
	// MaxRetries overrides policy resolution when non-nil.
	MaxRetries *int
}

// Execute runs op, retrying per policy while the classified error allows it.
// The last error is returned once the cap is reached; non-retryable errors
// return immediately. Attempt counting: the first call is attempt 1 and does
// not count against MaxRetries.
func (m *Manager) Execute(ctx context.Context, opts Opts, op func(context.Context) error) error {
	_, err := m.ExecuteCount(ctx, opts, op)
	return err
}

// ExecuteCount is Execute, also reporting how many attempts were made.
func (m *Manager) ExecuteCount(ctx context.Context, opts Opts, op func(context.Context) error) (int, error) {
	attempts := 0
	for {
		attempts++
		err := op(ctx)
		if err == nil {
			return attempts, nil
		}
		ce := errs.Classify(err)
		if !ce.Retryable {
			return attempts, ce
		}

		p := m.PolicyFor(opts.ChainID, ce.Category)
		maxRetries := p.MaxRetries
		if opts.MaxRetries != nil {
			maxRetries = *opts.MaxRetries
		}
		if attempts > maxRetries {
			return attempts, ce
		}

		delay := m.Delay(p, attempts)
		logger.Debug("retrying after error",
			"category", ce.Category, "attempt", attempts, "maxRetries", maxRetries, "delay", delay)
		if serr := m.sleep(ctx, delay); serr != nil {
			return attempts, ce
		}
	}
}
