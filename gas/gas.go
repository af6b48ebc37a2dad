// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package gas derives the gas price to pay on each network. Strategies never
// fail on transient RPC trouble; they fall back to configured values and tag
// the quote with where the number came from.
package gas

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/evmgauntlet/gauntlet/log"
	"github.com/evmgauntlet/gauntlet/metrics"
	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/wei"
)

var logger = log.WithContext("pkg", "gas")

var gasPriceGauge = metrics.GaugeVec("gas_price_gwei", []string{"network"})

// Source tells where a quote's price came from.
type Source string

const (
	SourceFixed      Source = "fixed"
	SourceAdaptive   Source = "adaptive"
	SourceDynamic    Source = "dynamic"
	SourceFallback   Source = "fallback"
	SourceCap        Source = "cap"
	SourceAggressive Source = "aggressive-override"
)

// Quote is a priced gas decision.
type Quote struct {
	Price      wei.Amount
	Source     Source
	ObservedAt time.Time
}

// Reader is the one provider call the manager needs. *ethclient.Client
// satisfies it.
type Reader interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Opts tune a single quote.
type Opts struct {
	// Aggressive multiplies the derived price when the caller wants faster
	// inclusion. Values <= 1 are ignored.
	Aggressive float64
}

// Observed gas prices on a testnet above this raise a one-time warning.
var testnetSanityThreshold = wei.FromGwei(500)

// Manager computes gas quotes per network.
type Manager struct {
	now func() time.Time

	warnedMu sync.Mutex
	warned   map[uint64]bool

	cacheMu sync.Mutex
	cache   map[uint64]Quote
}

func NewManager() *Manager {
	return &Manager{
		now:    time.Now,
		warned: make(map[uint64]bool),
		cache:  make(map[uint64]Quote),
	}
}

// Quote derives a gas price for spec using reader for live observations.
// It returns an error only when the spec's gas config is unusable for its
// strategy; RPC failures degrade to the configured fallback.
func (m *Manager) Quote(ctx context.Context, spec *netreg.Spec, reader Reader, opts Opts) (Quote, error) {
	if err := spec.Gas.Validate(); err != nil {
		return Quote{}, err
	}

	var q Quote
	switch spec.Gas.Strategy {
	case netreg.GasFixed:
		q = Quote{Price: spec.Gas.Required, Source: SourceFixed}
	case netreg.GasAdaptive:
		q = m.adaptive(ctx, spec, reader)
	case netreg.GasDynamic:
		q = m.dynamic(ctx, spec, reader)
	}
	q.ObservedAt = m.now()

	if opts.Aggressive > 1 {
		q.Price = q.Price.MulFloat(opts.Aggressive)
		q.Source = SourceAggressive
		// the dynamic cap still binds even under an aggressive override
		if spec.Gas.Strategy == netreg.GasDynamic && !spec.Gas.MaxGasPrice.IsZero() &&
			q.Price.Cmp(spec.Gas.MaxGasPrice) > 0 {
			q.Price = spec.Gas.MaxGasPrice
			q.Source = SourceCap
		}
	}

	gasPriceGauge.SetWithLabels(q.Price.Gwei(), map[string]string{"network": spec.ID})
	return q, nil
}

func (m *Manager) observe(ctx context.Context, spec *netreg.Spec, reader Reader) (wei.Amount, bool) {
	price, err := reader.SuggestGasPrice(ctx)
	if err != nil {
		logger.Debug("gas price read failed, using fallback", "network", spec.ID, "err", err)
		return wei.Amount{}, false
	}
	observed := wei.FromBig(price)
	if spec.IsTestnet() && observed.Cmp(testnetSanityThreshold) > 0 {
		m.warnOnce(spec, observed)
	}
	return observed, true
}

func (m *Manager) adaptive(ctx context.Context, spec *netreg.Spec, reader Reader) Quote {
	observed, ok := m.observe(ctx, spec, reader)
	if !ok {
		return Quote{Price: spec.Gas.Fallback, Source: SourceFallback}
	}
	floor := spec.Gas.Base.Sub(spec.Gas.Tolerance)
	if observed.Cmp(floor) >= 0 {
		return Quote{Price: observed, Source: SourceAdaptive}
	}
	return Quote{Price: spec.Gas.Base, Source: SourceAdaptive}
}

func (m *Manager) dynamic(ctx context.Context, spec *netreg.Spec, reader Reader) Quote {
	observed, ok := m.observe(ctx, spec, reader)
	if !ok {
		return Quote{Price: spec.Gas.Fallback, Source: SourceFallback}
	}
	if !spec.Gas.MaxGasPrice.IsZero() && observed.Cmp(spec.Gas.MaxGasPrice) > 0 {
		return Quote{Price: spec.Gas.MaxGasPrice, Source: SourceCap}
	}
	return Quote{Price: observed, Source: SourceDynamic}
}

func (m *Manager) warnOnce(spec *netreg.Spec, observed wei.Amount) {
	m.warnedMu.Lock()
	defer m.warnedMu.Unlock()
	if m.warned[spec.ChainID] {
		return
	}
	m.warned[spec.ChainID] = true
	logger.Warn("testnet gas price above sanity threshold",
		"network", spec.ID, "observedGwei", observed.Gwei())
}

// QuoteCached returns the last quote for the network if it is younger than
// ttl, otherwise derives a fresh one and remembers it.
func (m *Manager) QuoteCached(ctx context.Context, spec *netreg.Spec, reader Reader, ttl time.Duration, opts Opts) (Quote, error) {
	m.cacheMu.Lock()
	if q, ok := m.cache[spec.ChainID]; ok && m.now().Sub(q.ObservedAt) < ttl {
		m.cacheMu.Unlock()
		return q, nil
	}
	m.cacheMu.Unlock()

	q, err := m.Quote(ctx, spec, reader, opts)
	if err != nil {
		return Quote{}, err
	}
	m.cacheMu.Lock()
	m.cache[spec.ChainID] = q
	m.cacheMu.Unlock()
	return q, nil
}
