// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package retry

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/evmgauntlet/gauntlet/metrics"
)

var breakerStateGauge = metrics.GaugeVec("breaker_state", []string{"name"})

// Breaker guards a single dependency: it opens after a run of consecutive
// failures, rejects calls for a recovery window, then lets one probing call
// through (Closed → Open → HalfOpen → Closed|Open).
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = gobreaker.ErrOpenState

// NewBreaker creates a breaker that opens after failureThreshold consecutive
// failures and probes again after recoveryTimeout.
func NewBreaker(name string, failureThreshold uint32, recoveryTimeout time.Duration) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("breaker state changed", "name", name, "from", from.String(), "to", to.String())
			breakerStateGauge.SetWithLabels(float64(to), map[string]string{"name": name})
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs op through the breaker. While open it returns ErrOpen without
// invoking op.
func (b *Breaker) Execute(op func() (any, error)) (any, error) {
	return b.cb.Execute(op)
}

// State returns closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
