// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package bus is the internal pub/sub surface. Domain events fan out over
// typed feeds; external sinks (webhooks, dashboards) subscribe with their own
// channels. Delivery is unordered across publishers and may duplicate on
// reconnect, so subscribers key dedup on EventID.
package bus

import (
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"

	"github.com/evmgauntlet/gauntlet/wei"
)

// Totals is the success/cost rollup carried by run-level events.
type Totals struct {
	Tests      int
	Successes  int
	Failures   int
	GasUsed    uint64
	CostNative float64
	CostUSD    float64
}

type TestRunStarted struct {
	EventID   string
	RunID     string
	Mode      string
	Networks  []string
	TestTypes []string
}

type NetworkStarted struct {
	EventID   string
	RunID     string
	NetworkID string
}

type TestCompleted struct {
	EventID    string
	RunID      string
	Totals     Totals
	PerNetwork map[string]Totals
}

type RegressionDetected struct {
	EventID          string
	NetworkID        string
	MetricName       string
	Severity         string
	PercentageChange float64
	Confidence       float64
}

type AlertTriggered struct {
	EventID     string
	Kind        string
	Severity    string
	NetworkID   string
	TestType    string
	Message     string
	Details     map[string]any
	TriggeredAt time.Time
}

type NetworkStatusChanged struct {
	EventID        string
	NetworkID      string
	Online         bool
	BlockNumber    uint64
	GasPrice       wei.Amount
	ResponseTimeMs int64
}

// Bus multiplexes domain events over per-type feeds.
type Bus struct {
	runStarted     event.Feed
	networkStarted event.Feed
	testCompleted  event.Feed
	regression     event.Feed
	alert          event.Feed
	netStatus      event.Feed
	scope          event.SubscriptionScope
}

func New() *Bus {
	return &Bus{}
}

// Close unsubscribes every subscriber. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.scope.Close()
}

func eventID() string { return uuid.NewString() }

func (b *Bus) PublishTestRunStarted(e TestRunStarted) {
	if e.EventID == "" {
		e.EventID = eventID()
	}
	b.runStarted.Send(e)
}

func (b *Bus) PublishNetworkStarted(e NetworkStarted) {
	if e.EventID == "" {
		e.EventID = eventID()
	}
	b.networkStarted.Send(e)
}

func (b *Bus) PublishTestCompleted(e TestCompleted) {
	if e.EventID == "" {
		e.EventID = eventID()
	}
	b.testCompleted.Send(e)
}

func (b *Bus) PublishRegressionDetected(e RegressionDetected) {
	if e.EventID == "" {
		e.EventID = eventID()
	}
	b.regression.Send(e)
}

func (b *Bus) PublishAlertTriggered(e AlertTriggered) {
	if e.EventID == "" {
		e.EventID = eventID()
	}
	if e.TriggeredAt.IsZero() {
		e.TriggeredAt = time.Now().UTC()
	}
	b.alert.Send(e)
}

func (b *Bus) PublishNetworkStatusChanged(e NetworkStatusChanged) {
	if e.EventID == "" {
		e.EventID = eventID()
	}
	b.netStatus.Send(e)
}

func (b *Bus) SubscribeTestRunStarted(ch chan<- TestRunStarted) event.Subscription {
	return b.scope.Track(b.runStarted.Subscribe(ch))
}

func (b *Bus) SubscribeNetworkStarted(ch chan<- NetworkStarted) event.Subscription {
	return b.scope.Track(b.networkStarted.Subscribe(ch))
}

func (b *Bus) SubscribeTestCompleted(ch chan<- TestCompleted) event.Subscription {
	return b.scope.Track(b.testCompleted.Subscribe(ch))
}

func (b *Bus) SubscribeRegressionDetected(ch chan<- RegressionDetected) event.Subscription {
	return b.scope.Track(b.regression.Subscribe(ch))
}

func (b *Bus) SubscribeAlertTriggered(ch chan<- AlertTriggered) event.Subscription {
	return b.scope.Track(b.alert.Subscribe(ch))
}

func (b *Bus) SubscribeNetworkStatusChanged(ch chan<- NetworkStatusChanged) event.Subscription {
	return b.scope.Track(b.netStatus.Subscribe(ch))
}
