// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan TestRunStarted, 1)
	sub := b.SubscribeTestRunStarted(ch)
	defer sub.Unsubscribe()

	b.PublishTestRunStarted(TestRunStarted{RunID: "run-1", Mode: "standard"})

	select {
	case e := <-ch:
		assert.Equal(t, "run-1", e.RunID)
		assert.NotEmpty(t, e.EventID, "publisher assigns an event id")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	ch1 := make(chan AlertTriggered, 1)
	ch2 := make(chan AlertTriggered, 1)
	b.SubscribeAlertTriggered(ch1)
	b.SubscribeAlertTriggered(ch2)

	b.PublishAlertTriggered(AlertTriggered{Kind: "regression", Severity: "severe", Message: "gas up"})

	for _, ch := range []chan AlertTriggered{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, "regression", e.Kind)
			assert.False(t, e.TriggeredAt.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestTypedFeedsAreIsolated(t *testing.T) {
	b := New()
	defer b.Close()

	alerts := make(chan AlertTriggered, 1)
	b.SubscribeAlertTriggered(alerts)

	b.PublishNetworkStarted(NetworkStarted{RunID: "r", NetworkID: "sepolia"})

	select {
	case <-alerts:
		t.Fatal("network event leaked into alert feed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseUnsubscribesAll(t *testing.T) {
	b := New()
	ch := make(chan TestCompleted, 1)
	sub := b.SubscribeTestCompleted(ch)
	b.Close()

	select {
	case err := <-sub.Err():
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}
