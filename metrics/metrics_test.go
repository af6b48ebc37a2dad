// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopByDefault(t *testing.T) {
	// must not panic without a backend
	Counter("noop_counter").Add(1)
	Gauge("noop_gauge").Set(4.2)
	Histogram("noop_hist", BucketRPC).Observe(10)
}

func TestPrometheusBackend(t *testing.T) {
	b := newPromBackend()

	b.Counter("tests_total").Add(3)
	b.CounterVec("tests_by_network", []string{"network"}).
		AddWithLabels(2, map[string]string{"network": "sepolia"})
	b.Gauge("gas_price_gwei").Set(25)
	b.Histogram("rpc_latency_ms", BucketRPC).Observe(42)

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, "gauntlet_tests_total 3")
	assert.Contains(t, out, `gauntlet_tests_by_network{network="sepolia"} 2`)
	assert.Contains(t, out, "gauntlet_gas_price_gwei 25")
	assert.Contains(t, out, "gauntlet_rpc_latency_ms_count 1")
}

func TestSameMeterForSameName(t *testing.T) {
	b := newPromBackend()
	b.Counter("dup").Add(1)
	b.Counter("dup").Add(1)

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "gauntlet_dup 2")
}
