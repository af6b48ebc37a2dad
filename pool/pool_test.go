// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmgauntlet/gauntlet/fortest"
	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/wei"
)

func testSpec(url string, chainID uint64) *netreg.Spec {
	return &netreg.Spec{
		ID:           "local",
		Name:         "Local",
		ChainID:      chainID,
		Symbol:       "ETH",
		Type:         netreg.TypeLocal,
		RPCEndpoints: []string{url},
		Gas: netreg.GasConfig{
			Strategy: netreg.GasFixed,
			Required: wei.FromGwei(1),
		},
	}
}

func TestProviderHandshakeAndReuse(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	p := New()
	defer p.Cleanup()

	spec := testSpec(node.URL(), 31337)
	prov1, err := p.Provider(context.Background(), spec)
	require.NoError(t, err)
	prov2, err := p.Provider(context.Background(), spec)
	require.NoError(t, err)

	assert.Same(t, prov1, prov2, "same (chainID, url) reuses the handle")
	assert.Equal(t, 1, p.providerCount())
	assert.Equal(t, uint64(31337), prov1.ChainID())
}

func TestProviderChainIDMismatchIsFatal(t *testing.T) {
	node := fortest.NewNode(t, 1)
	p := New()
	defer p.Cleanup()

	// config claims 31337 but the node answers 1
	_, err := p.Provider(context.Background(), testSpec(node.URL(), 31337))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChainIDMismatch)
	assert.Zero(t, p.providerCount(), "mismatched provider must not be registered")
}

func TestProviderDialFailurePropagates(t *testing.T) {
	p := New()
	defer p.Cleanup()

	spec := testSpec("http://127.0.0.1:1", 31337)
	_, err := p.Provider(context.Background(), spec)
	assert.Error(t, err)
}

func TestReleaseAndEviction(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	p := New(WithIdleWindow(0))
	defer p.Cleanup()

	spec := testSpec(node.URL(), 31337)
	prov, err := p.Provider(context.Background(), spec)
	require.NoError(t, err)

	// still referenced: eviction must not touch it
	p.evictIdle()
	assert.Equal(t, 1, p.providerCount())

	p.Release(prov)
	p.evictIdle()
	assert.Zero(t, p.providerCount())
}

func TestReleaseWakesEviction(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	p := New(WithIdleWindow(20 * time.Millisecond))
	defer p.Cleanup()

	prov, err := p.Provider(context.Background(), testSpec(node.URL(), 31337))
	require.NoError(t, err)
	p.Release(prov)

	// well under the maintenance tick; the release signal drives the eviction
	require.Eventually(t, func() bool { return p.providerCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestCleanupIdempotent(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	p := New()

	_, err := p.Provider(context.Background(), testSpec(node.URL(), 31337))
	require.NoError(t, err)

	p.Cleanup()
	p.Cleanup()
	assert.Zero(t, p.providerCount())

	_, err = p.Provider(context.Background(), testSpec(node.URL(), 31337))
	assert.Error(t, err, "closed pool refuses new providers")
}

func TestSignerSharesPoolProvider(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	p := New()
	defer p.Cleanup()

	spec := testSpec(node.URL(), 31337)
	signer, err := p.Signer(context.Background(), spec, fortest.Accounts[0].Hex)
	require.NoError(t, err)

	prov, err := p.Provider(context.Background(), spec)
	require.NoError(t, err)
	assert.Same(t, prov, signer.Provider())
	assert.Equal(t, fortest.Accounts[0].Address, signer.Address())

	again, err := p.Signer(context.Background(), spec, fortest.Accounts[0].Hex)
	require.NoError(t, err)
	assert.Same(t, signer, again)
}

func TestSignerRejectsDifferentKey(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	p := New()
	defer p.Cleanup()

	spec := testSpec(node.URL(), 31337)
	_, err := p.Signer(context.Background(), spec, fortest.Accounts[0].Hex)
	require.NoError(t, err)

	_, err = p.Signer(context.Background(), spec, fortest.Accounts[1].Hex)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignerKeyMismatch)
}

func TestSignerNonceMonotonic(t *testing.T) {
	node := fortest.NewNode(t, 31337)
	p := New()
	defer p.Cleanup()

	signer, err := p.Signer(context.Background(), testSpec(node.URL(), 31337), fortest.Accounts[0].Hex)
	require.NoError(t, err)

	first, err := signer.NextNonce(context.Background())
	require.NoError(t, err)
	for i := uint64(1); i <= 5; i++ {
		n, err := signer.NextNonce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first+i, n, "nonces strictly increase without RPC round trips")
	}

	require.NoError(t, signer.Resync(context.Background()))
	n, err := signer.NextNonce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, n, "resync rewinds to the chain's pending nonce")
}
