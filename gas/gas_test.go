// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package gas

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/wei"
)

type stubReader struct {
	price *big.Int
	err   error
	calls int
}

func (r *stubReader) SuggestGasPrice(context.Context) (*big.Int, error) {
	r.calls++
	return r.price, r.err
}

func gwei(g float64) *big.Int { return wei.FromGwei(g).Big() }

func fixedSpec() *netreg.Spec {
	return &netreg.Spec{
		ID: "linea", ChainID: 59144, Type: netreg.TypeMainnet,
		Gas: netreg.GasConfig{
			Strategy:  netreg.GasFixed,
			Required:  wei.FromGwei(3),
			Tolerance: wei.FromGwei(0.5),
		},
	}
}

func adaptiveSpec() *netreg.Spec {
	return &netreg.Spec{
		ID: "sepolia", ChainID: 11155111, Type: netreg.TypeTestnet,
		Gas: netreg.GasConfig{
			Strategy:  netreg.GasAdaptive,
			Base:      wei.FromGwei(20),
			Tolerance: wei.FromGwei(5),
			Fallback:  wei.FromGwei(30),
		},
	}
}

func dynamicSpec(maxGwei float64) *netreg.Spec {
	s := &netreg.Spec{
		ID: "arbitrum", ChainID: 42161, Type: netreg.TypeMainnet,
		Gas: netreg.GasConfig{
			Strategy: netreg.GasDynamic,
			Fallback: wei.FromGwei(1),
		},
	}
	if maxGwei > 0 {
		s.Gas.MaxGasPrice = wei.FromGwei(maxGwei)
	}
	return s
}

func TestFixedDoesNotConsultNetwork(t *testing.T) {
	reader := &stubReader{price: gwei(100)}
	q, err := NewManager().Quote(context.Background(), fixedSpec(), reader, Opts{})
	require.NoError(t, err)
	assert.Equal(t, "3000000000", q.Price.String())
	assert.Equal(t, SourceFixed, q.Source)
	assert.Zero(t, reader.calls)
}

func TestFixedAggressiveOverride(t *testing.T) {
	q, err := NewManager().Quote(context.Background(), fixedSpec(), &stubReader{}, Opts{Aggressive: 5})
	require.NoError(t, err)
	assert.Equal(t, "15000000000", q.Price.String())
	assert.Equal(t, SourceAggressive, q.Source)
}

func TestAdaptiveUsesObservedWithinTolerance(t *testing.T) {
	// observed 16 gwei >= base(20) - tolerance(5) → observed
	q, err := NewManager().Quote(context.Background(), adaptiveSpec(), &stubReader{price: gwei(16)}, Opts{})
	require.NoError(t, err)
	assert.Equal(t, "16000000000", q.Price.String())
	assert.Equal(t, SourceAdaptive, q.Source)
}

func TestAdaptiveClampsToBase(t *testing.T) {
	// observed 10 gwei < floor(15) → base
	q, err := NewManager().Quote(context.Background(), adaptiveSpec(), &stubReader{price: gwei(10)}, Opts{})
	require.NoError(t, err)
	assert.Equal(t, "20000000000", q.Price.String())
}

func TestAdaptiveFallsBackOnRPCFailure(t *testing.T) {
	reader := &stubReader{err: errors.New("connection refused")}
	q, err := NewManager().Quote(context.Background(), adaptiveSpec(), reader, Opts{})
	require.NoError(t, err, "transient RPC failure must not raise")
	assert.Equal(t, "30000000000", q.Price.String())
	assert.Equal(t, SourceFallback, q.Source)
}

func TestDynamicRespectsCap(t *testing.T) {
	q, err := NewManager().Quote(context.Background(), dynamicSpec(50), &stubReader{price: gwei(80)}, Opts{})
	require.NoError(t, err)
	assert.Equal(t, "50000000000", q.Price.String())
	assert.Equal(t, SourceCap, q.Source)
}

func TestDynamicUncapped(t *testing.T) {
	q, err := NewManager().Quote(context.Background(), dynamicSpec(0), &stubReader{price: gwei(80)}, Opts{})
	require.NoError(t, err)
	assert.Equal(t, "80000000000", q.Price.String())
	assert.Equal(t, SourceDynamic, q.Source)
}

func TestDynamicCapBindsUnderAggressive(t *testing.T) {
	q, err := NewManager().Quote(context.Background(), dynamicSpec(50), &stubReader{price: gwei(40)}, Opts{Aggressive: 2})
	require.NoError(t, err)
	assert.Equal(t, "50000000000", q.Price.String())
	assert.Equal(t, SourceCap, q.Source)
}

func TestInvalidGasConfigIsProgrammerError(t *testing.T) {
	spec := adaptiveSpec()
	spec.Gas.Base = wei.Amount{}
	_, err := NewManager().Quote(context.Background(), spec, &stubReader{}, Opts{})
	assert.Error(t, err)
}

func TestQuoteCached(t *testing.T) {
	m := NewManager()
	reader := &stubReader{price: gwei(16)}
	spec := adaptiveSpec()

	_, err := m.QuoteCached(context.Background(), spec, reader, time.Minute, Opts{})
	require.NoError(t, err)
	_, err = m.QuoteCached(context.Background(), spec, reader, time.Minute, Opts{})
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls, "second quote served from cache")

	// zero ttl forces a re-read
	_, err = m.QuoteCached(context.Background(), spec, reader, 0, Opts{})
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}
