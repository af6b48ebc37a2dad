// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package wei

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromGwei(t *testing.T) {
	assert.Equal(t, "25000000000", FromGwei(25).String())
	assert.Equal(t, "500000000", FromGwei(0.5).String())
	assert.True(t, FromGwei(0).IsZero())
	assert.True(t, FromGwei(-1).IsZero())
}

func TestParseRoundTrip(t *testing.T) {
	a := New(123456789)
	parsed, err := Parse(a.String())
	assert.NoError(t, err)
	assert.Zero(t, a.Cmp(parsed))

	_, err = Parse("not-a-number")
	assert.Error(t, err)
	_, err = Parse("-5")
	assert.Error(t, err)
}

func TestArithmetic(t *testing.T) {
	a := New(100)
	b := New(30)

	assert.Equal(t, "130", a.Add(b).String())
	assert.Equal(t, "70", a.Sub(b).String())
	assert.True(t, b.Sub(a).IsZero(), "sub clamps at zero")
	assert.Equal(t, "2100000", New(100).MulUint(21000).String())
	assert.Equal(t, "150", a.MulFloat(1.5).String())
	assert.True(t, a.MulFloat(-2).IsZero())
}

func TestFromBigClamp(t *testing.T) {
	assert.True(t, FromBig(nil).IsZero())
	assert.True(t, FromBig(big.NewInt(-10)).IsZero())
	assert.Equal(t, "10", FromBig(big.NewInt(10)).String())
}

func TestCost(t *testing.T) {
	price := FromGwei(2)
	assert.Equal(t, "42000000000000", Cost(price, 21000).String())
}

func TestUint64Saturation(t *testing.T) {
	huge := FromGwei(1).MulUint(1 << 62).MulUint(1 << 10)
	assert.Equal(t, ^uint64(0), huge.Uint64())
}

func TestTextMarshalling(t *testing.T) {
	a := New(42)
	text, err := a.MarshalText()
	assert.NoError(t, err)

	var back Amount
	assert.NoError(t, back.UnmarshalText(text))
	assert.Zero(t, a.Cmp(back))
}
