// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package wei provides the single numeric type used for all on-chain amounts.
// Amounts are immutable and never negative.
package wei

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// Amount is a non-negative amount of wei. The zero value is zero wei.
type Amount struct {
	i big.Int
}

// New creates an Amount from a plain wei value.
func New(v uint64) Amount {
	var a Amount
	a.i.SetUint64(v)
	return a
}

// FromBig creates an Amount from b. Nil or negative values clamp to zero.
func FromBig(b *big.Int) Amount {
	var a Amount
	if b != nil && b.Sign() > 0 {
		a.i.Set(b)
	}
	return a
}

// FromGwei converts a gwei figure, as written in network spec files, to wei.
// Fractional gwei is supported down to one wei.
func FromGwei(g float64) Amount {
	if g <= 0 {
		return Amount{}
	}
	f := new(big.Float).SetFloat64(g)
	f.Mul(f, new(big.Float).SetUint64(params.GWei))
	i, _ := f.Int(nil)
	return FromBig(i)
}

// Parse decodes a base-10 wei string as produced by String.
func Parse(s string) (Amount, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("wei: invalid amount %q", s)
	}
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("wei: negative amount %q", s)
	}
	return FromBig(b), nil
}

// Big returns a copy of the amount as *big.Int, safe for the caller to mutate.
func (a Amount) Big() *big.Int {
	return new(big.Int).Set(&a.i)
}

// Uint64 returns the amount as uint64, saturating on overflow.
func (a Amount) Uint64() uint64 {
	if !a.i.IsUint64() {
		return ^uint64(0)
	}
	return a.i.Uint64()
}

func (a Amount) IsZero() bool {
	return a.i.Sign() == 0
}

// Cmp compares a and b, returning -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.i.Cmp(&b.i)
}

func (a Amount) Add(b Amount) Amount {
	var r Amount
	r.i.Add(&a.i, &b.i)
	return r
}

// Sub returns a-b, clamped at zero.
func (a Amount) Sub(b Amount) Amount {
	var r Amount
	r.i.Sub(&a.i, &b.i)
	if r.i.Sign() < 0 {
		return Amount{}
	}
	return r
}

// MulUint scales the amount by n. Used for gas cost (price × gas used).
func (a Amount) MulUint(n uint64) Amount {
	var r Amount
	r.i.Mul(&a.i, new(big.Int).SetUint64(n))
	return r
}

// MulFloat scales the amount by f, rounding down. Negative factors clamp to
// zero. Used for tolerance bands and the aggressive gas override.
func (a Amount) MulFloat(f float64) Amount {
	if f <= 0 {
		return Amount{}
	}
	bf := new(big.Float).SetInt(&a.i)
	bf.Mul(bf, new(big.Float).SetFloat64(f))
	i, _ := bf.Int(nil)
	return FromBig(i)
}

// Gwei returns the amount in gwei as a float, for display only.
func (a Amount) Gwei() float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(&a.i),
		new(big.Float).SetUint64(params.GWei),
	).Float64()
	return f
}

// Ether returns the amount in whole native tokens as a float, for cost
// reporting only.
func (a Amount) Ether() float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(&a.i),
		new(big.Float).SetUint64(params.Ether),
	).Float64()
	return f
}

// String renders the amount as a base-10 wei string.
func (a Amount) String() string {
	return a.i.String()
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Cost returns price × gasUsed.
func Cost(price Amount, gasUsed uint64) Amount {
	return price.MulUint(gasUsed)
}
