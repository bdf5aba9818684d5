// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package pct provides scaled-percentage conversions and saturating
// arithmetic helpers for ledger amounts. Rates are fixed-point integers
// where Scale represents 100%.
package pct

import "math/big"

// Scale is the fixed-point base: a rate of Scale means 100%.
var Scale = big.NewInt(1e18)

// BpsDenominator converts basis points: 10000 bps == 100%.
const BpsDenominator = 10000

// FromBps converts a basis-point rate into the scaled fixed-point base.
func FromBps(bps uint32) *big.Int {
	r := new(big.Int).SetUint64(uint64(bps))
	r.Mul(r, Scale)
	return r.Div(r, big.NewInt(BpsDenominator))
}

// Apply returns floor(amount × rate / Scale).
func Apply(amount, rate *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, rate)
	return out.Div(out, Scale)
}

// ApplyCeil returns ceil(amount × rate / Scale).
func ApplyCeil(amount, rate *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, rate)
	return DivCeil(out, Scale)
}

// Ratio returns the scaled ratio part/whole, rounded down.
// A zero whole yields zero.
func Ratio(part, whole *big.Int) *big.Int {
	if whole.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(part, Scale)
	return out.Div(out, whole)
}

// MulDiv returns floor(a × b / c). A zero divisor yields zero.
func MulDiv(a, b, c *big.Int) *big.Int {
	if c.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Div(out, c)
}

// MulDivCeil returns ceil(a × b / c). A zero divisor yields zero.
func MulDivCeil(a, b, c *big.Int) *big.Int {
	if c.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return DivCeil(out, c)
}

// DivCeil returns ceil(a / b). b must be positive.
func DivCeil(a, b *big.Int) *big.Int {
	out, rem := new(big.Int).QuoRem(a, b, new(big.Int))
	if rem.Sign() > 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

// SubSaturating returns a − b, clamped at zero. The result is always a new
// value, safe to mutate.
func SubSaturating(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(a, b)
}

// Min returns the smaller of a and b (no copy).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b (no copy).
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
