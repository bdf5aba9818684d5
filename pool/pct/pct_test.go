// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pct

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBps(t *testing.T) {
	assert.Equal(t, new(big.Int), FromBps(0))
	assert.Equal(t, big.NewInt(1e14), FromBps(1))
	assert.Equal(t, big.NewInt(5e17), FromBps(5000))
	assert.Equal(t, Scale, FromBps(BpsDenominator))
}

func TestApplyRounding(t *testing.T) {
	rate := FromBps(3333) // 33.33%

	assert.Equal(t, big.NewInt(333), Apply(big.NewInt(1000), rate))
	assert.Equal(t, big.NewInt(334), ApplyCeil(big.NewInt(1001), rate))

	// full rate is the identity
	assert.Equal(t, big.NewInt(777), Apply(big.NewInt(777), Scale))
	assert.Equal(t, big.NewInt(777), ApplyCeil(big.NewInt(777), Scale))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, big.NewInt(5e17), Ratio(big.NewInt(1), big.NewInt(2)))
	assert.Equal(t, new(big.Int), Ratio(big.NewInt(1), new(big.Int)))
	assert.Equal(t, Scale, Ratio(big.NewInt(9), big.NewInt(9)))
}

func TestMulDiv(t *testing.T) {
	assert.Equal(t, big.NewInt(33), MulDiv(big.NewInt(10), big.NewInt(10), big.NewInt(3)))
	assert.Equal(t, big.NewInt(34), MulDivCeil(big.NewInt(10), big.NewInt(10), big.NewInt(3)))
	assert.Equal(t, new(big.Int), MulDiv(big.NewInt(10), big.NewInt(10), new(big.Int)))
	assert.Equal(t, new(big.Int), MulDivCeil(big.NewInt(10), big.NewInt(10), new(big.Int)))
}

func TestDivCeil(t *testing.T) {
	assert.Equal(t, big.NewInt(4), DivCeil(big.NewInt(10), big.NewInt(3)))
	assert.Equal(t, big.NewInt(3), DivCeil(big.NewInt(9), big.NewInt(3)))
	assert.Equal(t, new(big.Int), DivCeil(new(big.Int), big.NewInt(3)))
}

func TestSubSaturating(t *testing.T) {
	assert.Equal(t, big.NewInt(3), SubSaturating(big.NewInt(5), big.NewInt(2)))
	assert.Equal(t, new(big.Int), SubSaturating(big.NewInt(2), big.NewInt(5)))
	assert.Equal(t, new(big.Int), SubSaturating(big.NewInt(5), big.NewInt(5)))

	// result is detached from the inputs
	a, b := big.NewInt(5), big.NewInt(2)
	out := SubSaturating(a, b)
	out.SetInt64(99)
	assert.Equal(t, big.NewInt(5), a)
}

func TestMinMaxAlias(t *testing.T) {
	a, b := big.NewInt(1), big.NewInt(2)
	assert.Same(t, a, Min(a, b))
	assert.Same(t, b, Max(a, b))
	assert.Same(t, a, Min(a, a))
}
