// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package feecurve

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/harbor/pool/pct"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// scaled returns n/1000 as a fixed-point rate.
func milliRate(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

func mustCurve(t *testing.T, intercept, slope *big.Int) *Curve {
	c, err := New(intercept, slope)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadParams(t *testing.T) {
	_, err := New(big.NewInt(-1), big.NewInt(0))
	assert.Error(t, err)

	_, err = New(pct.Scale, big.NewInt(1))
	assert.Error(t, err)

	c, err := New(new(big.Int).Set(pct.Scale), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, pct.Scale, c.MaxRate())
}

func TestRateAtCapsAtMax(t *testing.T) {
	c := mustCurve(t, milliRate(1), milliRate(50))

	assert.Equal(t, milliRate(1), c.RateAt(big.NewInt(0)))
	assert.Equal(t, milliRate(51), c.RateAt(pct.Scale))
	// past full utilization the rate stays at the cap
	assert.Equal(t, milliRate(51), c.RateAt(new(big.Int).Mul(pct.Scale, big.NewInt(3))))
}

func TestUtilization(t *testing.T) {
	assert.Equal(t, int64(0), Utilization(units(1000), units(1000)).Int64())
	assert.Equal(t, int64(0), Utilization(units(1000), units(1500)).Int64())
	assert.Equal(t, pct.Scale, Utilization(units(1000), units(0)))
	assert.Equal(t, pct.Scale, Utilization(big.NewInt(0), units(10)))

	half := Utilization(units(1000), units(500))
	assert.Equal(t, new(big.Int).Div(pct.Scale, big.NewInt(2)), half)
}

func TestSolveNetGivenGrossLinearSegment(t *testing.T) {
	// c = 0.1%, m = 5%, full pool of 1000 with a matching target
	c := mustCurve(t, milliRate(1), milliRate(50))

	q := c.SolveNetGivenGross(units(1000), units(1000), units(100), nil)

	// withdrawing 100 moves utilization 0 → 0.1; the average rate over
	// that interval is 0.001 + 0.05·0.05 = 0.0035, so the fee is 0.35
	wantFee := new(big.Int).Mul(big.NewInt(35), big.NewInt(1e16))
	assert.Equal(t, units(100), q.Gross)
	assert.Equal(t, wantFee, q.Fee)
	assert.Equal(t, new(big.Int).Sub(units(100), wantFee), q.Net)
}

func TestSolveNetGivenGrossDepletedPool(t *testing.T) {
	c := mustCurve(t, milliRate(1), milliRate(50))

	// no liquidity left: everything prices at the cap rate c+m = 5.1%
	q := c.SolveNetGivenGross(units(1000), units(0), units(200), nil)
	wantFee := pct.MulDivCeil(units(200), milliRate(51), pct.Scale)
	assert.Equal(t, wantFee, q.Fee)

	// zero target degenerates to the same flat cap rate
	q = c.SolveNetGivenGross(big.NewInt(0), big.NewInt(0), units(200), nil)
	assert.Equal(t, wantFee, q.Fee)
}

func TestSolveNetGivenGrossCushion(t *testing.T) {
	c := mustCurve(t, milliRate(1), milliRate(50))

	// 500 above target: that slice prices at exactly the intercept
	q := c.SolveNetGivenGross(units(1000), units(1500), units(500), nil)
	assert.Equal(t, pct.MulDivCeil(units(500), milliRate(1), pct.Scale), q.Fee)

	// crossing from the cushion into the linear segment costs strictly more
	q2 := c.SolveNetGivenGross(units(1000), units(1500), units(600), nil)
	extra := new(big.Int).Sub(q2.Fee, q.Fee)
	flat := pct.MulDivCeil(units(100), milliRate(1), pct.Scale)
	assert.Equal(t, 1, extra.Cmp(flat))
}

func TestSolveNetGivenGrossMonotone(t *testing.T) {
	c := mustCurve(t, milliRate(2), milliRate(100))

	target := units(1000)
	current := units(700)
	prevFee := new(big.Int)
	prevNet := new(big.Int)
	for g := int64(50); g <= 1200; g += 50 {
		q := c.SolveNetGivenGross(target, current, units(g), nil)
		assert.True(t, q.Fee.Cmp(prevFee) > 0, "fee must grow with gross")
		assert.True(t, q.Net.Cmp(prevNet) > 0, "net must grow with gross")
		assert.True(t, q.Fee.Cmp(q.Gross) <= 0)
		prevFee, prevNet = q.Fee, q.Net
	}
}

func TestSolveNetGivenGrossCap(t *testing.T) {
	c := mustCurve(t, milliRate(1), milliRate(50))

	q := c.SolveNetGivenGross(units(1000), units(1000), units(100), units(40))
	assert.Equal(t, units(40), q.Gross)

	uncapped := c.SolveNetGivenGross(units(1000), units(1000), units(40), nil)
	assert.Equal(t, uncapped.Fee, q.Fee)
	assert.Equal(t, uncapped.Net, q.Net)
}

func TestSolveGrossGivenNetRoundTrip(t *testing.T) {
	c := mustCurve(t, milliRate(1), milliRate(50))

	target := units(1000)
	current := units(1000)

	for _, net := range []*big.Int{
		units(10), units(97), units(500), units(900),
		big.NewInt(1), big.NewInt(12345678901),
	} {
		q, err := c.SolveGrossGivenNet(target, current, net, nil)
		require.NoError(t, err)

		// the quote must deliver at least the requested net
		assert.True(t, q.Net.Cmp(net) >= 0, "net %s short of target %s", q.Net, net)

		// and be minimal: one unit less must fall short
		if q.Gross.Sign() > 0 {
			less := new(big.Int).Sub(q.Gross, big.NewInt(1))
			short := c.SolveNetGivenGross(target, current, less, nil)
			assert.True(t, short.Net.Cmp(net) < 0, "gross %s is not minimal for net %s", q.Gross, net)
		}
	}
}

func TestSolveGrossGivenNetAcrossSegments(t *testing.T) {
	c := mustCurve(t, milliRate(1), milliRate(50))

	// cushion + linear + capped all traversed: net larger than the
	// pool's entire current liquidity
	target := units(1000)
	current := units(1200)
	net := units(1500)

	q, err := c.SolveGrossGivenNet(target, current, net, nil)
	require.NoError(t, err)
	assert.True(t, q.Net.Cmp(net) >= 0)

	less := new(big.Int).Sub(q.Gross, big.NewInt(1))
	short := c.SolveNetGivenGross(target, current, less, nil)
	assert.True(t, short.Net.Cmp(net) < 0)
}

func TestSolveGrossGivenNetUnreachable(t *testing.T) {
	// cap rate of exactly 100%: nothing nets out past the linear segment
	c := mustCurve(t, new(big.Int).Set(pct.Scale), big.NewInt(0))

	_, err := c.SolveGrossGivenNet(units(1000), units(0), units(1), nil)
	assert.Error(t, err)
}

func TestSolveGrossGivenNetCapBinds(t *testing.T) {
	c := mustCurve(t, milliRate(1), milliRate(50))

	cap := units(50)
	q, err := c.SolveGrossGivenNet(units(1000), units(1000), units(100), cap)
	require.NoError(t, err)

	// the cap binds: quote is the forward pricing of the cap itself
	want := c.SolveNetGivenGross(units(1000), units(1000), cap, nil)
	assert.Equal(t, want.Gross, q.Gross)
	assert.Equal(t, want.Fee, q.Fee)
	assert.Equal(t, want.Net, q.Net)
}

func TestSolveGrossGivenNetZero(t *testing.T) {
	c := mustCurve(t, milliRate(1), milliRate(50))

	q, err := c.SolveGrossGivenNet(units(1000), units(1000), big.NewInt(0), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.Gross.Int64())
	assert.Equal(t, int64(0), q.Fee.Int64())
}

func TestPreviewIgnoresCap(t *testing.T) {
	c := mustCurve(t, milliRate(1), milliRate(50))

	q := c.PreviewNetGivenGross(units(1000), units(1000), units(100))
	capped := c.SolveNetGivenGross(units(1000), units(1000), units(100), units(40))
	assert.Equal(t, c.SolveNetGivenGross(units(1000), units(1000), units(100), nil), q)
	assert.Equal(t, units(100), q.Gross)
	assert.Equal(t, units(40), capped.Gross)

	inv, err := c.PreviewGrossGivenNet(units(1000), units(1000), q.Net)
	require.NoError(t, err)
	assert.True(t, inv.Gross.Cmp(units(100)) <= 0)
	assert.True(t, inv.Net.Cmp(q.Net) >= 0)
}
