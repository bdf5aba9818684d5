// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package feecurve prices atomic unstakes against pool utilization.
//
// The marginal fee rate is affine in utilization u ∈ [0,1]:
//
//	r(u) = min(c + m·u, c + m)
//
// with c (intercept) and m (slope) fixed-point scaled so pct.Scale == 100%.
// Utilization is derived from current vs. target pool liquidity:
//
//	u = max(0, 1 − current/target)
//
// The forward solver integrates r over the utilization interval a gross
// withdrawal traverses; the inverse solver finds the minimal gross amount
// whose forward-computed net meets a target net.
package feecurve

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/pool/pct"
)

var (
	big1 = big.NewInt(1)
	big2 = big.NewInt(2)
)

// Curve holds the affine fee parameters.
type Curve struct {
	intercept *big.Int // c, scaled
	slope     *big.Int // m, scaled
}

// New creates a curve, rejecting parameters whose cap rate exceeds 100%.
func New(intercept, slope *big.Int) (*Curve, error) {
	if intercept.Sign() < 0 || slope.Sign() < 0 {
		return nil, errors.New("fee curve: negative parameter")
	}
	if new(big.Int).Add(intercept, slope).Cmp(pct.Scale) > 0 {
		return nil, errors.New("fee curve: intercept + slope exceeds scale")
	}
	return &Curve{
		intercept: new(big.Int).Set(intercept),
		slope:     new(big.Int).Set(slope),
	}, nil
}

// Intercept returns c.
func (c *Curve) Intercept() *big.Int { return new(big.Int).Set(c.intercept) }

// Slope returns m.
func (c *Curve) Slope() *big.Int { return new(big.Int).Set(c.slope) }

// MaxRate returns r(1) = c + m.
func (c *Curve) MaxRate() *big.Int {
	return new(big.Int).Add(c.intercept, c.slope)
}

// RateAt returns the marginal rate r(u) for a scaled utilization u,
// capped at r(1).
func (c *Curve) RateAt(u *big.Int) *big.Int {
	if u.Sign() < 0 {
		u = new(big.Int)
	}
	if u.Cmp(pct.Scale) > 0 {
		u = pct.Scale
	}
	r := new(big.Int).Mul(c.slope, u)
	r.Div(r, pct.Scale)
	return r.Add(r, c.intercept)
}

// Utilization returns the scaled utilization for the given target and
// current liquidity: max(0, 1 − current/target). A zero target reads as
// fully utilized.
func Utilization(target, current *big.Int) *big.Int {
	if target.Sign() == 0 {
		return new(big.Int).Set(pct.Scale)
	}
	if current.Cmp(target) >= 0 {
		return new(big.Int)
	}
	u := new(big.Int).Sub(target, current)
	u.Mul(u, pct.Scale)
	return u.Div(u, target)
}

// Quote is a priced withdrawal.
type Quote struct {
	Gross *big.Int
	Fee   *big.Int
	Net   *big.Int
}

// SolveNetGivenGross prices a gross withdrawal against the pool's target
// and current liquidity. The fee integrates r(u) over the traversed
// utilization interval: closed form on the linear segment, the flat cap
// rate for any portion beyond u = 1. Fees round up so the ledger never
// under-collects, and are capped at gross. When cap is non-nil, gross
// is clamped to it and the fee recomputed consistently.
func (c *Curve) SolveNetGivenGross(target, current, gross, cap *big.Int) Quote {
	if cap != nil && gross.Cmp(cap) > 0 {
		gross = cap
	}
	gross = new(big.Int).Set(gross)

	fee := c.integrate(target, current, gross)
	if fee.Cmp(gross) > 0 {
		fee = new(big.Int).Set(gross)
	}
	return Quote{
		Gross: gross,
		Fee:   fee,
		Net:   new(big.Int).Sub(gross, fee),
	}
}

// PreviewNetGivenGross prices a gross withdrawal with the rate curve only,
// ignoring the coverable-capacity cap. For quote-only callers.
func (c *Curve) PreviewNetGivenGross(target, current, gross *big.Int) Quote {
	return c.SolveNetGivenGross(target, current, gross, nil)
}

// PreviewGrossGivenNet inverts the curve for the target net, ignoring the
// coverable-capacity cap. For quote-only callers.
func (c *Curve) PreviewGrossGivenNet(target, current, net *big.Int) (Quote, error) {
	return c.SolveGrossGivenNet(target, current, net, nil)
}

// integrate computes the total fee for withdrawing gross, walking the three
// utilization segments in order: the cushion above target (u pinned at 0),
// the linear segment 0 ≤ u ≤ 1, and the capped segment past u = 1.
// A zero target degenerates to the flat cap rate on the whole amount.
func (c *Curve) integrate(target, current, gross *big.Int) *big.Int {
	s := pct.Scale
	fee := new(big.Int)
	remaining := new(big.Int).Set(gross)

	if target.Sign() == 0 {
		return pct.MulDivCeil(remaining, c.MaxRate(), s)
	}

	// cushion: liquidity above target, marginal rate is exactly c
	if current.Cmp(target) > 0 {
		cushion := new(big.Int).Sub(current, target)
		part := pct.Min(remaining, cushion)
		if part.Sign() > 0 {
			fee.Add(fee, pct.MulDivCeil(part, c.intercept, s))
			remaining = pct.SubSaturating(remaining, part)
		}
		current = target
	}
	if remaining.Sign() == 0 {
		return fee
	}

	// linear segment: from u0 up to u = 1, that is down to zero liquidity
	linCap := pct.Min(current, target)
	part := pct.Min(remaining, linCap)
	if part.Sign() > 0 {
		u0 := Utilization(target, current)
		u1 := new(big.Int).Mul(part, s)
		u1.Div(u1, target)
		u1.Add(u1, u0)

		// fee = part·(c + m·(u0+u1)/2) with a single ceil at the end
		avg := new(big.Int).Add(u0, u1)
		avg.Div(avg, big2)
		rateNum := new(big.Int).Mul(c.slope, avg) // scaled by S²
		rateNum.Add(rateNum, new(big.Int).Mul(c.intercept, s))
		fee.Add(fee, pct.MulDivCeil(part, rateNum, new(big.Int).Mul(s, s)))
		remaining = pct.SubSaturating(remaining, part)
	}
	if remaining.Sign() == 0 {
		return fee
	}

	// capped segment: anything past u = 1 pays the flat maximum rate
	fee.Add(fee, pct.MulDivCeil(remaining, c.MaxRate(), s))
	return fee
}

// SolveGrossGivenNet finds the minimal gross amount whose forward-computed
// net meets the target net. The linear-segment gross comes from the
// quadratic closed form (integer square root); past u = 1 a flat-rate
// closed form takes over. Fixed-point rounding can make the closed form
// land off by a few units, so the result is tightened by bounded bisection
// (≤10 iterations) and a short downward linear scan (≤3 iterations).
// When cap is non-nil and binds, the returned quote is the forward pricing
// of the cap.
func (c *Curve) SolveGrossGivenNet(target, current, net, cap *big.Int) (Quote, error) {
	if net.Sign() <= 0 {
		return Quote{Gross: new(big.Int), Fee: new(big.Int), Net: new(big.Int)}, nil
	}
	guess := c.estimateGross(target, current, net)
	if guess == nil {
		return Quote{}, errors.New("fee curve: net not achievable at cap rate")
	}

	// make sure the guess actually covers the target before tightening
	for i := 0; c.SolveNetGivenGross(target, current, guess, nil).Net.Cmp(net) < 0; i++ {
		if i >= 4 {
			return Quote{}, errors.New("fee curve: failed to bracket net target")
		}
		deficit := new(big.Int).Sub(net, c.SolveNetGivenGross(target, current, guess, nil).Net)
		headroom := pct.SubSaturating(pct.Scale, c.MaxRate())
		if headroom.Sign() == 0 {
			return Quote{}, errors.New("fee curve: net not achievable at cap rate")
		}
		bump := pct.MulDivCeil(deficit, pct.Scale, headroom)
		guess.Add(guess, bump.Add(bump, big1))
	}

	// The closed form lands within a few units of the true minimum, so a
	// narrow window below the verified guess brackets it. Widen only if
	// the window floor still satisfies the target.
	hi := guess
	lo := new(big.Int).Sub(hi, big.NewInt(1024))
	if lo.Cmp(net) < 0 {
		lo.Set(net) // gross is never below net
	}
	for i := 0; i < 4 && lo.Cmp(net) > 0 &&
		c.SolveNetGivenGross(target, current, lo, nil).Net.Cmp(net) >= 0; i++ {
		hi = lo
		lo = new(big.Int).Sub(lo, big.NewInt(1<<(10+4*uint(i+1))))
		if lo.Cmp(net) < 0 {
			lo.Set(net)
		}
	}
	for i := 0; i < 10 && lo.Cmp(hi) < 0; i++ {
		mid := new(big.Int).Add(lo, hi)
		mid.Div(mid, big2)
		if c.SolveNetGivenGross(target, current, mid, nil).Net.Cmp(net) >= 0 {
			hi = mid
		} else {
			lo = new(big.Int).Add(mid, big1)
		}
	}

	// final downward scan catches the last few rounding units
	for i := 0; i < 3; i++ {
		next := new(big.Int).Sub(hi, big1)
		if next.Cmp(net) < 0 {
			break
		}
		if c.SolveNetGivenGross(target, current, next, nil).Net.Cmp(net) < 0 {
			break
		}
		hi = next
	}

	if cap != nil && hi.Cmp(cap) > 0 {
		q := c.SolveNetGivenGross(target, current, cap, nil)
		return q, nil
	}
	q := c.SolveNetGivenGross(target, current, hi, nil)
	return q, nil
}

// estimateGross returns the closed-form gross estimate for the target net,
// or nil when the net is unreachable because the marginal rate reaches 100%.
func (c *Curve) estimateGross(target, current, net *big.Int) *big.Int {
	s := pct.Scale
	s2 := new(big.Int).Mul(s, s)
	gross := new(big.Int)
	remaining := new(big.Int).Set(net)

	if target.Sign() == 0 {
		return c.flatGross(remaining, c.MaxRate())
	}

	// cushion segment at rate c
	if current.Cmp(target) > 0 {
		cushion := new(big.Int).Sub(current, target)
		cushionNet := new(big.Int).Sub(cushion, pct.MulDivCeil(cushion, c.intercept, s))
		if remaining.Cmp(cushionNet) <= 0 {
			g := c.flatGross(remaining, c.intercept)
			if g == nil {
				return nil
			}
			return gross.Add(gross, g)
		}
		gross.Add(gross, cushion)
		remaining.Sub(remaining, cushionNet)
		current = target
	}

	// linear segment: solve m·S·x² − B·x + 2·L·S²·n = 0 for the smaller root,
	// where B = 2·L·(S² − S·c − m·u0)
	linCap := pct.Min(current, target)
	if linCap.Sign() > 0 {
		u0 := Utilization(target, current)
		linFee := c.integrate(target, current, linCap)
		linNet := new(big.Int).Sub(linCap, linFee)

		if remaining.Cmp(linNet) <= 0 {
			var x *big.Int
			if c.slope.Sign() == 0 {
				x = c.flatGross(remaining, c.intercept)
				if x == nil {
					return nil
				}
			} else {
				a := new(big.Int).Mul(c.slope, s)
				b := new(big.Int).Mul(c.intercept, s)
				b.Add(b, new(big.Int).Mul(c.slope, u0))
				b = new(big.Int).Sub(s2, b)
				b.Mul(b, target)
				b.Mul(b, big2) // B

				// discriminant B² − 8·a·L·S²·n
				disc := new(big.Int).Mul(b, b)
				t := new(big.Int).Mul(a, target)
				t.Mul(t, s2)
				t.Mul(t, remaining)
				t.Mul(t, big.NewInt(8))
				disc.Sub(disc, t)
				if disc.Sign() < 0 {
					// numeric edge, fall back to the full segment
					x = new(big.Int).Set(linCap)
				} else {
					root := new(big.Int).Sqrt(disc)
					x = new(big.Int).Sub(b, root)
					x.Div(x, new(big.Int).Mul(big2, a))
				}
			}
			return gross.Add(gross, x)
		}
		gross.Add(gross, linCap)
		remaining.Sub(remaining, linNet)
	}

	// capped segment at flat rate c+m
	g := c.flatGross(remaining, c.MaxRate())
	if g == nil {
		return nil
	}
	return gross.Add(gross, g)
}

// flatGross inverts net = g·(1 − rate) for a flat rate segment, rounding up.
// Returns nil when rate ≥ 100%.
func (c *Curve) flatGross(net, rate *big.Int) *big.Int {
	keep := pct.SubSaturating(pct.Scale, rate)
	if keep.Sign() == 0 {
		return nil
	}
	return pct.MulDivCeil(net, pct.Scale, keep)
}
