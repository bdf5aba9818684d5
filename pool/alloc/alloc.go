// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package alloc computes a validator's target stake delta for the epoch.
// Compute is pure and deterministic given its inputs; all state reads and
// writes belong to the caller.
package alloc

import (
	"math/big"

	"github.com/harborlabs/harbor/pool/pct"
)

// Inputs carries everything Compute needs. Revenue terms are the last two
// epochs' realized values; Compute smooths them with a simple average.
type Inputs struct {
	QueueToStake    *big.Int // prior epoch's global staking queue
	QueueRemaining  *big.Int // unconsumed part of that queue this round
	QueueForUnstake *big.Int // prior epoch's global unstaking queue

	GlobalRevenueLast    *big.Int
	GlobalRevenuePrev    *big.Int
	ValidatorRevenueLast *big.Int
	ValidatorRevenuePrev *big.Int

	ValidatorUnstakeable *big.Int // amount currently withdrawable from this validator
	GlobalUnstakeable    *big.Int // aggregate withdrawable across the active set

	CurrentTarget *big.Int // validator's current target stake
	Deactivated   bool     // flagged inactive this round: force full withdrawal
	ActiveCount   uint64   // size of the active set, for the no-history fallback

	DustThreshold  *big.Int // below this, skip rather than act
	MinViableStake *big.Int // remainder floor before clamping to full withdrawal
}

// Delta is the computed reallocation for one validator. Increase and
// Decrease are the gross queue shares before netting; the caller uses
// them to account queue consumption. A deactivated validator's forced
// withdrawal consumes no queue, so both stay zero there.
type Delta struct {
	Amount       *big.Int // magnitude of the move, never negative
	IsWithdrawal bool
	NewTarget    *big.Int
	Increase     *big.Int
	Decrease     *big.Int
}

// Compute derives the epoch's stake delta. The increase share is the
// validator's smoothed revenue fraction of the staking queue, rounded
// down. The decrease share is the validator's unstakeable fraction of the
// unstaking queue, rounded up so the aggregate never falls short, and
// clamped to a full withdrawal when the remainder would be too small to
// keep staked. A deactivated validator always fully withdraws whatever is
// unstakeable, regardless of the queues.
func Compute(in Inputs) Delta {
	if in.Deactivated {
		amount := new(big.Int).Set(in.ValidatorUnstakeable)
		return Delta{
			Amount:       amount,
			IsWithdrawal: true,
			NewTarget:    pct.SubSaturating(in.CurrentTarget, amount),
			Increase:     new(big.Int),
			Decrease:     new(big.Int),
		}
	}

	increase := computeIncrease(in)
	decrease := computeDecrease(in)

	net := new(big.Int).Sub(increase, decrease)
	if net.Sign() >= 0 {
		return Delta{
			Amount:       net,
			IsWithdrawal: false,
			NewTarget:    new(big.Int).Add(in.CurrentTarget, net),
			Increase:     increase,
			Decrease:     decrease,
		}
	}
	amount := new(big.Int).Neg(net)
	return Delta{
		Amount:       amount,
		IsWithdrawal: true,
		NewTarget:    pct.SubSaturating(in.CurrentTarget, amount),
		Increase:     increase,
		Decrease:     decrease,
	}
}

// computeIncrease splits the staking queue by smoothed revenue share,
// rounded down. A queue at or below dust skips the increase entirely
// rather than chase rounding noise. When either side of the smoothing
// window has no usable history, at bootstrap or for a validator that has
// not earned yet, the queue splits evenly across the active set instead.
// Either way the share is capped at the queue's unconsumed remainder so
// the round as a whole never hands out more than was queued.
func computeIncrease(in Inputs) *big.Int {
	if in.QueueToStake.Cmp(in.DustThreshold) <= 0 {
		return new(big.Int)
	}

	globalRev := smooth(in.GlobalRevenueLast, in.GlobalRevenuePrev)
	valRev := smooth(in.ValidatorRevenueLast, in.ValidatorRevenuePrev)
	var share *big.Int
	if globalRev.Cmp(in.DustThreshold) <= 0 || valRev.Cmp(in.DustThreshold) <= 0 {
		if in.ActiveCount == 0 {
			return new(big.Int)
		}
		share = new(big.Int).Div(in.QueueToStake, new(big.Int).SetUint64(in.ActiveCount))
	} else {
		share = pct.MulDiv(in.QueueToStake, valRev, globalRev)
	}
	return new(big.Int).Set(pct.Min(share, in.QueueRemaining))
}

// computeDecrease splits the unstaking queue by unstakeable share, rounded
// up. If what would remain staked falls below the minimum viable stake the
// decrease clamps to a full withdrawal.
func computeDecrease(in Inputs) *big.Int {
	if in.QueueForUnstake.Sign() == 0 || in.GlobalUnstakeable.Sign() == 0 ||
		in.ValidatorUnstakeable.Sign() == 0 {
		return new(big.Int)
	}

	decrease := pct.MulDivCeil(in.QueueForUnstake, in.ValidatorUnstakeable, in.GlobalUnstakeable)
	if decrease.Cmp(in.ValidatorUnstakeable) > 0 {
		decrease = new(big.Int).Set(in.ValidatorUnstakeable)
	}

	remainder := new(big.Int).Sub(in.ValidatorUnstakeable, decrease)
	if remainder.Sign() > 0 && remainder.Cmp(in.MinViableStake) < 0 {
		decrease = new(big.Int).Set(in.ValidatorUnstakeable)
	}
	return decrease
}

func smooth(last, prev *big.Int) *big.Int {
	sum := new(big.Int).Add(last, prev)
	return sum.Div(sum, big.NewInt(2))
}
