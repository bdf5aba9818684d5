// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package ledger keeps the pool's double-entry accounts: working capital,
// current liabilities, the atomic-pool capital and the revenue smoother.
// Every asset-side mutation here has a matching liability or equity
// implication; amounts are reclassified, never silently created or
// destroyed. Only the crank scheduler and the accounting hooks may call
// mutating operations.
package ledger

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/log"
	"github.com/harborlabs/harbor/pool/epochring"
	"github.com/harborlabs/harbor/pool/pct"
	"github.com/harborlabs/harbor/pool/poolerr"
	"github.com/harborlabs/harbor/storage"
)

var logger = log.WithContext("pkg", "ledger")

// Service owns the global balance sheet and the global cash-flow ring.
type Service struct {
	accounts *accounts
	ring     *epochring.Ring

	inSettlement bool
}

// New binds the ledger to a storage context and the global epoch ring.
func New(sctx *storage.Context, ring *epochring.Ring) *Service {
	return &Service{
		accounts: newAccounts(sctx),
		ring:     ring,
	}
}

// EnterSettlement engages the reentrancy guard around settlement phases
// that call out to the external adapter.
func (s *Service) EnterSettlement() error {
	if s.inSettlement {
		return poolerr.ErrReentrancy
	}
	s.inSettlement = true
	return nil
}

// ExitSettlement releases the reentrancy guard.
func (s *Service) ExitSettlement() {
	s.inSettlement = false
}

func (s *Service) guard() error {
	if s.inSettlement {
		return poolerr.ErrReentrancy
	}
	return nil
}

// AccountForDeposit queues freshly deposited assets for staking.
func (s *Service) AccountForDeposit(current uint64, assets *big.Int) error {
	if err := s.guard(); err != nil {
		return err
	}
	if assets.Sign() <= 0 {
		return nil
	}

	q, err := s.ring.Queue(current, 0)
	if err != nil {
		return err
	}
	q.ToStake.Add(q.ToStake, assets)
	if err := s.ring.SetQueue(current, 0, q); err != nil {
		return err
	}

	rec, err := s.ring.Record(current, 0)
	if err != nil {
		return err
	}
	if !rec.HasDeposit {
		rec.HasDeposit = true
		if err := s.ring.SetRecord(current, 0, rec); err != nil {
			return err
		}
	}

	logger.Debug("deposit accounted", "assets", assets, "epoch", current)
	return nil
}

// AccountForWithdraw prices an instant exit against the atomic pool.
// Capacity is the allocation plus the smoothed unsettled revenue offset,
// less what is already distributed. A shortfall queues an unstake and
// grows the allocation to cover it, but growth is capped by unstakeableCap
// since it can only ever be backed by staked capital; past that the
// request fails loudly and is not retried. The fee is booked as realized
// revenue of the current epoch.
func (s *Service) AccountForWithdraw(
	current uint64,
	net, fee, unstakeableCap *big.Int,
	block, span uint64,
) error {
	if err := s.guard(); err != nil {
		return err
	}
	if net.Sign() <= 0 {
		return nil
	}

	allocated, err := s.accounts.allocated.Get()
	if err != nil {
		return err
	}
	distributed, err := s.accounts.distributed.Get()
	if err != nil {
		return err
	}
	offset, err := s.SmoothedOffset(block, span)
	if err != nil {
		return err
	}

	capacity := pct.SubSaturating(new(big.Int).Add(allocated, offset), distributed)
	if net.Cmp(capacity) > 0 {
		shortfall := new(big.Int).Sub(net, capacity)
		if shortfall.Cmp(unstakeableCap) > 0 {
			return errors.Wrapf(poolerr.ErrInsufficientLiquidity,
				"instant exit of %s exceeds coverable capacity", net)
		}

		q, err := s.ring.Queue(current, 0)
		if err != nil {
			return err
		}
		q.ForUnstake.Add(q.ForUnstake, shortfall)
		if err := s.ring.SetQueue(current, 0, q); err != nil {
			return err
		}
		// the growth is only backed once the matching unstake completes;
		// until then it is carried as in-transit capital
		if err := s.accounts.allocated.Add(shortfall); err != nil {
			return err
		}
		if err := s.accounts.pending.Add(shortfall); err != nil {
			return err
		}
		logger.Debug("atomic allocation grown", "shortfall", shortfall, "epoch", current)
	}

	if err := s.accounts.distributed.Add(net); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := s.addEarnedRevenue(current, fee); err != nil {
			return err
		}
	}
	return nil
}

// AfterRequestUnstake books a queued (non-atomic) redemption.
func (s *Service) AfterRequestUnstake(current uint64, amount *big.Int) error {
	if err := s.guard(); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return nil
	}

	if err := s.accounts.redemptionsPayable.Add(amount); err != nil {
		return err
	}
	q, err := s.ring.Queue(current, 0)
	if err != nil {
		return err
	}
	q.ForUnstake.Add(q.ForUnstake, amount)
	if err := s.ring.SetQueue(current, 0, q); err != nil {
		return err
	}

	rec, err := s.ring.Record(current, 0)
	if err != nil {
		return err
	}
	if !rec.HasWithdrawal {
		rec.HasWithdrawal = true
		if err := s.ring.SetRecord(current, 0, rec); err != nil {
			return err
		}
	}
	return nil
}

// BeforeCompleteUnstake releases reserved liquidity against a redemption.
// Reserved funds must have been set aside by a prior crank; coming up
// short here is an ordering violation, not a user error.
func (s *Service) BeforeCompleteUnstake(amount *big.Int) error {
	if err := s.guard(); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return nil
	}

	reserved, err := s.accounts.reserved.Get()
	if err != nil {
		return err
	}
	if reserved.Cmp(amount) < 0 {
		return errors.Wrapf(poolerr.ErrInsufficientReserve,
			"reserved %s cannot complete redemption of %s", reserved, amount)
	}
	if err := s.accounts.reserved.Sub(amount); err != nil {
		return err
	}
	return s.accounts.redemptionsPayable.SubSaturating(amount)
}

// OffsetLiabilitiesWithDeposits nets newly queued deposits against
// uncovered liabilities before any stake/unstake decision, so capital does
// not make a round trip through the external service just to come back and
// pay a redemption. inFlight is the aggregate of unstakes already pending
// with the service.
func (s *Service) OffsetLiabilitiesWithDeposits(current uint64, inFlight *big.Int) error {
	q, err := s.ring.Queue(current, 0)
	if err != nil {
		return err
	}
	if q.ToStake.Sign() == 0 || q.ForUnstake.Sign() == 0 {
		return nil
	}

	uncovered, err := s.uncoveredLiabilities(inFlight)
	if err != nil {
		return err
	}
	offset := new(big.Int).Set(pct.Min(uncovered, pct.Min(q.ToStake, q.ForUnstake)))
	if offset.Sign() == 0 {
		return nil
	}

	q.ToStake.Sub(q.ToStake, offset)
	q.ForUnstake.Sub(q.ForUnstake, offset)
	if err := s.ring.SetQueue(current, 0, q); err != nil {
		return err
	}
	if err := s.accounts.reserved.Add(offset); err != nil {
		return err
	}

	logger.Debug("liabilities offset with deposits", "offset", offset, "epoch", current)
	return nil
}

// uncoveredLiabilities is what is owed beyond reserved and in-flight
// funds, saturating at zero.
func (s *Service) uncoveredLiabilities(inFlight *big.Int) (*big.Int, error) {
	owed := new(big.Int)
	for _, acc := range []*storage.Uint256{
		s.accounts.redemptionsPayable,
		s.accounts.rewardsPayable,
		s.accounts.commissionPayable,
	} {
		v, err := acc.Get()
		if err != nil {
			return nil, err
		}
		owed.Add(owed, v)
	}

	reserved, err := s.accounts.reserved.Get()
	if err != nil {
		return nil, err
	}
	covered := new(big.Int).Add(reserved, inFlight)
	return pct.SubSaturating(owed, covered), nil
}

// SettleAtomicPoolAgainstFlows retargets the atomic pool to the
// configured share of total equity. Inside the sensitivity band nothing
// moves. Otherwise the distributed amount is rescaled proportionally so
// the utilization ratio stays continuous across the boundary, and the
// resulting liquidity delta is netted into the cash-flow queues, debits
// against credits first.
func (s *Service) SettleAtomicPoolAgainstFlows(
	current uint64,
	totalEquity, targetPct, bandPct *big.Int,
) error {
	allocated, err := s.accounts.allocated.Get()
	if err != nil {
		return err
	}
	distributed, err := s.accounts.distributed.Get()
	if err != nil {
		return err
	}

	newTarget := pct.Apply(totalEquity, targetPct)
	diff := new(big.Int).Sub(newTarget, allocated)
	band := pct.Apply(allocated, bandPct)
	if new(big.Int).Abs(diff).Cmp(band) <= 0 {
		return nil
	}

	newDistributed := new(big.Int)
	if allocated.Sign() > 0 {
		newDistributed = pct.MulDiv(distributed, newTarget, allocated)
	}

	oldLiquidity := pct.SubSaturating(allocated, distributed)
	newLiquidity := pct.SubSaturating(newTarget, newDistributed)
	delta := new(big.Int).Sub(newLiquidity, oldLiquidity)

	q, err := s.ring.Queue(current, 0)
	if err != nil {
		return err
	}
	if delta.Sign() > 0 {
		// pool needs funding: divert queued deposits first, unstake the
		// rest; the unstake-funded part stays in transit until proceeds
		// land
		fromDeposits := new(big.Int).Set(pct.Min(delta, q.ToStake))
		q.ToStake.Sub(q.ToStake, fromDeposits)
		fromUnstakes := new(big.Int).Sub(delta, fromDeposits)
		q.ForUnstake.Add(q.ForUnstake, fromUnstakes)
		if err := s.accounts.pending.Add(fromUnstakes); err != nil {
			return err
		}
	} else if delta.Sign() < 0 {
		// pool releases cash: unwind in-transit funding first, then
		// cancel queued unstakes (reserving the cash they were meant to
		// raise), then stake the remainder
		freed := new(big.Int).Neg(delta)
		pending, err := s.accounts.pending.Get()
		if err != nil {
			return err
		}
		unwound := new(big.Int).Set(pct.Min(freed, pending))
		if err := s.accounts.pending.Sub(unwound); err != nil {
			return err
		}
		freed.Sub(freed, unwound)

		fromUnstakes := new(big.Int).Set(pct.Min(freed, q.ForUnstake))
		q.ForUnstake.Sub(q.ForUnstake, fromUnstakes)
		if err := s.accounts.reserved.Add(fromUnstakes); err != nil {
			return err
		}
		q.ToStake.Add(q.ToStake, new(big.Int).Sub(freed, fromUnstakes))
	}
	if err := s.ring.SetQueue(current, 0, q); err != nil {
		return err
	}

	if err := s.accounts.allocated.Set(newTarget); err != nil {
		return err
	}
	if err := s.accounts.distributed.Set(newDistributed); err != nil {
		return err
	}

	logger.Debug("atomic pool retargeted",
		"allocated", newTarget, "distributed", newDistributed, "epoch", current)
	return nil
}

// ApplyGoodwill sweeps any balance increase unattributable to tracked
// flows into the staking queue.
func (s *Service) ApplyGoodwill(current uint64, observed, tracked *big.Int) error {
	if observed.Cmp(tracked) <= 0 {
		return nil
	}
	gap := new(big.Int).Sub(observed, tracked)

	q, err := s.ring.Queue(current, 0)
	if err != nil {
		return err
	}
	q.ToStake.Add(q.ToStake, gap)
	if err := s.ring.SetQueue(current, 0, q); err != nil {
		return err
	}

	logger.Info("goodwill swept into staking queue", "amount", gap, "epoch", current)
	return nil
}

// ClampQueuesToCapacity bounds the epoch's queues by what the validator
// set can actually absorb, rolling any excess into the next epoch. With
// zero active validators the queues net against each other and the
// remainder rolls forward untouched. With more than one validator an
// incentive-alignment floor is added to the unstake queue to force
// periodic rebalancing even under flat net flow.
func (s *Service) ClampQueuesToCapacity(
	current uint64,
	activeCount uint64,
	globalUnstakeable, nextTarget, incentivePct *big.Int,
) error {
	q, err := s.ring.Queue(current, 0)
	if err != nil {
		return err
	}
	next, err := s.ring.Queue(current, 1)
	if err != nil {
		return err
	}

	if activeCount == 0 {
		netted := new(big.Int).Set(pct.Min(q.ToStake, q.ForUnstake))
		next.ToStake.Add(next.ToStake, new(big.Int).Sub(q.ToStake, netted))
		next.ForUnstake.Add(next.ForUnstake, new(big.Int).Sub(q.ForUnstake, netted))
		if err := s.ring.SetQueue(current, 1, next); err != nil {
			return err
		}
		return s.ring.SetQueue(current, 0, &epochring.CashFlowQueue{})
	}

	excess := pct.SubSaturating(q.ForUnstake, globalUnstakeable)
	if excess.Sign() > 0 {
		q.ForUnstake = new(big.Int).Set(globalUnstakeable)
		next.ForUnstake.Add(next.ForUnstake, excess)
		if err := s.ring.SetQueue(current, 1, next); err != nil {
			return err
		}
	}

	if activeCount > 1 {
		q.ForUnstake.Add(q.ForUnstake, pct.Apply(nextTarget, incentivePct))
	}
	return s.ring.SetQueue(current, 0, q)
}

// UpdateSmoother latches the closing epoch's realized revenue for linear
// amortization over the next epoch.
func (s *Service) UpdateSmoother(current uint64, block uint64) error {
	rewards, err := s.ring.Rewards(current, 0)
	if err != nil {
		return err
	}
	return s.accounts.setSmoother(&Smoother{
		EarnedRevenueLast: rewards.EarnedRevenue,
		EpochChangeBlock:  block,
	})
}

// SmoothedOffset returns the still-unsettled share of the prior epoch's
// revenue at the given block: last × max(0, span − elapsed) / span.
func (s *Service) SmoothedOffset(block, span uint64) (*big.Int, error) {
	if span == 0 {
		return new(big.Int), nil
	}
	sm, err := s.accounts.getSmoother()
	if err != nil {
		return nil, err
	}
	if block <= sm.EpochChangeBlock {
		return new(big.Int).Set(sm.EarnedRevenueLast), nil
	}
	elapsed := block - sm.EpochChangeBlock
	if elapsed >= span {
		return new(big.Int), nil
	}
	remaining := new(big.Int).SetUint64(span - elapsed)
	out := new(big.Int).Mul(sm.EarnedRevenueLast, remaining)
	return out.Div(out, new(big.Int).SetUint64(span)), nil
}

// HandleValidatorRewards splits a validator reward into the validator's
// payout and the protocol commission, booking both as liabilities. The
// commission is rounded up so the ledger never under-collects.
func (s *Service) HandleValidatorRewards(amount *big.Int, feeRateBps uint32) (payout, fee *big.Int, err error) {
	if err := s.guard(); err != nil {
		return nil, nil, err
	}
	fee = pct.ApplyCeil(amount, pct.FromBps(feeRateBps))
	if fee.Cmp(amount) > 0 {
		fee = new(big.Int).Set(amount)
	}
	payout = new(big.Int).Sub(amount, fee)

	if err := s.accounts.commissionPayable.Add(fee); err != nil {
		return nil, nil, err
	}
	if err := s.accounts.rewardsPayable.Add(payout); err != nil {
		return nil, nil, err
	}
	return payout, fee, nil
}

// HandleBoostYield books an external boost payment: commission is taken
// at the boost rate, the remainder is realized revenue queued for staking.
func (s *Service) HandleBoostYield(current uint64, amount *big.Int, boostRateBps uint32) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, _, err := s.BookYield(current, amount, boostRateBps)
	return err
}

// BookYield realizes claimed yield: commission accrues as a liability at
// the given rate, the net remainder is queued for restaking and counted
// as the epoch's earned revenue. Unlike the hook entrypoints this is not
// reentrancy-guarded, so the crank can call it mid-settlement.
func (s *Service) BookYield(current uint64, amount *big.Int, commissionBps uint32) (net, fee *big.Int, err error) {
	if amount.Sign() <= 0 {
		return new(big.Int), new(big.Int), nil
	}

	fee = pct.ApplyCeil(amount, pct.FromBps(commissionBps))
	if fee.Cmp(amount) > 0 {
		fee = new(big.Int).Set(amount)
	}
	net = new(big.Int).Sub(amount, fee)

	if err := s.accounts.commissionPayable.Add(fee); err != nil {
		return nil, nil, err
	}
	if net.Sign() > 0 {
		q, err := s.ring.Queue(current, 0)
		if err != nil {
			return nil, nil, err
		}
		q.ToStake.Add(q.ToStake, net)
		if err := s.ring.SetQueue(current, 0, q); err != nil {
			return nil, nil, err
		}
		if err := s.addEarnedRevenue(current, net); err != nil {
			return nil, nil, err
		}
	}
	return net, fee, nil
}

// SettleRewardPayment releases liquidity against an actually delivered
// reward payout and retires the liability.
func (s *Service) SettleRewardPayment(current uint64, amount *big.Int) error {
	if err := s.drawLiquidity(current, amount); err != nil {
		return errors.Wrap(err, "reward payout")
	}
	return s.accounts.rewardsPayable.SubSaturating(amount)
}

// CollectCommission pays out accrued protocol commission.
func (s *Service) CollectCommission(current uint64, amount *big.Int) error {
	payable, err := s.accounts.commissionPayable.Get()
	if err != nil {
		return err
	}
	if amount.Cmp(payable) > 0 {
		return errors.Errorf("commission claim %s exceeds accrued %s", amount, payable)
	}
	if err := s.drawLiquidity(current, amount); err != nil {
		return errors.Wrap(err, "commission claim")
	}
	return s.accounts.commissionPayable.SubSaturating(amount)
}

// AvailableLiquidity is what liability payments can draw on right now:
// the reserve plus the not-yet-staked queue of the current epoch.
func (s *Service) AvailableLiquidity(current uint64) (*big.Int, error) {
	reserved, err := s.accounts.reserved.Get()
	if err != nil {
		return nil, err
	}
	q, err := s.ring.Queue(current, 0)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(reserved, q.ToStake), nil
}

// drawLiquidity takes amount from the reserve first and the current
// staking queue second, failing without side effects when the two
// together cannot cover it.
func (s *Service) drawLiquidity(current uint64, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	available, err := s.AvailableLiquidity(current)
	if err != nil {
		return err
	}
	if available.Cmp(amount) < 0 {
		return errors.Wrapf(poolerr.ErrInsufficientReserve,
			"available %s cannot cover payment of %s", available, amount)
	}

	reserved, err := s.accounts.reserved.Get()
	if err != nil {
		return err
	}
	fromReserve := new(big.Int).Set(pct.Min(amount, reserved))
	if fromReserve.Sign() > 0 {
		if err := s.accounts.reserved.Sub(fromReserve); err != nil {
			return err
		}
	}
	rest := new(big.Int).Sub(amount, fromReserve)
	if rest.Sign() > 0 {
		q, err := s.ring.Queue(current, 0)
		if err != nil {
			return err
		}
		q.ToStake.Sub(q.ToStake, rest)
		if err := s.ring.SetQueue(current, 0, q); err != nil {
			return err
		}
	}
	return nil
}

// AbsorbUnstakeProceeds routes cash returned from the staking service:
// in-transit atomic-pool funding is settled first, then uncovered
// redemption liabilities are reserved, and anything left is queued for
// restaking in the current epoch.
func (s *Service) AbsorbUnstakeProceeds(current uint64, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	pending, err := s.accounts.pending.Get()
	if err != nil {
		return err
	}
	settled := new(big.Int).Set(pct.Min(amount, pending))
	if settled.Sign() > 0 {
		// this cash backs allocation already credited at initiation
		if err := s.accounts.pending.Sub(settled); err != nil {
			return err
		}
		amount = new(big.Int).Sub(amount, settled)
		if amount.Sign() == 0 {
			return nil
		}
	}

	uncovered, err := s.uncoveredLiabilities(new(big.Int))
	if err != nil {
		return err
	}
	toReserve := new(big.Int).Set(pct.Min(amount, uncovered))
	if toReserve.Sign() > 0 {
		if err := s.accounts.reserved.Add(toReserve); err != nil {
			return err
		}
	}

	rest := new(big.Int).Sub(amount, toReserve)
	if rest.Sign() > 0 {
		q, err := s.ring.Queue(current, 0)
		if err != nil {
			return err
		}
		q.ToStake.Add(q.ToStake, rest)
		if err := s.ring.SetQueue(current, 0, q); err != nil {
			return err
		}
	}
	return nil
}

// addEarnedRevenue books realized yield into the current global slot.
func (s *Service) addEarnedRevenue(current uint64, amount *big.Int) error {
	rewards, err := s.ring.Rewards(current, 0)
	if err != nil {
		return err
	}
	rewards.EarnedRevenue.Add(rewards.EarnedRevenue, amount)
	return s.ring.SetRewards(current, 0, rewards)
}

// AddEarnedRevenue is the crank-facing variant of revenue booking.
func (s *Service) AddEarnedRevenue(current uint64, amount *big.Int) error {
	return s.addEarnedRevenue(current, amount)
}

// AddStaked moves capital into the productive working set.
func (s *Service) AddStaked(amount *big.Int) error {
	return s.accounts.staked.Add(amount)
}

// SubStaked moves capital out of the productive working set, saturating
// against transient over-withdrawal from external rounding.
func (s *Service) SubStaked(amount *big.Int) error {
	return s.accounts.staked.SubSaturating(amount)
}

// AddReserved earmarks liquidity for known liabilities.
func (s *Service) AddReserved(amount *big.Int) error {
	return s.accounts.reserved.Add(amount)
}

// SubRewardsPayable settles paid rewards, saturating.
func (s *Service) SubRewardsPayable(amount *big.Int) error {
	return s.accounts.rewardsPayable.SubSaturating(amount)
}

// Staked returns the delegated working capital.
func (s *Service) Staked() (*big.Int, error) { return s.accounts.staked.Get() }

// Reserved returns the earmarked working capital.
func (s *Service) Reserved() (*big.Int, error) { return s.accounts.reserved.Get() }

// Allocated returns the atomic pool's target size.
func (s *Service) Allocated() (*big.Int, error) { return s.accounts.allocated.Get() }

// Distributed returns the atomic pool's drawn-down amount.
func (s *Service) Distributed() (*big.Int, error) { return s.accounts.distributed.Get() }

// PendingAllocation returns atomic-pool capital credited at initiation
// whose backing unstake proceeds have not landed yet.
func (s *Service) PendingAllocation() (*big.Int, error) { return s.accounts.pending.Get() }

// RewardsPayable returns the outstanding reward liability.
func (s *Service) RewardsPayable() (*big.Int, error) { return s.accounts.rewardsPayable.Get() }

// RedemptionsPayable returns the outstanding redemption liability.
func (s *Service) RedemptionsPayable() (*big.Int, error) { return s.accounts.redemptionsPayable.Get() }

// CommissionPayable returns the outstanding commission liability.
func (s *Service) CommissionPayable() (*big.Int, error) { return s.accounts.commissionPayable.Get() }

// Equity is total tracked assets less liabilities: staked and reserved
// working capital, queued deposits, and the atomic pool's remaining
// liquidity, minus in-transit allocation and everything payable.
// Saturates at zero.
func (s *Service) Equity(current uint64) (*big.Int, error) {
	q, err := s.ring.Queue(current, 0)
	if err != nil {
		return nil, err
	}
	staked, err := s.accounts.staked.Get()
	if err != nil {
		return nil, err
	}
	reserved, err := s.accounts.reserved.Get()
	if err != nil {
		return nil, err
	}
	allocated, err := s.accounts.allocated.Get()
	if err != nil {
		return nil, err
	}
	distributed, err := s.accounts.distributed.Get()
	if err != nil {
		return nil, err
	}

	assets := new(big.Int).Add(staked, reserved)
	assets.Add(assets, q.ToStake)
	assets.Add(assets, pct.SubSaturating(allocated, distributed))

	// pending nets out allocation credited before its backing cash landed
	for _, acc := range []*storage.Uint256{
		s.accounts.pending,
		s.accounts.rewardsPayable,
		s.accounts.redemptionsPayable,
		s.accounts.commissionPayable,
	} {
		v, err := acc.Get()
		if err != nil {
			return nil, err
		}
		assets = pct.SubSaturating(assets, v)
	}
	return assets, nil
}

// Utilization returns the atomic pool's current scaled utilization.
func (s *Service) Utilization() (*big.Int, error) {
	allocated, err := s.accounts.allocated.Get()
	if err != nil {
		return nil, err
	}
	distributed, err := s.accounts.distributed.Get()
	if err != nil {
		return nil, err
	}
	if allocated.Sign() == 0 {
		return new(big.Int).Set(pct.Scale), nil
	}
	return pct.Ratio(distributed, allocated), nil
}
