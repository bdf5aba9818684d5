// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/metrics"
	"github.com/harborlabs/harbor/pool/alloc"
	"github.com/harborlabs/harbor/pool/epochring"
	"github.com/harborlabs/harbor/pool/pct"
	"github.com/harborlabs/harbor/pool/registry"
	"github.com/harborlabs/harbor/pool/staking"
)

var (
	metricEpochsAdvanced    = metrics.LazyLoadCounter("pool_epochs_advanced_count")
	metricValidatorsCranked = metrics.LazyLoadCounter("pool_validators_cranked_count")
	metricCrankErrors       = metrics.LazyLoadCounterVec("pool_crank_error_count", []string{"stage"})
)

// CrankResult reports what a single crank invocation achieved.
type CrankResult struct {
	// Advanced is set when this invocation performed the global epoch
	// advance.
	Advanced bool
	// Processed is the number of validators cranked.
	Processed int
	// Complete is set when no work remains for the current external
	// epoch: either the round just finished or there was nothing to do.
	Complete bool
}

// Crank drives the engine one step. It is safe to call at any cadence:
// when the external epoch has not moved and the previous round is
// finished it is a cheap no-op, and repeating it never double-applies an
// epoch. One invocation cranks at most budget validators; the cursor
// persists so a partial round resumes where it stopped.
func (p *Pool) Crank(block uint64, budget int) (*CrankResult, error) {
	if err := p.requireUnfrozen(); err != nil {
		return nil, err
	}
	if err := p.ledger.EnterSettlement(); err != nil {
		return nil, err
	}
	defer p.ledger.ExitSettlement()

	res := &CrankResult{}
	cursor, err := p.loadCursor()
	if err != nil {
		return nil, err
	}

	if cursor == harbor.NoID {
		external, boundary, err := p.adapter.Epoch()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read external epoch")
		}
		stored, err := p.externalEpoch.Get()
		if err != nil {
			return nil, err
		}
		if external <= stored {
			res.Complete = true
			return res, nil
		}

		cursor, err = p.advanceEpoch(block, external, boundary)
		if err != nil {
			metricCrankErrors().AddWithLabel(1, map[string]string{"stage": "advance"})
			return nil, err
		}
		res.Advanced = true
		metricEpochsAdvanced().Add(1)
	}

	current, err := p.epochIndex.Get()
	if err != nil {
		return nil, err
	}
	external, err := p.externalEpoch.Get()
	if err != nil {
		return nil, err
	}
	boundary, err := p.currentBoundaryFlag(current)
	if err != nil {
		return nil, err
	}

	for res.Processed < budget && cursor != harbor.NoID {
		if err := p.crankValidator(cursor, current, external, boundary); err != nil {
			metricCrankErrors().AddWithLabel(1, map[string]string{"stage": "validator"})
			return nil, errors.Wrapf(err, "failed to crank validator %v", cursor)
		}
		res.Processed++
		metricValidatorsCranked().Add(1)

		cursor, err = p.registry.NextAfter(cursor)
		if err != nil {
			return nil, err
		}
	}

	if cursor == harbor.NoID {
		if err := p.finishRound(current); err != nil {
			return nil, err
		}
		res.Complete = true
	}
	return res, p.storeCursor(cursor)
}

func (p *Pool) loadCursor() (harbor.ValidatorID, error) {
	v, err := p.cursor.Get()
	return harbor.ValidatorID(v), err
}

func (p *Pool) storeCursor(id harbor.ValidatorID) error {
	return p.cursor.Put(uint64(id))
}

func (p *Pool) currentBoundaryFlag(current uint64) (bool, error) {
	rec, err := p.ring.Record(current, 0)
	if err != nil {
		return false, err
	}
	return rec.CrankedInBoundary, nil
}

// advanceEpoch performs the global half of the crank and returns the
// first validator of the new round.
func (p *Pool) advanceEpoch(block, external uint64, boundary bool) (harbor.ValidatorID, error) {
	inProgress, err := p.roundInProgress.Get()
	if err != nil {
		return harbor.NoID, err
	}
	if inProgress {
		return harbor.NoID, errors.New("previous round not finished")
	}
	current, err := p.epochIndex.Get()
	if err != nil {
		return harbor.NoID, err
	}

	equity, err := p.ledger.Equity(current)
	if err != nil {
		return harbor.NoID, err
	}
	targetPct, err := p.cfg.targetLiquidityPct.Get()
	if err != nil {
		return harbor.NoID, err
	}
	bandPct, err := p.cfg.sensitivityBandPct.Get()
	if err != nil {
		return harbor.NoID, err
	}
	incentivePct, err := p.cfg.incentivePct.Get()
	if err != nil {
		return harbor.NoID, err
	}

	// the stake target is everything equity does not keep liquid
	atomicTarget := pct.Apply(equity, targetPct)
	nextStakeTarget := pct.SubSaturating(equity, atomicTarget)

	unstakeable, err := p.sumUnstakeable()
	if err != nil {
		return harbor.NoID, err
	}
	if err := p.globalUnstakeable.Set(unstakeable); err != nil {
		return harbor.NoID, err
	}

	inFlight, err := p.inFlightUnstakes.Get()
	if err != nil {
		return harbor.NoID, err
	}
	if err := p.ledger.OffsetLiabilitiesWithDeposits(current, inFlight); err != nil {
		return harbor.NoID, err
	}
	if err := p.ledger.SettleAtomicPoolAgainstFlows(current, equity, targetPct, bandPct); err != nil {
		return harbor.NoID, err
	}

	if p.balanceOf != nil {
		observed, err := p.balanceOf()
		if err != nil {
			return harbor.NoID, errors.Wrap(err, "failed to observe balance")
		}
		tracked, err := p.trackedBalance()
		if err != nil {
			return harbor.NoID, err
		}
		if err := p.ledger.ApplyGoodwill(current, observed, tracked); err != nil {
			return harbor.NoID, err
		}
	}

	activeCount, err := p.registry.ActiveCount()
	if err != nil {
		return harbor.NoID, err
	}
	if err := p.ledger.ClampQueuesToCapacity(current, activeCount, unstakeable, nextStakeTarget, incentivePct); err != nil {
		return harbor.NoID, err
	}
	if err := p.ledger.UpdateSmoother(current, block); err != nil {
		return harbor.NoID, err
	}

	frozen, err := p.cfg.frozen.Get()
	if err != nil {
		return harbor.NoID, err
	}
	closed, err := p.cfg.closed.Get()
	if err != nil {
		return harbor.NoID, err
	}
	cycle, err := p.withdrawalCycle.Get()
	if err != nil {
		return harbor.NoID, err
	}
	prime := &epochring.EpochRecord{
		Epoch:             external,
		WithdrawalCycle:   cycle,
		CrankedInBoundary: boundary,
		Frozen:            frozen,
		Closed:            closed,
		TargetStake:       nextStakeTarget,
	}
	if err := p.ring.Advance(current, prime); err != nil {
		return harbor.NoID, err
	}
	if err := p.epochIndex.Put(current + 1); err != nil {
		return harbor.NoID, err
	}
	if err := p.externalEpoch.Put(external); err != nil {
		return harbor.NoID, err
	}
	if err := p.roundInProgress.Put(true); err != nil {
		return harbor.NoID, err
	}

	first, err := p.registry.First()
	if err != nil {
		return harbor.NoID, err
	}
	logger.Info("epoch advanced",
		"epoch", external, "equity", equity, "stakeTarget", nextStakeTarget, "boundary", boundary)
	return first, nil
}

// sumUnstakeable totals the delegated stake of the active set.
func (p *Pool) sumUnstakeable() (*big.Int, error) {
	total := new(big.Int)
	cur, err := p.registry.First()
	if err != nil {
		return nil, err
	}
	for cur != harbor.NoID {
		if cur != harbor.PlaceholderID {
			entry, err := p.registry.Get(cur)
			if err != nil {
				return nil, err
			}
			if entry != nil && entry.IsActive {
				total.Add(total, p.adapter.DelegatedStake(entry.Identity))
			}
		}
		cur, err = p.registry.NextAfter(cur)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

// crankValidator settles one validator for the epoch: claim yield, settle
// escrow windows, pay owed rewards, compute and apply the stake delta,
// then roll the validator's ring forward.
func (p *Pool) crankValidator(id harbor.ValidatorID, current, external uint64, boundary bool) error {
	entry, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	if entry.CurrentEpochIndex >= current {
		// already cranked this epoch
		return nil
	}
	vcur := entry.CurrentEpochIndex
	if vcur+1 != current {
		return errors.Errorf("validator ring at epoch index %d, pool at %d", vcur, current)
	}
	ring := p.validatorRing(id)

	if id == harbor.PlaceholderID {
		return p.crankPlaceholder(ring, entry, vcur, current, external, boundary)
	}

	// seal the closing epoch's record
	rec, err := ring.Record(vcur, 0)
	if err != nil {
		return err
	}
	rec.WasCranked = true
	if err := ring.SetRecord(vcur, 0, rec); err != nil {
		return err
	}

	entry.InActiveSetLast = entry.InActiveSetCurrent
	entry.InActiveSetCurrent = entry.IsActive

	netYield, err := p.claimYield(entry, current)
	if err != nil {
		return err
	}
	if err := p.settleEscrows(ring, entry, vcur, current, external); err != nil {
		return err
	}
	rolledRewards, err := p.payOwedRewards(ring, entry, vcur, current)
	if err != nil {
		return err
	}

	delta, err := p.computeDelta(ring, entry, vcur, current)
	if err != nil {
		return err
	}
	pendStake, pendUnstake, cycle, err := p.applyDelta(entry, current, delta)
	if err != nil {
		return err
	}

	prime := &epochring.EpochRecord{
		Epoch:             external,
		WithdrawalCycle:   cycle,
		CrankedInBoundary: boundary,
		TargetStake:       delta.NewTarget,
	}
	if err := ring.Advance(vcur, prime); err != nil {
		return err
	}
	if err := ring.SetEscrow(current, 0, &epochring.StakingEscrow{
		PendingStake:   pendStake,
		PendingUnstake: pendUnstake,
		Cycle:          cycle,
	}); err != nil {
		return err
	}
	if err := ring.SetRewards(current, 0, &epochring.RewardLedger{
		RewardsPayable: rolledRewards,
		EarnedRevenue:  netYield,
	}); err != nil {
		return err
	}

	entry.CurrentEpochIndex = current
	if err := p.registry.Update(id, entry); err != nil {
		return err
	}

	if p.postCrank != nil {
		if err := p.postCrank(id); err != nil {
			// callback failures never poison the crank
			logger.Warn("post-crank hook failed", "id", id, "err", err)
			metricCrankErrors().AddWithLabel(1, map[string]string{"stage": "callback"})
		}
	}
	return nil
}

// crankPlaceholder rolls the placeholder's ring forward. Its reward
// obligations carry so they are never destroyed by slot reuse; it stakes
// nothing and claims nothing.
func (p *Pool) crankPlaceholder(
	ring *epochring.Ring,
	entry *registry.ValidatorData,
	vcur, current, external uint64,
	boundary bool,
) error {
	rec, err := ring.Record(vcur, 0)
	if err != nil {
		return err
	}
	rec.WasCranked = true
	if err := ring.SetRecord(vcur, 0, rec); err != nil {
		return err
	}
	rewards, err := ring.Rewards(vcur, 0)
	if err != nil {
		return err
	}
	if rewards.RewardsPayable.Sign() > 0 {
		logger.Info("unattributed rewards outstanding", "amount", rewards.RewardsPayable)
	}

	prime := &epochring.EpochRecord{
		Epoch:             external,
		CrankedInBoundary: boundary,
		WasCranked:        false,
		TargetStake:       new(big.Int),
	}
	if err := ring.Advance(vcur, prime); err != nil {
		return err
	}
	if err := ring.SetRewards(current, 0, &epochring.RewardLedger{
		RewardsPayable: rewards.RewardsPayable,
		EarnedRevenue:  new(big.Int),
	}); err != nil {
		return err
	}

	entry.CurrentEpochIndex = current
	return p.registry.Update(harbor.PlaceholderID, entry)
}

// claimYield pulls accrued staking yield from the service and books it:
// commission accrues, the net is queued for restaking and counted as the
// new epoch's revenue. Returns the net for per-validator attribution.
func (p *Pool) claimYield(entry *registry.ValidatorData, current uint64) (*big.Int, error) {
	yield, active := p.adapter.ClaimYield(entry.Identity)
	if !active {
		entry.InActiveSetCurrent = false
	}
	if yield.Sign() <= 0 {
		return new(big.Int), nil
	}
	rate, err := p.cfg.stakingCommission.Get()
	if err != nil {
		return nil, err
	}
	net, _, err := p.ledger.BookYield(current, yield, rate)
	if err != nil {
		return nil, err
	}
	return net, nil
}

// settleEscrows walks the past ring slots and resolves due escrow. Stake
// escrow just confirms, its amount was booked at initiation. A due
// unstake completes via the adapter; delayed completions roll forward and
// failed ones drop the validator from the active set but keep the
// obligation. Whatever remains at the oldest slot is merged one slot
// toward the present so the next ring advance cannot destroy it.
func (p *Pool) settleEscrows(
	ring *epochring.Ring,
	entry *registry.ValidatorData,
	vcur, current, external uint64,
) error {
	for off := harbor.MinEpochOffset; off <= 0; off++ {
		esc, err := ring.Escrow(vcur, off)
		if err != nil {
			return err
		}
		if esc.PendingStake.Sign() == 0 && esc.PendingUnstake.Sign() == 0 {
			continue
		}
		rec, err := ring.Record(vcur, off)
		if err != nil {
			return err
		}
		extra := uint64(0)
		if rec.CrankedInBoundary {
			extra = 1
		}

		if esc.PendingStake.Sign() > 0 && external >= rec.Epoch+harbor.StakeSettleEpochs+extra {
			esc.PendingStake = new(big.Int)
		}
		if esc.PendingUnstake.Sign() > 0 && external >= rec.Epoch+harbor.UnstakeSettleEpochs+extra {
			out := p.adapter.CompleteWithdraw(entry.Identity, esc.Cycle)
			switch out.Status {
			case staking.StatusOK:
				if err := p.ledger.SubStaked(esc.PendingUnstake); err != nil {
					return err
				}
				if err := p.inFlightUnstakes.SubSaturating(esc.PendingUnstake); err != nil {
					return err
				}
				if err := p.ledger.AbsorbUnstakeProceeds(current, out.Amount); err != nil {
					return err
				}
				esc.PendingUnstake = new(big.Int)
				esc.Cycle = 0
			case staking.StatusFailed:
				entry.InActiveSetCurrent = false
			}
		}
		if err := ring.SetEscrow(vcur, off, esc); err != nil {
			return err
		}
	}

	// the oldest slot is about to be recycled
	oldest, err := ring.Escrow(vcur, harbor.MinEpochOffset)
	if err != nil {
		return err
	}
	if oldest.PendingStake.Sign() > 0 || oldest.PendingUnstake.Sign() > 0 {
		next, err := ring.Escrow(vcur, harbor.MinEpochOffset+1)
		if err != nil {
			return err
		}
		next.PendingStake.Add(next.PendingStake, oldest.PendingStake)
		next.PendingUnstake.Add(next.PendingUnstake, oldest.PendingUnstake)
		if next.Cycle != 0 && oldest.Cycle != 0 {
			logger.Warn("withdrawal cycles collided while rolling escrow",
				"kept", oldest.Cycle, "dropped", next.Cycle)
		}
		if oldest.Cycle != 0 {
			next.Cycle = oldest.Cycle
		}
		if err := ring.SetEscrow(vcur, harbor.MinEpochOffset+1, next); err != nil {
			return err
		}
		if err := ring.SetEscrow(vcur, harbor.MinEpochOffset, &epochring.StakingEscrow{}); err != nil {
			return err
		}
	}
	return nil
}

// payOwedRewards attempts to deliver the validator's accumulated reward
// obligations out of available liquidity. Anything that cannot be paid
// now rolls into the next epoch's slot.
func (p *Pool) payOwedRewards(
	ring *epochring.Ring,
	entry *registry.ValidatorData,
	vcur, current uint64,
) (*big.Int, error) {
	rewards, err := ring.Rewards(vcur, 0)
	if err != nil {
		return nil, err
	}
	owed := rewards.RewardsPayable
	if owed.Sign() <= 0 {
		return new(big.Int), nil
	}

	available, err := p.ledger.AvailableLiquidity(current)
	if err != nil {
		return nil, err
	}
	if available.Cmp(owed) < 0 {
		return new(big.Int).Set(owed), nil
	}
	if !p.adapter.PayReward(entry.Identity, owed) {
		return new(big.Int).Set(owed), nil
	}
	if err := p.ledger.SettleRewardPayment(current, owed); err != nil {
		return nil, err
	}
	return new(big.Int), nil
}

// computeDelta assembles the allocation inputs from the clamped prior
// queue and the two epochs of settled revenue history.
func (p *Pool) computeDelta(
	ring *epochring.Ring,
	entry *registry.ValidatorData,
	vcur, current uint64,
) (alloc.Delta, error) {
	gq, err := p.ring.Queue(current, -1)
	if err != nil {
		return alloc.Delta{}, err
	}
	grLast, err := p.ring.Rewards(current, -1)
	if err != nil {
		return alloc.Delta{}, err
	}
	grPrev, err := p.ring.Rewards(current, -2)
	if err != nil {
		return alloc.Delta{}, err
	}
	vrLast, err := ring.Rewards(vcur, 0)
	if err != nil {
		return alloc.Delta{}, err
	}
	vrPrev, err := ring.Rewards(vcur, -1)
	if err != nil {
		return alloc.Delta{}, err
	}
	rec, err := ring.Record(vcur, 0)
	if err != nil {
		return alloc.Delta{}, err
	}
	unstakeable, err := p.globalUnstakeable.Get()
	if err != nil {
		return alloc.Delta{}, err
	}
	dust, err := p.cfg.dustThreshold.Get()
	if err != nil {
		return alloc.Delta{}, err
	}
	minViable, err := p.cfg.minViableStake.Get()
	if err != nil {
		return alloc.Delta{}, err
	}
	activeCount, err := p.registry.ActiveCount()
	if err != nil {
		return alloc.Delta{}, err
	}
	taken, err := p.consumedToStake.Get()
	if err != nil {
		return alloc.Delta{}, err
	}

	return alloc.Compute(alloc.Inputs{
		QueueToStake:         gq.ToStake,
		QueueRemaining:       pct.SubSaturating(gq.ToStake, taken),
		QueueForUnstake:      gq.ForUnstake,
		GlobalRevenueLast:    grLast.EarnedRevenue,
		GlobalRevenuePrev:    grPrev.EarnedRevenue,
		ValidatorRevenueLast: vrLast.EarnedRevenue,
		ValidatorRevenuePrev: vrPrev.EarnedRevenue,
		ValidatorUnstakeable: p.adapter.DelegatedStake(entry.Identity),
		GlobalUnstakeable:    unstakeable,
		CurrentTarget:        rec.TargetStake,
		Deactivated:          !entry.IsActive,
		ActiveCount:          activeCount,
		DustThreshold:        dust,
		MinViableStake:       minViable,
	}), nil
}

// applyDelta executes the computed move against the staking service and
// accounts queue consumption. The netted portion, cash that covers
// unstake demand without leaving the pool, is routed like unstake
// proceeds. Failed initiations redirect their amount into the new
// epoch's queue so nothing is lost.
func (p *Pool) applyDelta(
	entry *registry.ValidatorData,
	current uint64,
	delta alloc.Delta,
) (pendStake, pendUnstake *big.Int, cycle uint64, err error) {
	pendStake, pendUnstake = new(big.Int), new(big.Int)

	if err := p.consumeQueueShares(delta); err != nil {
		return nil, nil, 0, err
	}
	netted := new(big.Int).Set(pct.Min(delta.Increase, delta.Decrease))
	if netted.Sign() > 0 {
		if err := p.ledger.AbsorbUnstakeProceeds(current, netted); err != nil {
			return nil, nil, 0, err
		}
	}
	if delta.Amount.Sign() == 0 {
		return pendStake, pendUnstake, 0, nil
	}

	if !delta.IsWithdrawal {
		out := p.adapter.InitiateStake(entry.Identity, delta.Amount)
		if out.Status == staking.StatusOK {
			if err := p.ledger.AddStaked(delta.Amount); err != nil {
				return nil, nil, 0, err
			}
			pendStake = new(big.Int).Set(delta.Amount)
		} else {
			if err := p.redirectToQueue(current, delta.Amount, false); err != nil {
				return nil, nil, 0, err
			}
		}
		return pendStake, pendUnstake, 0, nil
	}

	cycle, err = p.nextWithdrawalCycle()
	if err != nil {
		return nil, nil, 0, err
	}
	out := p.adapter.InitiateUnstake(entry.Identity, delta.Amount, cycle)
	if out.Status != staking.StatusOK {
		entry.InActiveSetCurrent = false
		if err := p.redirectToQueue(current, delta.Amount, true); err != nil {
			return nil, nil, 0, err
		}
		return pendStake, pendUnstake, 0, nil
	}

	pendUnstake = new(big.Int).Set(out.Amount)
	if err := p.inFlightUnstakes.Add(out.Amount); err != nil {
		return nil, nil, 0, err
	}
	if shortfall := new(big.Int).Sub(delta.Amount, out.Amount); shortfall.Sign() > 0 {
		if err := p.redirectToQueue(current, shortfall, true); err != nil {
			return nil, nil, 0, err
		}
	}
	return pendStake, pendUnstake, cycle, nil
}

// consumeQueueShares records this validator's gross shares of the prior
// epoch's clamped queue. The queue itself stays pristine during the walk,
// every validator prices its share against the same denominators; the
// round-end sweep nets the debits.
func (p *Pool) consumeQueueShares(delta alloc.Delta) error {
	if delta.Increase.Sign() > 0 {
		if err := p.consumedToStake.Add(delta.Increase); err != nil {
			return err
		}
	}
	if delta.Decrease.Sign() > 0 {
		if err := p.consumedForUnstake.Add(delta.Decrease); err != nil {
			return err
		}
	}
	return nil
}

// redirectToQueue pushes an unapplied amount into the current epoch's
// queue for the next round.
func (p *Pool) redirectToQueue(current uint64, amount *big.Int, forUnstake bool) error {
	q, err := p.ring.Queue(current, 0)
	if err != nil {
		return err
	}
	if forUnstake {
		q.ForUnstake.Add(q.ForUnstake, amount)
	} else {
		q.ToStake.Add(q.ToStake, amount)
	}
	return p.ring.SetQueue(current, 0, q)
}

// finishRound nets the walk's queue consumption and sweeps whatever
// remains of the prior epoch's queue into the current one. Dust skips,
// rounding floors and inactive validators all leave residue here;
// carrying it forward keeps it inside equity.
func (p *Pool) finishRound(current uint64) error {
	inProgress, err := p.roundInProgress.Get()
	if err != nil {
		return err
	}
	if !inProgress {
		return nil
	}

	gq, err := p.ring.Queue(current, -1)
	if err != nil {
		return err
	}
	takenStake, err := p.consumedToStake.Get()
	if err != nil {
		return err
	}
	takenUnstake, err := p.consumedForUnstake.Get()
	if err != nil {
		return err
	}

	residualStake := pct.SubSaturating(gq.ToStake, takenStake)
	residualUnstake := pct.SubSaturating(gq.ForUnstake, takenUnstake)
	if residualStake.Sign() > 0 || residualUnstake.Sign() > 0 {
		q, err := p.ring.Queue(current, 0)
		if err != nil {
			return err
		}
		q.ToStake.Add(q.ToStake, residualStake)
		q.ForUnstake.Add(q.ForUnstake, residualUnstake)
		if err := p.ring.SetQueue(current, 0, q); err != nil {
			return err
		}
	}
	if err := p.ring.SetQueue(current, -1, &epochring.CashFlowQueue{}); err != nil {
		return err
	}
	if err := p.consumedToStake.Set(new(big.Int)); err != nil {
		return err
	}
	if err := p.consumedForUnstake.Set(new(big.Int)); err != nil {
		return err
	}
	return p.roundInProgress.Put(false)
}
