// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/pool/feecurve"
)

// Params is the full admin-settable parameter set.
type Params struct {
	// TargetLiquidityPct is the share of equity kept in the atomic exit
	// pool, scaled by pct.Scale.
	TargetLiquidityPct *big.Int
	// SensitivityBandPct suppresses atomic-pool retargeting while the
	// drift stays inside this band.
	SensitivityBandPct *big.Int
	// CurveIntercept and CurveSlope parameterize the exit fee curve.
	CurveIntercept *big.Int
	CurveSlope     *big.Int
	// StakingCommissionBps is the protocol cut of claimed staking yield
	// and distributed validator rewards.
	StakingCommissionBps uint32
	// BoostCommissionBps is the protocol cut of boost payments.
	BoostCommissionBps uint32
	// IncentiveAlignmentPct floors the per-validator unstake queue share
	// so churn cost is spread across the active set.
	IncentiveAlignmentPct *big.Int
	// EpochSpanBlocks is the expected epoch length, used to smooth the
	// release of freshly earned revenue into withdrawal capacity.
	EpochSpanBlocks uint64
	// DustThreshold suppresses stake moves too small to be worth the
	// external round trip.
	DustThreshold *big.Int
	// MinViableStake clamps a partial withdrawal to a full one when the
	// remainder would be smaller than this.
	MinViableStake *big.Int
}

func (ps *Params) validate() error {
	for _, v := range []*big.Int{
		ps.TargetLiquidityPct, ps.SensitivityBandPct, ps.IncentiveAlignmentPct,
	} {
		if v == nil {
			return errors.New("missing percentage parameter")
		}
		if err := validatePct(v); err != nil {
			return err
		}
	}
	if _, err := feecurve.New(ps.CurveIntercept, ps.CurveSlope); err != nil {
		return err
	}
	if err := validateBps(ps.StakingCommissionBps); err != nil {
		return err
	}
	if err := validateBps(ps.BoostCommissionBps); err != nil {
		return err
	}
	if ps.DustThreshold == nil || ps.MinViableStake == nil {
		return errors.New("missing threshold parameter")
	}
	return nil
}

// Initialize writes the initial parameter set, aligns the internal epoch
// with the external service and registers the placeholder that absorbs
// unattributable revenue. It must run before any hook or crank.
func (p *Pool) Initialize(ps Params) error {
	if err := ps.validate(); err != nil {
		return errors.Wrap(err, "invalid pool parameters")
	}
	if err := p.storeParams(ps); err != nil {
		return err
	}

	external, _, err := p.adapter.Epoch()
	if err != nil {
		return errors.Wrap(err, "failed to read external epoch")
	}
	if err := p.externalEpoch.Put(external); err != nil {
		return err
	}
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	rec, err := p.ring.Record(current, 0)
	if err != nil {
		return err
	}
	rec.Epoch = external
	rec.WasCranked = true
	if err := p.ring.SetRecord(current, 0, rec); err != nil {
		return err
	}

	if err := p.registry.Add(harbor.PlaceholderID, harbor.Bytes32{}, current); err != nil {
		return errors.Wrap(err, "failed to register placeholder")
	}
	logger.Info("pool initialized", "externalEpoch", external)
	return nil
}

func (p *Pool) storeParams(ps Params) error {
	if err := p.cfg.targetLiquidityPct.Set(ps.TargetLiquidityPct); err != nil {
		return err
	}
	if err := p.cfg.sensitivityBandPct.Set(ps.SensitivityBandPct); err != nil {
		return err
	}
	if err := p.cfg.curveIntercept.Set(ps.CurveIntercept); err != nil {
		return err
	}
	if err := p.cfg.curveSlope.Set(ps.CurveSlope); err != nil {
		return err
	}
	if err := p.cfg.stakingCommission.Put(ps.StakingCommissionBps); err != nil {
		return err
	}
	if err := p.cfg.boostCommission.Put(ps.BoostCommissionBps); err != nil {
		return err
	}
	if err := p.cfg.incentivePct.Set(ps.IncentiveAlignmentPct); err != nil {
		return err
	}
	if err := p.cfg.epochSpanBlocks.Put(ps.EpochSpanBlocks); err != nil {
		return err
	}
	if err := p.cfg.dustThreshold.Set(ps.DustThreshold); err != nil {
		return err
	}
	return p.cfg.minViableStake.Set(ps.MinViableStake)
}

// SetTargetLiquidityPct retargets the atomic pool share.
func (p *Pool) SetTargetLiquidityPct(v *big.Int) error {
	if err := validatePct(v); err != nil {
		return err
	}
	return p.cfg.targetLiquidityPct.Set(v)
}

// SetSensitivityBandPct adjusts the retargeting dead band.
func (p *Pool) SetSensitivityBandPct(v *big.Int) error {
	if err := validatePct(v); err != nil {
		return err
	}
	return p.cfg.sensitivityBandPct.Set(v)
}

// SetFeeCurve replaces the exit fee curve parameters.
func (p *Pool) SetFeeCurve(intercept, slope *big.Int) error {
	if _, err := feecurve.New(intercept, slope); err != nil {
		return err
	}
	if err := p.cfg.curveIntercept.Set(intercept); err != nil {
		return err
	}
	return p.cfg.curveSlope.Set(slope)
}

// SetCommissions updates the staking and boost commission rates.
func (p *Pool) SetCommissions(stakingBps, boostBps uint32) error {
	if err := validateBps(stakingBps); err != nil {
		return err
	}
	if err := validateBps(boostBps); err != nil {
		return err
	}
	if err := p.cfg.stakingCommission.Put(stakingBps); err != nil {
		return err
	}
	return p.cfg.boostCommission.Put(boostBps)
}

// SetIncentiveAlignmentPct adjusts the per-validator unstake floor.
func (p *Pool) SetIncentiveAlignmentPct(v *big.Int) error {
	if err := validatePct(v); err != nil {
		return err
	}
	return p.cfg.incentivePct.Set(v)
}

// Freeze halts the crank and all capital-out paths.
func (p *Pool) Freeze() error { return p.cfg.frozen.Put(true) }

// Unfreeze resumes normal operation.
func (p *Pool) Unfreeze() error { return p.cfg.frozen.Put(false) }

// Close stops accepting new deposits. Withdrawals keep working so the
// pool can wind down.
func (p *Pool) Close() error { return p.cfg.closed.Put(true) }

// Reopen reverses Close.
func (p *Pool) Reopen() error { return p.cfg.closed.Put(false) }

// CollectCommission pays accrued protocol commission out of available
// liquidity.
func (p *Pool) CollectCommission(amount *big.Int) error {
	if err := p.requireUnfrozen(); err != nil {
		return err
	}
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	return p.ledger.CollectCommission(current, amount)
}

// AddValidator registers a validator under id with the given external
// identity and links it at the tail of the crank order.
func (p *Pool) AddValidator(id harbor.ValidatorID, identity harbor.Bytes32) error {
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	return p.registry.Add(id, identity, current)
}

// RemoveValidator begins deactivation: the validator stops receiving
// stake and its next crank fully withdraws whatever is unstakeable. The
// record stays until CompleteValidatorRemoval.
func (p *Pool) RemoveValidator(id harbor.ValidatorID) error {
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	return p.registry.BeginDeactivating(id, current)
}

// CompleteValidatorRemoval physically deletes a deactivated validator
// once the delay has passed and no escrow remains in flight.
func (p *Pool) CompleteValidatorRemoval(id harbor.ValidatorID) error {
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	pending, err := p.hasPendingEscrow(id)
	if err != nil {
		return err
	}
	return p.registry.CompleteDeactivating(id, current, pending)
}

// BootstrapSweep adopts a pre-funded balance as deposit-equivalent
// capital. It is only valid before any delegation exists; afterwards
// untracked balance is goodwill and handled by the crank.
func (p *Pool) BootstrapSweep() error {
	if p.balanceOf == nil {
		return errors.New("no balance provider configured")
	}
	staked, err := p.ledger.Staked()
	if err != nil {
		return err
	}
	inFlight, err := p.inFlightUnstakes.Get()
	if err != nil {
		return err
	}
	if staked.Sign() > 0 || inFlight.Sign() > 0 {
		return errors.New("bootstrap sweep requires no existing delegations")
	}

	observed, err := p.balanceOf()
	if err != nil {
		return errors.Wrap(err, "failed to observe balance")
	}
	tracked, err := p.trackedBalance()
	if err != nil {
		return err
	}
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	return p.ledger.ApplyGoodwill(current, observed, tracked)
}

// trackedBalance is the cash the ledger already accounts for: reserved
// liquidity, the current staking queue and the atomic pool's holdings.
func (p *Pool) trackedBalance() (*big.Int, error) {
	current, err := p.epochIndex.Get()
	if err != nil {
		return nil, err
	}
	reserved, err := p.ledger.Reserved()
	if err != nil {
		return nil, err
	}
	allocated, err := p.ledger.Allocated()
	if err != nil {
		return nil, err
	}
	distributed, err := p.ledger.Distributed()
	if err != nil {
		return nil, err
	}
	q, err := p.ring.Queue(current, 0)
	if err != nil {
		return nil, err
	}

	tracked := new(big.Int).Add(reserved, q.ToStake)
	tracked.Add(tracked, allocated)
	tracked.Sub(tracked, distributed)
	if tracked.Sign() < 0 {
		tracked.SetInt64(0)
	}
	return tracked, nil
}
