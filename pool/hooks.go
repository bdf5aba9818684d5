// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/pool/poolerr"
)

// Accounting hooks. These are the entrypoints an embedding vault calls
// around its own share mechanics. Closed gates new capital in; frozen
// gates capital out and the crank. The ledger's reentrancy guard rejects
// any hook fired while a settlement pass is running.

// AccountForDeposit books freshly deposited assets into the current
// epoch's staking queue.
func (p *Pool) AccountForDeposit(assets *big.Int) error {
	if err := p.requireOpen(); err != nil {
		return err
	}
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	return p.ledger.AccountForDeposit(current, assets)
}

// AccountForWithdraw books an instant exit of net assets with the given
// fee, both priced by the caller against QuoteNetGivenGross. block is the
// current block number, used for the unsettled-revenue smoothing offset.
func (p *Pool) AccountForWithdraw(net, fee *big.Int, block uint64) error {
	if err := p.requireUnfrozen(); err != nil {
		return err
	}
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	unstakeable, err := p.globalUnstakeable.Get()
	if err != nil {
		return err
	}
	span, err := p.cfg.epochSpanBlocks.Get()
	if err != nil {
		return err
	}
	return p.ledger.AccountForWithdraw(current, net, fee, unstakeable, block, span)
}

// AfterRequestUnstake books a queued redemption of the given size.
func (p *Pool) AfterRequestUnstake(amount *big.Int) error {
	if err := p.requireUnfrozen(); err != nil {
		return err
	}
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	return p.ledger.AfterRequestUnstake(current, amount)
}

// BeforeCompleteUnstake releases reserved liquidity against a matured
// redemption.
func (p *Pool) BeforeCompleteUnstake(amount *big.Int) error {
	if err := p.requireUnfrozen(); err != nil {
		return err
	}
	return p.ledger.BeforeCompleteUnstake(amount)
}

// HandleBoostYield books an external boost payment into the current
// epoch: commission at the boost rate, remainder queued as revenue.
func (p *Pool) HandleBoostYield(amount *big.Int) error {
	current, err := p.epochIndex.Get()
	if err != nil {
		return err
	}
	rate, err := p.cfg.boostCommission.Get()
	if err != nil {
		return err
	}
	return p.ledger.HandleBoostYield(current, amount, rate)
}

// HandleValidatorRewards splits a reward destined for a validator into
// its payout and the protocol commission. The payout is owed to the
// validator the identity resolves to; when the identity is unknown or
// the validator is no longer active, the obligation is parked on the
// placeholder so real validators' allocation weights stay undiluted.
func (p *Pool) HandleValidatorRewards(identity harbor.Bytes32, amount *big.Int) (payoutOwed, fee *big.Int, err error) {
	rate, err := p.cfg.stakingCommission.Get()
	if err != nil {
		return nil, nil, err
	}
	payoutOwed, fee, err = p.ledger.HandleValidatorRewards(amount, rate)
	if err != nil {
		return nil, nil, err
	}

	current, err := p.epochIndex.Get()
	if err != nil {
		return nil, nil, err
	}
	id, err := p.registry.IDByIdentity(identity)
	if err != nil {
		return nil, nil, err
	}
	target := harbor.PlaceholderID
	if id != harbor.NoID {
		entry, err := p.registry.Get(id)
		if err != nil {
			return nil, nil, err
		}
		if entry != nil && entry.IsActive {
			target = id
		}
	}

	if err := p.creditRewardPayout(target, payoutOwed); err != nil {
		return nil, nil, err
	}
	if target == harbor.PlaceholderID {
		if err := p.registry.Denullify(harbor.PlaceholderID, current); err != nil {
			return nil, nil, err
		}
	} else if err := p.registry.Touch(target, current); err != nil {
		return nil, nil, err
	}
	return payoutOwed, fee, nil
}

// creditRewardPayout adds a payout obligation to the validator's current
// reward slot; the crank pays it out of reserve when it next runs.
func (p *Pool) creditRewardPayout(id harbor.ValidatorID, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	entry, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	if entry == nil {
		return errors.Errorf("validator %v has no record to credit", id)
	}
	ring := p.validatorRing(id)
	rewards, err := ring.Rewards(entry.CurrentEpochIndex, 0)
	if err != nil {
		return err
	}
	rewards.RewardsPayable.Add(rewards.RewardsPayable, amount)
	return ring.SetRewards(entry.CurrentEpochIndex, 0, rewards)
}

func (p *Pool) requireOpen() error {
	closed, err := p.cfg.closed.Get()
	if err != nil {
		return err
	}
	if closed {
		return poolerr.ErrClosed
	}
	return nil
}

func (p *Pool) requireUnfrozen() error {
	frozen, err := p.cfg.frozen.Get()
	if err != nil {
		return err
	}
	if frozen {
		return poolerr.ErrFrozen
	}
	return nil
}
