// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"math/big"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/pool/epochring"
	"github.com/harborlabs/harbor/pool/feecurve"
	"github.com/harborlabs/harbor/pool/pct"
)

// Liquidity is a snapshot of the atomic exit pool.
type Liquidity struct {
	// Target is the allocation the pool aims to hold.
	Target *big.Int
	// Available is what an instant exit can draw right now, including
	// the smoothed unsettled-revenue offset.
	Available *big.Int
	// Utilization is the drawn-down fraction, scaled by pct.Scale.
	Utilization *big.Int
}

// ValidatorStats is the per-validator view assembled from the registry
// and the validator's ring.
type ValidatorStats struct {
	ID                 harbor.ValidatorID
	Identity           harbor.Bytes32
	IsActive           bool
	InActiveSetCurrent bool
	InActiveSetLast    bool
	TargetStake        *big.Int
	DelegatedStake     *big.Int
	PendingStake       *big.Int
	PendingUnstake     *big.Int
	RewardsPayable     *big.Int
	EarnedRevenueLast  *big.Int
	EligibilityMarker  uint64
}

// LiquiditySnapshot reports the atomic pool's state at the given block.
func (p *Pool) LiquiditySnapshot(block uint64) (*Liquidity, error) {
	allocated, err := p.ledger.Allocated()
	if err != nil {
		return nil, err
	}
	distributed, err := p.ledger.Distributed()
	if err != nil {
		return nil, err
	}
	span, err := p.cfg.epochSpanBlocks.Get()
	if err != nil {
		return nil, err
	}
	offset, err := p.ledger.SmoothedOffset(block, span)
	if err != nil {
		return nil, err
	}
	util, err := p.ledger.Utilization()
	if err != nil {
		return nil, err
	}

	available := pct.SubSaturating(new(big.Int).Add(allocated, offset), distributed)
	return &Liquidity{
		Target:      allocated,
		Available:   available,
		Utilization: util,
	}, nil
}

// MarginalRate returns the instantaneous exit fee rate at the current
// utilization, scaled by pct.Scale.
func (p *Pool) MarginalRate() (*big.Int, error) {
	curve, err := p.feeCurve()
	if err != nil {
		return nil, err
	}
	util, err := p.ledger.Utilization()
	if err != nil {
		return nil, err
	}
	return curve.RateAt(util), nil
}

// QuoteNetGivenGross prices an instant exit of the given gross size at
// the given block.
func (p *Pool) QuoteNetGivenGross(gross *big.Int, block uint64) (feecurve.Quote, error) {
	curve, target, current, cap, err := p.pricingInputs(block)
	if err != nil {
		return feecurve.Quote{}, err
	}
	return curve.SolveNetGivenGross(target, current, gross, cap), nil
}

// QuoteGrossGivenNet finds the smallest gross exit that nets at least the
// given amount at the given block.
func (p *Pool) QuoteGrossGivenNet(net *big.Int, block uint64) (feecurve.Quote, error) {
	curve, target, current, cap, err := p.pricingInputs(block)
	if err != nil {
		return feecurve.Quote{}, err
	}
	return curve.SolveGrossGivenNet(target, current, net, cap)
}

// PreviewNetGivenGross prices an exit with the rate curve only, ignoring
// the coverable-capacity cap.
func (p *Pool) PreviewNetGivenGross(gross *big.Int, block uint64) (feecurve.Quote, error) {
	curve, target, current, _, err := p.pricingInputs(block)
	if err != nil {
		return feecurve.Quote{}, err
	}
	return curve.PreviewNetGivenGross(target, current, gross), nil
}

// PreviewGrossGivenNet inverts the curve for the target net, ignoring the
// coverable-capacity cap.
func (p *Pool) PreviewGrossGivenNet(net *big.Int, block uint64) (feecurve.Quote, error) {
	curve, target, current, _, err := p.pricingInputs(block)
	if err != nil {
		return feecurve.Quote{}, err
	}
	return curve.PreviewGrossGivenNet(target, current, net)
}

// feeCurve builds the exit fee curve from the stored parameters.
func (p *Pool) feeCurve() (*feecurve.Curve, error) {
	intercept, err := p.cfg.curveIntercept.Get()
	if err != nil {
		return nil, err
	}
	slope, err := p.cfg.curveSlope.Get()
	if err != nil {
		return nil, err
	}
	return feecurve.New(intercept, slope)
}

// pricingInputs assembles the fee curve and the liquidity terms quotes
// are priced against. The cap is the coverable capacity: current
// liquidity plus what the active set could unstake to refill it.
func (p *Pool) pricingInputs(block uint64) (curve *feecurve.Curve, target, current, cap *big.Int, err error) {
	curve, err = p.feeCurve()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	liq, err := p.LiquiditySnapshot(block)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	unstakeable, err := p.globalUnstakeable.Get()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	cap = new(big.Int).Add(liq.Available, unstakeable)
	return curve, liq.Target, liq.Available, cap, nil
}

// EpochRecordAt returns the global epoch record at the given signed
// offset from the current epoch.
func (p *Pool) EpochRecordAt(offset int) (*epochring.EpochRecord, error) {
	current, err := p.epochIndex.Get()
	if err != nil {
		return nil, err
	}
	return p.ring.Record(current, offset)
}

// QueueAt returns the global cash-flow queue at the given signed offset.
func (p *Pool) QueueAt(offset int) (*epochring.CashFlowQueue, error) {
	current, err := p.epochIndex.Get()
	if err != nil {
		return nil, err
	}
	return p.ring.Queue(current, offset)
}

// RewardsAt returns the global reward ledger at the given signed offset.
func (p *Pool) RewardsAt(offset int) (*epochring.RewardLedger, error) {
	current, err := p.epochIndex.Get()
	if err != nil {
		return nil, err
	}
	return p.ring.Rewards(current, offset)
}

// Stats assembles the per-validator view, nil when the id is unknown.
func (p *Pool) Stats(id harbor.ValidatorID) (*ValidatorStats, error) {
	entry, err := p.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	ring := p.validatorRing(id)
	vcur := entry.CurrentEpochIndex

	rec, err := ring.Record(vcur, 0)
	if err != nil {
		return nil, err
	}
	rewards, err := ring.Rewards(vcur, 0)
	if err != nil {
		return nil, err
	}
	pendStake, pendUnstake := new(big.Int), new(big.Int)
	for off := harbor.MinEpochOffset; off <= 0; off++ {
		esc, err := ring.Escrow(vcur, off)
		if err != nil {
			return nil, err
		}
		pendStake.Add(pendStake, esc.PendingStake)
		pendUnstake.Add(pendUnstake, esc.PendingUnstake)
	}
	marker, err := p.registry.Marker(id)
	if err != nil {
		return nil, err
	}

	return &ValidatorStats{
		ID:                 id,
		Identity:           entry.Identity,
		IsActive:           entry.IsActive,
		InActiveSetCurrent: entry.InActiveSetCurrent,
		InActiveSetLast:    entry.InActiveSetLast,
		TargetStake:        rec.TargetStake,
		DelegatedStake:     p.adapter.DelegatedStake(entry.Identity),
		PendingStake:       pendStake,
		PendingUnstake:     pendUnstake,
		RewardsPayable:     rewards.RewardsPayable,
		EarnedRevenueLast:  rewards.EarnedRevenue,
		EligibilityMarker:  marker,
	}, nil
}

// ActiveValidators lists the active set in crank order, placeholder
// excluded.
func (p *Pool) ActiveValidators() ([]harbor.ValidatorID, error) {
	var out []harbor.ValidatorID
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
				out = append(out, cur)
			}
		}
		cur, err = p.registry.NextAfter(cur)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CrankReady reports whether a Crank call would make progress: either a
// round is mid-walk or the external epoch has moved past what the pool
// has settled.
func (p *Pool) CrankReady() (bool, error) {
	frozen, err := p.cfg.frozen.Get()
	if err != nil {
		return false, err
	}
	if frozen {
		return false, nil
	}
	cursor, err := p.loadCursor()
	if err != nil {
		return false, err
	}
	if cursor != harbor.NoID {
		return true, nil
	}
	external, _, err := p.adapter.Epoch()
	if err != nil {
		return false, err
	}
	stored, err := p.externalEpoch.Get()
	if err != nil {
		return false, err
	}
	return external > stored, nil
}

// TotalEquity returns assets less liabilities at the current epoch.
func (p *Pool) TotalEquity() (*big.Int, error) {
	current, err := p.epochIndex.Get()
	if err != nil {
		return nil, err
	}
	return p.ledger.Equity(current)
}
