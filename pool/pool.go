// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package pool assembles the Harbor capital engine: a double-entry
// accounting ledger, per-epoch ring stores, a validator registry with a
// fixed crank order, a fee-curve priced atomic exit pool and an adapter
// to the external staking service, all driven by an epoch crank.
package pool

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/log"
	"github.com/harborlabs/harbor/pool/epochring"
	"github.com/harborlabs/harbor/pool/ledger"
	"github.com/harborlabs/harbor/pool/registry"
	"github.com/harborlabs/harbor/pool/staking"
	"github.com/harborlabs/harbor/storage"
)

var logger = log.WithContext("pkg", "pool")

var (
	slotGlobalRing        = harbor.BytesToBytes32([]byte("pool-global-ring"))
	slotValidatorRings    = harbor.BytesToBytes32([]byte("pool-validator-rings"))
	slotEpochIndex        = harbor.BytesToBytes32([]byte("pool-epoch-index"))
	slotExternalEpoch     = harbor.BytesToBytes32([]byte("pool-external-epoch"))
	slotCrankCursor       = harbor.BytesToBytes32([]byte("pool-crank-cursor"))
	slotRoundInProgress   = harbor.BytesToBytes32([]byte("pool-round-in-progress"))
	slotWithdrawalCycle   = harbor.BytesToBytes32([]byte("pool-withdrawal-cycle"))
	slotInFlightUnstakes  = harbor.BytesToBytes32([]byte("pool-in-flight-unstakes"))
	slotGlobalUnstakeable = harbor.BytesToBytes32([]byte("pool-global-unstakeable"))
	slotConsumedToStake   = harbor.BytesToBytes32([]byte("pool-consumed-to-stake"))
	slotConsumedForUnstake = harbor.BytesToBytes32([]byte("pool-consumed-for-unstake"))
)

// BalanceProvider reports the pool's observed cash balance, used to
// detect goodwill (unsolicited transfers) during the epoch crank.
// Optional; without one the goodwill step is skipped.
type BalanceProvider func() (*big.Int, error)

// PostCrankHook runs after each validator finishes cranking. Failures
// are logged and isolated; they never abort the crank.
type PostCrankHook func(id harbor.ValidatorID) error

// Pool is the facade over the capital engine. All state lives in the
// storage context; Pool itself carries no mutable fields besides the
// ledger's in-memory reentrancy guard.
type Pool struct {
	sctx     *storage.Context
	cfg      *config
	ledger   *ledger.Service
	registry *registry.Service
	adapter  *staking.Adapter
	ring     *epochring.Ring

	epochIndex        *storage.Raw[uint64]
	externalEpoch     *storage.Raw[uint64]
	cursor            *storage.Raw[uint64]
	roundInProgress   *storage.Raw[bool]
	withdrawalCycle   *storage.Raw[uint64]
	inFlightUnstakes  *storage.Uint256
	globalUnstakeable *storage.Uint256

	// walk-local consumption of the prior epoch's clamped queue; every
	// validator's share is computed against the pristine queue, so the
	// debits accumulate here and settle at round end
	consumedToStake    *storage.Uint256
	consumedForUnstake *storage.Uint256

	balanceOf BalanceProvider
	postCrank PostCrankHook
}

// New wires a Pool over the given storage context and staking service.
func New(sctx *storage.Context, service staking.Service) *Pool {
	globalRing := epochring.New(sctx, slotGlobalRing, nil)
	p := &Pool{
		sctx:              sctx,
		cfg:               newConfig(sctx),
		ledger:            ledger.New(sctx, globalRing),
		adapter:           staking.NewAdapter(service),
		ring:              globalRing,
		epochIndex:        storage.NewRaw[uint64](sctx, slotEpochIndex),
		externalEpoch:     storage.NewRaw[uint64](sctx, slotExternalEpoch),
		cursor:            storage.NewRaw[uint64](sctx, slotCrankCursor),
		roundInProgress:   storage.NewRaw[bool](sctx, slotRoundInProgress),
		withdrawalCycle:    storage.NewRaw[uint64](sctx, slotWithdrawalCycle),
		inFlightUnstakes:   storage.NewUint256(sctx, slotInFlightUnstakes),
		globalUnstakeable:  storage.NewUint256(sctx, slotGlobalUnstakeable),
		consumedToStake:    storage.NewUint256(sctx, slotConsumedToStake),
		consumedForUnstake: storage.NewUint256(sctx, slotConsumedForUnstake),
	}
	p.registry = registry.New(sctx, registry.Hooks{
		Verify:    p.adapter.ValidatorExists,
		PrimeRing: p.primeValidatorRing,
		ClearRing: p.clearValidatorRing,
	})
	return p
}

// SetBalanceProvider installs the observed-balance source for goodwill
// detection.
func (p *Pool) SetBalanceProvider(f BalanceProvider) { p.balanceOf = f }

// SetPostCrankHook installs the per-validator post-crank callback.
func (p *Pool) SetPostCrankHook(f PostCrankHook) { p.postCrank = f }

// Ledger exposes the accounting service, mainly for tests and queries.
func (p *Pool) Ledger() *ledger.Service { return p.ledger }

// Registry exposes the validator registry.
func (p *Pool) Registry() *registry.Service { return p.registry }

// Adapter exposes the staking-service adapter.
func (p *Pool) Adapter() *staking.Adapter { return p.adapter }

// EpochIndex returns the pool's internal epoch counter.
func (p *Pool) EpochIndex() (uint64, error) {
	idx, err := p.epochIndex.Get()
	return idx, errors.Wrap(err, "failed to load epoch index")
}

// validatorRing returns the per-validator epoch ring for id.
func (p *Pool) validatorRing(id harbor.ValidatorID) *epochring.Ring {
	return epochring.New(p.sctx, slotValidatorRings, id.Bytes())
}

// primeValidatorRing seeds a freshly added validator's ring with
// synthetic history at offsets -2 through +1 so its first crank finds
// well-formed records wherever it looks back.
func (p *Pool) primeValidatorRing(id harbor.ValidatorID, epoch uint64) error {
	ring := p.validatorRing(id)
	rec, err := p.ring.Record(epoch, 0)
	if err != nil {
		return err
	}
	for off := harbor.MinEpochOffset; off <= 1; off++ {
		if off < 0 && rec.Epoch < uint64(-off) {
			continue
		}
		if err := ring.SetRecord(epoch, off, &epochring.EpochRecord{
			Epoch:       uint64(int64(rec.Epoch) + int64(off)),
			WasCranked:  off <= 0,
			TargetStake: new(big.Int),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) clearValidatorRing(id harbor.ValidatorID) {
	p.validatorRing(id).Clear()
}

// nextWithdrawalCycle hands out a fresh monotone cycle id for an
// undelegation request.
func (p *Pool) nextWithdrawalCycle() (uint64, error) {
	c, err := p.withdrawalCycle.Get()
	if err != nil {
		return 0, err
	}
	c++
	if err := p.withdrawalCycle.Put(c); err != nil {
		return 0, err
	}
	return c, nil
}

// hasPendingEscrow reports whether any slot of the validator's ring still
// carries unsettled escrow. Removal is gated on this.
func (p *Pool) hasPendingEscrow(id harbor.ValidatorID) (bool, error) {
	entry, err := p.registry.Get(id)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	ring := p.validatorRing(id)
	for off := harbor.MinEpochOffset; off <= harbor.MaxEpochOffset; off++ {
		esc, err := ring.Escrow(entry.CurrentEpochIndex, off)
		if err != nil {
			return false, err
		}
		if esc.PendingStake.Sign() > 0 || esc.PendingUnstake.Sign() > 0 {
			return true, nil
		}
	}
	return false, nil
}
