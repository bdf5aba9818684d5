// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package epochring stores per-entity epoch records in a fixed-depth
// circular buffer addressed by signed offset from the entity's current
// epoch counter. Advancing an epoch reinterprets offsets instead of
// copying data; only the vacated slot is cleared.
package epochring

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/storage"
)

// EpochRecord is the per-slot bookkeeping record. Writes are always
// whole-record so a reused slot never carries stale fields forward.
type EpochRecord struct {
	Epoch             uint64
	WithdrawalCycle   uint64
	HasWithdrawal     bool
	HasDeposit        bool
	CrankedInBoundary bool
	WasCranked        bool
	Frozen            bool
	Closed            bool
	TargetStake       *big.Int
}

// CashFlowQueue holds amounts awaiting the next reallocation pass.
type CashFlowQueue struct {
	ToStake    *big.Int
	ForUnstake *big.Int
}

// RewardLedger holds per-slot reward obligations and realized yield.
type RewardLedger struct {
	RewardsPayable *big.Int
	EarnedRevenue  *big.Int
}

// StakingEscrow holds amounts whose external operation has been initiated
// but not yet confirmed complete. Cycle is the withdrawal cycle id of the
// pending unstake, zero when none.
type StakingEscrow struct {
	PendingStake   *big.Int
	PendingUnstake *big.Int
	Cycle          uint64
}

const (
	kindRecord byte = iota
	kindQueue
	kindRewards
	kindEscrow
)

// Ring provides offset-addressed access to one entity's epoch slots.
// The current epoch counter is tracked by the caller and passed in.
type Ring struct {
	sctx   *storage.Context
	base   harbor.Bytes32
	entity []byte
}

// New binds a ring to a storage context, a namespace slot and an entity
// key. A nil entity addresses the global timeline.
func New(sctx *storage.Context, base harbor.Bytes32, entity []byte) *Ring {
	return &Ring{sctx: sctx, base: base, entity: entity}
}

func (r *Ring) slot(kind byte, index int) harbor.Bytes32 {
	return harbor.Blake2b(r.base.Bytes(), r.entity, []byte{kind, byte(index)})
}

// Record reads the epoch record at the given signed offset.
func (r *Ring) Record(current uint64, offset int) (*EpochRecord, error) {
	idx, err := r.index(current, offset)
	if err != nil {
		return nil, err
	}
	rec, err := storage.NewRaw[EpochRecord](r.sctx, r.slot(kindRecord, idx)).Get()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get epoch record")
	}
	rec.TargetStake = nonNil(rec.TargetStake)
	return &rec, nil
}

// SetRecord writes the whole epoch record at the given signed offset.
func (r *Ring) SetRecord(current uint64, offset int, rec *EpochRecord) error {
	idx, err := r.index(current, offset)
	if err != nil {
		return err
	}
	cp := *rec
	cp.TargetStake = nonNil(cp.TargetStake)
	if err := storage.NewRaw[EpochRecord](r.sctx, r.slot(kindRecord, idx)).Put(cp); err != nil {
		return errors.Wrap(err, "failed to set epoch record")
	}
	return nil
}

// Queue reads the cash-flow queue at the given signed offset.
func (r *Ring) Queue(current uint64, offset int) (*CashFlowQueue, error) {
	idx, err := r.index(current, offset)
	if err != nil {
		return nil, err
	}
	q, err := storage.NewRaw[CashFlowQueue](r.sctx, r.slot(kindQueue, idx)).Get()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get cash-flow queue")
	}
	q.ToStake = nonNil(q.ToStake)
	q.ForUnstake = nonNil(q.ForUnstake)
	return &q, nil
}

// SetQueue writes the cash-flow queue at the given signed offset.
func (r *Ring) SetQueue(current uint64, offset int, q *CashFlowQueue) error {
	idx, err := r.index(current, offset)
	if err != nil {
		return err
	}
	cp := CashFlowQueue{ToStake: nonNil(q.ToStake), ForUnstake: nonNil(q.ForUnstake)}
	if err := storage.NewRaw[CashFlowQueue](r.sctx, r.slot(kindQueue, idx)).Put(cp); err != nil {
		return errors.Wrap(err, "failed to set cash-flow queue")
	}
	return nil
}

// Rewards reads the reward ledger at the given signed offset.
func (r *Ring) Rewards(current uint64, offset int) (*RewardLedger, error) {
	idx, err := r.index(current, offset)
	if err != nil {
		return nil, err
	}
	l, err := storage.NewRaw[RewardLedger](r.sctx, r.slot(kindRewards, idx)).Get()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get reward ledger")
	}
	l.RewardsPayable = nonNil(l.RewardsPayable)
	l.EarnedRevenue = nonNil(l.EarnedRevenue)
	return &l, nil
}

// SetRewards writes the reward ledger at the given signed offset.
func (r *Ring) SetRewards(current uint64, offset int, l *RewardLedger) error {
	idx, err := r.index(current, offset)
	if err != nil {
		return err
	}
	cp := RewardLedger{RewardsPayable: nonNil(l.RewardsPayable), EarnedRevenue: nonNil(l.EarnedRevenue)}
	if err := storage.NewRaw[RewardLedger](r.sctx, r.slot(kindRewards, idx)).Put(cp); err != nil {
		return errors.Wrap(err, "failed to set reward ledger")
	}
	return nil
}

// Escrow reads the staking escrow at the given signed offset.
func (r *Ring) Escrow(current uint64, offset int) (*StakingEscrow, error) {
	idx, err := r.index(current, offset)
	if err != nil {
		return nil, err
	}
	e, err := storage.NewRaw[StakingEscrow](r.sctx, r.slot(kindEscrow, idx)).Get()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get staking escrow")
	}
	e.PendingStake = nonNil(e.PendingStake)
	e.PendingUnstake = nonNil(e.PendingUnstake)
	return &e, nil
}

// SetEscrow writes the staking escrow at the given signed offset.
func (r *Ring) SetEscrow(current uint64, offset int, e *StakingEscrow) error {
	idx, err := r.index(current, offset)
	if err != nil {
		return err
	}
	cp := StakingEscrow{PendingStake: nonNil(e.PendingStake), PendingUnstake: nonNil(e.PendingUnstake), Cycle: e.Cycle}
	if err := storage.NewRaw[StakingEscrow](r.sctx, r.slot(kindEscrow, idx)).Put(cp); err != nil {
		return errors.Wrap(err, "failed to set staking escrow")
	}
	return nil
}

// Advance rolls the ring forward one epoch: the slot rotating in as the
// new far-future slot is cleared of every record kind, and the new current
// slot is primed with the given record. Queue, reward and escrow data
// written at offset +1 before the advance become the new current slot's
// contents untouched.
func (r *Ring) Advance(current uint64, prime *EpochRecord) error {
	next := current + 1
	vacated := harbor.RingIndex(next, harbor.MaxEpochOffset)
	r.clearSlot(vacated)
	if err := r.SetRecord(next, 0, prime); err != nil {
		return errors.Wrap(err, "failed to prime advanced epoch record")
	}
	return nil
}

// Clear removes every slot of every record kind. Used when a validator is
// fully removed so a reused id starts from a blank ring.
func (r *Ring) Clear() {
	for i := 0; i < harbor.RingDepth; i++ {
		r.clearSlot(i)
	}
}

func (r *Ring) clearSlot(index int) {
	for _, kind := range []byte{kindRecord, kindQueue, kindRewards, kindEscrow} {
		storage.NewRaw[struct{}](r.sctx, r.slot(kind, index)).Clear()
	}
}

func (r *Ring) index(current uint64, offset int) (int, error) {
	if offset < harbor.MinEpochOffset || offset > harbor.MaxEpochOffset {
		return 0, errors.Errorf("epoch offset %d out of range", offset)
	}
	return harbor.RingIndex(current, offset), nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
