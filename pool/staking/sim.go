// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package staking

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/pool/pct"
)

type simWithdrawal struct {
	amount  *big.Int
	readyAt uint64
}

type simValidator struct {
	commissionBps uint32
	stake         *big.Int
	rewards       *big.Int
	withdrawals   map[uint64]*simWithdrawal
}

// Sim is a deterministic in-memory staking backend. Yield accrues on
// delegated stake each epoch at a fixed basis-point rate; withdrawals
// mature after the protocol settle delay. Failure switches force specific
// operations to reject, which tests use to exercise the adapter fallback
// paths.
type Sim struct {
	epoch    uint64
	boundary bool
	yieldBps uint32

	validators map[harbor.Bytes32]*simValidator

	// failure switches, keyed by identity
	failDelegate   map[harbor.Bytes32]bool
	failUndelegate map[harbor.Bytes32]bool
	failWithdraw   map[harbor.Bytes32]bool
	failClaim      map[harbor.Bytes32]bool
}

// NewSim creates a simulator starting at the given epoch with a fixed
// per-epoch yield in basis points.
func NewSim(epoch uint64, yieldBps uint32) *Sim {
	return &Sim{
		epoch:          epoch,
		yieldBps:       yieldBps,
		validators:     map[harbor.Bytes32]*simValidator{},
		failDelegate:   map[harbor.Bytes32]bool{},
		failUndelegate: map[harbor.Bytes32]bool{},
		failWithdraw:   map[harbor.Bytes32]bool{},
		failClaim:      map[harbor.Bytes32]bool{},
	}
}

// Register adds a validator to the external set.
func (s *Sim) Register(identity harbor.Bytes32, commissionBps uint32) {
	s.validators[identity] = &simValidator{
		commissionBps: commissionBps,
		stake:         new(big.Int),
		rewards:       new(big.Int),
		withdrawals:   map[uint64]*simWithdrawal{},
	}
}

// AdvanceEpoch moves the external clock one epoch forward, accruing yield
// on every delegation.
func (s *Sim) AdvanceEpoch() {
	s.epoch++
	rate := pct.FromBps(s.yieldBps)
	for _, v := range s.validators {
		if v.stake.Sign() > 0 {
			v.rewards.Add(v.rewards, pct.Apply(v.stake, rate))
		}
	}
}

// SetBoundary toggles the epoch-boundary delay window.
func (s *Sim) SetBoundary(active bool) { s.boundary = active }

// FailDelegate forces Delegate calls for identity to reject.
func (s *Sim) FailDelegate(identity harbor.Bytes32, fail bool) { s.failDelegate[identity] = fail }

// FailUndelegate forces Undelegate calls for identity to reject.
func (s *Sim) FailUndelegate(identity harbor.Bytes32, fail bool) { s.failUndelegate[identity] = fail }

// FailWithdraw forces Withdraw calls for identity to reject.
func (s *Sim) FailWithdraw(identity harbor.Bytes32, fail bool) { s.failWithdraw[identity] = fail }

// FailClaim forces ClaimRewards calls for identity to reject.
func (s *Sim) FailClaim(identity harbor.Bytes32, fail bool) { s.failClaim[identity] = fail }

// StakeOf returns the delegated stake for identity, for assertions.
func (s *Sim) StakeOf(identity harbor.Bytes32) *big.Int {
	if v, ok := s.validators[identity]; ok {
		return new(big.Int).Set(v.stake)
	}
	return new(big.Int)
}

func (s *Sim) Delegate(identity harbor.Bytes32, amount *big.Int) error {
	v, ok := s.validators[identity]
	if !ok {
		return errors.New("unknown validator")
	}
	if s.failDelegate[identity] {
		return errors.New("delegate rejected")
	}
	if amount.Sign() <= 0 {
		return errors.New("non-positive amount")
	}
	v.stake.Add(v.stake, amount)
	return nil
}

func (s *Sim) Undelegate(identity harbor.Bytes32, amount *big.Int, cycle uint64) error {
	v, ok := s.validators[identity]
	if !ok {
		return errors.New("unknown validator")
	}
	if s.failUndelegate[identity] {
		return errors.New("undelegate rejected")
	}
	if amount.Sign() <= 0 || amount.Cmp(v.stake) > 0 {
		return errors.New("amount exceeds delegation")
	}
	if _, dup := v.withdrawals[cycle]; dup {
		return errors.New("withdrawal cycle already used")
	}

	readyAt := s.epoch + harbor.UnstakeSettleEpochs
	if s.boundary {
		readyAt++
	}
	v.stake.Sub(v.stake, amount)
	v.withdrawals[cycle] = &simWithdrawal{amount: new(big.Int).Set(amount), readyAt: readyAt}
	return nil
}

func (s *Sim) Withdraw(identity harbor.Bytes32, cycle uint64) (*big.Int, error) {
	v, ok := s.validators[identity]
	if !ok {
		return nil, errors.New("unknown validator")
	}
	if s.failWithdraw[identity] {
		return nil, errors.New("withdraw rejected")
	}
	w, ok := v.withdrawals[cycle]
	if !ok {
		return nil, errors.New("no such withdrawal")
	}
	if s.epoch < w.readyAt {
		return nil, errors.New("withdrawal not matured")
	}
	delete(v.withdrawals, cycle)
	return new(big.Int).Set(w.amount), nil
}

func (s *Sim) ClaimRewards(identity harbor.Bytes32) (*big.Int, error) {
	v, ok := s.validators[identity]
	if !ok {
		return nil, errors.New("unknown validator")
	}
	if s.failClaim[identity] {
		return nil, errors.New("claim rejected")
	}
	claimed := v.rewards
	v.rewards = new(big.Int)
	return claimed, nil
}

func (s *Sim) ExternalReward(identity harbor.Bytes32, amount *big.Int) error {
	if _, ok := s.validators[identity]; !ok {
		return errors.New("unknown validator")
	}
	if amount.Sign() < 0 {
		return errors.New("negative amount")
	}
	return nil
}

func (s *Sim) Epoch() (uint64, bool, error) {
	return s.epoch, s.boundary, nil
}

func (s *Sim) Delegator(identity harbor.Bytes32) (*Delegator, error) {
	v, ok := s.validators[identity]
	if !ok {
		return nil, errors.New("unknown validator")
	}
	return &Delegator{Stake: new(big.Int).Set(v.stake), Active: v.stake.Sign() > 0}, nil
}

func (s *Sim) WithdrawalRequest(identity harbor.Bytes32, cycle uint64) (*WithdrawalRequest, error) {
	v, ok := s.validators[identity]
	if !ok {
		return nil, errors.New("unknown validator")
	}
	w, ok := v.withdrawals[cycle]
	if !ok {
		return nil, nil
	}
	return &WithdrawalRequest{
		Amount: new(big.Int).Set(w.amount),
		Ready:  s.epoch >= w.readyAt,
	}, nil
}

func (s *Sim) Validator(identity harbor.Bytes32) (*Validator, error) {
	v, ok := s.validators[identity]
	if !ok {
		return &Validator{}, nil
	}
	return &Validator{
		Authority:     identity,
		CommissionBps: v.commissionBps,
		Exists:        true,
	}, nil
}
