// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package staking

import (
	"math/big"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/log"
	"github.com/harborlabs/harbor/metrics"
)

var logger = log.WithContext("pkg", "staking")

var metricSoftFailure = metrics.LazyLoadCounterVec("staking_adapter_soft_failure_count", []string{"op"})

// Status classifies an adapter outcome.
type Status int

const (
	// StatusOK means the operation completed.
	StatusOK Status = iota
	// StatusDelayed means the operation is genuinely pending and should be
	// retried on a later crank.
	StatusDelayed
	// StatusFailed means the operation did not take effect.
	StatusFailed
)

// Outcome is the typed result of an adapter call. Amount carries the
// operation's effective amount where one applies.
type Outcome struct {
	Status Status
	Amount *big.Int
}

func outcomeOK(amount *big.Int) Outcome {
	return Outcome{Status: StatusOK, Amount: amount}
}

func outcomeFailed() Outcome {
	return Outcome{Status: StatusFailed, Amount: new(big.Int)}
}

// Adapter wraps the external service so every failure surfaces as a typed
// outcome instead of an error the crank would have to abort on.
type Adapter struct {
	service Service
}

func NewAdapter(service Service) *Adapter {
	return &Adapter{service: service}
}

// Service returns the wrapped backend.
func (a *Adapter) Service() Service {
	return a.service
}

// Epoch reads the external epoch counter and the boundary-window flag.
// This is the one call that propagates its error: without an epoch number
// the crank has nothing to advance toward.
func (a *Adapter) Epoch() (uint64, bool, error) {
	return a.service.Epoch()
}

// ClaimYield claims pending rewards. A claim failure means the validator
// is treated as having no active delegation this round; the crank carries
// on.
func (a *Adapter) ClaimYield(identity harbor.Bytes32) (yield *big.Int, active bool) {
	amount, err := a.service.ClaimRewards(identity)
	if err != nil {
		a.softFailure("claim", identity, err)
		return new(big.Int), false
	}
	if amount == nil {
		amount = new(big.Int)
	}
	return amount, true
}

// DelegatedStake reads the current delegation, zero on failure.
func (a *Adapter) DelegatedStake(identity harbor.Bytes32) *big.Int {
	d, err := a.service.Delegator(identity)
	if err != nil || d == nil || !d.Active {
		if err != nil {
			a.softFailure("delegator", identity, err)
		}
		return new(big.Int)
	}
	return d.Stake
}

// InitiateStake delegates amount. On failure nothing is staked and the
// caller redirects the amount to the next epoch's queue.
func (a *Adapter) InitiateStake(identity harbor.Bytes32, amount *big.Int) Outcome {
	if err := a.service.Delegate(identity, amount); err != nil {
		a.softFailure("delegate", identity, err)
		return outcomeFailed()
	}
	return outcomeOK(amount)
}

// InitiateUnstake undelegates amount under the given cycle. A rejection
// triggers one retry clamped to the actually delegated balance; a second
// rejection is a failure.
func (a *Adapter) InitiateUnstake(identity harbor.Bytes32, amount *big.Int, cycle uint64) Outcome {
	if err := a.service.Undelegate(identity, amount, cycle); err == nil {
		return outcomeOK(amount)
	}

	actual := a.DelegatedStake(identity)
	clamped := actual
	if amount.Cmp(actual) < 0 {
		clamped = amount
	}
	if clamped.Sign() == 0 {
		a.softFailure("undelegate", identity, nil)
		return outcomeFailed()
	}
	if err := a.service.Undelegate(identity, clamped, cycle); err != nil {
		a.softFailure("undelegate", identity, err)
		return outcomeFailed()
	}
	return outcomeOK(clamped)
}

// CompleteWithdraw finishes a matured undelegation. A pending request that
// is not yet ready reports StatusDelayed so the crank retries next window;
// anything else that goes wrong is StatusFailed.
func (a *Adapter) CompleteWithdraw(identity harbor.Bytes32, cycle uint64) Outcome {
	req, err := a.service.WithdrawalRequest(identity, cycle)
	if err != nil {
		a.softFailure("withdrawal-request", identity, err)
		return outcomeFailed()
	}
	if req == nil {
		a.softFailure("withdrawal-request", identity, nil)
		return outcomeFailed()
	}
	if !req.Ready {
		return Outcome{Status: StatusDelayed, Amount: new(big.Int)}
	}

	amount, err := a.service.Withdraw(identity, cycle)
	if err != nil {
		a.softFailure("withdraw", identity, err)
		return outcomeFailed()
	}
	if amount == nil {
		amount = new(big.Int)
	}
	return outcomeOK(amount)
}

// PayReward forwards a reward payment to the validator, reporting whether
// it was accepted.
func (a *Adapter) PayReward(identity harbor.Bytes32, amount *big.Int) bool {
	if err := a.service.ExternalReward(identity, amount); err != nil {
		a.softFailure("external-reward", identity, err)
		return false
	}
	return true
}

// ValidatorExists reports whether the identity is registered externally.
func (a *Adapter) ValidatorExists(identity harbor.Bytes32) (bool, error) {
	v, err := a.service.Validator(identity)
	if err != nil {
		return false, err
	}
	return v != nil && v.Exists, nil
}

// CommissionRate reads the validator's commission, zero when unknown.
func (a *Adapter) CommissionRate(identity harbor.Bytes32) uint32 {
	v, err := a.service.Validator(identity)
	if err != nil || v == nil {
		return 0
	}
	return v.CommissionBps
}

func (a *Adapter) softFailure(op string, identity harbor.Bytes32, err error) {
	metricSoftFailure().AddWithLabel(1, map[string]string{"op": op})
	logger.Warn("staking service call failed", "op", op, "identity", identity.AbbrevString(), "err", err)
}
