// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package staking defines the external delegation service the engine
// consumes, a failure-tolerant adapter over it, and a deterministic
// in-memory backend for tests and local simulation. Every service call is
// treated as possibly failing; the adapter turns failures into typed
// outcomes so the crank never aborts on an external fault.
package staking

import (
	"math/big"

	"github.com/harborlabs/harbor/harbor"
)

// Delegator describes the engine's delegation at one validator.
type Delegator struct {
	Stake  *big.Int
	Active bool
}

// WithdrawalRequest describes a previously initiated undelegation.
type WithdrawalRequest struct {
	Amount *big.Int
	Ready  bool
}

// Validator describes an externally registered validator.
type Validator struct {
	Authority     harbor.Bytes32
	CommissionBps uint32
	Exists        bool
}

// Service is the untrusted external staking interface. Implementations
// must not be assumed idempotent beyond what the withdrawal cycle id
// provides.
type Service interface {
	// Delegate stakes amount with the validator.
	Delegate(identity harbor.Bytes32, amount *big.Int) error
	// Undelegate initiates an unstake under the given withdrawal cycle.
	Undelegate(identity harbor.Bytes32, amount *big.Int, cycle uint64) error
	// Withdraw completes a matured undelegation, returning the amount.
	Withdraw(identity harbor.Bytes32, cycle uint64) (*big.Int, error)
	// ClaimRewards collects pending rewards, returning the amount.
	ClaimRewards(identity harbor.Bytes32) (*big.Int, error)
	// ExternalReward forwards a reward payment to the validator.
	ExternalReward(identity harbor.Bytes32, amount *big.Int) error
	// Epoch returns the external epoch counter and whether the
	// epoch-boundary delay window is active.
	Epoch() (uint64, bool, error)
	// Delegator reads the engine's current delegation at the validator.
	Delegator(identity harbor.Bytes32) (*Delegator, error)
	// WithdrawalRequest reads a pending undelegation by cycle id.
	WithdrawalRequest(identity harbor.Bytes32, cycle uint64) (*WithdrawalRequest, error)
	// Validator reads the validator's registration.
	Validator(identity harbor.Bytes32) (*Validator, error)
}
