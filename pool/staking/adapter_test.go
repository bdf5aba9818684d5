// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package staking

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/harbor/harbor"
)

var valA = harbor.BytesToBytes32([]byte("validator-a"))

func newAdapter(t *testing.T) (*Adapter, *Sim) {
	sim := NewSim(10, 100) // 1% yield per epoch
	sim.Register(valA, 500)
	return NewAdapter(sim), sim
}

func TestClaimYieldAccrues(t *testing.T) {
	a, sim := newAdapter(t)
	require.NoError(t, sim.Delegate(valA, big.NewInt(10_000)))
	sim.AdvanceEpoch()

	yield, active := a.ClaimYield(valA)
	assert.True(t, active)
	assert.Equal(t, big.NewInt(100), yield)

	// already claimed this epoch
	yield, active = a.ClaimYield(valA)
	assert.True(t, active)
	assert.Equal(t, int64(0), yield.Int64())
}

func TestClaimFailureMeansNoActiveDelegation(t *testing.T) {
	a, sim := newAdapter(t)
	require.NoError(t, sim.Delegate(valA, big.NewInt(10_000)))
	sim.FailClaim(valA, true)

	yield, active := a.ClaimYield(valA)
	assert.False(t, active)
	assert.Equal(t, int64(0), yield.Int64())
}

func TestInitiateStakeFailure(t *testing.T) {
	a, sim := newAdapter(t)
	sim.FailDelegate(valA, true)

	out := a.InitiateStake(valA, big.NewInt(500))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, int64(0), out.Amount.Int64())
	assert.Equal(t, int64(0), sim.StakeOf(valA).Int64())

	sim.FailDelegate(valA, false)
	out = a.InitiateStake(valA, big.NewInt(500))
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, big.NewInt(500), sim.StakeOf(valA))
}

func TestInitiateUnstakeClampsAndRetries(t *testing.T) {
	a, sim := newAdapter(t)
	require.NoError(t, sim.Delegate(valA, big.NewInt(300)))

	// asking for more than is delegated: first attempt rejects, the retry
	// is clamped to the actual balance
	out := a.InitiateUnstake(valA, big.NewInt(1000), 1)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, big.NewInt(300), out.Amount)
	assert.Equal(t, int64(0), sim.StakeOf(valA).Int64())
}

func TestInitiateUnstakeHardFailure(t *testing.T) {
	a, sim := newAdapter(t)
	require.NoError(t, sim.Delegate(valA, big.NewInt(300)))
	sim.FailUndelegate(valA, true)

	out := a.InitiateUnstake(valA, big.NewInt(100), 1)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, big.NewInt(300), sim.StakeOf(valA))
}

func TestCompleteWithdrawDistinguishesDelayedFromFailed(t *testing.T) {
	a, sim := newAdapter(t)
	require.NoError(t, sim.Delegate(valA, big.NewInt(500)))

	out := a.InitiateUnstake(valA, big.NewInt(500), 7)
	require.Equal(t, StatusOK, out.Status)

	// not matured yet: delayed, retry next window
	out = a.CompleteWithdraw(valA, 7)
	assert.Equal(t, StatusDelayed, out.Status)

	sim.AdvanceEpoch()
	sim.AdvanceEpoch()

	out = a.CompleteWithdraw(valA, 7)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, big.NewInt(500), out.Amount)

	// unknown cycle: failed, not delayed
	out = a.CompleteWithdraw(valA, 99)
	assert.Equal(t, StatusFailed, out.Status)
}

func TestBoundaryWindowDelaysMaturity(t *testing.T) {
	a, sim := newAdapter(t)
	require.NoError(t, sim.Delegate(valA, big.NewInt(500)))

	sim.SetBoundary(true)
	out := a.InitiateUnstake(valA, big.NewInt(500), 3)
	require.Equal(t, StatusOK, out.Status)
	sim.SetBoundary(false)

	// the usual two epochs are not enough for a boundary-window initiation
	sim.AdvanceEpoch()
	sim.AdvanceEpoch()
	out = a.CompleteWithdraw(valA, 3)
	assert.Equal(t, StatusDelayed, out.Status)

	sim.AdvanceEpoch()
	out = a.CompleteWithdraw(valA, 3)
	assert.Equal(t, StatusOK, out.Status)
}

func TestValidatorExists(t *testing.T) {
	a, _ := newAdapter(t)

	ok, err := a.ValidatorExists(valA)
	require.NoError(t, err)
	assert.True(t, ok)

	unknown := harbor.BytesToBytes32([]byte("nobody"))
	ok, err = a.ValidatorExists(unknown)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, uint32(500), a.CommissionRate(valA))
}
