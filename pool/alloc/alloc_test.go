// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package alloc

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func base() Inputs {
	return Inputs{
		QueueToStake:         new(big.Int),
		QueueRemaining:       new(big.Int),
		QueueForUnstake:      new(big.Int),
		GlobalRevenueLast:    new(big.Int),
		GlobalRevenuePrev:    new(big.Int),
		ValidatorRevenueLast: new(big.Int),
		ValidatorRevenuePrev: new(big.Int),
		ValidatorUnstakeable: new(big.Int),
		GlobalUnstakeable:    new(big.Int),
		CurrentTarget:        new(big.Int),
		DustThreshold:        big.NewInt(10),
		MinViableStake:       big.NewInt(100),
	}
}

func TestIncreaseFollowsRevenueShare(t *testing.T) {
	in := base()
	in.QueueToStake = big.NewInt(1000)
	in.QueueRemaining = big.NewInt(1000)
	in.GlobalRevenueLast = big.NewInt(500)
	in.GlobalRevenuePrev = big.NewInt(500)
	in.ValidatorRevenueLast = big.NewInt(100)
	in.ValidatorRevenuePrev = big.NewInt(100)
	in.CurrentTarget = big.NewInt(2000)

	// 20% smoothed revenue share of a 1000 queue
	d := Compute(in)
	assert.False(t, d.IsWithdrawal)
	assert.Equal(t, big.NewInt(200), d.Amount)
	assert.Equal(t, big.NewInt(2200), d.NewTarget)
}

func TestIncreaseSmoothsTwoEpochs(t *testing.T) {
	in := base()
	in.QueueToStake = big.NewInt(1000)
	in.QueueRemaining = big.NewInt(1000)
	in.GlobalRevenueLast = big.NewInt(600)
	in.GlobalRevenuePrev = big.NewInt(400)
	in.ValidatorRevenueLast = big.NewInt(200)
	in.ValidatorRevenuePrev = big.NewInt(0)

	// smoothed shares: 100/500
	d := Compute(in)
	assert.Equal(t, big.NewInt(200), d.Amount)
}

func TestIncreaseRoundsDown(t *testing.T) {
	in := base()
	in.QueueToStake = big.NewInt(1000)
	in.QueueRemaining = big.NewInt(1000)
	in.GlobalRevenueLast = big.NewInt(600)
	in.GlobalRevenuePrev = big.NewInt(600)
	in.ValidatorRevenueLast = big.NewInt(100)
	in.ValidatorRevenuePrev = big.NewInt(100)

	// 1000 × 100/600 = 166.66…
	d := Compute(in)
	assert.Equal(t, big.NewInt(166), d.Amount)
}

func TestIncreaseSkipsDustQueue(t *testing.T) {
	in := base()
	in.QueueToStake = big.NewInt(9)
	in.QueueRemaining = big.NewInt(9)
	in.GlobalRevenueLast = big.NewInt(500)
	in.ValidatorRevenueLast = big.NewInt(100)
	in.ActiveCount = 3

	// queue under the dust threshold
	d := Compute(in)
	assert.Equal(t, int64(0), d.Amount.Int64())
}

func TestIncreaseEvenSplitWithoutHistory(t *testing.T) {
	// bootstrap: nobody has earned yet
	in := base()
	in.QueueToStake = big.NewInt(1000)
	in.QueueRemaining = big.NewInt(1000)
	in.ActiveCount = 4
	d := Compute(in)
	assert.Equal(t, big.NewInt(250), d.Amount)

	// a fresh validator without history still gets an even share
	in = base()
	in.QueueToStake = big.NewInt(1000)
	in.QueueRemaining = big.NewInt(1000)
	in.GlobalRevenueLast = big.NewInt(500)
	in.GlobalRevenuePrev = big.NewInt(500)
	in.ValidatorRevenueLast = big.NewInt(5)
	in.ValidatorRevenuePrev = big.NewInt(5)
	in.ActiveCount = 2
	d = Compute(in)
	assert.Equal(t, big.NewInt(500), d.Amount)

	// with no active set there is nowhere to split to
	in.ActiveCount = 0
	d = Compute(in)
	assert.Equal(t, int64(0), d.Amount.Int64())
}

func TestIncreaseCappedByQueueRemainder(t *testing.T) {
	// an established validator claims the whole queue by revenue share
	in := base()
	in.QueueToStake = big.NewInt(950)
	in.QueueRemaining = big.NewInt(950)
	in.GlobalRevenueLast = big.NewInt(500)
	in.GlobalRevenuePrev = big.NewInt(500)
	in.ValidatorRevenueLast = big.NewInt(500)
	in.ValidatorRevenuePrev = big.NewInt(500)
	d := Compute(in)
	assert.Equal(t, big.NewInt(950), d.Amount)

	// a history-less validator walking after it finds nothing left
	in.ValidatorRevenueLast = new(big.Int)
	in.ValidatorRevenuePrev = new(big.Int)
	in.ActiveCount = 2
	in.QueueRemaining = new(big.Int)
	d = Compute(in)
	assert.Equal(t, int64(0), d.Amount.Int64())

	// a partial remainder bounds the even split
	in.QueueRemaining = big.NewInt(100)
	d = Compute(in)
	assert.Equal(t, big.NewInt(100), d.Amount)
}

func TestDecreaseRoundsUp(t *testing.T) {
	in := base()
	in.QueueForUnstake = big.NewInt(100)
	in.ValidatorUnstakeable = big.NewInt(1000)
	in.GlobalUnstakeable = big.NewInt(3000)
	in.CurrentTarget = big.NewInt(1000)

	// 100 × 1000/3000 = 33.33… → 34, so the aggregate never falls short
	d := Compute(in)
	assert.True(t, d.IsWithdrawal)
	assert.Equal(t, big.NewInt(34), d.Amount)
	assert.Equal(t, big.NewInt(966), d.NewTarget)
}

func TestDecreaseClampsToFullWithdrawal(t *testing.T) {
	in := base()
	in.QueueForUnstake = big.NewInt(950)
	in.ValidatorUnstakeable = big.NewInt(1000)
	in.GlobalUnstakeable = big.NewInt(1000)
	in.CurrentTarget = big.NewInt(1000)

	// remainder 50 is below the 100 minimum viable stake
	d := Compute(in)
	assert.True(t, d.IsWithdrawal)
	assert.Equal(t, big.NewInt(1000), d.Amount)
	assert.Equal(t, int64(0), d.NewTarget.Int64())
}

func TestDeactivatedOverridesQueues(t *testing.T) {
	in := base()
	in.Deactivated = true
	in.ValidatorUnstakeable = big.NewInt(500)
	in.CurrentTarget = big.NewInt(400)
	in.QueueToStake = big.NewInt(10000)
	in.QueueRemaining = big.NewInt(10000)
	in.GlobalRevenueLast = big.NewInt(100)
	in.ValidatorRevenueLast = big.NewInt(100)

	// always a full withdrawal of whatever is unstakeable
	d := Compute(in)
	assert.True(t, d.IsWithdrawal)
	assert.Equal(t, big.NewInt(500), d.Amount)
	// target saturates at zero
	assert.Equal(t, int64(0), d.NewTarget.Int64())
}

func TestNetDeltaOffsetsIncreaseAndDecrease(t *testing.T) {
	in := base()
	in.QueueToStake = big.NewInt(1000)
	in.QueueRemaining = big.NewInt(1000)
	in.QueueForUnstake = big.NewInt(100)
	in.GlobalRevenueLast = big.NewInt(500)
	in.GlobalRevenuePrev = big.NewInt(500)
	in.ValidatorRevenueLast = big.NewInt(250)
	in.ValidatorRevenuePrev = big.NewInt(250)
	in.ValidatorUnstakeable = big.NewInt(1000)
	in.GlobalUnstakeable = big.NewInt(1000)
	in.CurrentTarget = big.NewInt(1000)

	// increase 500, decrease 100 → net stake of 400
	d := Compute(in)
	assert.False(t, d.IsWithdrawal)
	assert.Equal(t, big.NewInt(400), d.Amount)
	assert.Equal(t, big.NewInt(1400), d.NewTarget)
}

func TestDeterminism(t *testing.T) {
	in := base()
	in.QueueToStake = big.NewInt(777)
	in.QueueRemaining = big.NewInt(777)
	in.QueueForUnstake = big.NewInt(333)
	in.GlobalRevenueLast = big.NewInt(999)
	in.GlobalRevenuePrev = big.NewInt(111)
	in.ValidatorRevenueLast = big.NewInt(42)
	in.ValidatorRevenuePrev = big.NewInt(58)
	in.ValidatorUnstakeable = big.NewInt(400)
	in.GlobalUnstakeable = big.NewInt(1600)
	in.CurrentTarget = big.NewInt(5000)

	first := Compute(in)
	for i := 0; i < 5; i++ {
		again := Compute(in)
		assert.Equal(t, first.Amount, again.Amount)
		assert.Equal(t, first.IsWithdrawal, again.IsWithdrawal)
		assert.Equal(t, first.NewTarget, again.NewTarget)
	}
}
