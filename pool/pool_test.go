// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/lvldb"
	"github.com/harborlabs/harbor/pool/poolerr"
	"github.com/harborlabs/harbor/pool/staking"
	"github.com/harborlabs/harbor/state"
	"github.com/harborlabs/harbor/storage"
)

const startEpoch = uint64(100)

func ident(n byte) harbor.Bytes32 {
	var b [32]byte
	b[0] = n
	return harbor.BytesToBytes32(b[:])
}

func baseParams() Params {
	return Params{
		TargetLiquidityPct:    new(big.Int),
		SensitivityBandPct:    new(big.Int),
		CurveIntercept:        big.NewInt(1e15), // 0.1%
		CurveSlope:            big.NewInt(5e16), // 5%
		StakingCommissionBps:  0,
		BoostCommissionBps:    0,
		IncentiveAlignmentPct: new(big.Int),
		EpochSpanBlocks:       0,
		DustThreshold:         big.NewInt(10),
		MinViableStake:        big.NewInt(100),
	}
}

func newTestPool(t *testing.T, ps Params) (*Pool, *staking.Sim) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sctx := storage.NewContext(state.New(db))
	sim := staking.NewSim(startEpoch, 500) // 5% yield per epoch
	p := New(sctx, sim)
	require.NoError(t, p.Initialize(ps))
	return p, sim
}

// addValidator registers the identity on the sim and in the pool.
func addValidator(t *testing.T, p *Pool, sim *staking.Sim, id harbor.ValidatorID, n byte) {
	sim.Register(ident(n), 0)
	require.NoError(t, p.AddValidator(id, ident(n)))
}

func crank(t *testing.T, p *Pool, block uint64) *CrankResult {
	res, err := p.Crank(block, 64)
	require.NoError(t, err)
	return res
}

func TestCrankNoOpWithoutNewEpoch(t *testing.T) {
	p, _ := newTestPool(t, baseParams())

	res := crank(t, p, 1)
	assert.False(t, res.Advanced)
	assert.True(t, res.Complete)
	assert.Equal(t, 0, res.Processed)

	idx, err := p.EpochIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)
}

func TestDepositStakesThroughCrank(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)

	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()

	res := crank(t, p, 10)
	assert.True(t, res.Advanced)
	assert.True(t, res.Complete)
	assert.Equal(t, 2, res.Processed) // placeholder + validator

	assert.Equal(t, big.NewInt(1000), sim.StakeOf(ident(1)))
	staked, err := p.Ledger().Staked()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), staked)

	stats, err := p.Stats(4)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), stats.TargetStake)
	assert.Equal(t, big.NewInt(1000), stats.PendingStake)

	equity, err := p.TotalEquity()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), equity)

	// repeating within the same external epoch changes nothing
	res = crank(t, p, 11)
	assert.False(t, res.Advanced)
	assert.True(t, res.Complete)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, big.NewInt(1000), sim.StakeOf(ident(1)))
}

func TestPartialRoundResumes(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)
	addValidator(t, p, sim, 5, 2)

	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()

	res, err := p.Crank(10, 1)
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.False(t, res.Complete)
	assert.Equal(t, 1, res.Processed)

	res, err = p.Crank(11, 64)
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.True(t, res.Complete)
	assert.Equal(t, 2, res.Processed)

	// the queue split evenly across both validators
	assert.Equal(t, big.NewInt(500), sim.StakeOf(ident(1)))
	assert.Equal(t, big.NewInt(500), sim.StakeOf(ident(2)))
}

func TestYieldClaimCompounds(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)
	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()
	crank(t, p, 10)

	// one epoch of 5% yield on 1000
	sim.AdvanceEpoch()
	crank(t, p, 20)

	q, err := p.QueueAt(0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(50), q.ToStake)
	rw, err := p.RewardsAt(0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(50), rw.EarnedRevenue)

	// the claimed yield is staked on the following crank
	sim.AdvanceEpoch()
	crank(t, p, 30)
	assert.Equal(t, big.NewInt(1050), sim.StakeOf(ident(1)))
	staked, err := p.Ledger().Staked()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1050), staked)
}

func TestYieldCommissionAccrues(t *testing.T) {
	ps := baseParams()
	ps.StakingCommissionBps = 1000 // 10%
	p, sim := newTestPool(t, ps)
	addValidator(t, p, sim, 4, 1)
	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()
	crank(t, p, 10)

	sim.AdvanceEpoch()
	crank(t, p, 20)

	fee, err := p.Ledger().CommissionPayable()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), fee)
	q, err := p.QueueAt(0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(45), q.ToStake)
}

func TestQueuedUnstakeLifecycle(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)
	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch() // 101
	crank(t, p, 10)

	require.NoError(t, p.AfterRequestUnstake(big.NewInt(300)))
	redemptions, err := p.Ledger().RedemptionsPayable()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(300), redemptions)

	sim.AdvanceEpoch() // 102: the unstake is initiated
	crank(t, p, 20)
	assert.Equal(t, big.NewInt(700), sim.StakeOf(ident(1)))
	stats, err := p.Stats(4)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(300), stats.PendingUnstake)

	sim.AdvanceEpoch() // 103: not matured yet
	crank(t, p, 30)
	stats, err = p.Stats(4)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(300), stats.PendingUnstake)
	reserved, err := p.Ledger().Reserved()
	require.NoError(t, err)
	assert.Equal(t, int64(0), reserved.Int64())

	sim.AdvanceEpoch() // 104: matured, proceeds reserved
	crank(t, p, 40)
	stats, err = p.Stats(4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingUnstake.Int64())
	reserved, err = p.Ledger().Reserved()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(300), reserved)

	require.NoError(t, p.BeforeCompleteUnstake(big.NewInt(300)))
	redemptions, err = p.Ledger().RedemptionsPayable()
	require.NoError(t, err)
	assert.Equal(t, int64(0), redemptions.Int64())
}

func TestBoundaryDelaysSettlement(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)
	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch() // 101
	crank(t, p, 10)

	require.NoError(t, p.AfterRequestUnstake(big.NewInt(300)))
	sim.SetBoundary(true)
	sim.AdvanceEpoch() // 102: initiated inside the boundary window
	crank(t, p, 20)
	sim.SetBoundary(false)

	// 103, 104: one extra epoch of delay
	for i := 0; i < 2; i++ {
		sim.AdvanceEpoch()
		crank(t, p, 30+uint64(i))
		reserved, err := p.Ledger().Reserved()
		require.NoError(t, err)
		assert.Equal(t, int64(0), reserved.Int64())
	}

	sim.AdvanceEpoch() // 105: matured
	crank(t, p, 40)
	reserved, err := p.Ledger().Reserved()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(300), reserved)
	stats, err := p.Stats(4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingUnstake.Int64())
}

func TestDeactivatedValidatorFullyExits(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)
	addValidator(t, p, sim, 5, 2)
	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()
	crank(t, p, 10)
	assert.Equal(t, big.NewInt(500), sim.StakeOf(ident(1)))

	require.NoError(t, p.RemoveValidator(4))
	sim.AdvanceEpoch()
	crank(t, p, 20)
	// the entire delegation was pulled, not a queue share
	assert.Equal(t, int64(0), sim.StakeOf(ident(1)).Int64())

	active, err := p.ActiveValidators()
	require.NoError(t, err)
	assert.Equal(t, []harbor.ValidatorID{5}, active)

	// too early: the deactivation delay has not passed
	assert.Error(t, p.CompleteValidatorRemoval(4))

	for i := 0; i < 3; i++ {
		sim.AdvanceEpoch()
		crank(t, p, 30+uint64(i))
	}
	require.NoError(t, p.CompleteValidatorRemoval(4))
	entry, err := p.Registry().Get(4)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestFreezeAndCloseGates(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)

	require.NoError(t, p.Freeze())
	_, err := p.Crank(1, 64)
	assert.ErrorIs(t, err, poolerr.ErrFrozen)
	assert.ErrorIs(t, p.AccountForWithdraw(big.NewInt(1), big.NewInt(0), 1), poolerr.ErrFrozen)
	assert.ErrorIs(t, p.AfterRequestUnstake(big.NewInt(1)), poolerr.ErrFrozen)
	// deposits stay open while frozen
	assert.NoError(t, p.AccountForDeposit(big.NewInt(10)))
	require.NoError(t, p.Unfreeze())

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.AccountForDeposit(big.NewInt(10)), poolerr.ErrClosed)
	// winding down: redemptions keep working
	assert.NoError(t, p.AfterRequestUnstake(big.NewInt(1)))
	require.NoError(t, p.Reopen())
	assert.NoError(t, p.AccountForDeposit(big.NewInt(10)))
}

func TestAtomicPoolPricing(t *testing.T) {
	units := func(n int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
	}
	ps := baseParams()
	ps.TargetLiquidityPct = big.NewInt(2e17) // 20%
	p, sim := newTestPool(t, ps)
	addValidator(t, p, sim, 4, 1)
	require.NoError(t, p.AccountForDeposit(units(1000)))
	sim.AdvanceEpoch()
	crank(t, p, 10)

	// 20% of equity funds the atomic pool, the rest is staked
	assert.Equal(t, units(800), sim.StakeOf(ident(1)))
	liq, err := p.LiquiditySnapshot(10)
	require.NoError(t, err)
	assert.Equal(t, units(200), liq.Target)
	assert.Equal(t, units(200), liq.Available)
	assert.Equal(t, 0, liq.Utilization.Sign())

	// gross 100 over u ∈ [0, 0.5]: avg rate 0.001 + 0.05·0.25 = 0.0135
	quote, err := p.QuoteNetGivenGross(units(100), 10)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(135e16), quote.Fee)
	assert.Equal(t, new(big.Int).Sub(units(100), big.NewInt(135e16)), quote.Net)

	require.NoError(t, p.AccountForWithdraw(quote.Net, quote.Fee, 10))
	util, err := p.Ledger().Utilization()
	require.NoError(t, err)
	assert.True(t, util.Sign() > 0)
	rate, err := p.MarginalRate()
	require.NoError(t, err)
	assert.True(t, rate.Cmp(big.NewInt(1e15)) > 0)

	// the exit fee is realized revenue of the epoch
	rw, err := p.RewardsAt(0)
	require.NoError(t, err)
	assert.Equal(t, quote.Fee, rw.EarnedRevenue)
}

func TestGoodwillSwept(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)
	require.NoError(t, p.AccountForDeposit(big.NewInt(500)))
	p.SetBalanceProvider(func() (*big.Int, error) {
		return big.NewInt(577), nil
	})

	sim.AdvanceEpoch()
	crank(t, p, 10)

	// 77 above the tracked balance was adopted and staked with the rest
	assert.Equal(t, big.NewInt(577), sim.StakeOf(ident(1)))
}

func TestRewardAttributionAndPayout(t *testing.T) {
	ps := baseParams()
	ps.StakingCommissionBps = 1000 // 10%
	p, sim := newTestPool(t, ps)
	addValidator(t, p, sim, 4, 1)
	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()
	crank(t, p, 10)

	payout, fee, err := p.HandleValidatorRewards(ident(1), big.NewInt(40))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(36), payout)
	assert.Equal(t, big.NewInt(4), fee)
	stats, err := p.Stats(4)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(36), stats.RewardsPayable)

	// an unknown identity parks the obligation on the placeholder
	_, _, err = p.HandleValidatorRewards(ident(9), big.NewInt(40))
	require.NoError(t, err)
	ph, err := p.Stats(harbor.PlaceholderID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(36), ph.RewardsPayable)

	// the next crank pays the validator out of claimed yield
	sim.AdvanceEpoch() // accrues 50, nets 45 after commission
	crank(t, p, 20)
	stats, err = p.Stats(4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.RewardsPayable.Int64())
	payable, err := p.Ledger().RewardsPayable()
	require.NoError(t, err)
	// the placeholder's share stays owed
	assert.Equal(t, big.NewInt(36), payable)

	q, err := p.QueueAt(0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9), q.ToStake) // 45 claimed - 36 paid

	// accrued commission: 4 + 4 from rewards, 5 from the yield claim
	payableFee, err := p.Ledger().CommissionPayable()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(13), payableFee)
	require.NoError(t, p.CollectCommission(big.NewInt(9)))
	payableFee, err = p.Ledger().CommissionPayable()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(4), payableFee)
}

func TestEquityConservedAcrossCranks(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)
	addValidator(t, p, sim, 5, 2)
	require.NoError(t, p.AccountForDeposit(big.NewInt(10000)))

	prev, err := p.TotalEquity()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10000), prev)

	// no external in/outflows: equity only grows, by claimed yield
	for i := 0; i < 5; i++ {
		sim.AdvanceEpoch()
		crank(t, p, 10+uint64(i))
		equity, err := p.TotalEquity()
		require.NoError(t, err)
		assert.True(t, equity.Cmp(prev) >= 0, "equity shrank: %s -> %s", prev, equity)
		prev = equity
	}
	assert.True(t, prev.Cmp(big.NewInt(10000)) > 0)
}

func TestAddValidatorPrimesRingHistory(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)

	base, err := p.EpochRecordAt(0)
	require.NoError(t, err)
	idx, err := p.EpochIndex()
	require.NoError(t, err)

	ring := p.validatorRing(4)
	for off := harbor.MinEpochOffset; off <= 1; off++ {
		rec, err := ring.Record(idx, off)
		require.NoError(t, err)
		assert.Equal(t, uint64(int64(base.Epoch)+int64(off)), rec.Epoch, "offset %d", off)
		assert.Equal(t, off <= 0, rec.WasCranked, "offset %d", off)
	}
}

func TestMixedHistoryRoundConsumesQueueOnce(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	addValidator(t, p, sim, 4, 1)
	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()
	crank(t, p, 10)
	// yield epochs give the incumbent revenue history
	sim.AdvanceEpoch()
	crank(t, p, 20)
	sim.AdvanceEpoch()
	crank(t, p, 30)

	// a fresh validator joins alongside a large deposit: the incumbent's
	// revenue share and the newcomer's even-split fallback must share one
	// queue, not each take their cut of it
	addValidator(t, p, sim, 5, 2)
	require.NoError(t, p.AccountForDeposit(big.NewInt(950)))

	before := new(big.Int).Add(sim.StakeOf(ident(1)), sim.StakeOf(ident(2)))
	q, err := p.QueueAt(0)
	require.NoError(t, err)
	queued := new(big.Int).Set(q.ToStake)

	sim.AdvanceEpoch()
	crank(t, p, 40)

	after := new(big.Int).Add(sim.StakeOf(ident(1)), sim.StakeOf(ident(2)))
	moved := new(big.Int).Sub(after, before)
	assert.True(t, moved.Cmp(queued) <= 0, "staked %s from a queue of %s", moved, queued)

	staked, err := p.Ledger().Staked()
	require.NoError(t, err)
	assert.Equal(t, after, staked)
}

func TestRetargetConservesEquity(t *testing.T) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sctx := storage.NewContext(state.New(db))
	sim := staking.NewSim(startEpoch, 0) // no yield: equity must hold exactly
	p := New(sctx, sim)
	require.NoError(t, p.Initialize(baseParams()))
	addValidator(t, p, sim, 4, 1)

	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()
	crank(t, p, 10)

	// growing the atomic pool after everything is staked forces unstakes
	// whose proceeds fill allocation credited at retarget time
	require.NoError(t, p.SetTargetLiquidityPct(big.NewInt(2e17))) // 20%
	for i := uint64(0); i < 4; i++ {
		sim.AdvanceEpoch()
		crank(t, p, 20+10*i)
		equity, err := p.TotalEquity()
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(1000), equity, "round %d", i)
	}
	liq, err := p.LiquiditySnapshot(60)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200), liq.Target)
	pending, err := p.Ledger().PendingAllocation()
	require.NoError(t, err)
	assert.Equal(t, 0, pending.Sign())
	assert.Equal(t, big.NewInt(800), sim.StakeOf(ident(1)))

	// shrinking back releases the cash into the staking queue
	require.NoError(t, p.SetTargetLiquidityPct(new(big.Int)))
	for i := uint64(0); i < 2; i++ {
		sim.AdvanceEpoch()
		crank(t, p, 70+10*i)
		equity, err := p.TotalEquity()
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(1000), equity, "shrink round %d", i)
	}
	assert.Equal(t, big.NewInt(1000), sim.StakeOf(ident(1)))
}

func TestCrankReady(t *testing.T) {
	p, sim := newTestPool(t, baseParams())
	ready, err := p.CrankReady()
	require.NoError(t, err)
	assert.False(t, ready)

	sim.AdvanceEpoch()
	ready, err = p.CrankReady()
	require.NoError(t, err)
	assert.True(t, ready)

	crank(t, p, 10)
	ready, err = p.CrankReady()
	require.NoError(t, err)
	assert.False(t, ready)
}
