// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/pool/pct"
	"github.com/harborlabs/harbor/storage"
)

var (
	slotTargetLiquidityPct = harbor.BytesToBytes32([]byte("cfg-target-liquidity-pct"))
	slotSensitivityBandPct = harbor.BytesToBytes32([]byte("cfg-sensitivity-band-pct"))
	slotCurveIntercept     = harbor.BytesToBytes32([]byte("cfg-curve-intercept"))
	slotCurveSlope         = harbor.BytesToBytes32([]byte("cfg-curve-slope"))
	slotStakingCommission  = harbor.BytesToBytes32([]byte("cfg-staking-commission-bps"))
	slotBoostCommission    = harbor.BytesToBytes32([]byte("cfg-boost-commission-bps"))
	slotIncentivePct       = harbor.BytesToBytes32([]byte("cfg-incentive-alignment-pct"))
	slotFrozen             = harbor.BytesToBytes32([]byte("cfg-frozen"))
	slotClosed             = harbor.BytesToBytes32([]byte("cfg-closed"))
	slotEpochSpanBlocks    = harbor.BytesToBytes32([]byte("cfg-epoch-span-blocks"))
	slotDustThreshold      = harbor.BytesToBytes32([]byte("cfg-dust-threshold"))
	slotMinViableStake     = harbor.BytesToBytes32([]byte("cfg-min-viable-stake"))
)

// config bundles the admin-settable parameter slots.
type config struct {
	targetLiquidityPct *storage.Uint256
	sensitivityBandPct *storage.Uint256
	curveIntercept     *storage.Uint256
	curveSlope         *storage.Uint256
	stakingCommission  *storage.Raw[uint32]
	boostCommission    *storage.Raw[uint32]
	incentivePct       *storage.Uint256
	frozen             *storage.Raw[bool]
	closed             *storage.Raw[bool]
	epochSpanBlocks    *storage.Raw[uint64]
	dustThreshold      *storage.Uint256
	minViableStake     *storage.Uint256
}

func newConfig(sctx *storage.Context) *config {
	return &config{
		targetLiquidityPct: storage.NewUint256(sctx, slotTargetLiquidityPct),
		sensitivityBandPct: storage.NewUint256(sctx, slotSensitivityBandPct),
		curveIntercept:     storage.NewUint256(sctx, slotCurveIntercept),
		curveSlope:         storage.NewUint256(sctx, slotCurveSlope),
		stakingCommission:  storage.NewRaw[uint32](sctx, slotStakingCommission),
		boostCommission:    storage.NewRaw[uint32](sctx, slotBoostCommission),
		incentivePct:       storage.NewUint256(sctx, slotIncentivePct),
		frozen:             storage.NewRaw[bool](sctx, slotFrozen),
		closed:             storage.NewRaw[bool](sctx, slotClosed),
		epochSpanBlocks:    storage.NewRaw[uint64](sctx, slotEpochSpanBlocks),
		dustThreshold:      storage.NewUint256(sctx, slotDustThreshold),
		minViableStake:     storage.NewUint256(sctx, slotMinViableStake),
	}
}

func validatePct(v *big.Int) error {
	if v.Sign() < 0 || v.Cmp(pct.Scale) > 0 {
		return errors.Errorf("scaled percentage %s out of range", v)
	}
	return nil
}

func validateBps(v uint32) error {
	if v > pct.BpsDenominator {
		return errors.Errorf("basis points %d out of range", v)
	}
	return nil
}
