// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/pool"
	"github.com/harborlabs/harbor/pool/epochring"
	"github.com/harborlabs/harbor/pool/feecurve"
)

// Liquidity is the JSON view of the atomic exit pool.
type Liquidity struct {
	Target      *math.HexOrDecimal256 `json:"target"`
	Available   *math.HexOrDecimal256 `json:"available"`
	Utilization *math.HexOrDecimal256 `json:"utilization"`
}

func convertLiquidity(liq *pool.Liquidity) *Liquidity {
	return &Liquidity{
		Target:      (*math.HexOrDecimal256)(liq.Target),
		Available:   (*math.HexOrDecimal256)(liq.Available),
		Utilization: (*math.HexOrDecimal256)(liq.Utilization),
	}
}

// Quote is the JSON view of an atomic-unstake pricing.
type Quote struct {
	Gross *math.HexOrDecimal256 `json:"gross"`
	Fee   *math.HexOrDecimal256 `json:"fee"`
	Net   *math.HexOrDecimal256 `json:"net"`
}

func convertQuote(q feecurve.Quote) *Quote {
	return &Quote{
		Gross: (*math.HexOrDecimal256)(q.Gross),
		Fee:   (*math.HexOrDecimal256)(q.Fee),
		Net:   (*math.HexOrDecimal256)(q.Net),
	}
}

// Epoch reports where the pool stands relative to the staking service.
type Epoch struct {
	Index       uint64                `json:"index"`
	External    uint64                `json:"external"`
	InBoundary  bool                  `json:"inBoundary"`
	CrankReady  bool                  `json:"crankReady"`
	TargetStake *math.HexOrDecimal256 `json:"targetStake"`
}

// Validator is the JSON view of one registry entry and its ring.
type Validator struct {
	ID                 uint64                `json:"id"`
	Identity           harbor.Bytes32        `json:"identity"`
	IsActive           bool                  `json:"isActive"`
	InActiveSetCurrent bool                  `json:"inActiveSetCurrent"`
	InActiveSetLast    bool                  `json:"inActiveSetLast"`
	TargetStake        *math.HexOrDecimal256 `json:"targetStake"`
	DelegatedStake     *math.HexOrDecimal256 `json:"delegatedStake"`
	PendingStake       *math.HexOrDecimal256 `json:"pendingStake"`
	PendingUnstake     *math.HexOrDecimal256 `json:"pendingUnstake"`
	RewardsPayable     *math.HexOrDecimal256 `json:"rewardsPayable"`
	EarnedRevenueLast  *math.HexOrDecimal256 `json:"earnedRevenueLast"`
	EligibilityMarker  uint64                `json:"eligibilityMarker"`
}

func convertValidator(st *pool.ValidatorStats) *Validator {
	return &Validator{
		ID:                 uint64(st.ID),
		Identity:           st.Identity,
		IsActive:           st.IsActive,
		InActiveSetCurrent: st.InActiveSetCurrent,
		InActiveSetLast:    st.InActiveSetLast,
		TargetStake:        (*math.HexOrDecimal256)(st.TargetStake),
		DelegatedStake:     (*math.HexOrDecimal256)(st.DelegatedStake),
		PendingStake:       (*math.HexOrDecimal256)(st.PendingStake),
		PendingUnstake:     (*math.HexOrDecimal256)(st.PendingUnstake),
		RewardsPayable:     (*math.HexOrDecimal256)(st.RewardsPayable),
		EarnedRevenueLast:  (*math.HexOrDecimal256)(st.EarnedRevenueLast),
		EligibilityMarker:  st.EligibilityMarker,
	}
}

// Slot is one ring slot of the global epoch ring.
type Slot struct {
	Offset         int                   `json:"offset"`
	Epoch          uint64                `json:"epoch"`
	WasCranked     bool                  `json:"wasCranked"`
	TargetStake    *math.HexOrDecimal256 `json:"targetStake"`
	ToStake        *math.HexOrDecimal256 `json:"toStake"`
	ForUnstake     *math.HexOrDecimal256 `json:"forUnstake"`
	RewardsPayable *math.HexOrDecimal256 `json:"rewardsPayable"`
	EarnedRevenue  *math.HexOrDecimal256 `json:"earnedRevenue"`
}

func convertSlot(offset int, rec *epochring.EpochRecord, q *epochring.CashFlowQueue, rl *epochring.RewardLedger) *Slot {
	return &Slot{
		Offset:         offset,
		Epoch:          rec.Epoch,
		WasCranked:     rec.WasCranked,
		TargetStake:    (*math.HexOrDecimal256)(rec.TargetStake),
		ToStake:        (*math.HexOrDecimal256)(q.ToStake),
		ForUnstake:     (*math.HexOrDecimal256)(q.ForUnstake),
		RewardsPayable: (*math.HexOrDecimal256)(rl.RewardsPayable),
		EarnedRevenue:  (*math.HexOrDecimal256)(rl.EarnedRevenue),
	}
}

// Equity is the pool-wide balance sheet summary.
type Equity struct {
	Total        *math.HexOrDecimal256 `json:"total"`
	MarginalRate *math.HexOrDecimal256 `json:"marginalRate"`
}

func convertEquity(total, rate *big.Int) *Equity {
	return &Equity{
		Total:        (*math.HexOrDecimal256)(total),
		MarginalRate: (*math.HexOrDecimal256)(rate),
	}
}
