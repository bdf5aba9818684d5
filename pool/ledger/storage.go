// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/storage"
)

var (
	slotWorkingStaked   = harbor.BytesToBytes32([]byte("ledger-working-staked"))
	slotWorkingReserved = harbor.BytesToBytes32([]byte("ledger-working-reserved"))

	slotRewardsPayable     = harbor.BytesToBytes32([]byte("ledger-rewards-payable"))
	slotRedemptionsPayable = harbor.BytesToBytes32([]byte("ledger-redemptions-payable"))
	slotCommissionPayable  = harbor.BytesToBytes32([]byte("ledger-commission-payable"))

	slotAtomicAllocated   = harbor.BytesToBytes32([]byte("ledger-atomic-allocated"))
	slotAtomicDistributed = harbor.BytesToBytes32([]byte("ledger-atomic-distributed"))
	slotAtomicPending     = harbor.BytesToBytes32([]byte("ledger-atomic-pending"))

	slotSmoother = harbor.BytesToBytes32([]byte("ledger-revenue-smoother"))
)

// Smoother amortizes the prior epoch's realized revenue linearly over the
// following epoch's expected block span.
type Smoother struct {
	EarnedRevenueLast *big.Int
	EpochChangeBlock  uint64
}

// accounts bundles the ledger's balance-sheet slots.
type accounts struct {
	staked   *storage.Uint256
	reserved *storage.Uint256

	rewardsPayable     *storage.Uint256
	redemptionsPayable *storage.Uint256
	commissionPayable  *storage.Uint256

	allocated   *storage.Uint256
	distributed *storage.Uint256
	pending     *storage.Uint256

	smoother *storage.Raw[Smoother]
}

func newAccounts(sctx *storage.Context) *accounts {
	return &accounts{
		staked:             storage.NewUint256(sctx, slotWorkingStaked),
		reserved:           storage.NewUint256(sctx, slotWorkingReserved),
		rewardsPayable:     storage.NewUint256(sctx, slotRewardsPayable),
		redemptionsPayable: storage.NewUint256(sctx, slotRedemptionsPayable),
		commissionPayable:  storage.NewUint256(sctx, slotCommissionPayable),
		allocated:          storage.NewUint256(sctx, slotAtomicAllocated),
		distributed:        storage.NewUint256(sctx, slotAtomicDistributed),
		pending:            storage.NewUint256(sctx, slotAtomicPending),
		smoother:           storage.NewRaw[Smoother](sctx, slotSmoother),
	}
}

func (a *accounts) getSmoother() (*Smoother, error) {
	s, err := a.smoother.Get()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get revenue smoother")
	}
	if s.EarnedRevenueLast == nil {
		s.EarnedRevenueLast = new(big.Int)
	}
	return &s, nil
}

func (a *accounts) setSmoother(s *Smoother) error {
	cp := *s
	if cp.EarnedRevenueLast == nil {
		cp.EarnedRevenueLast = new(big.Int)
	}
	if err := a.smoother.Put(cp); err != nil {
		return errors.Wrap(err, "failed to set revenue smoother")
	}
	return nil
}
