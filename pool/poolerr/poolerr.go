// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package poolerr defines the loud failure modes of the accounting engine.
// An invariant error is never retried internally: the condition is expected
// to resolve only after a future crank replenishes liquidity.
package poolerr

import "errors"

var (
	// ErrInsufficientLiquidity is returned when an instant exit cannot be
	// covered by the atomic pool even after growing its allocation.
	ErrInsufficientLiquidity = errors.New("insufficient instant liquidity")

	// ErrInsufficientReserve is returned when a redemption completion finds
	// less reserved liquidity than was promised. This indicates an ordering
	// violation, not a user error: redemptions must have been reserved
	// during a prior crank.
	ErrInsufficientReserve = errors.New("insufficient reserved liquidity")

	// ErrReentrancy is returned when an accounting hook is entered while
	// settlement is in progress.
	ErrReentrancy = errors.New("reentrant ledger access")

	// ErrFrozen is returned when the crank or a withdrawal path is gated
	// by the freeze flag.
	ErrFrozen = errors.New("pool is frozen")

	// ErrClosed is returned when an operation is attempted on a closed pool.
	ErrClosed = errors.New("pool is closed")
)

// IsInvariant reports whether err is one of the invariant violations that
// must surface to the immediate caller unwrapped.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInsufficientLiquidity) ||
		errors.Is(err, ErrInsufficientReserve) ||
		errors.Is(err, ErrReentrancy)
}
