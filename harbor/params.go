// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package harbor

// Constants of the pool protocol.
const (
	// RingDepth is the number of epoch slots kept per entity. Slots are
	// addressed by signed offset from the current epoch, -2..+2.
	RingDepth = 5
	// MinEpochOffset and MaxEpochOffset bound the addressable window.
	MinEpochOffset = -2
	MaxEpochOffset = 2

	// DeactivationDelayEpochs is the number of epochs a validator must stay
	// inactive before its record can be physically removed.
	DeactivationDelayEpochs uint64 = 3

	// UnstakeSettleEpochs is the number of epochs after which an initiated
	// undelegation becomes withdrawable. Initiations inside the epoch
	// boundary delay window settle one epoch later.
	UnstakeSettleEpochs uint64 = 2
	// StakeSettleEpochs is the number of epochs after which an initiated
	// delegation becomes productive.
	StakeSettleEpochs uint64 = 1
)

// RingIndex rebases a signed offset from the current epoch counter onto a
// ring slot index. Defined explicitly as ((current+offset)%N+N)%N so the
// result is well formed for negative offsets.
func RingIndex(current uint64, offset int) int {
	n := int64(RingDepth)
	i := (int64(current) + int64(offset)) % n
	return int((i + n) % n)
}
