// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package harbor

import (
	"encoding/binary"
	"fmt"
)

// ValidatorID identifies a validator record in the registry arena.
// IDs below FirstUserID are reserved.
type ValidatorID uint64

const (
	// NoID is the zero value, never a valid record.
	NoID = ValidatorID(0)
	// HeadID is the sentinel at the head of the crank order.
	HeadID = ValidatorID(1)
	// TailID is the sentinel at the tail of the crank order.
	TailID = ValidatorID(2)
	// PlaceholderID aggregates revenue that cannot be attributed to an
	// active validator, so it does not dilute real validators' weights.
	PlaceholderID = ValidatorID(3)
	// FirstUserID is the lowest id assignable to a real validator.
	FirstUserID = ValidatorID(4)
)

// Bytes returns the big-endian byte form, used as a storage mapping key.
func (id ValidatorID) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

// IsSentinel reports whether id is one of the two linked-list sentinels.
func (id ValidatorID) IsSentinel() bool {
	return id == HeadID || id == TailID
}

// IsReserved reports whether id is not assignable to a real validator.
func (id ValidatorID) IsReserved() bool {
	return id < FirstUserID
}

// String implements stringer.
func (id ValidatorID) String() string {
	switch id {
	case NoID:
		return "none"
	case HeadID:
		return "head"
	case TailID:
		return "tail"
	case PlaceholderID:
		return "placeholder"
	default:
		return fmt.Sprintf("validator-%d", uint64(id))
	}
}
