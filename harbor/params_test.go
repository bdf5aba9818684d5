// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package harbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingIndex(t *testing.T) {
	assert.Equal(t, 0, RingIndex(0, 0))
	assert.Equal(t, 3, RingIndex(0, -2))
	assert.Equal(t, 2, RingIndex(0, 2))
	assert.Equal(t, 0, RingIndex(5, 0))
	assert.Equal(t, 1, RingIndex(103, -2))
	assert.Equal(t, 0, RingIndex(103, 2))

	// consecutive epochs at the same offset land on adjacent slots
	for off := MinEpochOffset; off <= MaxEpochOffset; off++ {
		a := RingIndex(41, off)
		b := RingIndex(42, off)
		assert.Equal(t, (a+1)%RingDepth, b)
	}

	// advancing one epoch reuses exactly the old -2 slot for the new +2
	assert.Equal(t, RingIndex(41, MinEpochOffset), RingIndex(42, MaxEpochOffset))
}

func TestValidatorID(t *testing.T) {
	assert.True(t, HeadID.IsSentinel())
	assert.True(t, TailID.IsSentinel())
	assert.False(t, PlaceholderID.IsSentinel())
	assert.False(t, NoID.IsSentinel())

	assert.True(t, NoID.IsReserved())
	assert.True(t, PlaceholderID.IsReserved())
	assert.False(t, FirstUserID.IsReserved())

	assert.Equal(t, "placeholder", PlaceholderID.String())
	assert.Equal(t, "validator-7", ValidatorID(7).String())

	// big-endian key form preserves ordering
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 4}, FirstUserID.Bytes())
}
