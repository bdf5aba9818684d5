// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/lvldb"
	"github.com/harborlabs/harbor/state"
	"github.com/harborlabs/harbor/storage"
)

type testHooks struct {
	known   map[harbor.Bytes32]bool
	primed  []harbor.ValidatorID
	cleared []harbor.ValidatorID
}

func newService(t *testing.T) (*Service, *testHooks) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hooks := &testHooks{known: map[harbor.Bytes32]bool{}}
	svc := New(storage.NewContext(state.New(db)), Hooks{
		Verify: func(identity harbor.Bytes32) (bool, error) {
			return hooks.known[identity], nil
		},
		PrimeRing: func(id harbor.ValidatorID, _ uint64) error {
			hooks.primed = append(hooks.primed, id)
			return nil
		},
		ClearRing: func(id harbor.ValidatorID) {
			hooks.cleared = append(hooks.cleared, id)
		},
	})
	return svc, hooks
}

func identity(n byte) harbor.Bytes32 {
	return harbor.BytesToBytes32([]byte{n})
}

func TestAddRejectsReservedIDs(t *testing.T) {
	svc, _ := newService(t)

	assert.Error(t, svc.Add(harbor.NoID, identity(1), 1))
	assert.Error(t, svc.Add(harbor.HeadID, identity(1), 1))
	assert.Error(t, svc.Add(harbor.TailID, identity(1), 1))
}

func TestAddRequiresExistenceProof(t *testing.T) {
	svc, hooks := newService(t)

	err := svc.Add(harbor.FirstUserID, identity(1), 1)
	assert.Error(t, err)

	hooks.known[identity(1)] = true
	require.NoError(t, svc.Add(harbor.FirstUserID, identity(1), 1))
	assert.Equal(t, []harbor.ValidatorID{harbor.FirstUserID}, hooks.primed)
}

func TestAddPlaceholderSkipsProof(t *testing.T) {
	svc, _ := newService(t)

	require.NoError(t, svc.Add(harbor.PlaceholderID, harbor.Bytes32{}, 1))

	first, err := svc.First()
	require.NoError(t, err)
	assert.Equal(t, harbor.PlaceholderID, first)
}

func TestAddRejectsDuplicateIDAndIdentity(t *testing.T) {
	svc, hooks := newService(t)
	hooks.known[identity(1)] = true
	hooks.known[identity(2)] = true

	require.NoError(t, svc.Add(harbor.FirstUserID, identity(1), 1))

	// same id again
	assert.Error(t, svc.Add(harbor.FirstUserID, identity(2), 1))
	// same identity under a fresh id
	assert.Error(t, svc.Add(harbor.FirstUserID+1, identity(1), 1))
}

func TestCrankOrderIsInsertionOrder(t *testing.T) {
	svc, hooks := newService(t)
	ids := []harbor.ValidatorID{4, 5, 6}
	for i, id := range ids {
		hooks.known[identity(byte(i + 1))] = true
		require.NoError(t, svc.Add(id, identity(byte(i+1)), 1))
	}

	var walked []harbor.ValidatorID
	cur, err := svc.First()
	require.NoError(t, err)
	for cur != harbor.NoID {
		walked = append(walked, cur)
		cur, err = svc.NextAfter(cur)
		require.NoError(t, err)
	}
	assert.Equal(t, ids, walked)

	count, err := svc.ActiveCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestDeactivationLifecycle(t *testing.T) {
	svc, hooks := newService(t)
	hooks.known[identity(1)] = true
	hooks.known[identity(2)] = true
	require.NoError(t, svc.Add(4, identity(1), 10))
	require.NoError(t, svc.Add(5, identity(2), 10))

	require.NoError(t, svc.BeginDeactivating(4, 10))

	count, err := svc.ActiveCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	// still in the crank order while deactivating
	first, err := svc.First()
	require.NoError(t, err)
	assert.Equal(t, harbor.ValidatorID(4), first)

	// double deactivation is a violation
	assert.Error(t, svc.BeginDeactivating(4, 10))

	// delay not elapsed
	assert.Error(t, svc.CompleteDeactivating(4, 10+harbor.DeactivationDelayEpochs-1, false))
	// pending escrow blocks removal
	assert.Error(t, svc.CompleteDeactivating(4, 10+harbor.DeactivationDelayEpochs, true))

	require.NoError(t, svc.CompleteDeactivating(4, 10+harbor.DeactivationDelayEpochs, false))
	assert.Equal(t, []harbor.ValidatorID{4}, hooks.cleared)

	// unlinked from the crank order
	first, err = svc.First()
	require.NoError(t, err)
	assert.Equal(t, harbor.ValidatorID(5), first)

	// record gone, id reusable
	entry, err := svc.Get(4)
	require.NoError(t, err)
	assert.Nil(t, entry)
	hooks.known[identity(3)] = true
	require.NoError(t, svc.Add(4, identity(3), 20))

	// the released identity is reusable too
	require.NoError(t, svc.BeginDeactivating(5, 20))
	require.NoError(t, svc.CompleteDeactivating(5, 20+harbor.DeactivationDelayEpochs, false))
	require.NoError(t, svc.Add(6, identity(2), 25))
}

func TestCompleteRequiresInactive(t *testing.T) {
	svc, hooks := newService(t)
	hooks.known[identity(1)] = true
	require.NoError(t, svc.Add(4, identity(1), 10))

	assert.Error(t, svc.CompleteDeactivating(4, 20, false))
}

func TestEligibilityMarker(t *testing.T) {
	svc, _ := newService(t)

	require.NoError(t, svc.Touch(7, 5))
	m, err := svc.Marker(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), m)

	// monotonic: an earlier epoch does not move it back
	require.NoError(t, svc.Touch(7, 3))
	m, err = svc.Marker(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), m)

	require.NoError(t, svc.Touch(7, 9))
	m, err = svc.Marker(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), m)
}

func TestDenullify(t *testing.T) {
	svc, _ := newService(t)

	// zero marker is forced to a non-zero value, even at epoch 0
	require.NoError(t, svc.Denullify(8, 0))
	m, err := svc.Marker(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m)

	// idempotent: a set marker is left alone
	require.NoError(t, svc.Touch(8, 6))
	require.NoError(t, svc.Denullify(8, 99))
	m, err = svc.Marker(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), m)
}
