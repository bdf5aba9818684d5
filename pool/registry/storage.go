// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/storage"
)

var (
	slotValidators  = harbor.BytesToBytes32([]byte("registry-validators"))
	slotIdentities  = harbor.BytesToBytes32([]byte("registry-identities"))
	slotEligibility = harbor.BytesToBytes32([]byte("registry-eligibility"))
	slotActiveCount = harbor.BytesToBytes32([]byte("registry-active-count"))
)

// ValidatorData is the arena record for one validator id. Prev and Next
// link the crank order; a zero id means unlinked.
type ValidatorData struct {
	Identity           harbor.Bytes32
	Epoch              uint64
	IsActive           bool
	InActiveSetCurrent bool
	InActiveSetLast    bool
	CurrentEpochIndex  uint64
	Prev               harbor.ValidatorID
	Next               harbor.ValidatorID
}

type repository struct {
	validators  *storage.Mapping[harbor.ValidatorID, ValidatorData]
	identities  *storage.Mapping[harbor.Bytes32, uint64]
	eligibility *storage.Mapping[harbor.ValidatorID, uint64]
	activeCount *storage.Raw[uint64]
}

func newRepository(sctx *storage.Context) *repository {
	return &repository{
		validators:  storage.NewMapping[harbor.ValidatorID, ValidatorData](sctx, slotValidators),
		identities:  storage.NewMapping[harbor.Bytes32, uint64](sctx, slotIdentities),
		eligibility: storage.NewMapping[harbor.ValidatorID, uint64](sctx, slotEligibility),
		activeCount: storage.NewRaw[uint64](sctx, slotActiveCount),
	}
}

func (r *repository) get(id harbor.ValidatorID) (*ValidatorData, error) {
	ok, err := r.validators.Has(id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to probe validator")
	}
	if !ok {
		return nil, nil
	}
	v, err := r.validators.Get(id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get validator")
	}
	return &v, nil
}

func (r *repository) set(id harbor.ValidatorID, entry *ValidatorData) error {
	if err := r.validators.Set(id, *entry); err != nil {
		return errors.Wrap(err, "failed to set validator")
	}
	return nil
}

func (r *repository) delete(id harbor.ValidatorID) {
	r.validators.Delete(id)
}

func (r *repository) idByIdentity(identity harbor.Bytes32) (harbor.ValidatorID, error) {
	ok, err := r.identities.Has(identity)
	if err != nil {
		return harbor.NoID, errors.Wrap(err, "failed to probe identity")
	}
	if !ok {
		return harbor.NoID, nil
	}
	id, err := r.identities.Get(identity)
	if err != nil {
		return harbor.NoID, errors.Wrap(err, "failed to get identity link")
	}
	return harbor.ValidatorID(id), nil
}

func (r *repository) linkIdentity(identity harbor.Bytes32, id harbor.ValidatorID) error {
	if err := r.identities.Set(identity, uint64(id)); err != nil {
		return errors.Wrap(err, "failed to link identity")
	}
	return nil
}

func (r *repository) unlinkIdentity(identity harbor.Bytes32) {
	r.identities.Delete(identity)
}

func (r *repository) marker(id harbor.ValidatorID) (uint64, error) {
	m, err := r.eligibility.Get(id)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get eligibility marker")
	}
	return m, nil
}

func (r *repository) setMarker(id harbor.ValidatorID, epoch uint64) error {
	if err := r.eligibility.Set(id, epoch); err != nil {
		return errors.Wrap(err, "failed to set eligibility marker")
	}
	return nil
}

func (r *repository) getActiveCount() (uint64, error) {
	n, err := r.activeCount.Get()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get active count")
	}
	return n, nil
}

func (r *repository) setActiveCount(n uint64) error {
	if err := r.activeCount.Put(n); err != nil {
		return errors.Wrap(err, "failed to set active count")
	}
	return nil
}
