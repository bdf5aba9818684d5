// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package registry keeps the validator arena, the identity links and the
// doubly-linked crank order the scheduler walks. Entries are created with
// synthetic ring history, marked inactive on a deactivation request and
// physically removed only after the deactivation delay has elapsed with no
// pending obligations.
package registry

import (
	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/log"
	"github.com/harborlabs/harbor/storage"
)

var logger = log.WithContext("pkg", "registry")

// Hooks are the pieces of validator lifecycle the registry does not own:
// proof of existence against the external service and per-validator ring
// management owned by the pool.
type Hooks struct {
	// Verify reports whether the identity exists on the external service.
	Verify func(identity harbor.Bytes32) (bool, error)
	// PrimeRing seeds a new validator's epoch ring with synthetic history.
	PrimeRing func(id harbor.ValidatorID, epoch uint64) error
	// ClearRing wipes a removed validator's epoch ring.
	ClearRing func(id harbor.ValidatorID)
}

// Service exposes validator registry operations.
type Service struct {
	repo  *repository
	list  *crankList
	hooks Hooks
}

func New(sctx *storage.Context, hooks Hooks) *Service {
	repo := newRepository(sctx)
	return &Service{
		repo:  repo,
		list:  &crankList{repo: repo},
		hooks: hooks,
	}
}

// Get returns the arena record for id, or nil when absent.
func (s *Service) Get(id harbor.ValidatorID) (*ValidatorData, error) {
	return s.repo.get(id)
}

// Update persists a mutated arena record.
func (s *Service) Update(id harbor.ValidatorID, entry *ValidatorData) error {
	return s.repo.set(id, entry)
}

// IDByIdentity resolves an external identity to its linked id, NoID when
// unlinked.
func (s *Service) IDByIdentity(identity harbor.Bytes32) (harbor.ValidatorID, error) {
	return s.repo.idByIdentity(identity)
}

// ActiveCount returns the number of active validators.
func (s *Service) ActiveCount() (uint64, error) {
	return s.repo.getActiveCount()
}

// First returns the first validator in crank order, NoID for an empty list.
func (s *Service) First() (harbor.ValidatorID, error) {
	return s.list.first()
}

// NextAfter returns the validator following id in crank order.
func (s *Service) NextAfter(id harbor.ValidatorID) (harbor.ValidatorID, error) {
	return s.list.nextAfter(id)
}

// Add registers a validator and links it at the tail of the crank order.
// Sentinel ids, ids still present in the arena and identities already
// linked are rejected. Existence proof against the external service is
// required for every id except the placeholder, which only aggregates
// unattributed revenue and has no external counterpart.
func (s *Service) Add(id harbor.ValidatorID, identity harbor.Bytes32, epoch uint64) error {
	if id == harbor.NoID || id == harbor.HeadID || id == harbor.TailID {
		return errors.Errorf("validator id %v is reserved", id)
	}
	if err := s.list.ensureSentinels(); err != nil {
		return err
	}

	existing, err := s.repo.get(id)
	if err != nil {
		return err
	}
	if existing != nil {
		return errors.Errorf("validator id %v already in use", id)
	}

	if id != harbor.PlaceholderID {
		linked, err := s.repo.idByIdentity(identity)
		if err != nil {
			return err
		}
		if linked != harbor.NoID {
			return errors.Errorf("identity %v already linked to id %v", identity.AbbrevString(), linked)
		}
		ok, err := s.hooks.Verify(identity)
		if err != nil {
			return errors.Wrap(err, "failed to verify validator existence")
		}
		if !ok {
			return errors.Errorf("identity %v unknown to the staking service", identity.AbbrevString())
		}
	}

	entry := &ValidatorData{
		Identity:          identity,
		Epoch:             epoch,
		IsActive:          true,
		CurrentEpochIndex: epoch,
	}
	if err := s.list.linkAtTail(id, entry); err != nil {
		return errors.Wrap(err, "failed to link validator")
	}
	if id != harbor.PlaceholderID {
		if err := s.repo.linkIdentity(identity, id); err != nil {
			return err
		}
	}

	if err := s.hooks.PrimeRing(id, epoch); err != nil {
		return errors.Wrap(err, "failed to prime validator ring")
	}

	// the placeholder absorbs bookkeeping only, it is not stake capacity
	if id != harbor.PlaceholderID {
		count, err := s.repo.getActiveCount()
		if err != nil {
			return err
		}
		if err := s.repo.setActiveCount(count + 1); err != nil {
			return err
		}
	}

	logger.Info("validator added", "id", id, "identity", identity.AbbrevString(), "epoch", epoch)
	return nil
}

// BeginDeactivating marks a validator inactive and stamps the epoch. The
// entry stays in the crank order so in-flight settlements complete.
func (s *Service) BeginDeactivating(id harbor.ValidatorID, epoch uint64) error {
	if id.IsReserved() {
		return errors.Errorf("validator id %v is reserved", id)
	}
	entry, err := s.repo.get(id)
	if err != nil {
		return err
	}
	if entry == nil {
		return errors.Errorf("validator %v not found", id)
	}
	if !entry.IsActive {
		return errors.Errorf("validator %v already deactivating", id)
	}

	entry.IsActive = false
	entry.Epoch = epoch
	if err := s.repo.set(id, entry); err != nil {
		return err
	}

	count, err := s.repo.getActiveCount()
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.New("active count underflow")
	}
	if err := s.repo.setActiveCount(count - 1); err != nil {
		return err
	}

	logger.Info("validator deactivating", "id", id, "epoch", epoch)
	return nil
}

// CompleteDeactivating unlinks and erases a validator once the
// deactivation delay has elapsed and no escrow is pending, making the id
// reusable. hasPendingEscrow is supplied by the pool, which owns the rings.
func (s *Service) CompleteDeactivating(id harbor.ValidatorID, epoch uint64, hasPendingEscrow bool) error {
	if id.IsReserved() {
		return errors.Errorf("validator id %v is reserved", id)
	}
	entry, err := s.repo.get(id)
	if err != nil {
		return err
	}
	if entry == nil {
		return errors.Errorf("validator %v not found", id)
	}
	if entry.IsActive {
		return errors.Errorf("validator %v still active", id)
	}
	if epoch < entry.Epoch+harbor.DeactivationDelayEpochs {
		return errors.Errorf("validator %v deactivation delay not elapsed", id)
	}
	if hasPendingEscrow {
		return errors.Errorf("validator %v has pending escrow", id)
	}

	if err := s.list.unlink(entry); err != nil {
		return errors.Wrap(err, "failed to unlink validator")
	}
	s.repo.unlinkIdentity(entry.Identity)
	s.repo.delete(id)
	s.hooks.ClearRing(id)

	logger.Info("validator removed", "id", id, "epoch", epoch)
	return nil
}

// Touch records activity attributed to id at the given epoch. The marker
// is monotonic; earlier epochs are ignored.
func (s *Service) Touch(id harbor.ValidatorID, epoch uint64) error {
	cur, err := s.repo.marker(id)
	if err != nil {
		return err
	}
	if epoch <= cur {
		return nil
	}
	return s.repo.setMarker(id, epoch)
}

// Denullify forces a zero marker to a non-zero "seen" value so the zero
// default cannot be read as "never seen". Idempotent.
func (s *Service) Denullify(id harbor.ValidatorID, epoch uint64) error {
	cur, err := s.repo.marker(id)
	if err != nil {
		return err
	}
	if cur != 0 {
		return nil
	}
	if epoch == 0 {
		epoch = 1
	}
	return s.repo.setMarker(id, epoch)
}

// Marker returns the eligibility marker for id.
func (s *Service) Marker(id harbor.ValidatorID) (uint64, error) {
	return s.repo.marker(id)
}
