// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
)

// crankList is the doubly-linked crank order over the validator arena.
// The head and tail are reserved sentinel ids whose records live in the
// same arena, so every link mutation is a plain record write.
type crankList struct {
	repo *repository
}

// ensureSentinels creates the head and tail records on first use.
func (l *crankList) ensureSentinels() error {
	head, err := l.repo.get(harbor.HeadID)
	if err != nil {
		return err
	}
	if head != nil {
		return nil
	}
	if err := l.repo.set(harbor.HeadID, &ValidatorData{Next: harbor.TailID}); err != nil {
		return err
	}
	return l.repo.set(harbor.TailID, &ValidatorData{Prev: harbor.HeadID})
}

// linkAtTail inserts id as the last real entry before the tail sentinel.
// The entry record is persisted with its links set.
func (l *crankList) linkAtTail(id harbor.ValidatorID, entry *ValidatorData) error {
	tail, err := l.repo.get(harbor.TailID)
	if err != nil {
		return err
	}
	if tail == nil {
		return errors.New("crank list not initialized")
	}

	last := tail.Prev
	lastEntry, err := l.repo.get(last)
	if err != nil {
		return err
	}
	if lastEntry == nil {
		return errors.Errorf("crank list corrupt: missing entry %v", last)
	}

	entry.Prev = last
	entry.Next = harbor.TailID
	if err := l.repo.set(id, entry); err != nil {
		return err
	}

	lastEntry.Next = id
	if err := l.repo.set(last, lastEntry); err != nil {
		return err
	}

	tail.Prev = id
	return l.repo.set(harbor.TailID, tail)
}

// unlink removes id from the order, stitching its neighbors together.
// The entry record itself is left to the caller.
func (l *crankList) unlink(entry *ValidatorData) error {
	if entry.Prev == harbor.NoID && entry.Next == harbor.NoID {
		return nil
	}

	prevEntry, err := l.repo.get(entry.Prev)
	if err != nil {
		return err
	}
	nextEntry, err := l.repo.get(entry.Next)
	if err != nil {
		return err
	}
	if prevEntry == nil || nextEntry == nil {
		return errors.New("crank list corrupt: missing neighbor")
	}

	prevEntry.Next = entry.Next
	if err := l.repo.set(entry.Prev, prevEntry); err != nil {
		return err
	}
	nextEntry.Prev = entry.Prev
	if err := l.repo.set(entry.Next, nextEntry); err != nil {
		return err
	}

	entry.Prev = harbor.NoID
	entry.Next = harbor.NoID
	return nil
}

// first returns the first real entry, or NoID for an empty list.
func (l *crankList) first() (harbor.ValidatorID, error) {
	head, err := l.repo.get(harbor.HeadID)
	if err != nil {
		return harbor.NoID, err
	}
	if head == nil || head.Next == harbor.TailID {
		return harbor.NoID, nil
	}
	return head.Next, nil
}

// nextAfter returns the entry following id, or NoID at the end.
func (l *crankList) nextAfter(id harbor.ValidatorID) (harbor.ValidatorID, error) {
	entry, err := l.repo.get(id)
	if err != nil {
		return harbor.NoID, err
	}
	if entry == nil || entry.Next == harbor.TailID || entry.Next == harbor.NoID {
		return harbor.NoID, nil
	}
	return entry.Next, nil
}
