// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/kv"
)

const readCacheSize = 4096

// State provides buffered access to keyed storage values.
// Writes are journaled in memory until Commit, so a failed operation can be
// discarded by simply dropping the State instance. Reads go through a small
// LRU cache of raw values backed by the underlying kv store.
type State struct {
	kv      kv.GetPutter
	journal map[harbor.Bytes32][]byte
	cache   *lru.Cache
}

// New creates a state instance over the given kv store.
func New(store kv.GetPutter) *State {
	cache, _ := lru.New(readCacheSize)
	return &State{
		kv:      store,
		journal: make(map[harbor.Bytes32][]byte),
		cache:   cache,
	}
}

// GetStorage returns the raw value at key. A missing key reads as nil.
func (s *State) GetStorage(key harbor.Bytes32) ([]byte, error) {
	if v, ok := s.journal[key]; ok {
		return v, nil
	}
	if v, ok := s.cache.Get(key); ok {
		return v.([]byte), nil
	}

	v, err := s.kv.Get(key.Bytes())
	if err != nil {
		if s.kv.IsNotFound(err) {
			s.cache.Add(key, []byte(nil))
			return nil, nil
		}
		return nil, errors.Wrap(err, "get storage")
	}
	s.cache.Add(key, v)
	return v, nil
}

// SetStorage journals the raw value at key. A nil or empty value marks the
// key for deletion at commit.
func (s *State) SetStorage(key harbor.Bytes32, val []byte) {
	s.journal[key] = val
}

// DecodeStorage reads the raw value at key and passes it to the decode
// callback. The callback receives nil for a missing key.
func (s *State) DecodeStorage(key harbor.Bytes32, decode func(raw []byte) error) error {
	raw, err := s.GetStorage(key)
	if err != nil {
		return err
	}
	return decode(raw)
}

// EncodeStorage invokes the encode callback and journals its output at key.
func (s *State) EncodeStorage(key harbor.Bytes32, encode func() ([]byte, error)) error {
	raw, err := encode()
	if err != nil {
		return err
	}
	s.SetStorage(key, raw)
	return nil
}

// Dirty returns the number of journaled, uncommitted writes.
func (s *State) Dirty() int {
	return len(s.journal)
}

// Commit writes all journaled values to the underlying store in one batch
// and clears the journal. Empty values are deleted.
func (s *State) Commit() error {
	if len(s.journal) == 0 {
		return nil
	}

	batch := s.kv.NewBatch()
	for key, val := range s.journal {
		if len(val) == 0 {
			if err := batch.Delete(key.Bytes()); err != nil {
				return errors.Wrap(err, "commit delete")
			}
		} else {
			if err := batch.Put(key.Bytes(), val); err != nil {
				return errors.Wrap(err, "commit put")
			}
		}
	}
	if err := batch.Write(); err != nil {
		return errors.Wrap(err, "commit write")
	}

	for key, val := range s.journal {
		if len(val) == 0 {
			s.cache.Add(key, []byte(nil))
		} else {
			s.cache.Add(key, val)
		}
	}
	s.journal = make(map[harbor.Bytes32][]byte)
	return nil
}

// Revert drops all journaled, uncommitted writes.
func (s *State) Revert() {
	s.journal = make(map[harbor.Bytes32][]byte)
}
