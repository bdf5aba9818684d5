// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package storage

import (
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/harborlabs/harbor/harbor"
)

// Raw is a typed wrapper for storage and retrieval of an RLP-encoded value
// at a fixed slot. A missing slot reads as the zero value of T.
type Raw[T any] struct {
	context *Context
	pos     harbor.Bytes32
}

func NewRaw[T any](context *Context, slot harbor.Bytes32) *Raw[T] {
	return &Raw[T]{context: context, pos: slot}
}

func (r *Raw[T]) Get() (value T, err error) {
	err = r.context.state.DecodeStorage(r.pos, func(raw []byte) error {
		if reflect.ValueOf(&value).Elem().Kind() == reflect.Ptr {
			value = reflect.New(reflect.TypeOf(value).Elem()).Interface().(T)
		}
		if len(raw) == 0 {
			var zero T
			value = zero
			return nil
		}
		return rlp.DecodeBytes(raw, &value)
	})
	return
}

func (r *Raw[T]) Put(value T) error {
	return r.context.state.EncodeStorage(r.pos, func() ([]byte, error) {
		return rlp.EncodeToBytes(value)
	})
}

// Clear removes the slot content.
func (r *Raw[T]) Clear() {
	r.context.state.SetStorage(r.pos, nil)
}
