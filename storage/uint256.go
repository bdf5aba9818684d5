// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package storage

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/harbor"
)

// Uint256 is a wrapper for storage and retrieval of a non-negative integer
// at a fixed slot. A missing slot reads as zero.
type Uint256 struct {
	context *Context
	pos     harbor.Bytes32
}

func NewUint256(context *Context, slot harbor.Bytes32) *Uint256 {
	return &Uint256{context: context, pos: slot}
}

func (u *Uint256) Get() (*big.Int, error) {
	raw, err := u.context.state.GetStorage(u.pos)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (u *Uint256) Set(value *big.Int) error {
	if value.Sign() < 0 {
		return errors.New("uint256: negative value")
	}
	u.context.state.SetStorage(u.pos, value.Bytes())
	return nil
}

func (u *Uint256) Add(value *big.Int) error {
	cur, err := u.Get()
	if err != nil {
		return err
	}
	return u.Set(cur.Add(cur, value))
}

// Sub subtracts value, failing loudly on underflow.
func (u *Uint256) Sub(value *big.Int) error {
	cur, err := u.Get()
	if err != nil {
		return err
	}
	if cur.Cmp(value) < 0 {
		return errors.Errorf("uint256: underflow (have %s, sub %s)", cur, value)
	}
	return u.Set(cur.Sub(cur, value))
}

// SubSaturating subtracts value, clamping at zero.
func (u *Uint256) SubSaturating(value *big.Int) error {
	cur, err := u.Get()
	if err != nil {
		return err
	}
	if cur.Cmp(value) < 0 {
		return u.Set(new(big.Int))
	}
	return u.Set(cur.Sub(cur, value))
}
