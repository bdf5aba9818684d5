// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/harborlabs/harbor/api/utils"
	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/pool"
)

// BlockSource reports the current block height, used to price
// block-sensitive views like the smoothed liquidity offset.
type BlockSource func() uint64

// Pool exposes read-only views over the rebalancing pool.
type Pool struct {
	pool  *pool.Pool
	block BlockSource
}

func New(p *pool.Pool, block BlockSource) *Pool {
	return &Pool{p, block}
}

func (a *Pool) handleGetLiquidity(w http.ResponseWriter, _ *http.Request) error {
	liq, err := a.pool.LiquiditySnapshot(a.block())
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, convertLiquidity(liq))
}

func (a *Pool) handleGetQuote(w http.ResponseWriter, req *http.Request) error {
	gross := req.URL.Query().Get("gross")
	net := req.URL.Query().Get("net")
	preview := req.URL.Query().Get("preview") == "true"
	if (gross == "") == (net == "") {
		return utils.BadRequest(errors.New("exactly one of gross or net is required"))
	}
	if gross != "" {
		amount, ok := math.ParseBig256(gross)
		if !ok {
			return utils.BadRequest(errors.New("gross: malformed amount"))
		}
		solve := a.pool.QuoteNetGivenGross
		if preview {
			solve = a.pool.PreviewNetGivenGross
		}
		q, err := solve(amount, a.block())
		if err != nil {
			return err
		}
		return utils.WriteJSON(w, convertQuote(q))
	}
	amount, ok := math.ParseBig256(net)
	if !ok {
		return utils.BadRequest(errors.New("net: malformed amount"))
	}
	solve := a.pool.QuoteGrossGivenNet
	if preview {
		solve = a.pool.PreviewGrossGivenNet
	}
	q, err := solve(amount, a.block())
	if err != nil {
		return utils.BadRequest(err)
	}
	return utils.WriteJSON(w, convertQuote(q))
}

func (a *Pool) handleGetEpoch(w http.ResponseWriter, _ *http.Request) error {
	index, err := a.pool.EpochIndex()
	if err != nil {
		return err
	}
	external, boundary, err := a.pool.Adapter().Epoch()
	if err != nil {
		return err
	}
	ready, err := a.pool.CrankReady()
	if err != nil {
		return err
	}
	rec, err := a.pool.EpochRecordAt(0)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &Epoch{
		Index:       index,
		External:    external,
		InBoundary:  boundary,
		CrankReady:  ready,
		TargetStake: (*math.HexOrDecimal256)(rec.TargetStake),
	})
}

func (a *Pool) handleGetEquity(w http.ResponseWriter, _ *http.Request) error {
	total, err := a.pool.TotalEquity()
	if err != nil {
		return err
	}
	rate, err := a.pool.MarginalRate()
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, convertEquity(total, rate))
}

func (a *Pool) handleGetValidators(w http.ResponseWriter, _ *http.Request) error {
	ids, err := a.pool.ActiveValidators()
	if err != nil {
		return err
	}
	out := make([]*Validator, 0, len(ids))
	for _, id := range ids {
		st, err := a.pool.Stats(id)
		if err != nil {
			return err
		}
		if st == nil {
			continue
		}
		out = append(out, convertValidator(st))
	}
	return utils.WriteJSON(w, out)
}

func (a *Pool) handleGetValidator(w http.ResponseWriter, req *http.Request) error {
	raw := mux.Vars(req)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "id"))
	}
	st, err := a.pool.Stats(harbor.ValidatorID(id))
	if err != nil {
		return err
	}
	if st == nil {
		return utils.NotFound(errors.New("unknown validator"))
	}
	return utils.WriteJSON(w, convertValidator(st))
}

func (a *Pool) handleGetRing(w http.ResponseWriter, _ *http.Request) error {
	out := make([]*Slot, 0, harbor.RingDepth)
	for off := harbor.MinEpochOffset; off <= harbor.MaxEpochOffset; off++ {
		rec, err := a.pool.EpochRecordAt(off)
		if err != nil {
			return err
		}
		q, err := a.pool.QueueAt(off)
		if err != nil {
			return err
		}
		rl, err := a.pool.RewardsAt(off)
		if err != nil {
			return err
		}
		out = append(out, convertSlot(off, rec, q, rl))
	}
	return utils.WriteJSON(w, out)
}

func (a *Pool) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/liquidity").
		Methods(http.MethodGet).
		Name("pool_get_liquidity").
		HandlerFunc(utils.WrapHandlerFunc(a.handleGetLiquidity))
	sub.Path("/quote").
		Methods(http.MethodGet).
		Name("pool_get_quote").
		HandlerFunc(utils.WrapHandlerFunc(a.handleGetQuote))
	sub.Path("/epoch").
		Methods(http.MethodGet).
		Name("pool_get_epoch").
		HandlerFunc(utils.WrapHandlerFunc(a.handleGetEpoch))
	sub.Path("/equity").
		Methods(http.MethodGet).
		Name("pool_get_equity").
		HandlerFunc(utils.WrapHandlerFunc(a.handleGetEquity))
	sub.Path("/ring").
		Methods(http.MethodGet).
		Name("pool_get_ring").
		HandlerFunc(utils.WrapHandlerFunc(a.handleGetRing))
	sub.Path("/validators").
		Methods(http.MethodGet).
		Name("pool_get_validators").
		HandlerFunc(utils.WrapHandlerFunc(a.handleGetValidators))
	sub.Path("/validators/{id}").
		Methods(http.MethodGet).
		Name("pool_get_validator").
		HandlerFunc(utils.WrapHandlerFunc(a.handleGetValidator))
}
