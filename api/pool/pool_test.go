// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pool

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/lvldb"
	"github.com/harborlabs/harbor/pool"
	"github.com/harborlabs/harbor/pool/staking"
	"github.com/harborlabs/harbor/state"
	"github.com/harborlabs/harbor/storage"
)

func ident(n byte) harbor.Bytes32 {
	var b [32]byte
	b[0] = n
	return harbor.BytesToBytes32(b[:])
}

func newTestServer(t *testing.T) (*httptest.Server, *pool.Pool, *staking.Sim) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sctx := storage.NewContext(state.New(db))
	sim := staking.NewSim(100, 500)
	p := pool.New(sctx, sim)
	require.NoError(t, p.Initialize(pool.Params{
		TargetLiquidityPct:    new(big.Int),
		SensitivityBandPct:    new(big.Int),
		CurveIntercept:        big.NewInt(1e15),
		CurveSlope:            big.NewInt(5e16),
		IncentiveAlignmentPct: new(big.Int),
		DustThreshold:         big.NewInt(10),
		MinViableStake:        big.NewInt(100),
	}))

	router := mux.NewRouter()
	New(p, func() uint64 { return 50 }).Mount(router, "/pool")
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, p, sim
}

func httpGet(t *testing.T, url string) (int, []byte) {
	res, err := http.Get(url) //#nosec G107
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	return res.StatusCode, body
}

func TestGetEpoch(t *testing.T) {
	srv, _, sim := newTestServer(t)

	code, body := httpGet(t, srv.URL+"/pool/epoch")
	require.Equal(t, http.StatusOK, code)

	var ep Epoch
	require.NoError(t, json.Unmarshal(body, &ep))
	assert.Equal(t, uint64(0), ep.Index)
	assert.Equal(t, uint64(100), ep.External)
	assert.False(t, ep.CrankReady)

	sim.AdvanceEpoch()
	code, body = httpGet(t, srv.URL+"/pool/epoch")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &ep))
	assert.Equal(t, uint64(101), ep.External)
	assert.True(t, ep.CrankReady)
}

func TestGetValidators(t *testing.T) {
	srv, p, sim := newTestServer(t)

	sim.Register(ident(1), 0)
	require.NoError(t, p.AddValidator(4, ident(1)))
	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()
	_, err := p.Crank(10, 64)
	require.NoError(t, err)

	code, body := httpGet(t, srv.URL+"/pool/validators")
	require.Equal(t, http.StatusOK, code)

	var list []*Validator
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, uint64(4), list[0].ID)
	assert.Equal(t, big.NewInt(1000), (*big.Int)(list[0].TargetStake))

	code, body = httpGet(t, srv.URL+"/pool/validators/4")
	require.Equal(t, http.StatusOK, code)
	var v Validator
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, ident(1), v.Identity)

	code, _ = httpGet(t, srv.URL+"/pool/validators/9")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = httpGet(t, srv.URL+"/pool/validators/notanumber")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetQuote(t *testing.T) {
	srv, p, sim := newTestServer(t)

	require.NoError(t, p.SetTargetLiquidityPct(big.NewInt(2e17))) // 20%
	require.NoError(t, p.AccountForDeposit(big.NewInt(1000)))
	sim.AdvanceEpoch()
	_, err := p.Crank(10, 64)
	require.NoError(t, err)

	code, body := httpGet(t, srv.URL+"/pool/quote?gross=100")
	require.Equal(t, http.StatusOK, code)

	var q Quote
	require.NoError(t, json.Unmarshal(body, &q))
	assert.Equal(t, big.NewInt(100), (*big.Int)(q.Gross))
	fee := (*big.Int)(q.Fee)
	net := (*big.Int)(q.Net)
	assert.Equal(t, big.NewInt(100), new(big.Int).Add(fee, net))
	assert.Positive(t, fee.Sign())

	// preview prices the full gross even past the coverable capacity
	code, body = httpGet(t, srv.URL+"/pool/quote?gross=1000&preview=true")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &q))
	assert.Equal(t, big.NewInt(1000), (*big.Int)(q.Gross))

	code, body = httpGet(t, srv.URL+"/pool/quote?gross=1000")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &q))
	assert.Negative(t, (*big.Int)(q.Gross).Cmp(big.NewInt(1000)))

	code, _ = httpGet(t, srv.URL+"/pool/quote")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = httpGet(t, srv.URL+"/pool/quote?gross=1&net=1")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = httpGet(t, srv.URL+"/pool/quote?gross=bogus")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetLiquidityAndRing(t *testing.T) {
	srv, p, sim := newTestServer(t)

	require.NoError(t, p.AccountForDeposit(big.NewInt(500)))
	sim.AdvanceEpoch()
	_, err := p.Crank(10, 64)
	require.NoError(t, err)

	code, body := httpGet(t, srv.URL+"/pool/liquidity")
	require.Equal(t, http.StatusOK, code)
	var liq Liquidity
	require.NoError(t, json.Unmarshal(body, &liq))
	require.NotNil(t, liq.Target)

	code, body = httpGet(t, srv.URL+"/pool/ring")
	require.Equal(t, http.StatusOK, code)
	var slots []*Slot
	require.NoError(t, json.Unmarshal(body, &slots))
	assert.Len(t, slots, harbor.RingDepth)
}
