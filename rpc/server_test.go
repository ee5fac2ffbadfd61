package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"rigchain/native/mining"
	"rigchain/native/params"
	"rigchain/native/rig"
	"rigchain/native/sale"
	"rigchain/native/supply"
	"rigchain/native/token"
	"rigchain/state"
	"rigchain/storage"
)

type fixedDraw struct{ value uint64 }

func (d fixedDraw) Draw() (uint64, error) { return d.value, nil }

type testNode struct {
	server *Server
	now    int64
}

func (n *testNode) advance(to int64) { n.now = to }

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b22")
	admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")
)

func newTestNode(t *testing.T) (*testNode, http.Handler) {
	t.Helper()
	manager, err := state.NewManager(storage.NewMemDB())
	require.NoError(t, err)

	ledger, err := supply.NewLedger(big.NewInt(100_000_000))
	require.NoError(t, err)

	schedule := mining.Schedule{
		EpochLength:    1000,
		BaseRateRay:    new(big.Int).Set(mining.Ray),
		HalvingDivisor: 2,
	}
	miningEngine, err := mining.NewEngine(schedule, ledger)
	require.NoError(t, err)
	miningEngine.SetState(manager)

	tokens := token.NewLedger(manager)
	miningEngine.SetTokenLedger(tokens)

	rigEngine := rig.NewEngine(miningEngine, fixedDraw{value: 100})
	rigEngine.SetState(manager)

	saleEngine, err := sale.NewEngine(sale.Config{
		BurnBps:          1000,
		ReferralLevelBps: []uint32{500},
	}, ledger)
	require.NoError(t, err)
	saleEngine.SetState(manager)
	saleEngine.SetOracle(identityOracle{})
	saleEngine.SetTokenLedger(tokens)

	timelock := params.NewTimelock(admin, 3600)
	timelock.SetState(manager)

	server := NewServer(Config{
		Mining:   miningEngine,
		Sale:     saleEngine,
		Rigs:     rigEngine,
		Tokens:   tokens,
		Supply:   ledger,
		Timelock: timelock,
	})
	node := &testNode{server: server}
	server.now = func() int64 { return node.now }
	return node, server.Handler(nil)
}

type identityOracle struct{}

func (identityOracle) Quote(stable *big.Int) (*big.Int, error) {
	return new(big.Int).Set(stable), nil
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

func TestHealthz(t *testing.T) {
	_, handler := newTestNode(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiningLifecycleOverHTTP(t *testing.T) {
	node, handler := newTestNode(t)

	// Open a box and register it at t=0.
	rec := doJSON(t, handler, http.MethodPost, "/v1/rigs/open", map[string]string{"owner": alice.Hex()})
	require.Equal(t, http.StatusCreated, rec.Code)
	var opened rigResponse
	decodeInto(t, rec, &opened)
	require.Equal(t, uint64(100), opened.HashPower)
	require.False(t, opened.Registered)

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/v1/rigs/%d/register", opened.ID), map[string]string{"caller": alice.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)

	// Claim after 500 seconds in epoch zero: 100 hp * 500 s * 1 unit.
	node.advance(500)
	rec = doJSON(t, handler, http.MethodPost, "/v1/miners/"+alice.Hex()+"/claim", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var claimed claimResponse
	decodeInto(t, rec, &claimed)
	require.Equal(t, "50000", claimed.Minted)
	require.False(t, claimed.Partial)

	rec = doJSON(t, handler, http.MethodGet, "/v1/balances/"+alice.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance map[string]string
	decodeInto(t, rec, &balance)
	require.Equal(t, "50000", balance["balance"])

	rec = doJSON(t, handler, http.MethodGet, "/v1/supply", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sup supplyResponse
	decodeInto(t, rec, &sup)
	require.Equal(t, "50000", sup.Circulating)
}

func TestRigErrorMapping(t *testing.T) {
	_, handler := newTestNode(t)

	rec := doJSON(t, handler, http.MethodGet, "/v1/rigs/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	opened := doJSON(t, handler, http.MethodPost, "/v1/rigs/open", map[string]string{"owner": alice.Hex()})
	require.Equal(t, http.StatusCreated, opened.Code)
	var r rigResponse
	decodeInto(t, opened, &r)

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/v1/rigs/%d/register", r.ID), map[string]string{"caller": bob.Hex()})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/v1/rigs/%d/deregister", r.ID), map[string]string{"caller": alice.Hex()})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPurchaseOverHTTP(t *testing.T) {
	node, handler := newTestNode(t)
	node.advance(1000)

	rec := doJSON(t, handler, http.MethodPost, "/v1/sale/referrer", map[string]string{
		"referred": alice.Hex(),
		"referrer": bob.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/v1/sale/purchase", map[string]string{
		"buyer":        alice.Hex(),
		"stableAmount": "100000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var receipt purchaseResponse
	decodeInto(t, rec, &receipt)
	require.Equal(t, "10000", receipt.BurnAmount)
	require.Len(t, receipt.Payouts, 1)
	require.Equal(t, "4500", receipt.Payouts[0].Amount)
	require.Equal(t, "85500", receipt.Remainder)

	// A second referrer registration conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/v1/sale/referrer", map[string]string{
		"referred": alice.Hex(),
		"referrer": admin.Hex(),
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestTimelockOverHTTP(t *testing.T) {
	node, handler := newTestNode(t)
	node.server.timelock.RegisterApplier(params.KindPauseSwitch, params.PauseApplier{Registry: nil})

	// A nil registry applier still validates; execution would fail, so use a
	// bad payload to exercise the 400 path and authority for 403.
	rec := doJSON(t, handler, http.MethodPost, "/v1/params/changes", map[string]any{
		"caller":  bob.Hex(),
		"kind":    params.KindPauseSwitch,
		"payload": map[string]any{"module": "mining", "paused": true},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/v1/params/changes", map[string]any{
		"caller":  admin.Hex(),
		"kind":    "bogus",
		"payload": map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/v1/params/changes", map[string]any{
		"caller":  admin.Hex(),
		"kind":    params.KindPauseSwitch,
		"payload": map[string]any{"module": "mining", "paused": true},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var change changeResponse
	decodeInto(t, rec, &change)
	require.Equal(t, node.now+3600, change.ExecutableAt)

	// Executing early conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/v1/params/changes/"+change.ID+"/execute", map[string]string{"caller": admin.Hex()})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	node, _ := newTestNode(t)
	handler := node.server.Handler(NewRateLimiter(1, 2))

	var last int
	for i := 0; i < 3; i++ {
		rec := doJSON(t, handler, http.MethodGet, "/v1/supply", nil)
		last = rec.Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}
