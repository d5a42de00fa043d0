package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"deedchain/core/state"
	"deedchain/crypto"
	"deedchain/native/deed"
	"deedchain/native/escrow"
	"deedchain/storage"
)

type testEnv struct {
	server    *Server
	manager   *state.Manager
	registry  *deed.Registry
	seller    crypto.Address
	buyer     crypto.Address
	inspector crypto.Address
	lender    crypto.Address
	vault     crypto.Address
}

func testAddr(fill byte) crypto.Address {
	var raw [20]byte
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(raw)
}

func newTestEnv(t *testing.T, authToken string) *testEnv {
	t.Helper()
	env := &testEnv{
		manager:   state.NewManager(storage.NewMemDB()),
		seller:    testAddr(0x01),
		buyer:     testAddr(0x02),
		inspector: testAddr(0x03),
		lender:    testAddr(0x04),
		vault:     crypto.ModuleAddress(state.VaultModule),
	}

	env.registry = deed.NewRegistry()
	env.registry.SetState(env.manager)
	env.registry.SetRegistrar(env.seller.Bytes())

	engine := escrow.NewEngine()
	engine.SetState(env.manager)
	engine.SetTitleRegistry(env.registry)
	engine.SetParties(escrow.Parties{
		Seller:    env.seller.Bytes(),
		Inspector: env.inspector.Bytes(),
		Lender:    env.lender.Bytes(),
	})

	env.server = NewServer(engine, env.registry, authToken, nil)
	return env
}

// mintIntoCustody mints a deed to the seller and moves it into the vault so a
// listing can be created.
func (env *testEnv) mintIntoCustody(t *testing.T) uint64 {
	t.Helper()
	minted, err := env.registry.Mint(env.seller.Bytes(), env.seller.Bytes(), "ipfs://parcel")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.registry.Transfer(env.seller.Bytes(), env.vault.Bytes(), minted.TokenID); err != nil {
		t.Fatalf("transfer into custody: %v", err)
	}
	return minted.TokenID
}

func (env *testEnv) call(t *testing.T, token, method string, params interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{},
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.server.handle(recorder, req)

	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return recorder, resp
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestHandleRejectsNonPost(t *testing.T) {
	env := newTestEnv(t, "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	recorder := httptest.NewRecorder()
	env.server.handle(recorder, req)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestHandleRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	recorder := httptest.NewRecorder()
	env.server.handle(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	env := newTestEnv(t, "")
	recorder, resp := env.call(t, "", "escrow_doesNotExist", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method_not_found error, got %+v", resp.Error)
	}
}

func TestMutatingMethodsRequireBearerToken(t *testing.T) {
	env := newTestEnv(t, "secret")
	tokenID := env.mintIntoCustody(t)

	params := map[string]interface{}{
		"caller":        env.seller.String(),
		"tokenId":       tokenID,
		"buyer":         env.buyer.String(),
		"purchasePrice": "10",
		"escrowAmount":  "5",
	}
	recorder, resp := env.call(t, "", "escrow_list", params)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}

	recorder, resp = env.call(t, "wrong", "escrow_list", params)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", recorder.Code)
	}

	recorder, resp = env.call(t, "secret", "escrow_list", params)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %+v", recorder.Code, resp.Error)
	}
}

func TestReadMethodsSkipAuth(t *testing.T) {
	env := newTestEnv(t, "secret")
	recorder, resp := env.call(t, "", "escrow_getBalance", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", recorder.Code, resp.Error)
	}
	var balance balanceResult
	decodeResult(t, resp, &balance)
	if balance.Balance != "0" {
		t.Fatalf("unexpected initial balance %q", balance.Balance)
	}
}

func TestEscrowLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, "")
	tokenID := env.mintIntoCustody(t)
	if err := env.manager.Credit(env.buyer.Bytes(), big.NewInt(20)); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}
	if err := env.manager.Credit(env.lender.Bytes(), big.NewInt(20)); err != nil {
		t.Fatalf("fund lender: %v", err)
	}

	_, resp := env.call(t, "", "escrow_list", map[string]interface{}{
		"caller":        env.seller.String(),
		"tokenId":       tokenID,
		"buyer":         env.buyer.String(),
		"purchasePrice": "10",
		"escrowAmount":  "5",
	})
	var listing listingJSON
	decodeResult(t, resp, &listing)
	if listing.Status != "active" || listing.TokenID != tokenID {
		t.Fatalf("unexpected listing %+v", listing)
	}

	_, resp = env.call(t, "", "escrow_downPayment", map[string]interface{}{
		"tokenId": tokenID, "from": env.buyer.String(), "amount": "5",
	})
	var held balanceResult
	decodeResult(t, resp, &held)
	if held.Balance != "5" {
		t.Fatalf("unexpected held amount %q", held.Balance)
	}

	_, resp = env.call(t, "", "escrow_setInspection", map[string]interface{}{
		"tokenId": tokenID, "caller": env.inspector.String(), "passed": true,
	})
	if resp.Error != nil {
		t.Fatalf("set inspection: %+v", resp.Error)
	}

	for _, party := range []crypto.Address{env.buyer, env.seller, env.lender} {
		_, resp = env.call(t, "", "escrow_approve", map[string]interface{}{
			"tokenId": tokenID, "caller": party.String(),
		})
		if resp.Error != nil {
			t.Fatalf("approve %s: %+v", party.String(), resp.Error)
		}
	}

	_, resp = env.call(t, "", "escrow_fundLoan", map[string]interface{}{
		"tokenId": tokenID, "from": env.lender.String(), "amount": "5",
	})
	decodeResult(t, resp, &held)
	if held.Balance != "10" {
		t.Fatalf("unexpected held amount after loan %q", held.Balance)
	}

	_, resp = env.call(t, "", "escrow_finalize", map[string]interface{}{
		"tokenId": tokenID, "caller": env.seller.String(),
	})
	decodeResult(t, resp, &listing)
	if listing.Status != "finalized" {
		t.Fatalf("unexpected status %q after finalize", listing.Status)
	}

	_, resp = env.call(t, "", "deed_ownerOf", map[string]interface{}{"tokenId": tokenID})
	var owner map[string]string
	decodeResult(t, resp, &owner)
	if owner["owner"] != env.buyer.String() {
		t.Fatalf("expected buyer to own the deed, got %q", owner["owner"])
	}

	_, resp = env.call(t, "", "escrow_getBalance", nil)
	var balance balanceResult
	decodeResult(t, resp, &balance)
	if balance.Balance != "0" {
		t.Fatalf("expected drained vault, got %q", balance.Balance)
	}
}

func TestFinalizePreconditionSurfacesCondition(t *testing.T) {
	env := newTestEnv(t, "")
	tokenID := env.mintIntoCustody(t)
	_, resp := env.call(t, "", "escrow_list", map[string]interface{}{
		"caller":        env.seller.String(),
		"tokenId":       tokenID,
		"buyer":         env.buyer.String(),
		"purchasePrice": "10",
		"escrowAmount":  "5",
	})
	if resp.Error != nil {
		t.Fatalf("list: %+v", resp.Error)
	}

	recorder, resp := env.call(t, "", "escrow_finalize", map[string]interface{}{
		"tokenId": tokenID, "caller": env.seller.String(),
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowPrecondition {
		t.Fatalf("expected precondition error, got %+v", resp.Error)
	}
	data, ok := resp.Error.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected condition payload, got %T", resp.Error.Data)
	}
	if data["condition"] != string(escrow.PreconditionInspection) {
		t.Fatalf("unexpected condition %v", data["condition"])
	}
}

func TestUnauthorizedCallerMapsToForbidden(t *testing.T) {
	env := newTestEnv(t, "")
	tokenID := env.mintIntoCustody(t)
	recorder, resp := env.call(t, "", "escrow_list", map[string]interface{}{
		"caller":        env.buyer.String(),
		"tokenId":       tokenID,
		"buyer":         env.buyer.String(),
		"purchasePrice": "10",
		"escrowAmount":  "5",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowForbidden {
		t.Fatalf("expected forbidden error, got %+v", resp.Error)
	}
}

func TestUnknownListingMapsToNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	recorder, resp := env.call(t, "", "escrow_getListing", map[string]interface{}{"tokenId": 99})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowNotFound {
		t.Fatalf("expected not_found error, got %+v", resp.Error)
	}
}

func TestInvalidParamsRejected(t *testing.T) {
	env := newTestEnv(t, "")
	cases := []struct {
		name   string
		method string
		params interface{}
	}{
		{"missing params", "escrow_downPayment", nil},
		{"bad address", "escrow_downPayment", map[string]interface{}{"tokenId": 1, "from": "nope", "amount": "5"}},
		{"bad amount", "escrow_downPayment", map[string]interface{}{"tokenId": 1, "from": testAddr(0x02).String(), "amount": "five"}},
		{"negative amount", "escrow_downPayment", map[string]interface{}{"tokenId": 1, "from": testAddr(0x02).String(), "amount": "-5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder, resp := env.call(t, "", tc.method, tc.params)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
			if resp.Error == nil || resp.Error.Code != codeEscrowInvalidParams {
				t.Fatalf("expected invalid_params error, got %+v", resp.Error)
			}
		})
	}
}

func TestDeedMintRegistrarOnlyOverRPC(t *testing.T) {
	env := newTestEnv(t, "")
	recorder, resp := env.call(t, "", "deed_mint", map[string]interface{}{
		"caller": env.buyer.String(),
		"owner":  env.buyer.String(),
		"uri":    "ipfs://parcel",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowForbidden {
		t.Fatalf("expected forbidden error, got %+v", resp.Error)
	}
}

func TestDeedTransferOverRPC(t *testing.T) {
	env := newTestEnv(t, "")
	_, resp := env.call(t, "", "deed_mint", map[string]interface{}{
		"caller": env.seller.String(),
		"owner":  env.seller.String(),
		"uri":    "ipfs://parcel",
	})
	var minted deedJSON
	decodeResult(t, resp, &minted)
	if minted.TokenID != 1 || minted.Owner != env.seller.String() {
		t.Fatalf("unexpected minted deed %+v", minted)
	}

	_, resp = env.call(t, "", "deed_transfer", map[string]interface{}{
		"tokenId": minted.TokenID,
		"caller":  env.seller.String(),
		"to":      env.vault.String(),
	})
	var record deedJSON
	decodeResult(t, resp, &record)
	if record.Owner != env.vault.String() {
		t.Fatalf("unexpected owner %q after transfer", record.Owner)
	}
}

func TestRateLimiterThrottlesMutations(t *testing.T) {
	env := newTestEnv(t, "")
	params := map[string]interface{}{
		"tokenId": 1, "caller": env.seller.String(),
	}
	limited := false
	for i := 0; i < mutationBurst+5; i++ {
		recorder, _ := env.call(t, "", "escrow_approve", params)
		if recorder.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("expected rate limiter to trip after burst")
	}
}
