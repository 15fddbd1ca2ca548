package ledgerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spanbridge/spanbridge/internal/assetreg"
	"github.com/spanbridge/spanbridge/internal/authz"
	"github.com/spanbridge/spanbridge/internal/events"
	"github.com/spanbridge/spanbridge/internal/ledger"
	"github.com/spanbridge/spanbridge/internal/native"
	"github.com/spanbridge/spanbridge/internal/ratelimit"
	"github.com/spanbridge/spanbridge/internal/router"
	"github.com/spanbridge/spanbridge/internal/settlement"
	"github.com/spanbridge/spanbridge/internal/token"
)

const (
	selfHex     = "0x0000000000000000000000000000000000001eD9"
	routerHex   = "0x000000000000000000000000000000000000F00d"
	wnativeHex  = "0x000000000000000000000000000000000000aaAa"
	custodyHex  = "0x000000000000000000000000000000000000cCcc"
	operatorHex = "0x0000000000000000000000000000000000000b0B"
	adminHex    = "0x0000000000000000000000000000000000000aDa"
	userHex     = "0x0000000000000000000000000000000000000111"
	feeHex      = "0x0000000000000000000000000000000000000Fee"
	erc20Hex    = "0x00000000000000000000000000000000000000a1"
)

type fixture struct {
	handler http.Handler
	bank    *token.MemoryBank
	nat     *native.MemoryLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	selfAddr := common.HexToAddress(selfHex)
	routerAddr := common.HexToAddress(routerHex)
	wnativeAddr := common.HexToAddress(wnativeHex)
	custodyAddr := common.HexToAddress(custodyHex)

	auth := authz.NewPolicy()
	auth.Grant(routerAddr, authz.CapDeposit)
	auth.Grant(common.HexToAddress(operatorHex), authz.CapApprove, authz.CapCancel, authz.CapReenable)
	auth.Grant(common.HexToAddress(adminHex), authz.CapAdmin)
	auth.Grant(selfAddr, authz.CapSettle)

	bank := token.NewMemoryBank()
	nat := native.NewMemoryLedger()

	reg := assetreg.NewMemoryStore()
	if err := reg.PutConfig(ctx, common.HexToAddress(erc20Hex), assetreg.Config{
		Mode:    assetreg.ModeLockRelease,
		Remotes: map[uint64]assetreg.Remote{7: {Asset: []byte{0xca, 0xfe}, Decimals: 18}},
	}); err != nil {
		t.Fatalf("PutConfig: %v", err)
	}
	if err := reg.PutConfig(ctx, wnativeAddr, assetreg.Config{
		Mode:    assetreg.ModeMintBurn,
		Remotes: map[uint64]assetreg.Remote{7: {Asset: []byte{0xbe, 0xef}, Decimals: 18}},
	}); err != nil {
		t.Fatalf("PutConfig wnative: %v", err)
	}

	mintBurn, err := settlement.NewMintBurn(auth, bank)
	if err != nil {
		t.Fatalf("NewMintBurn: %v", err)
	}
	lockRelease, err := settlement.NewLockRelease(auth, bank, custodyAddr)
	if err != nil {
		t.Fatalf("NewLockRelease: %v", err)
	}
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), 0, nil)
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}

	l, err := ledger.New(ledger.Config{Self: selfAddr, Router: routerAddr, WrappedNative: wnativeAddr},
		ledger.NewMemoryStore(), reg, limiter,
		ledger.Vaults{MintBurn: mintBurn, LockRelease: lockRelease},
		nat, events.NewMemoryEmitter(), auth, nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}

	wnative, err := token.NewWrappedNative(wnativeAddr, custodyAddr, bank, nat)
	if err != nil {
		t.Fatalf("NewWrappedNative: %v", err)
	}
	rt, err := router.New(l, bank, nat, wnative, routerAddr, nil)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}

	h, err := NewHandler(Config{
		Ledger:                  l,
		Router:                  rt,
		RateLimitPerIPPerSecond: 1000,
		RateLimitBurst:          1000,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	bank.Mint(ctx, common.HexToAddress(erc20Hex), common.HexToAddress(userHex), big.NewInt(1_000_000))
	bank.Mint(ctx, common.HexToAddress(erc20Hex), custodyAddr, big.NewInt(1_000_000))
	nat.Credit(common.HexToAddress(userHex), big.NewInt(1_000_000))

	return &fixture{handler: h, bank: bank, nat: nat}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var payload map[string]any
	if ct := rec.Header().Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("bad JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, payload
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if got := rec.Body.String(); got != "ok\n" {
		t.Fatalf("body: %q", got)
	}
}

func TestDepositAndLookup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, payload := f.do(t, http.MethodPost, "/v1/deposits",
		`{"caller":"`+userHex+`","destChainKey":7,"destAccount":"0x0102","asset":"`+erc20Hex+`","amount":"500"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status %d: %v", rec.Code, payload)
	}
	key, _ := payload["depositKey"].(string)
	if !strings.HasPrefix(key, "0x") || len(key) != 66 {
		t.Fatalf("depositKey: %q", key)
	}
	if payload["seq"].(float64) != 0 {
		t.Fatalf("seq: %v", payload["seq"])
	}

	rec, payload = f.do(t, http.MethodGet, "/v1/deposits/"+key, "")
	if rec.Code != http.StatusOK || payload["found"] != true {
		t.Fatalf("lookup: status %d payload %v", rec.Code, payload)
	}
	if payload["amount"] != "500" {
		t.Fatalf("amount: %v", payload["amount"])
	}

	rec, payload = f.do(t, http.MethodGet, "/v1/deposits?from=0&count=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("keys: %d", rec.Code)
	}
	keys, _ := payload["keys"].([]any)
	if len(keys) != 1 || keys[0] != key {
		t.Fatalf("keys: %v", payload["keys"])
	}
}

func TestDepositValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{
			name:     "bad json",
			body:     `{`,
			wantCode: "invalid_json",
		},
		{
			name:     "bad caller",
			body:     `{"caller":"zzz","destChainKey":7,"destAccount":"0x01","asset":"` + erc20Hex + `","amount":"1"}`,
			wantCode: "invalid_caller",
		},
		{
			name:     "bad amount",
			body:     `{"caller":"` + userHex + `","destChainKey":7,"destAccount":"0x01","asset":"` + erc20Hex + `","amount":"abc"}`,
			wantCode: "invalid_amount",
		},
		{
			name:     "unregistered asset",
			body:     `{"caller":"` + userHex + `","destChainKey":7,"destAccount":"0x01","asset":"0x00000000000000000000000000000000000000ff","amount":"1"}`,
			wantCode: "asset_not_registered",
		},
		{
			name:     "unregistered destination",
			body:     `{"caller":"` + userHex + `","destChainKey":99,"destAccount":"0x01","asset":"` + erc20Hex + `","amount":"1"}`,
			wantCode: "destination_not_registered",
		},
		{
			name:     "payer cannot cover",
			body:     `{"caller":"0x0000000000000000000000000000000000000Bad","destChainKey":7,"destAccount":"0x01","asset":"` + erc20Hex + `","amount":"1"}`,
			wantCode: "insufficient_balance",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec, payload := f.do(t, http.MethodPost, "/v1/deposits", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: %d payload %v", rec.Code, payload)
			}
			if payload["error"] != tc.wantCode {
				t.Fatalf("error code: got %v want %s", payload["error"], tc.wantCode)
			}
		})
	}
}

func TestApproveWithdrawLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	approveBody := `{"caller":"` + operatorHex + `","srcChainKey":7,"asset":"` + erc20Hex + `","to":"` + userHex + `","amount":"1000","nonce":1,"fee":"100","feeRecipient":"` + feeHex + `"}`
	rec, payload := f.do(t, http.MethodPost, "/v1/withdrawals/approve", approveBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %v", rec.Code, payload)
	}
	key, _ := payload["withdrawKey"].(string)

	// Nonce reuse maps to a conflict with a stable code.
	reuse := `{"caller":"` + operatorHex + `","srcChainKey":7,"asset":"` + erc20Hex + `","to":"` + feeHex + `","amount":"5","nonce":1}`
	rec, payload = f.do(t, http.MethodPost, "/v1/withdrawals/approve", reuse)
	if rec.Code != http.StatusConflict || payload["error"] != "nonce_already_approved" {
		t.Fatalf("nonce reuse: %d %v", rec.Code, payload)
	}

	// Non-operator approvals are forbidden.
	rec, payload = f.do(t, http.MethodPost, "/v1/withdrawals/approve",
		`{"caller":"`+userHex+`","srcChainKey":7,"asset":"`+erc20Hex+`","to":"`+userHex+`","amount":"1","nonce":2}`)
	if rec.Code != http.StatusForbidden || payload["error"] != "not_authorized" {
		t.Fatalf("unauthorized approve: %d %v", rec.Code, payload)
	}

	withdrawBody := `{"caller":"` + userHex + `","srcChainKey":7,"asset":"` + erc20Hex + `","to":"` + userHex + `","amount":"1000","nonce":1,"value":"100"}`
	rec, payload = f.do(t, http.MethodPost, "/v1/withdrawals", withdrawBody)
	if rec.Code != http.StatusOK || payload["executed"] != true {
		t.Fatalf("withdraw: %d %v", rec.Code, payload)
	}

	// Replay surfaces the approval state.
	rec, payload = f.do(t, http.MethodPost, "/v1/withdrawals", withdrawBody)
	if rec.Code != http.StatusConflict || payload["error"] != "approval_executed" {
		t.Fatalf("replay: %d %v", rec.Code, payload)
	}

	rec, payload = f.do(t, http.MethodGet, "/v1/approvals/"+key, "")
	if rec.Code != http.StatusOK || payload["executed"] != true {
		t.Fatalf("approval lookup: %d %v", rec.Code, payload)
	}
	if payload["fee"] != "100" {
		t.Fatalf("fee: %v", payload["fee"])
	}

	rec, payload = f.do(t, http.MethodGet, "/v1/withdrawals/"+key, "")
	if rec.Code != http.StatusOK || payload["found"] != true {
		t.Fatalf("withdraw lookup: %d %v", rec.Code, payload)
	}
}

func TestApprovalLookupMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	missing := "0x" + strings.Repeat("ab", 32)
	rec, payload := f.do(t, http.MethodGet, "/v1/approvals/"+missing, "")
	if rec.Code != http.StatusOK || payload["found"] != false {
		t.Fatalf("missing approval: %d %v", rec.Code, payload)
	}

	rec, payload = f.do(t, http.MethodGet, "/v1/approvals/not-a-key", "")
	if rec.Code != http.StatusBadRequest || payload["error"] != "invalid_withdraw_key" {
		t.Fatalf("bad key: %d %v", rec.Code, payload)
	}
}

func TestPauseOverHTTP(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Non-admin cannot pause.
	rec, payload := f.do(t, http.MethodPost, "/v1/pause", `{"caller":"`+userHex+`","paused":true}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin pause: %d %v", rec.Code, payload)
	}

	rec, _ = f.do(t, http.MethodPost, "/v1/pause", `{"caller":"`+adminHex+`","paused":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: %d", rec.Code)
	}

	rec, payload = f.do(t, http.MethodGet, "/v1/pause", "")
	if rec.Code != http.StatusOK || payload["paused"] != true {
		t.Fatalf("pause status: %d %v", rec.Code, payload)
	}

	rec, payload = f.do(t, http.MethodPost, "/v1/deposits",
		`{"caller":"`+userHex+`","destChainKey":7,"destAccount":"0x01","asset":"`+erc20Hex+`","amount":"1"}`)
	if rec.Code != http.StatusServiceUnavailable || payload["error"] != "bridge_paused" {
		t.Fatalf("deposit while paused: %d %v", rec.Code, payload)
	}
}

func TestNativeWithdrawOverHTTP(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	custodyAddr := common.HexToAddress(custodyHex)
	f.nat.Credit(custodyAddr, big.NewInt(1000))

	approveBody := `{"caller":"` + operatorHex + `","srcChainKey":7,"asset":"` + wnativeHex + `","to":"` + routerHex + `","amount":"1000","nonce":5,"fee":"100","feeRecipient":"` + feeHex + `","deductFromAmount":true}`
	rec, payload := f.do(t, http.MethodPost, "/v1/withdrawals/approve", approveBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %v", rec.Code, payload)
	}

	body := `{"caller":"` + userHex + `","recipient":"` + userHex + `","srcChainKey":7,"asset":"` + wnativeHex + `","to":"` + routerHex + `","amount":"1000","nonce":5}`
	rec, payload = f.do(t, http.MethodPost, "/v1/withdrawals/native", body)
	if rec.Code != http.StatusOK || payload["executed"] != true {
		t.Fatalf("native withdraw: %d %v", rec.Code, payload)
	}

	feeBal, _ := f.nat.BalanceOf(context.Background(), common.HexToAddress(feeHex))
	if feeBal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("fee recipient: %v", feeBal)
	}
}

func TestRateLimiting(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Rebuild with a tiny burst and a frozen clock so tokens never refill.
	now := time.Unix(1_700_000_000, 0)
	h, err := NewHandler(Config{
		Ledger:                  mustLedger(t),
		Router:                  mustRouter(t),
		RateLimitPerIPPerSecond: 1,
		RateLimitBurst:          2,
		Now:                     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	f.handler = h

	for i := 0; i < 2; i++ {
		rec, _ := f.do(t, http.MethodGet, "/v1/pause", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d throttled early: %d", i, rec.Code)
		}
	}
	rec, payload := f.do(t, http.MethodGet, "/v1/pause", "")
	if rec.Code != http.StatusTooManyRequests || payload["error"] != "rate_limited" {
		t.Fatalf("expected throttle: %d %v", rec.Code, payload)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After: %q", rec.Header().Get("Retry-After"))
	}

	// Health checks bypass the limiter.
	rec, _ = f.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz throttled: %d", rec.Code)
	}
}

func mustLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	auth := authz.NewPolicy()
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), 0, nil)
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	bank := token.NewMemoryBank()
	mintBurn, err := settlement.NewMintBurn(auth, bank)
	if err != nil {
		t.Fatalf("NewMintBurn: %v", err)
	}
	l, err := ledger.New(ledger.Config{
		Self:          common.HexToAddress(selfHex),
		Router:        common.HexToAddress(routerHex),
		WrappedNative: common.HexToAddress(wnativeHex),
	}, ledger.NewMemoryStore(), assetreg.NewMemoryStore(), limiter,
		ledger.Vaults{MintBurn: mintBurn, LockRelease: mintBurn},
		native.NewMemoryLedger(), events.NewMemoryEmitter(), auth, nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	return l
}

func mustRouter(t *testing.T) *router.Router {
	t.Helper()
	bank := token.NewMemoryBank()
	nat := native.NewMemoryLedger()
	wnative, err := token.NewWrappedNative(common.HexToAddress(wnativeHex), common.HexToAddress(custodyHex), bank, nat)
	if err != nil {
		t.Fatalf("NewWrappedNative: %v", err)
	}
	rt, err := router.New(mustLedger(t), bank, nat, wnative, common.HexToAddress(routerHex), nil)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	return rt
}

func TestAssetAdminOverHTTP(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	newAssetHex := "0x00000000000000000000000000000000000000A2"
	registerBody := `{"caller":"%s","asset":"` + newAssetHex + `","mode":"lock_release","transferCap":"10000","remotes":[{"chainKey":9,"asset":"0xd00d","decimals":6}]}`

	rec, payload := f.do(t, http.MethodPost, "/v1/assets", fmt.Sprintf(registerBody, userHex))
	if rec.Code != http.StatusForbidden || payload["error"] != "not_authorized" {
		t.Fatalf("non-admin register: %d %v", rec.Code, payload)
	}

	rec, payload = f.do(t, http.MethodPost, "/v1/assets", fmt.Sprintf(registerBody, adminHex))
	if rec.Code != http.StatusOK || payload["registered"] != true {
		t.Fatalf("register: %d %v", rec.Code, payload)
	}

	rec, payload = f.do(t, http.MethodPost, "/v1/assets",
		`{"caller":"`+adminHex+`","asset":"`+newAssetHex+`","mode":"escrow"}`)
	if rec.Code != http.StatusBadRequest || payload["error"] != "invalid_mode" {
		t.Fatalf("bad mode: %d %v", rec.Code, payload)
	}

	rec, payload = f.do(t, http.MethodGet, "/v1/assets/"+newAssetHex, "")
	if rec.Code != http.StatusOK || payload["found"] != true {
		t.Fatalf("config lookup: %d %v", rec.Code, payload)
	}
	if payload["mode"] != "lock_release" || payload["transferCap"] != "10000" {
		t.Fatalf("config content: %v", payload)
	}
	remotes, _ := payload["remotes"].([]any)
	if len(remotes) != 1 {
		t.Fatalf("remotes: %v", payload["remotes"])
	}

	rec, payload = f.do(t, http.MethodGet, "/v1/assets/0x00000000000000000000000000000000000000A3", "")
	if rec.Code != http.StatusOK || payload["found"] != false {
		t.Fatalf("missing asset lookup: %d %v", rec.Code, payload)
	}

	rec, payload = f.do(t, http.MethodPost, "/v1/assets/cap",
		`{"caller":"`+adminHex+`","asset":"`+newAssetHex+`","transferCap":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear cap: %d %v", rec.Code, payload)
	}
	rec, payload = f.do(t, http.MethodGet, "/v1/assets/"+newAssetHex, "")
	if rec.Code != http.StatusOK || payload["transferCap"] != nil {
		t.Fatalf("cap after clear: %d %v", rec.Code, payload)
	}

	rec, payload = f.do(t, http.MethodGet, "/v1/assets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %v", rec.Code, payload)
	}
	assets, _ := payload["assets"].([]any)
	if len(assets) != 3 {
		t.Fatalf("asset count: %v", payload["assets"])
	}

	// The freshly registered asset is usable end to end.
	f.bank.Mint(context.Background(), common.HexToAddress(newAssetHex), common.HexToAddress(userHex), big.NewInt(1_000))
	rec, payload = f.do(t, http.MethodPost, "/v1/deposits",
		`{"caller":"`+userHex+`","destChainKey":9,"destAccount":"0x0102","asset":"`+newAssetHex+`","amount":"100"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit of new asset: %d %v", rec.Code, payload)
	}
}
