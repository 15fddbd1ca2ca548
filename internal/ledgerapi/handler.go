// Package ledgerapi exposes the bridge over HTTP: deposit and withdrawal
// submission through the router, approval lifecycle management, record
// lookups by digest, and the pause switch.
package ledgerapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spanbridge/spanbridge/internal/assetreg"
	"github.com/spanbridge/spanbridge/internal/authz"
	"github.com/spanbridge/spanbridge/internal/events"
	"github.com/spanbridge/spanbridge/internal/ledger"
	"github.com/spanbridge/spanbridge/internal/ratelimit"
	"github.com/spanbridge/spanbridge/internal/router"
	"github.com/spanbridge/spanbridge/internal/token"
)

var ErrInvalidConfig = errors.New("ledgerapi: invalid config")

const maxPageSize = 1000

type Config struct {
	Ledger *ledger.Ledger
	Router *router.Router

	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int

	Now func() time.Time
}

func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Ledger == nil || cfg.Router == nil {
		return nil, fmt.Errorf("%w: nil ledger or router", ErrInvalidConfig)
	}
	if cfg.RateLimitPerIPPerSecond <= 0 {
		cfg.RateLimitPerIPPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.RateLimitMaxTrackedIPs <= 0 {
		cfg.RateLimitMaxTrackedIPs = 10_000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &handler{
		cfg:     cfg,
		limiter: newIPRateLimiter(cfg.RateLimitPerIPPerSecond, float64(cfg.RateLimitBurst), cfg.RateLimitMaxTrackedIPs),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/pause", h.handlePauseStatus)
	mux.HandleFunc("POST /v1/pause", h.handleSetPause)

	mux.HandleFunc("POST /v1/deposits", h.handleDeposit)
	mux.HandleFunc("POST /v1/deposits/native", h.handleDepositNative)
	mux.HandleFunc("GET /v1/deposits", h.handleDepositKeys)
	mux.HandleFunc("GET /v1/deposits/{depositKey}", h.handleDepositByKey)

	mux.HandleFunc("POST /v1/withdrawals/approve", h.handleApprove)
	mux.HandleFunc("POST /v1/withdrawals/cancel", h.handleCancel)
	mux.HandleFunc("POST /v1/withdrawals/reenable", h.handleReenable)
	mux.HandleFunc("POST /v1/withdrawals", h.handleWithdraw)
	mux.HandleFunc("POST /v1/withdrawals/native", h.handleWithdrawNative)
	mux.HandleFunc("GET /v1/withdrawals", h.handleWithdrawKeys)
	mux.HandleFunc("GET /v1/withdrawals/{withdrawKey}", h.handleWithdrawByKey)
	mux.HandleFunc("GET /v1/approvals/{withdrawKey}", h.handleApprovalByKey)

	mux.HandleFunc("POST /v1/assets", h.handleRegisterAsset)
	mux.HandleFunc("POST /v1/assets/remote", h.handleSetAssetRemote)
	mux.HandleFunc("POST /v1/assets/cap", h.handleSetAssetCap)
	mux.HandleFunc("POST /v1/assets/mode", h.handleSetAssetMode)
	mux.HandleFunc("GET /v1/assets", h.handleListAssets)
	mux.HandleFunc("GET /v1/assets/{asset}", h.handleAssetConfig)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health checks must never be throttled.
		if r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}

		now := h.cfg.Now().UTC()
		allowed := h.limiter.Allow(clientIP(r), now)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.cfg.RateLimitBurst))
		if !allowed {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}

		mux.ServeHTTP(w, r)
	}), nil
}

type handler struct {
	cfg     Config
	limiter *ipRateLimiter
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) handlePauseStatus(w http.ResponseWriter, r *http.Request) {
	paused, err := h.cfg.Ledger.Paused(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"paused":  paused,
	})
}

type setPauseBody struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (h *handler) handleSetPause(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[setPauseBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, body.Caller, "invalid_caller")
	if !ok {
		return
	}
	if err := h.cfg.Ledger.SetPaused(r.Context(), caller, body.Paused); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"paused":  body.Paused,
	})
}

type depositBody struct {
	Caller       string `json:"caller"`
	DestChainKey uint64 `json:"destChainKey"`
	DestAccount  string `json:"destAccount"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
}

func (h *handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[depositBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, body.Caller, "invalid_caller")
	if !ok {
		return
	}
	asset, ok := parseAddress(w, body.Asset, "invalid_asset")
	if !ok {
		return
	}
	destAccount, err := decodeHexBytes(body.DestAccount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_dest_account")
		return
	}
	amount, ok := parseAmount(w, body.Amount, "invalid_amount")
	if !ok {
		return
	}

	rec, key, err := h.cfg.Router.Deposit(r.Context(), caller, body.DestChainKey, destAccount, asset, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse(rec, key))
}

type depositNativeBody struct {
	Caller       string `json:"caller"`
	DestChainKey uint64 `json:"destChainKey"`
	DestAccount  string `json:"destAccount"`
	Value        string `json:"value"`
}

func (h *handler) handleDepositNative(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[depositNativeBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, body.Caller, "invalid_caller")
	if !ok {
		return
	}
	destAccount, err := decodeHexBytes(body.DestAccount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_dest_account")
		return
	}
	value, ok := parseAmount(w, body.Value, "invalid_value")
	if !ok {
		return
	}

	rec, key, err := h.cfg.Router.DepositNative(r.Context(), caller, body.DestChainKey, destAccount, value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse(rec, key))
}

func depositResponse(rec ledger.DepositRecord, key [32]byte) map[string]any {
	return map[string]any{
		"version":      "v1",
		"depositKey":   events.HexKey(key),
		"seq":          rec.Seq,
		"destChainKey": rec.DestChainKey,
		"destAsset":    events.HexBytes(rec.DestAsset),
		"destAccount":  events.HexBytes(rec.DestAccount),
		"payer":        rec.Payer.Hex(),
		"asset":        rec.Asset.Hex(),
		"amount":       rec.Amount.String(),
	}
}

func (h *handler) handleDepositKeys(w http.ResponseWriter, r *http.Request) {
	from, count, ok := parsePage(w, r)
	if !ok {
		return
	}
	keys, err := h.cfg.Ledger.DepositKeys(r.Context(), from, count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"from":    from,
		"keys":    hexKeys(keys),
	})
}

func (h *handler) handleDepositByKey(w http.ResponseWriter, r *http.Request) {
	key, err := parseHex32(r.PathValue("depositKey"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_deposit_key")
		return
	}
	rec, err := h.cfg.Ledger.DepositByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"version":    "v1",
				"found":      false,
				"depositKey": events.HexKey(key),
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	resp := depositResponse(rec, key)
	resp["found"] = true
	writeJSON(w, http.StatusOK, resp)
}

type approveBody struct {
	Caller           string `json:"caller"`
	SrcChainKey      uint64 `json:"srcChainKey"`
	Asset            string `json:"asset"`
	To               string `json:"to"`
	Amount           string `json:"amount"`
	Nonce            uint64 `json:"nonce"`
	Fee              string `json:"fee"`
	FeeRecipient     string `json:"feeRecipient"`
	DeductFromAmount bool   `json:"deductFromAmount"`
}

func (h *handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[approveBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, body.Caller, "invalid_caller")
	if !ok {
		return
	}
	asset, ok := parseAddress(w, body.Asset, "invalid_asset")
	if !ok {
		return
	}
	to, ok := parseAddress(w, body.To, "invalid_to")
	if !ok {
		return
	}
	amount, ok := parseAmount(w, body.Amount, "invalid_amount")
	if !ok {
		return
	}
	fee := new(big.Int)
	if strings.TrimSpace(body.Fee) != "" {
		fee, ok = parseAmount(w, body.Fee, "invalid_fee")
		if !ok {
			return
		}
	}
	var feeRecipient common.Address
	if strings.TrimSpace(body.FeeRecipient) != "" {
		feeRecipient, ok = parseAddress(w, body.FeeRecipient, "invalid_fee_recipient")
		if !ok {
			return
		}
	}

	key, err := h.cfg.Ledger.ApproveWithdraw(r.Context(), caller, ledger.ApproveParams{
		SrcChainKey:      body.SrcChainKey,
		Asset:            asset,
		To:               to,
		Amount:           amount,
		Nonce:            body.Nonce,
		Fee:              fee,
		FeeRecipient:     feeRecipient,
		DeductFromAmount: body.DeductFromAmount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     "v1",
		"withdrawKey": events.HexKey(key),
		"approved":    true,
	})
}

type withdrawParamsBody struct {
	Caller      string `json:"caller"`
	SrcChainKey uint64 `json:"srcChainKey"`
	Asset       string `json:"asset"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Nonce       uint64 `json:"nonce"`

	// Value is the attached native payment on the execute path.
	Value string `json:"value,omitempty"`
	// Recipient is the native payout target on the native execute path.
	Recipient string `json:"recipient,omitempty"`
}

func (h *handler) parseWithdrawParams(w http.ResponseWriter, body withdrawParamsBody) (common.Address, ledger.WithdrawParams, bool) {
	caller, ok := parseAddress(w, body.Caller, "invalid_caller")
	if !ok {
		return common.Address{}, ledger.WithdrawParams{}, false
	}
	asset, ok := parseAddress(w, body.Asset, "invalid_asset")
	if !ok {
		return common.Address{}, ledger.WithdrawParams{}, false
	}
	to, ok := parseAddress(w, body.To, "invalid_to")
	if !ok {
		return common.Address{}, ledger.WithdrawParams{}, false
	}
	amount, ok := parseAmount(w, body.Amount, "invalid_amount")
	if !ok {
		return common.Address{}, ledger.WithdrawParams{}, false
	}
	return caller, ledger.WithdrawParams{
		SrcChainKey: body.SrcChainKey,
		Asset:       asset,
		To:          to,
		Amount:      amount,
		Nonce:       body.Nonce,
	}, true
}

func (h *handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[withdrawParamsBody](w, r)
	if !ok {
		return
	}
	caller, params, ok := h.parseWithdrawParams(w, body)
	if !ok {
		return
	}
	if err := h.cfg.Ledger.CancelWithdrawApproval(r.Context(), caller, params); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   "v1",
		"cancelled": true,
	})
}

func (h *handler) handleReenable(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[withdrawParamsBody](w, r)
	if !ok {
		return
	}
	caller, params, ok := h.parseWithdrawParams(w, body)
	if !ok {
		return
	}
	if err := h.cfg.Ledger.ReenableWithdrawApproval(r.Context(), caller, params); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   "v1",
		"reenabled": true,
	})
}

func (h *handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[withdrawParamsBody](w, r)
	if !ok {
		return
	}
	caller, params, ok := h.parseWithdrawParams(w, body)
	if !ok {
		return
	}
	value := new(big.Int)
	if strings.TrimSpace(body.Value) != "" {
		value, ok = parseAmount(w, body.Value, "invalid_value")
		if !ok {
			return
		}
	}
	if err := h.cfg.Router.Withdraw(r.Context(), caller, params, value); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  "v1",
		"executed": true,
	})
}

func (h *handler) handleWithdrawNative(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[withdrawParamsBody](w, r)
	if !ok {
		return
	}
	caller, params, ok := h.parseWithdrawParams(w, body)
	if !ok {
		return
	}
	recipient, ok := parseAddress(w, body.Recipient, "invalid_recipient")
	if !ok {
		return
	}
	if err := h.cfg.Router.WithdrawNative(r.Context(), caller, recipient, params); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  "v1",
		"executed": true,
	})
}

func (h *handler) handleWithdrawKeys(w http.ResponseWriter, r *http.Request) {
	from, count, ok := parsePage(w, r)
	if !ok {
		return
	}
	keys, err := h.cfg.Ledger.WithdrawKeys(r.Context(), from, count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"from":    from,
		"keys":    hexKeys(keys),
	})
}

func (h *handler) handleWithdrawByKey(w http.ResponseWriter, r *http.Request) {
	key, err := parseHex32(r.PathValue("withdrawKey"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_withdraw_key")
		return
	}
	rec, err := h.cfg.Ledger.WithdrawByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"version":     "v1",
				"found":       false,
				"withdrawKey": events.HexKey(key),
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     "v1",
		"found":       true,
		"withdrawKey": events.HexKey(key),
		"srcChainKey": rec.SrcChainKey,
		"asset":       rec.Asset.Hex(),
		"recipient":   rec.To.Hex(),
		"amount":      rec.Amount.String(),
		"nonce":       rec.Nonce,
	})
}

func (h *handler) handleApprovalByKey(w http.ResponseWriter, r *http.Request) {
	key, err := parseHex32(r.PathValue("withdrawKey"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_withdraw_key")
		return
	}
	ap, err := h.cfg.Ledger.ApprovalByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, ledger.ErrApprovalNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"version":     "v1",
				"found":       false,
				"withdrawKey": events.HexKey(key),
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	fee := "0"
	if ap.Fee != nil {
		fee = ap.Fee.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":          "v1",
		"found":            true,
		"withdrawKey":      events.HexKey(key),
		"approved":         ap.Approved,
		"cancelled":        ap.Cancelled,
		"executed":         ap.Executed,
		"fee":              fee,
		"feeRecipient":     ap.FeeRecipient.Hex(),
		"deductFromAmount": ap.DeductFromAmount,
	})
}

type remoteBody struct {
	ChainKey uint64 `json:"chainKey"`
	Asset    string `json:"asset"`
	Decimals uint8  `json:"decimals"`
}

type registerAssetBody struct {
	Caller      string       `json:"caller"`
	Asset       string       `json:"asset"`
	Mode        string       `json:"mode"`
	TransferCap string       `json:"transferCap,omitempty"`
	Remotes     []remoteBody `json:"remotes,omitempty"`
}

func (h *handler) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[registerAssetBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, body.Caller, "invalid_caller")
	if !ok {
		return
	}
	asset, ok := parseAddress(w, body.Asset, "invalid_asset")
	if !ok {
		return
	}
	mode, ok := parseMode(w, body.Mode)
	if !ok {
		return
	}
	cfg := assetreg.Config{Mode: mode}
	if strings.TrimSpace(body.TransferCap) != "" {
		cfg.TransferCap, ok = parseAmount(w, body.TransferCap, "invalid_transfer_cap")
		if !ok {
			return
		}
	}
	if len(body.Remotes) > 0 {
		cfg.Remotes = make(map[uint64]assetreg.Remote, len(body.Remotes))
		for _, rb := range body.Remotes {
			remoteAsset, err := decodeHexBytes(rb.Asset)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_remote_asset")
				return
			}
			cfg.Remotes[rb.ChainKey] = assetreg.Remote{Asset: remoteAsset, Decimals: rb.Decimals}
		}
	}

	if err := h.cfg.Ledger.RegisterAsset(r.Context(), caller, asset, cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    "v1",
		"asset":      asset.Hex(),
		"registered": true,
	})
}

type setRemoteBody struct {
	Caller   string `json:"caller"`
	Asset    string `json:"asset"`
	ChainKey uint64 `json:"chainKey"`
	Remote   string `json:"remote"`
	Decimals uint8  `json:"decimals"`
}

func (h *handler) handleSetAssetRemote(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[setRemoteBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, body.Caller, "invalid_caller")
	if !ok {
		return
	}
	asset, ok := parseAddress(w, body.Asset, "invalid_asset")
	if !ok {
		return
	}
	remoteAsset, err := decodeHexBytes(body.Remote)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_remote_asset")
		return
	}
	if err := h.cfg.Ledger.SetAssetRemote(r.Context(), caller, asset, body.ChainKey,
		assetreg.Remote{Asset: remoteAsset, Decimals: body.Decimals}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  "v1",
		"asset":    asset.Hex(),
		"chainKey": body.ChainKey,
	})
}

type setCapBody struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	// TransferCap empty means unlimited.
	TransferCap string `json:"transferCap"`
}

func (h *handler) handleSetAssetCap(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[setCapBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, body.Caller, "invalid_caller")
	if !ok {
		return
	}
	asset, ok := parseAddress(w, body.Asset, "invalid_asset")
	if !ok {
		return
	}
	var cap *big.Int
	if strings.TrimSpace(body.TransferCap) != "" {
		cap, ok = parseAmount(w, body.TransferCap, "invalid_transfer_cap")
		if !ok {
			return
		}
	}
	if err := h.cfg.Ledger.SetAssetCap(r.Context(), caller, asset, cap); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"asset":   asset.Hex(),
	})
}

type setModeBody struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Mode   string `json:"mode"`
}

func (h *handler) handleSetAssetMode(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[setModeBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(w, body.Caller, "invalid_caller")
	if !ok {
		return
	}
	asset, ok := parseAddress(w, body.Asset, "invalid_asset")
	if !ok {
		return
	}
	mode, ok := parseMode(w, body.Mode)
	if !ok {
		return
	}
	if err := h.cfg.Ledger.SetAssetMode(r.Context(), caller, asset, mode); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"asset":   asset.Hex(),
		"mode":    mode.String(),
	})
}

func (h *handler) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.cfg.Ledger.ListAssets(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	hexed := make([]string, len(assets))
	for i, a := range assets {
		hexed[i] = a.Hex()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"assets":  hexed,
	})
}

func (h *handler) handleAssetConfig(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddress(w, r.PathValue("asset"), "invalid_asset")
	if !ok {
		return
	}
	cfg, err := h.cfg.Ledger.AssetConfig(r.Context(), asset)
	if err != nil {
		if errors.Is(err, assetreg.ErrAssetNotRegistered) {
			writeJSON(w, http.StatusOK, map[string]any{
				"version": "v1",
				"found":   false,
				"asset":   asset.Hex(),
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	remotes := make([]map[string]any, 0, len(cfg.Remotes))
	for chainKey, rem := range cfg.Remotes {
		remotes = append(remotes, map[string]any{
			"chainKey": chainKey,
			"asset":    events.HexBytes(rem.Asset),
			"decimals": rem.Decimals,
		})
	}
	var capStr any
	if cfg.TransferCap != nil {
		capStr = cfg.TransferCap.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     "v1",
		"found":       true,
		"asset":       asset.Hex(),
		"mode":        cfg.Mode.String(),
		"transferCap": capStr,
		"remotes":     remotes,
	})
}

func parseMode(w http.ResponseWriter, s string) (assetreg.Mode, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "mint_burn":
		return assetreg.ModeMintBurn, true
	case "lock_release":
		return assetreg.ModeLockRelease, true
	default:
		writeError(w, http.StatusBadRequest, "invalid_mode")
		return assetreg.ModeUnknown, false
	}
}

// writeDomainError maps the typed bridge errors onto stable wire codes.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range domainErrorCodes {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "internal")
}

var domainErrorCodes = []struct {
	err    error
	status int
	code   string
}{
	{authz.ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
	{ledger.ErrPaused, http.StatusServiceUnavailable, "bridge_paused"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrWithdrawNotApproved, http.StatusConflict, "withdraw_not_approved"},
	{ledger.ErrApprovalCancelled, http.StatusConflict, "approval_cancelled"},
	{ledger.ErrApprovalExecuted, http.StatusConflict, "approval_executed"},
	{ledger.ErrNotCancelled, http.StatusConflict, "approval_not_cancelled"},
	{ledger.ErrNonceAlreadyApproved, http.StatusConflict, "nonce_already_approved"},
	{ledger.ErrIncorrectFeeValue, http.StatusBadRequest, "incorrect_fee_value"},
	{ledger.ErrFeeRecipientZero, http.StatusBadRequest, "fee_recipient_zero"},
	{ledger.ErrNoFeeViaValueWhenDeduct, http.StatusBadRequest, "no_fee_via_value_when_deduct"},
	{ledger.ErrDeductRequiresNativeAsset, http.StatusBadRequest, "deduct_requires_native_asset"},
	{ledger.ErrDeductRequiresRouterRecipient, http.StatusBadRequest, "deduct_requires_router_recipient"},
	{router.ErrUseWithdrawNative, http.StatusBadRequest, "use_withdraw_native"},
	{router.ErrNotNativeApproval, http.StatusBadRequest, "not_native_approval"},
	{router.ErrFeeExceedsAmount, http.StatusBadRequest, "fee_exceeds_amount"},
	{router.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ratelimit.ErrCapExceeded, http.StatusUnprocessableEntity, "transfer_cap_exceeded"},
	{token.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
	{assetreg.ErrAssetNotRegistered, http.StatusBadRequest, "asset_not_registered"},
	{assetreg.ErrDestinationNotRegistered, http.StatusBadRequest, "destination_not_registered"},
	{assetreg.ErrInvalidConfig, http.StatusBadRequest, "invalid_asset_config"},
}

func writeError(w http.ResponseWriter, code int, errCode string) {
	writeJSON(w, code, map[string]any{
		"version": "v1",
		"error":   errCode,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var out T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return out, false
	}
	return out, true
}

func parseAddress(w http.ResponseWriter, s, errCode string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		writeError(w, http.StatusBadRequest, errCode)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseAmount(w http.ResponseWriter, s, errCode string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		writeError(w, http.StatusBadRequest, errCode)
		return nil, false
	}
	return v, true
}

func parsePage(w http.ResponseWriter, r *http.Request) (from, count uint64, ok bool) {
	q := r.URL.Query()
	var err error
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from")
			return 0, 0, false
		}
	}
	count = 100
	if raw := strings.TrimSpace(q.Get("count")); raw != "" {
		count, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_count")
			return 0, 0, false
		}
	}
	if count > maxPageSize {
		count = maxPageSize
	}
	return from, count, true
}

func parseHex32(s string) ([32]byte, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "0x"))
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("invalid length")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

func decodeHexBytes(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.TrimPrefix(raw, "0X")
	if raw == "" {
		return nil, errors.New("empty hex value")
	}
	return hex.DecodeString(raw)
}

func hexKeys(keys [][32]byte) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = events.HexKey(k)
	}
	return out
}

func clientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(remote); err == nil {
		return addr.Addr().String()
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.String()
	}
	return remote
}

type limiterState struct {
	tokens float64
	lastAt time.Time
}

type ipRateLimiter struct {
	mu sync.Mutex

	refillPerSecond float64
	burst           float64
	maxTrackedIPs   int
	states          map[string]limiterState
}

func newIPRateLimiter(refillPerSecond, burst float64, maxTrackedIPs int) *ipRateLimiter {
	return &ipRateLimiter{
		refillPerSecond: refillPerSecond,
		burst:           burst,
		maxTrackedIPs:   maxTrackedIPs,
		states:          make(map[string]limiterState),
	}
}

func (l *ipRateLimiter) Allow(ip string, now time.Time) bool {
	if ip == "" {
		ip = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[ip]
	if !ok {
		if len(l.states) >= l.maxTrackedIPs {
			l.evictOldest()
		}
		l.states[ip] = limiterState{tokens: l.burst - 1, lastAt: now}
		return true
	}

	if elapsed := now.Sub(st.lastAt).Seconds(); elapsed > 0 {
		st.tokens += elapsed * l.refillPerSecond
		if st.tokens > l.burst {
			st.tokens = l.burst
		}
	}
	st.lastAt = now

	if st.tokens < 1 {
		l.states[ip] = st
		return false
	}
	st.tokens--
	l.states[ip] = st
	return true
}

func (l *ipRateLimiter) evictOldest() {
	var oldestIP string
	var oldestAt time.Time
	first := true
	for ip, st := range l.states {
		if first || st.lastAt.Before(oldestAt) {
			oldestIP = ip
			oldestAt = st.lastAt
			first = false
		}
	}
	if oldestIP != "" {
		delete(l.states, oldestIP)
	}
}
