package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
	"github.com/memepit/memepit/internal/server/middleware"
)

// RegistryService defines the token/adapter/pool registry methods the admin
// handler requires.
type RegistryService interface {
	UpsertToken(ctx context.Context, actor domain.Actor, token common.Address, symbol string, enabled bool) error
	ListTokens(ctx context.Context) ([]domain.SupportedToken, error)
	BindAdapter(ctx context.Context, actor domain.Actor, a, b common.Address, adapterName string) error
	UnbindAdapter(ctx context.Context, actor domain.Actor, a, b common.Address) error
	ListBindings(ctx context.Context) ([]domain.AdapterBinding, error)
	CreatePool(ctx context.Context, actor domain.Actor, pool domain.Pool) error
	FundPool(ctx context.Context, actor domain.Actor, adapter string, a, b common.Address, token common.Address, amount *big.Int) error
	ListPools(ctx context.Context, adapter string) ([]domain.Pool, error)
}

// RecoveryService defines the administrative recovery methods the admin
// handler requires.
type RecoveryService interface {
	SweepBalance(ctx context.Context, actor domain.Actor, account string, token common.Address, amount *big.Int, recipient common.Address) error
	SweepFailedConversion(ctx context.Context, actor domain.Actor, epochID uint64, token common.Address, recipient common.Address) (*big.Int, error)
	FailedConversions(ctx context.Context, epochID uint64) ([]domain.FailedConversion, error)
	AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AdminHandler serves the registry and recovery HTTP endpoints.
type AdminHandler struct {
	registry RegistryService
	recovery RecoveryService
	archive  domain.BlobReader
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given services and logger.
func NewAdminHandler(registry RegistryService, recovery RecoveryService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		recovery: recovery,
		logger:   logger,
	}
}

// WithArchive attaches the cold-storage reader backing the epoch archive
// endpoint. Without it the endpoint reports that no archive is configured.
func (h *AdminHandler) WithArchive(archive domain.BlobReader) *AdminHandler {
	h.archive = archive
	return h
}

// UpsertToken registers or updates a supported token.
// PUT /api/admin/tokens
func (h *AdminHandler) UpsertToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token   string `json:"token"`
		Symbol  string `json:"symbol"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	if err := h.registry.UpsertToken(r.Context(), actor, token, req.Symbol, req.Enabled); err != nil {
		writeDomainError(w, r, h.logger, "upsert token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token.Hex(),
		"symbol":  req.Symbol,
		"enabled": req.Enabled,
	})
}

// ListTokens returns the full supported-token registry.
// GET /api/admin/tokens
func (h *AdminHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.registry.ListTokens(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list tokens", err)
		return
	}

	type tokenResponse struct {
		Token   string `json:"token"`
		Symbol  string `json:"symbol"`
		Enabled bool   `json:"enabled"`
		AddedAt string `json:"added_at"`
	}
	resp := make([]tokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, tokenResponse{
			Token:   t.Token.Hex(),
			Symbol:  t.Symbol,
			Enabled: t.Enabled,
			AddedAt: t.AddedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": resp})
}

// BindAdapter maps an unordered token pair to a conversion adapter.
// PUT /api/admin/adapters
func (h *AdminHandler) BindAdapter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenA  string `json:"token_a"`
		TokenB  string `json:"token_b"`
		Adapter string `json:"adapter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a, err := parseAddress("token_a", req.TokenA)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := parseAddress("token_b", req.TokenB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	if err := h.registry.BindAdapter(r.Context(), actor, a, b, req.Adapter); err != nil {
		writeDomainError(w, r, h.logger, "bind adapter", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token_a": a.Hex(),
		"token_b": b.Hex(),
		"adapter": req.Adapter,
	})
}

// UnbindAdapter removes a pair's adapter binding.
// DELETE /api/admin/adapters?token_a=0x..&token_b=0x..
func (h *AdminHandler) UnbindAdapter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, err := parseAddress("token_a", q.Get("token_a"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := parseAddress("token_b", q.Get("token_b"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	if err := h.registry.UnbindAdapter(r.Context(), actor, a, b); err != nil {
		writeDomainError(w, r, h.logger, "unbind adapter", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unbound"})
}

// ListBindings returns every pair-to-adapter binding.
// GET /api/admin/adapters
func (h *AdminHandler) ListBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.registry.ListBindings(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list bindings", err)
		return
	}

	type bindingResponse struct {
		TokenA  string `json:"token_a"`
		TokenB  string `json:"token_b"`
		Adapter string `json:"adapter"`
	}
	resp := make([]bindingResponse, 0, len(bindings))
	for _, b := range bindings {
		resp = append(resp, bindingResponse{
			TokenA:  b.TokenA.Hex(),
			TokenB:  b.TokenB.Hex(),
			Adapter: b.Adapter,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bindings": resp})
}

// CreatePool registers a liquidity pool for an adapter.
// POST /api/admin/pools
func (h *AdminHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Adapter       string `json:"adapter"`
		TokenA        string `json:"token_a"`
		TokenB        string `json:"token_b"`
		FeeBps        uint32 `json:"fee_bps"`
		Concentration int64  `json:"concentration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a, err := parseAddress("token_a", req.TokenA)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := parseAddress("token_b", req.TokenB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	pool := domain.Pool{
		Adapter:       req.Adapter,
		TokenA:        a,
		TokenB:        b,
		FeeBps:        req.FeeBps,
		Concentration: req.Concentration,
	}
	if err := h.registry.CreatePool(r.Context(), actor, pool); err != nil {
		writeDomainError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"adapter": req.Adapter,
		"account": pool.Account(),
	})
}

// FundPool seeds a pool's reserves from the treasury account.
// POST /api/admin/pools/fund
func (h *AdminHandler) FundPool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Adapter string `json:"adapter"`
		TokenA  string `json:"token_a"`
		TokenB  string `json:"token_b"`
		Token   string `json:"token"`
		Amount  string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a, err := parseAddress("token_a", req.TokenA)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := parseAddress("token_b", req.TokenB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	if err := h.registry.FundPool(r.Context(), actor, req.Adapter, a, b, token, amount); err != nil {
		writeDomainError(w, r, h.logger, "fund pool", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

// ListPools returns pools, optionally filtered by adapter.
// GET /api/admin/pools?adapter=constant_product
func (h *AdminHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.registry.ListPools(r.Context(), r.URL.Query().Get("adapter"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list pools", err)
		return
	}

	type poolResponse struct {
		Adapter       string `json:"adapter"`
		TokenA        string `json:"token_a"`
		TokenB        string `json:"token_b"`
		FeeBps        uint32 `json:"fee_bps"`
		Concentration int64  `json:"concentration,omitempty"`
		Account       string `json:"account"`
	}
	resp := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		resp = append(resp, poolResponse{
			Adapter:       p.Adapter,
			TokenA:        p.TokenA.Hex(),
			TokenB:        p.TokenB.Hex(),
			FeeBps:        p.FeeBps,
			Concentration: p.Concentration,
			Account:       p.Account(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": resp})
}

// SweepBalance moves stranded funds from any vault account to a player.
// POST /api/admin/sweeps/balance
func (h *AdminHandler) SweepBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account   string `json:"account"`
		Token     string `json:"token"`
		Amount    string `json:"amount"`
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	if err := h.recovery.SweepBalance(r.Context(), actor, req.Account, token, amount, recipient); err != nil {
		writeDomainError(w, r, h.logger, "sweep balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "swept"})
}

// SweepFailedConversion pays out a failed-conversion ledger entry in its
// original token and clears it.
// POST /api/admin/sweeps/failed-conversion
func (h *AdminHandler) SweepFailedConversion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EpochID   uint64 `json:"epoch_id"`
		Token     string `json:"token"`
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	amount, err := h.recovery.SweepFailedConversion(r.Context(), actor, req.EpochID, token, recipient)
	if err != nil {
		writeDomainError(w, r, h.logger, "sweep failed conversion", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "swept",
		"amount": bigString(amount),
	})
}

// FailedConversions lists an epoch's failed-conversion ledger.
// GET /api/epochs/{id}/failed-conversions
func (h *AdminHandler) FailedConversions(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	failed, err := h.recovery.FailedConversions(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed conversions", err)
		return
	}

	type failedResponse struct {
		Token     string `json:"token"`
		Amount    string `json:"amount"`
		Reason    string `json:"reason"`
		UpdatedAt string `json:"updated_at"`
	}
	resp := make([]failedResponse, 0, len(failed))
	for _, f := range failed {
		resp = append(resp, failedResponse{
			Token:     f.Token.Hex(),
			Amount:    bigString(f.Amount),
			Reason:    f.Reason,
			UpdatedAt: f.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch_id":           id,
		"failed_conversions": resp,
	})
}

// EpochArchive streams a settled epoch's archived settlement record as
// written by the archiver. Epochs that were never archived (or an engine
// running without cold storage) report 404.
// GET /api/epochs/{id}/archive
func (h *AdminHandler) EpochArchive(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "epoch archive is not configured")
		return
	}

	body, err := h.archive.Get(r.Context(), domain.EpochArchivePath(id))
	if err != nil {
		writeDomainError(w, r, h.logger, "epoch archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: epoch archive stream interrupted",
			slog.Uint64("epoch_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// AuditLog returns recent audit entries, newest first.
// GET /api/admin/audit?limit=50&offset=0
func (h *AdminHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.recovery.AuditLog(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "audit log", err)
		return
	}

	type auditResponse struct {
		ID        string         `json:"id"`
		Event     string         `json:"event"`
		Detail    map[string]any `json:"detail"`
		CreatedAt string         `json:"created_at"`
	}
	resp := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, auditResponse{
			ID:        strconv.FormatInt(e.ID, 10),
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": resp,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
