package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
	"github.com/memepit/memepit/internal/server/middleware"
)

// EpochService defines the methods that the epoch handler requires from the
// service layer.
type EpochService interface {
	Open(ctx context.Context, actor domain.Actor, eligibleTokens []common.Address) (domain.Epoch, error)
	Close(ctx context.Context, actor domain.Actor, epochID uint64) (domain.Epoch, error)
	Get(ctx context.Context, id uint64) (domain.Epoch, error)
	Current(ctx context.Context) (domain.Epoch, error)
	Deposits(ctx context.Context, epochID uint64) ([]domain.EpochDeposit, error)
}

// EpochHandler serves the epoch lifecycle HTTP endpoints.
type EpochHandler struct {
	epochs EpochService
	logger *slog.Logger
}

// NewEpochHandler creates an EpochHandler with the given service and logger.
func NewEpochHandler(epochs EpochService, logger *slog.Logger) *EpochHandler {
	return &EpochHandler{
		epochs: epochs,
		logger: logger,
	}
}

// epochResponse is the JSON form of an epoch.
type epochResponse struct {
	ID              uint64   `json:"id"`
	Status          string   `json:"status"`
	EligibleTokens  []string `json:"eligible_tokens"`
	SettlementToken string   `json:"settlement_token,omitempty"`
	OpenedAt        string   `json:"opened_at"`
	ClosedAt        string   `json:"closed_at,omitempty"`
	SettledAt       string   `json:"settled_at,omitempty"`
}

func toEpochResponse(e domain.Epoch) epochResponse {
	resp := epochResponse{
		ID:             e.ID,
		Status:         string(e.Status),
		EligibleTokens: make([]string, 0, len(e.EligibleTokens)),
		OpenedAt:       e.OpenedAt.UTC().Format(time.RFC3339),
	}
	for _, t := range e.EligibleTokens {
		resp.EligibleTokens = append(resp.EligibleTokens, t.Hex())
	}
	if e.SettlementToken != nil {
		resp.SettlementToken = e.SettlementToken.Hex()
	}
	if e.ClosedAt != nil {
		resp.ClosedAt = e.ClosedAt.UTC().Format(time.RFC3339)
	}
	if e.SettledAt != nil {
		resp.SettledAt = e.SettledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Open starts a new epoch. The eligible-token set may be given explicitly;
// when omitted, the service snapshots the enabled token registry.
// POST /api/epochs
func (h *EpochHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EligibleTokens []string `json:"eligible_tokens"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tokens := make([]common.Address, 0, len(req.EligibleTokens))
	for _, raw := range req.EligibleTokens {
		token, err := parseAddress("eligible_tokens", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tokens = append(tokens, token)
	}

	actor := middleware.ActorFrom(r.Context())
	epoch, err := h.epochs.Open(r.Context(), actor, tokens)
	if err != nil {
		writeDomainError(w, r, h.logger, "open epoch", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEpochResponse(epoch))
}

// Close stops match declarations for the epoch and makes it eligible for
// settlement.
// POST /api/epochs/{id}/close
func (h *EpochHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	epoch, err := h.epochs.Close(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "close epoch", err)
		return
	}
	writeJSON(w, http.StatusOK, toEpochResponse(epoch))
}

// GetEpoch returns a single epoch by its ID.
// GET /api/epochs/{id}
func (h *EpochHandler) GetEpoch(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	epoch, err := h.epochs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get epoch", err)
		return
	}
	writeJSON(w, http.StatusOK, toEpochResponse(epoch))
}

// Current returns the most recently opened epoch.
// GET /api/epochs/current
func (h *EpochHandler) Current(w http.ResponseWriter, r *http.Request) {
	epoch, err := h.epochs.Current(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "current epoch", err)
		return
	}
	writeJSON(w, http.StatusOK, toEpochResponse(epoch))
}

// depositResponse is one token's pooled contribution for an epoch.
type depositResponse struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Deposits returns the epoch's accumulated per-token pool contributions.
// GET /api/epochs/{id}/deposits
func (h *EpochHandler) Deposits(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deposits, err := h.epochs.Deposits(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "epoch deposits", err)
		return
	}

	resp := make([]depositResponse, 0, len(deposits))
	for _, d := range deposits {
		resp = append(resp, depositResponse{Token: d.Token.Hex(), Amount: bigString(d.Amount)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"epoch_id": id, "deposits": resp})
}
