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

// SettlementService defines the methods that the settlement handler requires
// from the service layer.
type SettlementService interface {
	Initialize(ctx context.Context, actor domain.Actor, epochID uint64, settlementToken common.Address) (domain.SettlementProgress, error)
	AccumulateMatches(ctx context.Context, actor domain.Actor, epochID uint64, limit int) (domain.SettlementProgress, error)
	ConvertPool(ctx context.Context, actor domain.Actor, epochID uint64, hint *domain.RouteHint) (domain.SettlementProgress, error)
	DistributePayouts(ctx context.Context, actor domain.Actor, epochID uint64, limit int) (domain.SettlementProgress, error)
	Progress(ctx context.Context, epochID uint64) (domain.SettlementProgress, error)
	Weights(ctx context.Context, epochID uint64, opts domain.ListOpts) ([]domain.ParticipantWeight, error)
}

// SettlementHandler serves the settlement pipeline HTTP endpoints. Each phase
// endpoint is idempotent and resumable; callers re-invoke until the progress
// response reports completion.
type SettlementHandler struct {
	settlement SettlementService
	logger     *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler with the given service and
// logger.
func NewSettlementHandler(settlement SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
		logger:     logger,
	}
}

// progressResponse is the JSON form of the settlement cursor state.
type progressResponse struct {
	EpochID          uint64 `json:"epoch_id"`
	SettlementToken  string `json:"settlement_token"`
	TotalMatches     int64  `json:"total_matches"`
	ProcessedMatches int64  `json:"processed_matches"`
	Participants     int64  `json:"participants"`
	TotalWeight      string `json:"total_weight"`
	Converted        bool   `json:"converted"`
	PoolBalance      string `json:"pool_balance"`
	PaidParticipants int64  `json:"paid_participants"`
	PaidOut          string `json:"paid_out"`
	FullyPaid        bool   `json:"fully_paid"`
	UpdatedAt        string `json:"updated_at"`
}

func toProgressResponse(p domain.SettlementProgress) progressResponse {
	return progressResponse{
		EpochID:          p.EpochID,
		SettlementToken:  p.SettlementToken.Hex(),
		TotalMatches:     p.TotalMatches,
		ProcessedMatches: p.ProcessedMatches,
		Participants:     p.Participants,
		TotalWeight:      bigString(p.TotalWeight),
		Converted:        p.Converted,
		PoolBalance:      bigString(p.PoolBalance),
		PaidParticipants: p.PaidParticipants,
		PaidOut:          bigString(p.PaidOut),
		FullyPaid:        p.FullyPaid,
		UpdatedAt:        p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// batchLimit reads the optional "limit" field of a phase request body,
// falling back to 0 (service default).
type phaseRequest struct {
	Limit int `json:"limit"`
}

// Initialize starts settlement for a closed epoch, designating the
// settlement token.
// POST /api/epochs/{id}/settlement/initialize
func (h *SettlementHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		SettlementToken string `json:"settlement_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	token, err := parseAddress("settlement_token", req.SettlementToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	progress, err := h.settlement.Initialize(r.Context(), actor, id, token)
	if err != nil {
		writeDomainError(w, r, h.logger, "initialize settlement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProgressResponse(progress))
}

// Accumulate scans the next batch of resolved matches into participant
// weights.
// POST /api/epochs/{id}/settlement/accumulate
func (h *SettlementHandler) Accumulate(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req phaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	progress, err := h.settlement.AccumulateMatches(r.Context(), actor, id, req.Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "accumulate matches", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressResponse(progress))
}

// Convert exchanges the epoch's pooled tokens into the settlement token.
// Tokens whose conversion fails are recorded in the failed-conversion ledger
// and do not block the rest.
// POST /api/epochs/{id}/settlement/convert
func (h *SettlementHandler) Convert(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Hint routeHintRequest `json:"hint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	hint, err := req.Hint.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	progress, err := h.settlement.ConvertPool(r.Context(), actor, id, hint)
	if err != nil {
		writeDomainError(w, r, h.logger, "convert pool", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressResponse(progress))
}

// Distribute pays the next batch of participants their weighted pool share.
// POST /api/epochs/{id}/settlement/distribute
func (h *SettlementHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req phaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	progress, err := h.settlement.DistributePayouts(r.Context(), actor, id, req.Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "distribute payouts", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressResponse(progress))
}

// Progress returns the settlement cursor state for an epoch.
// GET /api/epochs/{id}/settlement
func (h *SettlementHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	progress, err := h.settlement.Progress(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "settlement progress", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressResponse(progress))
}

// weightResponse is one participant's payout weight.
type weightResponse struct {
	Participant string `json:"participant"`
	Position    int64  `json:"position"`
	Weight      string `json:"weight"`
	Paid        bool   `json:"paid"`
	PaidAmount  string `json:"paid_amount,omitempty"`
}

// Weights returns participant weights for an epoch with pagination.
// GET /api/epochs/{id}/settlement/weights?limit=50&offset=0
func (h *SettlementHandler) Weights(w http.ResponseWriter, r *http.Request) {
	id, err := parseEpochID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := parseListOpts(r)

	weights, err := h.settlement.Weights(r.Context(), id, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "settlement weights", err)
		return
	}

	resp := make([]weightResponse, 0, len(weights))
	for _, wt := range weights {
		item := weightResponse{
			Participant: wt.Participant.Hex(),
			Position:    wt.Position,
			Weight:      bigString(wt.Weight),
			Paid:        wt.Paid,
		}
		if wt.PaidAmount != nil {
			item.PaidAmount = wt.PaidAmount.String()
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch_id": id,
		"weights":  resp,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}
