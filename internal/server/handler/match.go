package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/memepit/memepit/internal/domain"
	"github.com/memepit/memepit/internal/server/middleware"
	"github.com/memepit/memepit/internal/service"
)

// EscrowService defines the methods that the match handler requires from the
// service layer.
type EscrowService interface {
	Declare(ctx context.Context, actor domain.Actor, params service.DeclareParams) (domain.Match, error)
	Deposit(ctx context.Context, actor domain.Actor, matchID string, player common.Address) (domain.Match, error)
	Resolve(ctx context.Context, actor domain.Actor, matchID string, winner common.Address, hint *domain.RouteHint) (domain.Match, error)
	Refund(ctx context.Context, actor domain.Actor, matchID string) (domain.Match, error)
	GetMatch(ctx context.Context, id string) (domain.Match, error)
	ListMatches(ctx context.Context, opts domain.ListOpts) ([]domain.Match, error)
}

// MatchHandler serves the match escrow HTTP endpoints.
type MatchHandler struct {
	escrow EscrowService
	logger *slog.Logger
}

// NewMatchHandler creates a MatchHandler with the given service and logger.
func NewMatchHandler(escrow EscrowService, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{
		escrow: escrow,
		logger: logger,
	}
}

// matchLegResponse is the JSON form of one wager leg.
type matchLegResponse struct {
	Player    string `json:"player"`
	Token     string `json:"token"`
	Wager     string `json:"wager"`
	Deposited bool   `json:"deposited"`
}

// matchResponse is the JSON form of a match. Amounts are decimal strings.
type matchResponse struct {
	ID            string             `json:"id"`
	EpochID       uint64             `json:"epoch_id"`
	Seq           int64              `json:"seq"`
	Status        string             `json:"status"`
	Legs          [2]matchLegResponse `json:"legs"`
	Winner        string             `json:"winner,omitempty"`
	Converted     string             `json:"converted,omitempty"`
	WinnerShare   string             `json:"winner_share,omitempty"`
	ProtocolShare string             `json:"protocol_share,omitempty"`
	PoolShare     string             `json:"pool_share,omitempty"`
	CreatedAt     string             `json:"created_at"`
	ResolvedAt    string             `json:"resolved_at,omitempty"`
	RefundedAt    string             `json:"refunded_at,omitempty"`
}

func toMatchResponse(m domain.Match) matchResponse {
	resp := matchResponse{
		ID:        m.ID,
		EpochID:   m.EpochID,
		Seq:       m.Seq,
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
	for i, leg := range m.Legs {
		resp.Legs[i] = matchLegResponse{
			Player:    leg.Player.Hex(),
			Token:     leg.Token.Hex(),
			Wager:     bigString(leg.Wager),
			Deposited: leg.Deposited,
		}
	}
	if m.Winner != nil {
		resp.Winner = m.Winner.Hex()
	}
	if m.Converted != nil {
		resp.Converted = m.Converted.String()
	}
	if m.WinnerShare != nil {
		resp.WinnerShare = m.WinnerShare.String()
	}
	if m.ProtocolShare != nil {
		resp.ProtocolShare = m.ProtocolShare.String()
	}
	if m.PoolShare != nil {
		resp.PoolShare = m.PoolShare.String()
	}
	if m.ResolvedAt != nil {
		resp.ResolvedAt = m.ResolvedAt.UTC().Format(time.RFC3339)
	}
	if m.RefundedAt != nil {
		resp.RefundedAt = m.RefundedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// declareRequest is the body of the declare endpoint.
type declareRequest struct {
	MatchID string `json:"match_id"`
	EpochID uint64 `json:"epoch_id"`
	PlayerA string `json:"player_a"`
	TokenA  string `json:"token_a"`
	WagerA  string `json:"wager_a"`
	PlayerB string `json:"player_b"`
	TokenB  string `json:"token_b"`
	WagerB  string `json:"wager_b"`
}

// routeHintRequest is the optional conversion route hint in resolve bodies.
type routeHintRequest struct {
	Via    string `json:"via,omitempty"`
	FeeBps uint32 `json:"fee_bps,omitempty"`
}

func (h routeHintRequest) toDomain() (*domain.RouteHint, error) {
	if h.Via == "" && h.FeeBps == 0 {
		return nil, nil
	}
	hint := &domain.RouteHint{FeeBps: h.FeeBps}
	if h.Via != "" {
		via, err := parseAddress("hint.via", h.Via)
		if err != nil {
			return nil, err
		}
		hint.Via = &via
	}
	return hint, nil
}

// Declare registers a new pending match in an open epoch.
// POST /api/matches
func (h *MatchHandler) Declare(w http.ResponseWriter, r *http.Request) {
	var req declareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params := service.DeclareParams{MatchID: req.MatchID, EpochID: req.EpochID}
	// Sources that track their own match ids supply one; otherwise mint it here.
	if params.MatchID == "" {
		params.MatchID = uuid.NewString()
	}
	var err error
	if params.PlayerA, err = parseAddress("player_a", req.PlayerA); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.TokenA, err = parseAddress("token_a", req.TokenA); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.WagerA, err = parseAmount("wager_a", req.WagerA); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.PlayerB, err = parseAddress("player_b", req.PlayerB); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.TokenB, err = parseAddress("token_b", req.TokenB); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.WagerB, err = parseAmount("wager_b", req.WagerB); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	match, err := h.escrow.Declare(r.Context(), actor, params)
	if err != nil {
		writeDomainError(w, r, h.logger, "declare match", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMatchResponse(match))
}

// Deposit moves one player's wager from their vault balance into the match
// escrow.
// POST /api/matches/{id}/deposit
func (h *MatchHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Player string `json:"player"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	player, err := parseAddress("player", req.Player)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	match, err := h.escrow.Deposit(r.Context(), actor, id, player)
	if err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(match))
}

// Resolve settles an active match: the loser's stake is converted to the
// winner's token and split.
// POST /api/matches/{id}/resolve
func (h *MatchHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Winner string           `json:"winner"`
		Hint   routeHintRequest `json:"hint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	winner, err := parseAddress("winner", req.Winner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hint, err := req.Hint.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	match, err := h.escrow.Resolve(r.Context(), actor, id, winner, hint)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve match", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(match))
}

// Refund returns all deposited stakes to the players and voids the match.
// POST /api/matches/{id}/refund
func (h *MatchHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	actor := middleware.ActorFrom(r.Context())
	match, err := h.escrow.Refund(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "refund match", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(match))
}

// GetMatch returns a single match by its ID.
// GET /api/matches/{id}
func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing match id")
		return
	}

	match, err := h.escrow.GetMatch(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get match", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(match))
}

// listMatchesResponse wraps the list endpoint output with its pagination.
type listMatchesResponse struct {
	Matches []matchResponse `json:"matches"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMatches returns matches with pagination, newest first.
// GET /api/matches?limit=50&offset=0
func (h *MatchHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	matches, err := h.escrow.ListMatches(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list matches", err)
		return
	}

	resp := listMatchesResponse{
		Matches: make([]matchResponse, 0, len(matches)),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, toMatchResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}
