package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
	"github.com/memepit/memepit/internal/server/middleware"
)

// VaultService defines the methods that the vault handler requires from the
// service layer.
type VaultService interface {
	Credit(ctx context.Context, actor domain.Actor, player common.Address, token common.Address, amount *big.Int, auth []byte) error
	Withdraw(ctx context.Context, actor domain.Actor, player common.Address, token common.Address, amount *big.Int) error
	Balance(ctx context.Context, player common.Address, token common.Address) (*big.Int, error)
	Balances(ctx context.Context, player common.Address) ([]domain.Balance, error)
}

// VaultHandler serves the player custody HTTP endpoints.
type VaultHandler struct {
	vault  VaultService
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler with the given service and logger.
func NewVaultHandler(vault VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		vault:  vault,
		logger: logger,
	}
}

// movementRequest is the body of the credit and withdraw endpoints. Auth is a
// base64-encoded player signature, required only when the engine is
// configured to demand deposit authorization.
type movementRequest struct {
	Player string `json:"player"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Auth   string `json:"auth,omitempty"`
}

func (req movementRequest) parse() (player, token common.Address, amount *big.Int, auth []byte, err error) {
	if player, err = parseAddress("player", req.Player); err != nil {
		return
	}
	if token, err = parseAddress("token", req.Token); err != nil {
		return
	}
	if amount, err = parseAmount("amount", req.Amount); err != nil {
		return
	}
	if req.Auth != "" {
		auth, err = base64.StdEncoding.DecodeString(req.Auth)
	}
	return
}

// Credit records receipt of a player's externally-custodied funds.
// POST /api/vault/credits
func (h *VaultHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	player, token, amount, auth, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	if err := h.vault.Credit(r.Context(), actor, player, token, amount, auth); err != nil {
		writeDomainError(w, r, h.logger, "vault credit", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"status": "credited",
		"player": player.Hex(),
		"token":  token.Hex(),
		"amount": amount.String(),
	})
}

// Withdraw releases part of a player's free balance back to external custody.
// POST /api/vault/withdrawals
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	player, token, amount, _, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.ActorFrom(r.Context())
	if err := h.vault.Withdraw(r.Context(), actor, player, token, amount); err != nil {
		writeDomainError(w, r, h.logger, "vault withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "withdrawn",
		"player": player.Hex(),
		"token":  token.Hex(),
		"amount": amount.String(),
	})
}

// balanceResponse is one token balance row.
type balanceResponse struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Balances returns all of a player's free token balances.
// GET /api/vault/{player}
func (h *VaultHandler) Balances(w http.ResponseWriter, r *http.Request) {
	player, err := parseAddress("player", pathParam(r, "player"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balances, err := h.vault.Balances(r.Context(), player)
	if err != nil {
		writeDomainError(w, r, h.logger, "vault balances", err)
		return
	}

	resp := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		resp = append(resp, balanceResponse{Token: b.Token.Hex(), Amount: bigString(b.Amount)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player":   player.Hex(),
		"balances": resp,
	})
}

// Balance returns a player's free balance in one token.
// GET /api/vault/{player}/{token}
func (h *VaultHandler) Balance(w http.ResponseWriter, r *http.Request) {
	player, err := parseAddress("player", pathParam(r, "player"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress("token", pathParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.vault.Balance(r.Context(), player, token)
	if err != nil {
		writeDomainError(w, r, h.logger, "vault balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"player": player.Hex(),
		"token":  token.Hex(),
		"amount": bigString(amount),
	})
}
