package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Vault account keys. Every unit of value the system holds is attributed to
// exactly one (account, token) balance row, so per-token totals stay
// auditable end to end.
const TreasuryAccount = "treasury"

// PlayerAccount is the vault account holding a player's free balance.
func PlayerAccount(player common.Address) string {
	return "player:" + strings.ToLower(player.Hex())
}

// EscrowAccount holds a match's deposited wagers until resolve or refund.
func EscrowAccount(matchID string) string {
	return "escrow:" + matchID
}

// PoolAccount holds an epoch's pooled contributions.
func PoolAccount(epochID uint64) string {
	return fmt.Sprintf("pool:epoch:%d", epochID)
}

// ExchangeAccount holds a liquidity pool's reserves for one adapter/pair.
func ExchangeAccount(adapter, pairKey string) string {
	return "exchange:" + adapter + ":" + pairKey
}

// AdapterAccount is where callers place conversion input before invoking an
// adapter; the adapter drains it into its pools on success.
func AdapterAccount(adapter string) string {
	return "adapter:" + adapter
}

// Balance is one (account, token) vault row.
type Balance struct {
	Account string
	Token   common.Address
	Amount  *big.Int
}
