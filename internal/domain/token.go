package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SupportedToken is an administrator-registered fungible token. Epoch opens
// default their eligible set from the enabled entries.
type SupportedToken struct {
	Token   common.Address
	Symbol  string
	Enabled bool
	AddedAt time.Time
}

// ParseToken parses a 0x-prefixed hex address and rejects the zero address.
func ParseToken(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: bad token address %q", ErrValidation, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero token address", ErrValidation)
	}
	return addr, nil
}

// PairKey returns the canonical key for an unordered token pair: the two
// lowercase hex addresses joined low-high. PairKey(a,b) == PairKey(b,a).
func PairKey(a, b common.Address) string {
	lo, hi := SortPair(a, b)
	return strings.ToLower(lo.Hex()) + "-" + strings.ToLower(hi.Hex())
}

// SortPair orders a token pair canonically (bytewise ascending).
func SortPair(a, b common.Address) (lo, hi common.Address) {
	if strings.ToLower(a.Hex()) <= strings.ToLower(b.Hex()) {
		return a, b
	}
	return b, a
}
