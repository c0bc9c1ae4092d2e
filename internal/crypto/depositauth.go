package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/memepit/memepit/internal/domain"
)

// DepositVerifier checks that a vault credit carries a valid signature from
// the player being credited. The player signs the canonical credit message
// with their wallet key (EIP-191 personal_sign), proving they authorized the
// backend to register the deposit under their address.
type DepositVerifier struct{}

// NewDepositVerifier creates the verifier.
func NewDepositVerifier() *DepositVerifier {
	return &DepositVerifier{}
}

// CreditMessage returns the canonical text a player signs to authorize a
// vault credit.
func CreditMessage(player, token common.Address, amount *big.Int) string {
	return fmt.Sprintf("memepit:credit:%s:%s:%s", player.Hex(), token.Hex(), amount.String())
}

// VerifyCredit recovers the signer of the EIP-191 personal-sign signature over
// the canonical credit message and requires it to equal the credited player.
func (v *DepositVerifier) VerifyCredit(player, token common.Address, amount *big.Int, sig []byte) error {
	if len(sig) != 65 {
		return fmt.Errorf("%w: signature must be 65 bytes, got %d", domain.ErrUnauthorized, len(sig))
	}

	msg := CreditMessage(player, token, amount)
	digest := personalSignHash([]byte(msg))

	// Wallets produce v in {27,28}; go-ethereum recovery expects {0,1}.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest, recSig)
	if err != nil {
		return fmt.Errorf("%w: signature recovery: %v", domain.ErrUnauthorized, err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != player {
		return fmt.Errorf("%w: credit not signed by player %s", domain.ErrUnauthorized, player.Hex())
	}
	return nil
}

// personalSignHash computes the EIP-191 personal-sign digest:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func personalSignHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return ethcrypto.Keccak256(append([]byte(prefix), msg...))
}
