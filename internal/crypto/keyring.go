// Package crypto provides API-key authentication for the HTTP surface and
// signature verification for player deposit authorizations.
package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/memepit/memepit/internal/domain"
)

const (
	// keyringIterations is the PBKDF2-HMAC-SHA256 iteration count for API key
	// hashing. API keys are high-entropy random strings, not passwords, so a
	// modest count is enough; the hash mainly protects a leaked config file.
	keyringIterations = 10_000
	// keyringSaltLen is the random salt length in bytes.
	keyringSaltLen = 16
	// keyringHashLen is the derived hash length in bytes.
	keyringHashLen = 32
)

// keyEntry is one configured credential: the stored hash plus the roles the
// key grants.
type keyEntry struct {
	id    string
	salt  []byte
	hash  []byte
	iters int
	roles []domain.Role
}

// Keyring maps API keys to actors and enforces role checks. It implements
// domain.AccessGate and the server's authenticator. The keyring is immutable
// after construction, so lookups need no locking.
type Keyring struct {
	entries []keyEntry
}

// KeySpec declares one credential for NewKeyring. Exactly one of Key (raw,
// hashed during construction) or KeyHash (a string produced by HashKey) must
// be set.
type KeySpec struct {
	ID      string
	Key     string
	KeyHash string
	Roles   []string
}

// NewKeyring builds a Keyring from key declarations.
func NewKeyring(specs []KeySpec) (*Keyring, error) {
	kr := &Keyring{entries: make([]keyEntry, 0, len(specs))}
	for i, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("crypto/keyring: spec %d: id must not be empty", i)
		}
		roles := make([]domain.Role, 0, len(spec.Roles))
		for _, r := range spec.Roles {
			switch role := domain.Role(r); role {
			case domain.RoleAdmin, domain.RoleEpochController, domain.RoleMatchSource:
				roles = append(roles, role)
			default:
				return nil, fmt.Errorf("crypto/keyring: spec %q: unknown role %q", spec.ID, r)
			}
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("crypto/keyring: spec %q: at least one role is required", spec.ID)
		}

		encoded := spec.KeyHash
		switch {
		case spec.Key != "" && spec.KeyHash != "":
			return nil, fmt.Errorf("crypto/keyring: spec %q: key and key_hash are mutually exclusive", spec.ID)
		case spec.Key != "":
			var err error
			encoded, err = HashKey(spec.Key)
			if err != nil {
				return nil, fmt.Errorf("crypto/keyring: spec %q: %w", spec.ID, err)
			}
		case spec.KeyHash == "":
			return nil, fmt.Errorf("crypto/keyring: spec %q: either key or key_hash must be set", spec.ID)
		}

		salt, hash, iters, err := decodeKeyHash(encoded)
		if err != nil {
			return nil, fmt.Errorf("crypto/keyring: spec %q: %w", spec.ID, err)
		}
		kr.entries = append(kr.entries, keyEntry{
			id:    spec.ID,
			salt:  salt,
			hash:  hash,
			iters: iters,
			roles: roles,
		})
	}
	return kr, nil
}

// Empty reports whether the keyring holds no credentials.
func (k *Keyring) Empty() bool {
	return len(k.entries) == 0
}

// Authenticate resolves a presented API key to its actor. All entries are
// checked so response timing does not depend on which entry (if any) matches.
func (k *Keyring) Authenticate(ctx context.Context, key string) (domain.Actor, error) {
	if key == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing API key", domain.ErrUnauthorized)
	}
	var matched *keyEntry
	for i := range k.entries {
		e := &k.entries[i]
		derived := pbkdf2.Key([]byte(key), e.salt, e.iters, len(e.hash), sha256.New)
		if subtle.ConstantTimeCompare(derived, e.hash) == 1 && matched == nil {
			matched = e
		}
	}
	if matched == nil {
		return domain.Actor{}, fmt.Errorf("%w: unknown API key", domain.ErrUnauthorized)
	}
	roles := make([]domain.Role, len(matched.roles))
	copy(roles, matched.roles)
	return domain.Actor{ID: matched.id, Roles: roles}, nil
}

// Require implements domain.AccessGate: the actor must carry the named role.
func (k *Keyring) Require(ctx context.Context, actor domain.Actor, role domain.Role) error {
	if !actor.HasRole(role) {
		return fmt.Errorf("%w: actor %q lacks role %q", domain.ErrUnauthorized, actor.ID, role)
	}
	return nil
}

var _ domain.AccessGate = (*Keyring)(nil)

// HashKey hashes a raw API key into the storable encoded form
// "pbkdf2$<iterations>$<salt-b64>$<hash-b64>".
func HashKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key must not be empty")
	}
	salt := make([]byte, keyringSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(key), salt, keyringIterations, keyringHashLen, sha256.New)
	return fmt.Sprintf("pbkdf2$%d$%s$%s",
		keyringIterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

// decodeKeyHash parses the encoded hash form produced by HashKey.
func decodeKeyHash(encoded string) (salt, hash []byte, iters int, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != "pbkdf2" {
		return nil, nil, 0, fmt.Errorf("malformed key hash (want pbkdf2$iters$salt$hash)")
	}
	iters, err = strconv.Atoi(parts[1])
	if err != nil || iters < 1 {
		return nil, nil, 0, fmt.Errorf("malformed iteration count %q", parts[1])
	}
	salt, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("decoding salt: %w", err)
	}
	hash, err = base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("decoding hash: %w", err)
	}
	if len(hash) == 0 {
		return nil, nil, 0, fmt.Errorf("empty hash")
	}
	return salt, hash, iters, nil
}
