package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher names accepted by NewHasher.
const (
	HasherBcrypt = "bcrypt"
	HasherSHA256 = "sha256"
)

// BcryptMaxInput is the number of secret bytes bcrypt consumes.
const BcryptMaxInput = 72

// ErrUnknownHasher is returned by NewHasher for an unsupported name.
var ErrUnknownHasher = errors.New("unknown hasher")

// Hasher maps a secret to a storable digest and checks candidates against it.
type Hasher interface {
	// Hash returns the digest to store for secret.
	Hash(secret string) (string, error)

	// Verify reports whether secret produces digest. Comparison is constant-time.
	Verify(secret, digest string) bool

	// LookupKey returns a deterministic digest that can be used for an
	// indexed ledger lookup. Salted hashers return ok=false and the caller
	// has to scan candidates with Verify instead.
	LookupKey(secret string) (key string, ok bool)

	// MaxInput is the number of secret bytes the primitive consumes, or 0
	// if there is no limit.
	MaxInput() int
}

// NewHasher builds the hasher selected by configuration.
// bcryptCost is ignored for hashers other than bcrypt; zero means bcrypt.DefaultCost.
func NewHasher(name string, bcryptCost int) (Hasher, error) {
	switch name {
	case HasherBcrypt, "":
		return NewBcryptHasher(bcryptCost)
	case HasherSHA256:
		return SHA256Hasher{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHasher, name)
	}
}

// TruncateSecret keeps the first limit bytes of secret. A non-positive limit
// returns secret unchanged.
//
// Both hashing and verification go through this function, so a secret longer
// than the primitive's input ceiling still verifies: only the prefix takes
// part in the digest, on both sides. Secrets produced by GenerateSecret are
// ASCII, so cutting at a byte boundary never splits a character.
func TruncateSecret(secret string, limit int) string {
	if limit <= 0 || len(secret) <= limit {
		return secret
	}
	return secret[:limit]
}

// BcryptHasher stores salted bcrypt digests. It consumes at most
// BcryptMaxInput bytes of a secret.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher validates cost and returns a hasher.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(TruncateSecret(secret, BcryptMaxInput)), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(secret, digest string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(TruncateSecret(secret, BcryptMaxInput)))
	return err == nil
}

func (h *BcryptHasher) LookupKey(string) (string, bool) { return "", false }

func (h *BcryptHasher) MaxInput() int { return BcryptMaxInput }

// SHA256Hasher stores hex encoded SHA-256 digests. Secrets carry 256 bits of
// entropy, so an unsalted digest is not guessable and can be indexed.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(secret string) (string, error) {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:]), nil
}

func (s SHA256Hasher) Verify(secret, digest string) bool {
	actual, _ := s.Hash(secret)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(digest)) == 1
}

func (s SHA256Hasher) LookupKey(secret string) (string, bool) {
	key, _ := s.Hash(secret)
	return key, true
}

func (SHA256Hasher) MaxInput() int { return 0 }
