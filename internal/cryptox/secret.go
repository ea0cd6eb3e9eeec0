package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// DefaultSecretBytes is the number of random bytes behind a secret (256 bits).
const DefaultSecretBytes = 32

// ErrWeakSecret is returned when a caller asks for less than DefaultSecretBytes
// of entropy.
var ErrWeakSecret = errors.New("secret must carry at least 256 bits of entropy")

// GenerateSecret returns size random bytes from crypto/rand encoded with
// base64 RawURL, so the value can be embedded in a link without escaping.
//
// A 32 byte secret encodes to 43 characters. Sizes below DefaultSecretBytes
// are rejected with ErrWeakSecret.
//
// Example:
//
//	s, err := GenerateSecret(DefaultSecretBytes)
//	if err != nil {
//	    return err
//	}
//	link := baseURL + "?token=" + s
func GenerateSecret(size int) (string, error) {
	if size < DefaultSecretBytes {
		return "", ErrWeakSecret
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// WipeByteArray overwrites b with zeros. A nil slice is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
