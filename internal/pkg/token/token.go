package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// SessionTokenLength is the length of verification session tokens.
	SessionTokenLength = 48
	// CodeLength is the number of digits in a one-time code.
	CodeLength = 6
)

// NewSessionToken generates a cryptographically random URL-safe alphanumeric token.
func NewSessionToken() (string, error) {
	s, err := randomString(alphanumeric, SessionTokenLength)
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return s, nil
}

// NewCode generates a zero-padded numeric one-time code.
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func randomString(alphabet string, n int) (string, error) {
	b := make([]byte, n)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
