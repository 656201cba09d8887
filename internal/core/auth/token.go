package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenSize is the number of random bytes in a generated security token.
const TokenSize = 16

// GenerateToken returns a random hex security token for a new target.
func GenerateToken() (string, error) {
	b := make([]byte, TokenSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
