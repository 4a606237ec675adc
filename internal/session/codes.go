package session

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
)

const (
	// Join codes skip I, O, 0 and 1 so they read back unambiguously.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
	maxSeed      = 1_000_000
)

// NewGameCode returns a random join code.
func NewGameCode() (string, error) {
	b := make([]byte, codeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := crand.Int(crand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// NewScenarioSeed returns a seed in [0, 1e6).
func NewScenarioSeed() (int64, error) {
	n, err := crand.Int(crand.Reader, big.NewInt(maxSeed))
	if err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return n.Int64(), nil
}
