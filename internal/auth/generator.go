// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/samber/oops"
)

// Recovery secret shapes.
const (
	CodeMin    = 1000
	CodeMax    = 9999
	TokenBytes = 20 // 160 bits, 40 hex chars
)

// SecretGenerator produces one-time recovery codes and reset tokens.
type SecretGenerator interface {
	// GenerateCode returns a 4-digit decimal code in [CodeMin, CodeMax].
	GenerateCode() (string, error)

	// GenerateToken returns a hex-encoded random token of TokenBytes bytes.
	GenerateToken() (string, error)
}

// RandomGenerator implements SecretGenerator on crypto/rand.
type RandomGenerator struct{}

// NewRandomGenerator creates a RandomGenerator.
func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{}
}

var codeSpan = big.NewInt(CodeMax - CodeMin + 1)

// GenerateCode draws uniformly from the 4-digit space.
func (g *RandomGenerator) GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", oops.Code("AUTH_CODE_GENERATE_FAILED").Wrap(err)
	}
	return fmt.Sprintf("%d", n.Int64()+CodeMin), nil
}

// GenerateToken returns TokenBytes of crypto/rand output, hex-encoded.
func (g *RandomGenerator) GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("AUTH_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// HashSecret returns the SHA-256 hex digest stored in place of a recovery
// code or token.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
