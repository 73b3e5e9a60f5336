// Package auth implements authentication and session management for the
// CareBase platform. Session and invitation tokens are opaque random values;
// only SHA-256 digests are stored.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// TokenGenerator abstracts entropy sources for testability.
type TokenGenerator interface {
	// GenerateSessionToken returns the raw bearer token handed to the client.
	GenerateSessionToken() (string, error)
	// GenerateInviteToken returns the raw token embedded in invitation links.
	GenerateInviteToken() (string, error)
}

// CryptoTokenGenerator is the production implementation of TokenGenerator
// using crypto/rand for secure random generation.
type CryptoTokenGenerator struct{}

// GenerateSessionToken generates a cryptographically secure session token.
// Format: "cbs_" + 32 random hex bytes (64 hex chars).
func (g *CryptoTokenGenerator) GenerateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return "cbs_" + hex.EncodeToString(b), nil
}

// GenerateInviteToken generates a cryptographically secure invitation token.
// Format: 32 random hex bytes (64 hex chars).
func (g *CryptoTokenGenerator) GenerateInviteToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken produces a hex-encoded SHA-256 digest of a raw token string.
// Used for session and invitation tokens where the digest must be searchable
// in the database (unlike bcrypt which is salted and non-searchable).
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// CanonicalizeEmail normalizes email addresses for consistent DB lookups.
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
