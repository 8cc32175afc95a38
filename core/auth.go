package core

import (
	"fmt"
	"strings"
	"time"
)

// DefaultAppName is the application name embedded in challenge messages.
const DefaultAppName = "BNBvote"

// Nonce represents a one-time value bound to a wallet address
type Nonce struct {
	Address   string    // Ethereum address the nonce was issued to
	Value     string    // Random numeric value to be embedded in the challenge
	IssuedAt  time.Time // When the nonce was created
	ExpiresAt time.Time // When the nonce stops being accepted
}

// Session represents an authenticated wallet session
type Session struct {
	ID        string    // Unique token identifier, used for revocation
	Address   string    // Ethereum address of the user
	IssuedAt  time.Time // When the session token was created
	ExpiresAt time.Time // When the session token expires
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ChallengeMessage builds the message a wallet signs to prove key ownership.
// The verifier rebuilds the exact same string, so any change here breaks
// every outstanding challenge.
func ChallengeMessage(app, nonce string) string {
	if app == "" {
		app = DefaultAppName
	}
	return fmt.Sprintf("Sign this message to authenticate with %s: %s", app, nonce)
}

// NormalizeAddress lower-cases a hex address so it can be used as a key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
