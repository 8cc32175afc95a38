package ports

import (
	"context"
	"time"
)

// Store holds short-lived authentication state: issued nonces and revoked
// session token IDs
type Store interface {
	// SaveNonce binds a nonce to an address, replacing any previous one
	SaveNonce(ctx context.Context, address, nonce string, ttl time.Duration) error

	// ConsumeNonce returns and deletes the nonce bound to address.
	// It returns core.ErrInvalidNonce if there is none.
	ConsumeNonce(ctx context.Context, address string) (string, error)

	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}
