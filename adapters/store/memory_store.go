package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/ports"
)

// DefaultMemoryCapacity bounds each of the in-memory nonce and revocation sets.
const DefaultMemoryCapacity = 10_000

type expiring struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of the Store interface.
// Both sets are LRU-bounded so a flood of nonce requests cannot grow memory
// without limit; expired entries are dropped when they are looked up.
type MemoryStore struct {
	mu          sync.Mutex
	nonces      *lru.Cache[string, expiring]
	invalidated *lru.Cache[string, expiring]
	now         func() time.Time
}

// NewMemoryStore creates a new in-memory store holding up to capacity
// entries per set.
func NewMemoryStore(capacity int, now func() time.Time) (ports.Store, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	if now == nil {
		now = time.Now
	}
	nonces, err := lru.New[string, expiring](capacity)
	if err != nil {
		return nil, fmt.Errorf("create nonce cache: %w", err)
	}
	invalidated, err := lru.New[string, expiring](capacity)
	if err != nil {
		return nil, fmt.Errorf("create revocation cache: %w", err)
	}
	return &MemoryStore{
		nonces:      nonces,
		invalidated: invalidated,
		now:         now,
	}, nil
}

// SaveNonce binds nonce to address, replacing any earlier one
func (s *MemoryStore) SaveNonce(ctx context.Context, address, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonces.Add(address, expiring{value: nonce, expiresAt: s.now().Add(ttl)})
	return nil
}

// ConsumeNonce returns the nonce for address and removes it
func (s *MemoryStore) ConsumeNonce(ctx context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.nonces.Get(address)
	if !ok {
		return "", core.ErrInvalidNonce
	}
	s.nonces.Remove(address)

	if !s.now().Before(entry.expiresAt) {
		return "", core.ErrInvalidNonce
	}
	return entry.value, nil
}

// InvalidateToken marks a token as invalidated
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invalidated.Add(tokenID, expiring{expiresAt: s.now().Add(expiry)})
	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.invalidated.Get(tokenID)
	if !exists {
		return false, nil
	}

	// The token itself has expired by now, so the marker is no longer needed
	if !s.now().Before(entry.expiresAt) {
		s.invalidated.Remove(tokenID)
		return false, nil
	}

	return true, nil
}
