package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/ports"
)

const (
	DefaultNonceTTL   = 5 * time.Minute
	DefaultSessionTTL = 7 * 24 * time.Hour

	// revokedFloor keeps a revocation marker around for tokens that are
	// already past expiry, to cover clock skew between instances
	revokedFloor = time.Hour
)

// AuthConfig holds the tunables of the authentication flow
type AuthConfig struct {
	AppName    string
	NonceTTL   time.Duration
	SessionTTL time.Duration
}

// Challenge is what a wallet must sign to log in
type Challenge struct {
	Nonce   core.Nonce
	Message string
}

// LoginResult is returned after a successful wallet login
type LoginResult struct {
	Token   string
	Session *core.Session
}

// AuthService handles authentication business logic
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.Store
	eventPub  ports.EventPublisher
	logger    *slog.Logger

	cfg      AuthConfig
	now      func() time.Time
	newNonce func() (string, error)
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	store ports.Store,
	eventPub ports.EventPublisher,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if cfg.AppName == "" {
		cfg.AppName = core.DefaultAppName
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = DefaultNonceTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		tokenizer: tokenizer,
		store:     store,
		eventPub:  eventPub,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		newNonce:  randomNonce,
	}
}

// randomNonce returns a uniformly random 6-digit decimal string
func randomNonce() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// AppName is the name embedded in every challenge message
func (s *AuthService) AppName() string {
	return s.cfg.AppName
}

// IssueNonce generates a fresh nonce for address, replacing any earlier one
func (s *AuthService) IssueNonce(ctx context.Context, address string) (*Challenge, error) {
	if !common.IsHexAddress(address) {
		return nil, &core.ValidationError{Field: "walletAddress", Reason: "not a hex encoded ethereum address"}
	}
	address = core.NormalizeAddress(address)

	value, err := s.newNonce()
	if err != nil {
		return nil, err
	}

	now := s.now()
	nonce := core.Nonce{
		Address:   address,
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.NonceTTL),
	}

	if err := s.store.SaveNonce(ctx, address, value, s.cfg.NonceTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreOperation, err)
	}

	return &Challenge{
		Nonce:   nonce,
		Message: core.ChallengeMessage(s.cfg.AppName, value),
	}, nil
}

// Login verifies the wallet's signature over its outstanding challenge and
// issues a session token. The nonce is consumed whatever the outcome.
func (s *AuthService) Login(ctx context.Context, address, signature string) (*LoginResult, error) {
	if !common.IsHexAddress(address) {
		return nil, core.NewAuthError(core.ErrInvalidAddress)
	}
	address = core.NormalizeAddress(address)

	nonce, err := s.store.ConsumeNonce(ctx, address)
	if err != nil {
		if errors.Is(err, core.ErrInvalidNonce) {
			return nil, core.NewAuthError(core.ErrInvalidNonce)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrStoreOperation, err)
	}

	message := core.ChallengeMessage(s.cfg.AppName, nonce)
	if err := s.tokenizer.VerifySignature(message, signature, address); err != nil {
		s.logger.Debug("signature verification failed", "address", address, "error", err)
		return nil, core.NewAuthError(core.ErrInvalidSignature)
	}

	now := s.now()
	session := &core.Session{
		ID:        uuid.New().String(),
		Address:   address,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}

	token, err := s.tokenizer.SessionToToken(session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session token: %w", err)
	}

	s.logger.Info("wallet logged in", "address", address, "session", session.ID)
	return &LoginResult{Token: token, Session: session}, nil
}

// ValidateSessionToken returns the session carried by token. Every failure
// is an *core.AuthError.
func (s *AuthService) ValidateSessionToken(ctx context.Context, token string) (*core.Session, error) {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		var authErr *core.AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, core.NewAuthError(fmt.Errorf("%w: %v", core.ErrInvalidToken, err))
	}

	if session.Expired(s.now()) {
		return nil, core.NewAuthError(core.ErrTokenExpired)
	}

	invalidated, err := s.store.IsTokenInvalidated(ctx, session.ID)
	if err != nil {
		// Fail closed: a session we cannot check is not a session
		s.logger.Warn("failed to check token revocation", "session", session.ID, "error", err)
		return nil, core.NewAuthError(fmt.Errorf("%w: %v", core.ErrInvalidToken, err))
	}
	if invalidated {
		return nil, core.NewAuthError(core.ErrTokenRevoked)
	}

	return session, nil
}

// Logout revokes the session for the rest of its lifetime
func (s *AuthService) Logout(ctx context.Context, session *core.Session) error {
	remaining := session.ExpiresAt.Sub(s.now())
	if remaining < revokedFloor {
		remaining = revokedFloor
	}

	if err := s.store.InvalidateToken(ctx, session.ID, remaining); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperation, err)
	}

	// The revocation marker is what matters; the event only informs other instances
	if err := s.eventPub.PublishLogout(ctx, session.Address, session.ID); err != nil {
		s.logger.Warn("failed to publish logout event", "session", session.ID, "error", err)
	}

	return nil
}
