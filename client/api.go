package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/layer-3/bnbvote/core"
)

// CardsTimeout bounds a card listing attempt
const CardsTimeout = 15 * time.Second

// TokenStore holds the session token obtained by Login
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

func (s *TokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// API is a typed client for the bnbvote HTTP API
type API struct {
	client *RequestClient
	tokens *TokenStore
}

// NewAPI creates an API client. A token from opts.Tokens, if any, seeds the
// session; Login replaces it.
func NewAPI(opts Options) (*API, error) {
	tokens := &TokenStore{}
	if opts.Tokens != nil {
		tokens.Set(opts.Tokens.Token())
	}
	opts.Tokens = tokens

	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	return &API{client: c, tokens: tokens}, nil
}

// Token returns the current session token
func (a *API) Token() string {
	return a.tokens.Token()
}

// Client returns the underlying request client
func (a *API) Client() *RequestClient {
	return a.client
}

// Cards fetches a page of cards
func (a *API) Cards(ctx context.Context, q core.ListQuery) (*core.CardPage, error) {
	return Do[core.CardPage](ctx, a.client, Request{
		Method:     http.MethodGet,
		Path:       "/api/cards",
		Query:      q.Values(),
		Timeout:    CardsTimeout,
		Idempotent: true,
	})
}

// Vote votes for a card. It uses the smaller mutation retry budget.
func (a *API) Vote(ctx context.Context, cardID string) (*core.VoteResult, error) {
	return Do[core.VoteResult](ctx, a.client, Request{
		Method: http.MethodPost,
		Path:   "/api/cards/vote",
		Body:   core.VoteRequest{CardID: cardID},
	})
}

// CreateCard submits a new card
func (a *API) CreateCard(ctx context.Context, card core.NewCard) (*core.Card, error) {
	return Do[core.Card](ctx, a.client, Request{
		Method: http.MethodPost,
		Path:   "/api/cards/create",
		Body:   card,
	})
}

// Nonce requests a login challenge for address
func (a *API) Nonce(ctx context.Context, address string) (*core.NonceResponse, error) {
	return Do[core.NonceResponse](ctx, a.client, Request{
		Method:     http.MethodGet,
		Path:       "/api/auth/nonce",
		Query:      url.Values{"walletAddress": {address}},
		Idempotent: true,
	})
}

// Login runs the challenge flow with signer and keeps the session token for
// later requests
func (a *API) Login(ctx context.Context, signer Signer) (*core.LoginResponse, error) {
	challenge, err := a.Nonce(ctx, signer.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	signature, err := signer.SignMessage(challenge.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign challenge: %w", err)
	}

	res, err := Do[core.LoginResponse](ctx, a.client, Request{
		Method: http.MethodPost,
		Path:   "/api/auth/metamask",
		Body: core.LoginRequest{
			WalletAddress: signer.Address(),
			Signature:     signature,
		},
	})
	if err != nil {
		return nil, err
	}

	a.tokens.Set(res.Token)
	return res, nil
}

// Logout revokes the current session and forgets its token
func (a *API) Logout(ctx context.Context) error {
	_, err := a.client.Send(ctx, Request{
		Method: http.MethodPost,
		Path:   "/api/auth/logout",
	})
	if err != nil {
		return err
	}
	a.tokens.Set("")
	return nil
}

// Me returns the session the current token carries
func (a *API) Me(ctx context.Context) (*core.SessionInfo, error) {
	return Do[core.SessionInfo](ctx, a.client, Request{
		Method:     http.MethodGet,
		Path:       "/api/auth/me",
		Idempotent: true,
	})
}
