package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/bnbvote/adapters/cards"
	"github.com/layer-3/bnbvote/adapters/events"
	"github.com/layer-3/bnbvote/adapters/store"
	"github.com/layer-3/bnbvote/adapters/tokenizer"
	"github.com/layer-3/bnbvote/connection"
	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/ports"
	"github.com/layer-3/bnbvote/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	state  connection.State
}

func newTestServer(t *testing.T, repo ports.CardRepository) *testServer {
	t.Helper()

	nonces, err := store.NewMemoryStore(0, nil)
	require.NoError(t, err)
	tok, err := tokenizer.NewJWTTokenizer([]byte("0123456789abcdef0123456789abcdef"), nil)
	require.NoError(t, err)

	bus := events.NewInMemoryBus(nil)
	t.Cleanup(func() { _ = bus.Close() })
	pub := events.NewWatermillPublisher(bus.Publisher)

	if repo == nil {
		repo = cards.NewMemoryRepository()
	}
	ts := &testServer{state: connection.State{Phase: connection.Connected}}
	ts.router = SetupRouter(Dependencies{
		Auth:   service.NewAuthService(tok, nonces, pub, service.AuthConfig{}, nil),
		Cards:  service.NewCardService(repo, pub, service.CardConfig{}, nil, nil),
		Health: func() connection.State { return ts.state },
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) login(t *testing.T) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	w := ts.do(t, http.MethodGet, "/api/auth/nonce?walletAddress="+address, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var challenge core.NonceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))
	assert.Regexp(t, `^\d{6}$`, challenge.Nonce)
	assert.Equal(t, core.ChallengeMessage("BNBvote", challenge.Nonce), challenge.Message)

	signature, err := tokenizer.SignMessage(challenge.Message, func(hash []byte) ([]byte, error) {
		return crypto.Sign(hash, key)
	})
	require.NoError(t, err)

	w = ts.do(t, http.MethodPost, "/api/auth/metamask", "", core.LoginRequest{WalletAddress: address, Signature: signature})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res core.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	assert.Equal(t, core.NormalizeAddress(address), res.WalletAddress)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), res.ExpiresAt, time.Minute)

	return res.Token, core.NormalizeAddress(address)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) core.ErrorResponse {
	t.Helper()
	var body core.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func newCardBody(title string) core.NewCard {
	return core.NewCard{
		Title:       title,
		Description: "desc",
		ImageURL:    "https://example.com/a.png",
		Attributes: core.CardAttributes{
			Ticker:            "BNBV",
			DevFeePercentage:  decimal.RequireFromString("1.5"),
			MaxTicketsPerUser: 3,
		},
	}
}

func TestListCards_Defaults(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/cards", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cards":[],"pagination":{"total":0,"page":1,"limit":10,"pages":0}}`, w.Body.String())
}

func TestListCards_InvalidQuery(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, q := range []string{"limit=0", "limit=101", "page=0", "sort=title", "order=up", "limit=abc", "page=92233720368547760&limit=100", "page=-3"} {
		w := ts.do(t, http.MethodGet, "/api/cards?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, "Invalid request", decodeError(t, w).Error, q)
	}
}

type unavailableRepo struct {
	ports.CardRepository
	err error
}

func (r unavailableRepo) List(ctx context.Context, q core.ListQuery) (*core.CardPage, error) {
	return nil, r.err
}

func TestListCards_StoreUnavailable(t *testing.T) {
	for name, err := range map[string]error{
		"connection": &core.ConnectionError{Store: "redis", Err: errors.New("connection refused")},
		"timeout":    &core.TimeoutError{Op: "list cards", After: 5 * time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, unavailableRepo{CardRepository: cards.NewMemoryRepository(), err: err})

			w := ts.do(t, http.MethodGet, "/api/cards?_t=1712345678", "", nil)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			body := decodeError(t, w)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, HighTrafficMessage, body.Message)
		})
	}
}

func TestListCards_CallerGoneIsNotAServerError(t *testing.T) {
	for _, err := range []error{core.ErrCancelled, fmt.Errorf("list cards: %w", context.Canceled)} {
		ts := newTestServer(t, unavailableRepo{CardRepository: cards.NewMemoryRepository(), err: err})

		w := ts.do(t, http.MethodGet, "/api/cards", "", nil)
		assert.Equal(t, StatusClientClosedRequest, w.Code, err.Error())
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	token, address := ts.login(t)

	w := ts.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me core.SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, address, me.WalletAddress)

	w = ts.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Token has been revoked", decodeError(t, w).Message)
}

func TestLogin_InvalidSignature(t *testing.T) {
	ts := newTestServer(t, nil)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	w := ts.do(t, http.MethodGet, "/api/auth/nonce?walletAddress="+address, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	signature, err := tokenizer.SignMessage("Sign this message to authenticate with SomethingElse: 1", func(hash []byte) ([]byte, error) {
		return crypto.Sign(hash, key)
	})
	require.NoError(t, err)

	w = ts.do(t, http.MethodPost, "/api/auth/metamask", "", core.LoginRequest{WalletAddress: address, Signature: signature})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, core.ErrorResponse{Error: "Unauthorized", Message: "Invalid signature"}, decodeError(t, w))
}

func TestNonce_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/auth/nonce", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/auth/nonce?walletAddress=bob", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/auth/metamask", "", map[string]string{}).Code)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		for _, route := range []struct{ method, path string }{
			{http.MethodGet, "/api/auth/me"},
			{http.MethodPost, "/api/auth/logout"},
			{http.MethodPost, "/api/cards/vote"},
			{http.MethodPost, "/api/cards/create"},
		} {
			w := ts.do(t, route.method, route.path, token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s with %q", route.method, route.path, token)
		}
	}
}

func TestCreateAndVote(t *testing.T) {
	ts := newTestServer(t, nil)
	creatorToken, creator := ts.login(t)
	voterToken, voter := ts.login(t)

	w := ts.do(t, http.MethodPost, "/api/cards/create", creatorToken, newCardBody("Moon cat"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var card core.Card
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &card))
	assert.Equal(t, creator, card.Creator)
	assert.True(t, decimal.RequireFromString("1.5").Equal(card.Attributes.DevFeePercentage))

	// Warm the cache so the vote has something to invalidate
	w = ts.do(t, http.MethodGet, "/api/cards", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/cards/vote", voterToken, core.VoteRequest{CardID: card.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res core.VoteResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, core.VoteResult{Success: true, CardID: card.ID, Votes: 1}, res)

	w = ts.do(t, http.MethodGet, "/api/cards", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page core.CardPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Cards, 1)
	assert.Equal(t, int64(1), page.Cards[0].Votes)
	assert.Equal(t, []string{voter}, page.Cards[0].Voters)

	w = ts.do(t, http.MethodPost, "/api/cards/vote", voterToken, core.VoteRequest{CardID: card.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/cards/vote", creatorToken, core.VoteRequest{CardID: card.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/cards/vote", voterToken, core.VoteRequest{CardID: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/cards/vote", voterToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreate_Validation(t *testing.T) {
	ts := newTestServer(t, nil)
	token, _ := ts.login(t)

	bad := newCardBody("Moon cat")
	bad.Attributes.Ticker = "TOO-LONG-TICKER"
	w := ts.do(t, http.MethodPost, "/api/cards/create", token, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "ticker")

	w = ts.do(t, http.MethodPost, "/api/cards/create", token, map[string]string{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":"connected"`)

	ts.state = connection.State{Phase: connection.Failed, LastError: errors.New("dial tcp: connection refused")}
	w = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/api/cards", "", nil)

	w := ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bnbvote_http_requests_total")
}
