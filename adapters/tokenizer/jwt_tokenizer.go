package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/ports"
)

const AudienceSession = "bnbvote:session"

// MinSecretLength is the shortest HMAC secret accepted
const MinSecretLength = 32

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs signed
// with a server-held secret
type JWTTokenizer struct {
	secret []byte
	now    func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(secret []byte, now func() time.Time) (ports.Tokenizer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	if now == nil {
		now = time.Now
	}
	return &JWTTokenizer{secret: secret, now: now}, nil
}

// SessionToToken converts a Session to a signed JWT
func (j *JWTTokenizer) SessionToToken(session *core.Session) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceSession},
		},
		WalletAddress: session.Address,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signedToken, nil
}

// TokenToSession verifies a JWT and returns its session. Any parse,
// signature or claim problem is reported as an *core.AuthError.
func (j *JWTTokenizer) TokenToSession(tokenStr string) (*core.Session, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AudienceSession),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.NewAuthError(core.ErrTokenExpired)
		}
		return nil, core.NewAuthError(fmt.Errorf("%w: %v", core.ErrInvalidToken, err))
	}

	// Validate token
	if !token.Valid {
		return nil, core.NewAuthError(core.ErrInvalidToken)
	}

	// Extract claims
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.WalletAddress == "" || claims.IssuedAt == nil || claims.ID == "" {
		return nil, core.NewAuthError(core.ErrInvalidToken)
	}

	session := &core.Session{
		ID:        claims.ID,
		Address:   claims.WalletAddress,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	return session, nil
}

// VerifySignature verifies an Ethereum personal-message signature
func (j *JWTTokenizer) VerifySignature(message, signature, address string) error {
	return VerifySignature(message, signature, address)
}
