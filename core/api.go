package core

import "time"

// Wire types shared by the HTTP transport and the client.

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type NonceResponse struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

type LoginRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
}

type LoginResponse struct {
	Token         string    `json:"token"`
	WalletAddress string    `json:"walletAddress"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// SessionInfo describes the session a bearer token carries
type SessionInfo struct {
	WalletAddress string    `json:"walletAddress"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type VoteRequest struct {
	CardID string `json:"cardId" binding:"required"`
}
