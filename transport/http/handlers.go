package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	logger      *slog.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		logger:      logger,
	}
}

// Nonce issues a login challenge for the wallet in ?walletAddress=
func (h *AuthHandlers) Nonce(c *gin.Context) {
	address := strings.TrimSpace(c.Query("walletAddress"))
	if address == "" {
		badRequest(c, "walletAddress is required")
		return
	}

	challenge, err := h.authService.IssueNonce(c.Request.Context(), address)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, core.NonceResponse{
		Nonce:   challenge.Nonce.Value,
		Message: challenge.Message,
	})
}

// Login verifies a signed challenge and returns a session token
func (h *AuthHandlers) Login(c *gin.Context) {
	var req core.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "walletAddress and signature are required")
		return
	}

	res, err := h.authService.Login(c.Request.Context(), req.WalletAddress, req.Signature)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, core.LoginResponse{
		Token:         res.Token,
		WalletAddress: res.Session.Address,
		ExpiresAt:     res.Session.ExpiresAt,
	})
}

// Logout revokes the caller's session
func (h *AuthHandlers) Logout(c *gin.Context) {
	session, ok := sessionFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, core.ErrorResponse{Error: "Session not found in context"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), session); err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns information about the authenticated wallet
func (h *AuthHandlers) Me(c *gin.Context) {
	session, ok := sessionFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, core.ErrorResponse{Error: "Session not found in context"})
		return
	}

	c.JSON(http.StatusOK, core.SessionInfo{
		WalletAddress: session.Address,
		IssuedAt:      session.IssuedAt,
		ExpiresAt:     session.ExpiresAt,
	})
}
