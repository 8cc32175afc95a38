package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/bnbvote/core"
)

// HighTrafficMessage is the hint sent with every 503
const HighTrafficMessage = "We are experiencing high traffic. Please try again in a moment."

// StatusClientClosedRequest is written when the caller went away first
const StatusClientClosedRequest = 499

// statusFor maps a service error to its HTTP status and public body
func statusFor(err error) (int, core.ErrorResponse) {
	var (
		validationErr *core.ValidationError
		authErr       *core.AuthError
		connErr       *core.ConnectionError
		timeoutErr    *core.TimeoutError
	)

	switch {
	case errors.Is(err, core.ErrCancelled), errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, core.ErrorResponse{Error: "Request cancelled"}
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, core.ErrorResponse{Error: "Invalid request", Message: validationErr.Error()}
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, core.ErrorResponse{Error: "Unauthorized", Message: authMessage(authErr)}
	case errors.Is(err, core.ErrCardNotFound):
		return http.StatusNotFound, core.ErrorResponse{Error: "Card not found"}
	case errors.Is(err, core.ErrAlreadyVoted):
		return http.StatusConflict, core.ErrorResponse{Error: "Already voted", Message: "You have already voted for this card"}
	case errors.Is(err, core.ErrOwnCard):
		return http.StatusForbidden, core.ErrorResponse{Error: "Forbidden", Message: "You cannot vote for your own card"}
	case errors.As(err, &timeoutErr):
		return http.StatusServiceUnavailable, core.ErrorResponse{Error: "Database query timed out", Message: HighTrafficMessage}
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable, core.ErrorResponse{Error: "Service unavailable", Message: HighTrafficMessage}
	default:
		return http.StatusInternalServerError, core.ErrorResponse{Error: "Internal server error"}
	}
}

func authMessage(err *core.AuthError) string {
	switch {
	case errors.Is(err, core.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, core.ErrTokenRevoked):
		return "Token has been revoked"
	case errors.Is(err, core.ErrInvalidSignature):
		return "Invalid signature"
	case errors.Is(err, core.ErrInvalidNonce):
		return "Nonce missing or expired, request a new one"
	case errors.Is(err, core.ErrInvalidAddress):
		return "Invalid wallet address"
	default:
		return "Invalid token"
	}
}

// abortWithError writes the error response and logs anything that is the
// server's fault
func abortWithError(c *gin.Context, logger *slog.Logger, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"error", err,
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, core.ErrorResponse{Error: "Invalid request", Message: message})
}
