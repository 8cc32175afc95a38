package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/bnbvote/connection"
	"github.com/layer-3/bnbvote/metrics"
	"github.com/layer-3/bnbvote/service"
)

// Dependencies are the services the router serves
type Dependencies struct {
	Auth   *service.AuthService
	Cards  *service.CardService
	Health func() connection.State
	Logger *slog.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger), Metrics())

	authHandlers := NewAuthHandlers(deps.Auth, logger)
	cardHandlers := NewCardHandlers(deps.Cards, logger)
	requireSession := AuthMiddleware(deps.Auth, logger)

	api := router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.GET("/nonce", authHandlers.Nonce)
		auth.POST("/metamask", authHandlers.Login)
		auth.POST("/logout", requireSession, authHandlers.Logout)
		auth.GET("/me", requireSession, authHandlers.Me)
	}

	cards := api.Group("/cards")
	{
		cards.GET("", cardHandlers.List)
		cards.POST("/vote", requireSession, cardHandlers.Vote)
		cards.POST("/create", requireSession, cardHandlers.Create)
	}

	router.GET("/healthz", healthHandler(deps.Health))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// healthHandler reports the backing store phase. A manager that has not
// connected yet is healthy; one whose last attempt failed is not.
func healthHandler(state func() connection.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		if state == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		s := state()
		body := gin.H{"status": "ok", "store": s.Phase.String()}
		if s.LastError != nil {
			body["lastError"] = s.LastError.Error()
		}
		if s.Phase == connection.Failed {
			body["status"] = "unavailable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}
