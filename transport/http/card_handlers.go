package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/service"
)

// CardHandlers contains HTTP handlers for card endpoints
type CardHandlers struct {
	cardService *service.CardService
	logger      *slog.Logger
}

func NewCardHandlers(cardService *service.CardService, logger *slog.Logger) *CardHandlers {
	return &CardHandlers{
		cardService: cardService,
		logger:      logger,
	}
}

// List serves a page of cards
func (h *CardHandlers) List(c *gin.Context) {
	query, err := core.ParseListQuery(c.Request.URL.Query())
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	page, err := h.cardService.List(c.Request.Context(), query)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// Vote records the caller's vote
func (h *CardHandlers) Vote(c *gin.Context) {
	session, ok := sessionFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, core.ErrorResponse{Error: "Session not found in context"})
		return
	}

	var req core.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "cardId is required")
		return
	}

	res, err := h.cardService.Vote(c.Request.Context(), req.CardID, session.Address)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Create stores a new card owned by the caller
func (h *CardHandlers) Create(c *gin.Context) {
	session, ok := sessionFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, core.ErrorResponse{Error: "Session not found in context"})
		return
	}

	var req core.NewCard
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "title and imageUrl are required")
		return
	}

	card, err := h.cardService.Create(c.Request.Context(), session.Address, req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, card)
}
