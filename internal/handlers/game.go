package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/exp/slog"

	"roulette-backend/internal/middleware"
	"roulette-backend/internal/models"
	"roulette-backend/internal/services"
)

type GameHandler struct {
	gameEngine *services.GameEngine
	log        *slog.Logger
}

func NewGameHandler(gameEngine *services.GameEngine, log *slog.Logger) *GameHandler {
	return &GameHandler{
		gameEngine: gameEngine,
		log:        log.With(slog.String("component", "handlers/game")),
	}
}

func (h *GameHandler) StartGame(c *gin.Context) {
	var req models.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := h.gameEngine.Start(c.Request.Context(), req.PlayerWallet)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *GameHandler) ConfirmGame(c *gin.Context) {
	var req models.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if !authorizeGame(c, req.GameID) {
		return
	}

	view, err := h.gameEngine.Confirm(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) Pull(c *gin.Context) {
	var req models.GameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if !authorizeGame(c, req.GameID) {
		return
	}

	result, err := h.gameEngine.Pull(c.Request.Context(), req.GameID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GameHandler) Settle(c *gin.Context) {
	var req models.GameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if !authorizeGame(c, req.GameID) {
		return
	}

	result, err := h.gameEngine.Settle(c.Request.Context(), req.GameID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Verify is the public audit endpoint for a settled game.
func (h *GameHandler) Verify(c *gin.Context) {
	result, err := h.gameEngine.Verify(c.Request.Context(), c.Param("txSignature"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GameHandler) GetGame(c *gin.Context) {
	view, err := h.gameEngine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) GetActiveGame(c *gin.Context) {
	wallet := c.Query("wallet")
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": "field wallet is required"})
		return
	}

	view, err := h.gameEngine.Active(c.Request.Context(), wallet)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func authorizeGame(c *gin.Context, gameID string) bool {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok || claims.GameID == gameID {
		return true
	}

	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Token does not grant access to this game"})
	return false
}
