package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/exp/slog"

	"roulette-backend/internal/services"
)

type PlayerHandler struct {
	gameEngine *services.GameEngine
	log        *slog.Logger
}

func NewPlayerHandler(gameEngine *services.GameEngine, log *slog.Logger) *PlayerHandler {
	return &PlayerHandler{
		gameEngine: gameEngine,
		log:        log.With(slog.String("component", "handlers/player")),
	}
}

func (h *PlayerHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	games, err := h.gameEngine.History(c.Request.Context(), c.Param("wallet"), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet": c.Param("wallet"),
		"games":  games,
	})
}

func (h *PlayerHandler) GetLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	entries, err := h.gameEngine.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}
