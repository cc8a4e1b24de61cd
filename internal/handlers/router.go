package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/exp/slog"

	"roulette-backend/internal/lib/logger/sl"
	"roulette-backend/internal/middleware"
	"roulette-backend/internal/services"
)

type RouterDeps struct {
	Engine *services.GameEngine
	Feed   *FeedHub
	Log    *slog.Logger

	Limiter            middleware.RateLimiter
	RateLimitPerMinute int

	Metrics http.Handler
	Health  func(ctx context.Context) error
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(deps.Log))

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	gameHandler := NewGameHandler(deps.Engine, deps.Log)
	playerHandler := NewPlayerHandler(deps.Engine, deps.Log)
	rateLimit := middleware.RateLimitMiddleware(deps.Limiter, deps.RateLimitPerMinute)

	game := router.Group("/game")
	{
		game.POST("/start", rateLimit, gameHandler.StartGame)

		authed := game.Group("")
		authed.Use(middleware.GameTokenAuth(deps.Engine.Tokens()), rateLimit)
		{
			authed.POST("/confirm", gameHandler.ConfirmGame)
			authed.POST("/pull", gameHandler.Pull)
			authed.POST("/settle", gameHandler.Settle)
		}

		game.GET("/verify/:txSignature", gameHandler.Verify)
		game.GET("/active", gameHandler.GetActiveGame)
		game.GET("/:id", gameHandler.GetGame)
	}

	router.GET("/players/:wallet/history", playerHandler.GetHistory)
	router.GET("/leaderboard", playerHandler.GetLeaderboard)

	if deps.Feed != nil {
		router.GET("/ws/feed", deps.Feed.HandleWebSocket)
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	router.GET("/healthz", func(c *gin.Context) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()

			if err := deps.Health(ctx); err != nil {
				deps.Log.Warn("health check failed", sl.Err(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
