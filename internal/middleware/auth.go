package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"roulette-backend/internal/services"
)

const claimsKey = "game_claims"

// GameTokenAuth requires a valid game token when tokens are enabled. The
// handler still has to check the token's game against the request.
func GameTokenAuth(tokens *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokens.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
			if tokenString == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Game token required"})
				return
			}
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func ClaimsFrom(c *gin.Context) (*services.GameClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.GameClaims)
	return claims, ok
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, wallet, action string, limit int, window time.Duration) (bool, error)
}

// RateLimitMiddleware limits requests per route, keyed by the token's wallet
// or the client address for unauthenticated routes.
func RateLimitMiddleware(limiter RateLimiter, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || perMinute <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP()
		if claims, ok := ClaimsFrom(c); ok {
			key = claims.Wallet
		}

		allowed, err := limiter.CheckRateLimit(c.Request.Context(), key, c.FullPath(), perMinute, services.RateLimitWindow)
		if err != nil || !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": services.RateLimitWindow.Seconds(),
			})
			return
		}

		c.Next()
	}
}
