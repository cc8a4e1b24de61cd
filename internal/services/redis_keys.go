package services

import "time"

const (
	KeyRateLimit        = "roulette:ratelimit:%s:%s"
	KeyRecentSettled    = "roulette:settled:recent"
	ChannelGameSettled  = "roulette:events:settled"
	RecentSettledLength = 50

	DefaultRateLimitPerMinute = 60
	RateLimitWindow           = time.Minute
)
