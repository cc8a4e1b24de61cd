package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"roulette-backend/internal/lib/logger/sl"
	"roulette-backend/internal/models"
)

// RedisService carries the state shared between API instances: rate limit
// counters and the settled-game event stream.
type RedisService struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisService(addr, password string, db int, log *slog.Logger) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisService{client: client, log: log}, nil
}

var rateLimitScript = redis.NewScript(`
	local count = redis.call("INCR", KEYS[1])
	if count == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return count
`)

// CheckRateLimit counts one request of action for wallet and reports whether
// it is within limit for the current window.
func (s *RedisService) CheckRateLimit(ctx context.Context, wallet, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, wallet, action)

	count, err := rateLimitScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	return count <= int64(limit), nil
}

func (s *RedisService) PublishSettled(ctx context.Context, event *models.SettledEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal settled event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, KeyRecentSettled, data)
	pipe.LTrim(ctx, KeyRecentSettled, 0, RecentSettledLength-1)
	pipe.Publish(ctx, ChannelGameSettled, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish settled event: %w", err)
	}
	return nil
}

// BroadcastGameSettled lets the coordinator publish through Redis so every
// instance's live feed sees the event.
func (s *RedisService) BroadcastGameSettled(event *models.SettledEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.PublishSettled(ctx, event); err != nil {
		s.log.Error("publish settled event", sl.GameID(event.GameID), sl.Err(err))
	}
}

// RecentSettled returns up to n of the newest settled events, newest first.
func (s *RedisService) RecentSettled(ctx context.Context, n int64) ([]*models.SettledEvent, error) {
	if n <= 0 || n > RecentSettledLength {
		n = RecentSettledLength
	}

	raw, err := s.client.LRange(ctx, KeyRecentSettled, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent settled events: %w", err)
	}

	events := make([]*models.SettledEvent, 0, len(raw))
	for _, item := range raw {
		var ev models.SettledEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}

// SubscribeSettled delivers settled events published by any instance until
// ctx is cancelled.
func (s *RedisService) SubscribeSettled(ctx context.Context, fn func(*models.SettledEvent)) error {
	sub := s.client.Subscribe(ctx, ChannelGameSettled)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to settled events: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.SettledEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.log.Warn("drop malformed settled event", sl.Err(err))
				continue
			}
			fn(&ev)
		}
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
