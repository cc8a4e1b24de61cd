package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"

	"roulette-backend/internal/chain"
	"roulette-backend/internal/config"
	"roulette-backend/internal/handlers"
	"roulette-backend/internal/lib/logger/sl"
	"roulette-backend/internal/lib/retry"
	"roulette-backend/internal/middleware"
	"roulette-backend/internal/services"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", sl.Err(err))
		os.Exit(1)
	}

	log := setupLogger(cfg.Env)
	if envErr != nil {
		log.Debug("no .env file found, using environment variables")
	}
	log.Info("starting roulette backend",
		slog.String("env", cfg.Env),
		slog.String("store", cfg.StoreDriver),
		slog.String("chain", cfg.ChainMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var healthChecks []func(context.Context) error

	store, err := setupStore(cfg)
	if err != nil {
		log.Error("failed to init store", sl.Err(err))
		os.Exit(1)
	}
	defer store.Close()
	if pg, ok := store.(*services.PostgresStore); ok {
		healthChecks = append(healthChecks, pg.Ping)
	}

	client := setupChain(cfg)
	metrics := services.NewMetrics(prometheus.DefaultRegisterer)
	feed := handlers.NewFeedHub(log)
	go feed.Run(ctx)

	var (
		broadcaster services.Broadcaster = feed
		limiter     middleware.RateLimiter
	)

	if cfg.RedisURL != "" {
		redisService, err := services.NewRedisService(cfg.RedisURL, cfg.RedisPass, cfg.RedisDB, log)
		if err != nil {
			log.Error("failed to connect to redis", sl.Err(err))
			os.Exit(1)
		}
		defer redisService.Close()

		broadcaster = redisService
		limiter = redisService
		healthChecks = append(healthChecks, redisService.Ping)

		recent, err := redisService.RecentSettled(ctx, services.RecentSettledLength)
		if err != nil {
			log.Warn("failed to load recent settlements", sl.Err(err))
		}
		feed.Seed(recent)

		go func() {
			if err := redisService.SubscribeSettled(ctx, feed.BroadcastGameSettled); err != nil {
				log.Error("settled event subscription stopped", sl.Err(err))
			}
		}()
	} else {
		log.Warn("REDIS_URL not set, rate limiting disabled and live feed is local to this instance")
	}

	tokens := services.NewJWTService(cfg.GameTokenSecret, cfg.GameTokenTTL)
	if !tokens.Enabled() {
		log.Warn("GAME_TOKEN_SECRET not set, game routes accept requests without a token")
	}

	confirm := retry.Policy{
		MaxAttempts:     cfg.SettleConfirmAttempts,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
	coordinator := services.NewCoordinator(store, client, log,
		services.WithBroadcaster(broadcaster),
		services.WithMetrics(metrics),
		services.WithConfirmPolicy(confirm),
	)
	engine := services.NewGameEngine(store, client, coordinator, tokens, log,
		services.WithStaleAfter(cfg.StaleAfter),
		services.WithEngineMetrics(metrics),
	)

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Engine:             engine,
		Feed:               feed,
		Log:                log,
		Limiter:            limiter,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Metrics:            promhttp.Handler(),
		Health: func(ctx context.Context) error {
			for _, check := range healthChecks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		log.Info("server started", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", sl.Err(err))
	}

	log.Info("server stopped")
}

func setupStore(cfg *config.Config) (services.Store, error) {
	if cfg.StoreDriver == config.StorePostgres {
		return services.NewPostgresStore(cfg.DatabaseURL)
	}
	return services.NewMemoryStore(), nil
}

// setupChain returns the program client. The simulator also opens sessions
// itself, so confirm accepts an empty transaction signature.
func setupChain(cfg *config.Config) chain.Client {
	if cfg.ChainMode == config.ChainRPC {
		return chain.NewRPCClient(cfg.ChainRPCURL, cfg.ChainRPCTimeout)
	}
	return chain.NewSimulator()
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return log
}
