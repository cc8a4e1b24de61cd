package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/exp/slog"

	"roulette-backend/internal/chain"
	"roulette-backend/internal/lib/logger/sl"
	"roulette-backend/internal/models"
	"roulette-backend/internal/provablyfair"
)

const leaderboardCacheTTL = 5 * time.Second

// GameEngine runs the game lifecycle: start, confirm, pull and settle, plus
// the read-side queries the frontend and auditors use.
type GameEngine struct {
	store       Store
	chain       chain.Client
	coordinator *Coordinator
	tokens      *JWTService
	metrics     *Metrics
	log         *slog.Logger

	staleAfter  time.Duration
	verifyCache *cache.Cache
	boardCache  *cache.Cache
}

type EngineOption func(*GameEngine)

func WithStaleAfter(d time.Duration) EngineOption {
	return func(e *GameEngine) {
		if d > 0 {
			e.staleAfter = d
		}
	}
}

func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *GameEngine) {
		e.metrics = m
	}
}

func NewGameEngine(store Store, client chain.Client, coordinator *Coordinator, tokens *JWTService, log *slog.Logger, opts ...EngineOption) *GameEngine {
	e := &GameEngine{
		store:       store,
		chain:       client,
		coordinator: coordinator,
		tokens:      tokens,
		log:         log,
		staleAfter:  DefaultStaleAfter,
		verifyCache: cache.New(10*time.Minute, 20*time.Minute),
		boardCache:  cache.New(leaderboardCacheTTL, time.Minute),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *GameEngine) Tokens() *JWTService {
	return e.tokens
}

// Start abandons the wallet's pending and stale sessions, then creates a
// pending session with a fresh seed commitment.
func (e *GameEngine) Start(ctx context.Context, wallet string) (*models.StartResponse, error) {
	const op = "services.GameEngine.Start"

	log := e.log.With(slog.String("op", op), sl.Wallet(wallet))

	if err := models.ValidateWallet(wallet); err != nil {
		return nil, &ValidationError{Field: "playerWallet", Reason: err.Error()}
	}

	expired, err := e.store.ExpireStale(ctx, wallet, e.staleAfter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if expired > 0 {
		log.Info("abandoned previous sessions", slog.Int64("count", expired))
	}

	seed, err := provablyfair.GenerateSeed()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	session := &models.GameSession{
		PlayerWallet: wallet,
		ServerSeed:   seed.SecretHex(),
		SeedHash:     seed.CommitmentHex(),
		Status:       models.StatusPending,
	}
	if err := e.store.Create(ctx, session); err != nil {
		return nil, err
	}

	hashBytes, err := models.SeedHashByteList(session.SeedHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	token, err := e.tokens.GenerateToken(session.ID, wallet)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.metrics.GameStarted()
	log.Info("game created", sl.GameID(session.ID))

	return &models.StartResponse{
		GameID:        session.ID,
		SeedHash:      session.SeedHash,
		SeedHashBytes: hashBytes,
		Token:         token,
	}, nil
}

// Confirm checks the player's on-chain commit against the pending session and
// promotes it to started. With no signature and a chain backend that can
// open sessions itself, the commit is placed on the player's behalf.
func (e *GameEngine) Confirm(ctx context.Context, req *models.ConfirmRequest) (*models.GameView, error) {
	const op = "services.GameEngine.Confirm"

	log := e.log.With(slog.String("op", op), sl.GameID(req.GameID))

	g, err := e.store.Get(ctx, req.GameID)
	if err != nil {
		return nil, err
	}

	if g.Status == models.StatusStarted && g.StartTx != "" && (req.TxSignature == "" || req.TxSignature == g.StartTx) {
		view := g.PublicView()
		return &view, nil
	}
	if g.Status != models.StatusPending {
		return nil, &StateConflictError{GameID: g.ID, Status: string(g.Status), Reason: "game is not pending"}
	}

	startTx := req.TxSignature
	if startTx == "" {
		opener, ok := e.chain.(chain.Opener)
		if !ok {
			return nil, &ValidationError{Field: "txSignature", Reason: "required"}
		}
		if req.BetAmount == 0 || req.BetAmount > provablyfair.MaxBetAmount {
			return nil, &ValidationError{Field: "betAmount", Reason: fmt.Sprintf("must be between 1 and %d lamports", uint64(provablyfair.MaxBetAmount))}
		}
		startTx, err = opener.OpenSession(ctx, chain.OpenParams{
			GameID:    g.ID,
			Player:    g.PlayerWallet,
			BetAmount: req.BetAmount,
			SeedHash:  g.SeedHash,
		})
		if err != nil {
			return nil, &SettlementError{GameID: g.ID, Stage: "open session", Err: err}
		}
	}

	onchain, err := e.chain.GetSession(ctx, g.ID)
	if errors.Is(err, chain.ErrSessionNotFound) {
		return nil, &StateConflictError{GameID: g.ID, Status: string(g.Status), Reason: "commit transaction not found on chain"}
	}
	if err != nil {
		return nil, &SettlementError{GameID: g.ID, Stage: "verify commit", Err: err}
	}

	switch {
	case onchain.Player != g.PlayerWallet:
		return nil, &ValidationError{Field: "txSignature", Reason: "on-chain player does not match game"}
	case onchain.SeedHash != g.SeedHash:
		return nil, &ValidationError{Field: "txSignature", Reason: "on-chain seed hash does not match commitment"}
	case onchain.Status != chain.StatusActive:
		return nil, &StateConflictError{GameID: g.ID, Status: string(g.Status), Reason: fmt.Sprintf("on-chain session is %s", onchain.Status)}
	case req.BetAmount != 0 && req.BetAmount != onchain.BetAmount:
		return nil, &ValidationError{Field: "betAmount", Reason: "does not match on-chain wager"}
	case onchain.BetAmount == 0 || onchain.BetAmount > provablyfair.MaxBetAmount:
		return nil, &ValidationError{Field: "betAmount", Reason: fmt.Sprintf("must be between 1 and %d lamports", uint64(provablyfair.MaxBetAmount))}
	case onchain.StartTx != "" && onchain.StartTx != startTx:
		return nil, &ValidationError{Field: "txSignature", Reason: "does not match on-chain commit"}
	}

	started, err := e.store.Promote(ctx, g.ID, onchain.BetAmount, startTx)
	if err != nil {
		return nil, err
	}

	e.metrics.GameConfirmed()
	log.Info("game started",
		sl.Wallet(started.PlayerWallet),
		slog.Uint64("bet", started.BetAmount),
		slog.String("tx", startTx),
	)

	view := started.PublicView()
	return &view, nil
}

// Pull fires the current chamber. A losing round settles the game
// immediately; otherwise the round counter advances by compare-and-swap.
func (e *GameEngine) Pull(ctx context.Context, gameID string) (*models.PullResult, error) {
	const op = "services.GameEngine.Pull"

	g, err := e.store.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status != models.StatusStarted {
		return nil, &StateConflictError{GameID: g.ID, Status: string(g.Status), Reason: "game is not started"}
	}
	if g.CurrentRound >= provablyfair.MaxRoundsSurvived {
		return nil, &StateConflictError{GameID: g.ID, Status: string(g.Status), Reason: "every survivable round played, cash out"}
	}

	secret, err := g.Secret()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	losing, err := provablyfair.IsLosingRound(secret, g.CurrentRound)
	if err != nil {
		return nil, &ValidationError{Field: "currentRound", Reason: err.Error()}
	}

	if losing {
		result, err := e.coordinator.Settle(ctx, g.ID, SettleDeath)
		if err != nil {
			return nil, err
		}
		e.metrics.Pull("died")

		bullet := result.BulletPosition
		return &models.PullResult{
			Survived:       false,
			Round:          g.CurrentRound,
			BulletPosition: &bullet,
			SettleResult:   result,
		}, nil
	}

	round, err := e.store.AdvanceRound(ctx, g.ID, g.CurrentRound)
	if err != nil {
		if IsConflict(err) {
			e.metrics.Pull("conflict")
		}
		return nil, err
	}
	e.metrics.Pull("survived")

	return &models.PullResult{Survived: true, Round: round}, nil
}

func (e *GameEngine) Settle(ctx context.Context, gameID string) (*models.SettleResult, error) {
	return e.coordinator.Settle(ctx, gameID, SettleCashout)
}

func (e *GameEngine) Get(ctx context.Context, gameID string) (*models.GameView, error) {
	g, err := e.store.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	view := g.PublicView()
	return &view, nil
}

func (e *GameEngine) Active(ctx context.Context, wallet string) (*models.GameView, error) {
	if err := models.ValidateWallet(wallet); err != nil {
		return nil, &ValidationError{Field: "wallet", Reason: err.Error()}
	}

	g, err := e.store.GetActive(ctx, wallet, e.staleAfter)
	if err != nil {
		return nil, err
	}
	view := g.PublicView()
	return &view, nil
}

// Verify recomputes the commitment and bullet of a settled game from its
// revealed seed. Results are immutable and cached.
func (e *GameEngine) Verify(ctx context.Context, txSignature string) (*models.VerifyResult, error) {
	const op = "services.GameEngine.Verify"

	if cached, ok := e.verifyCache.Get(txSignature); ok {
		return cached.(*models.VerifyResult), nil
	}

	g, err := e.store.GetBySettleTx(ctx, txSignature)
	if err != nil {
		return nil, err
	}
	if !g.Status.Terminal() {
		return nil, &StateConflictError{GameID: g.ID, Status: string(g.Status), Reason: "game is not settled"}
	}

	matches, computed, err := provablyfair.VerifyCommitment(g.ServerSeed, g.SeedHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	secret, err := g.Secret()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	bullet := provablyfair.BulletPosition(secret)
	bulletMatches := g.BulletPosition != nil && *g.BulletPosition == bullet

	result := &models.VerifyResult{
		Valid:          matches && bulletMatches,
		GameID:         g.ID,
		PlayerWallet:   g.PlayerWallet,
		ServerSeed:     g.ServerSeed,
		SeedHash:       g.SeedHash,
		ComputedHash:   computed,
		BulletPosition: bullet,
		BulletMatches:  bulletMatches,
		RoundsSurvived: g.RoundsSurvived,
		Won:            g.Won,
		Cancelled:      g.Cancelled,
		Payout:         g.Payout,
		BetAmount:      g.BetAmount,
		TxSignature:    g.SettleTx,
	}

	e.verifyCache.SetDefault(txSignature, result)
	return result, nil
}

func (e *GameEngine) History(ctx context.Context, wallet string, limit int) ([]models.GameView, error) {
	if err := models.ValidateWallet(wallet); err != nil {
		return nil, &ValidationError{Field: "wallet", Reason: err.Error()}
	}

	games, err := e.store.History(ctx, wallet, limit)
	if err != nil {
		return nil, err
	}

	views := make([]models.GameView, len(games))
	for i := range games {
		views[i] = games[i].PublicView()
	}
	return views, nil
}

func (e *GameEngine) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	limit = clampLimit(limit, DefaultHistoryLimit)
	key := fmt.Sprintf("leaderboard:%d", limit)

	if cached, ok := e.boardCache.Get(key); ok {
		return cached.([]models.LeaderboardEntry), nil
	}

	entries, err := e.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}

	e.boardCache.SetDefault(key, entries)
	return entries, nil
}
