package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"roulette-backend/internal/models"
)

const (
	DefaultStaleAfter   = 5 * time.Minute
	DefaultHistoryLimit = 20
	MaxListLimit        = 100
)

// Store persists game sessions and the leaderboard aggregate. Every returned
// session is a copy the caller may modify freely.
type Store interface {
	Create(ctx context.Context, session *models.GameSession) error
	Get(ctx context.Context, id string) (*models.GameSession, error)
	GetBySettleTx(ctx context.Context, signature string) (*models.GameSession, error)

	// GetActive returns the newest started session of the wallet younger
	// than staleAfter. Older started sessions are demoted to lost.
	GetActive(ctx context.Context, wallet string, staleAfter time.Duration) (*models.GameSession, error)

	// ExpireStale marks every pending session of the wallet and every
	// started one older than staleAfter as lost.
	ExpireStale(ctx context.Context, wallet string, staleAfter time.Duration) (int64, error)

	// Promote moves a pending session to started and demotes the wallet's
	// other started sessions to lost.
	Promote(ctx context.Context, id string, betAmount uint64, startTx string) (*models.GameSession, error)

	// AdvanceRound increments current_round only if it still equals
	// expectedRound and the session is started. A lost race yields a
	// conflict error.
	AdvanceRound(ctx context.Context, id string, expectedRound int) (int, error)

	WithLock(ctx context.Context, id string, fn func(tx SessionTx) error) error
	MarkTerminal(ctx context.Context, id string, outcome models.Outcome) error

	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	History(ctx context.Context, wallet string, limit int) ([]models.GameSession, error)

	Close() error
}

// SessionTx is the read-modify-write scope of WithLock. Changes are
// committed when the callback returns nil and discarded otherwise.
type SessionTx interface {
	Session() *models.GameSession
	MarkTerminal(outcome models.Outcome) error
	RecordLeaderboard(wallet string, wagered uint64, profit int64) error
}

func markTerminal(g *models.GameSession, outcome models.Outcome) error {
	if g.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if !outcome.Status.Terminal() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("%s is not a terminal status", outcome.Status)}
	}
	if !g.Status.CanTransition(outcome.Status) {
		return &StateConflictError{
			GameID: g.ID,
			Status: string(g.Status),
			Reason: fmt.Sprintf("cannot move to %s", outcome.Status),
		}
	}

	if outcome.SettledAt.IsZero() {
		outcome.SettledAt = time.Now().UTC()
	}
	outcome.Apply(g)
	return nil
}

// ProfitOf is the signed leaderboard delta of a finished game.
func ProfitOf(betAmount, payout uint64, won bool) int64 {
	if !won {
		return -clampInt64(betAmount)
	}
	return clampInt64(payout) - clampInt64(betAmount)
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func cloneSession(g *models.GameSession) *models.GameSession {
	cp := *g
	if g.BulletPosition != nil {
		b := *g.BulletPosition
		cp.BulletPosition = &b
	}
	if g.SettledAt != nil {
		t := *g.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}

func notFound(id string) error {
	return &NotFoundError{Resource: "game", ID: id}
}
