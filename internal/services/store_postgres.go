package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"roulette-backend/internal/models"
)

// PostgresStore is the durable Store. WithLock holds a row lock
// (SELECT ... FOR UPDATE) for the duration of the callback.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	const op = "services.NewPostgresStore"

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := db.AutoMigrate(&models.GameSession{}, &models.LeaderboardEntry{}); err != nil {
		return nil, fmt.Errorf("%s: migrate: %w", op, err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Create(ctx context.Context, session *models.GameSession) error {
	const op = "services.PostgresStore.Create"

	if err := models.ValidateWallet(session.PlayerWallet); err != nil {
		return &ValidationError{Field: "playerWallet", Reason: err.Error()}
	}
	if session.ID == "" {
		session.ID = models.GenerateGameID()
	}
	if session.Status == "" {
		session.Status = models.StatusPending
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.GameSession, error) {
	const op = "services.PostgresStore.Get"

	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(id)
	}

	var g models.GameSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &g, nil
}

func (s *PostgresStore) GetBySettleTx(ctx context.Context, signature string) (*models.GameSession, error) {
	const op = "services.PostgresStore.GetBySettleTx"

	if signature == "" {
		return nil, &NotFoundError{Resource: "settlement", ID: signature}
	}

	var g models.GameSession
	err := s.db.WithContext(ctx).Where("settle_tx = ?", signature).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "settlement", ID: signature}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &g, nil
}

func (s *PostgresStore) GetActive(ctx context.Context, wallet string, staleAfter time.Duration) (*models.GameSession, error) {
	const op = "services.PostgresStore.GetActive"

	now := time.Now().UTC()
	cutoff := now.Add(-staleAfter)

	var g models.GameSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.GameSession{}).
			Where("player_wallet = ? AND status = ? AND created_at < ?", wallet, models.StatusStarted, cutoff).
			Updates(map[string]any{"status": models.StatusLost, "updated_at": now}).Error
		if err != nil {
			return err
		}

		return tx.Where("player_wallet = ? AND status = ?", wallet, models.StatusStarted).
			Order("created_at DESC").
			First(&g).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "active game", ID: wallet}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &g, nil
}

func (s *PostgresStore) ExpireStale(ctx context.Context, wallet string, staleAfter time.Duration) (int64, error) {
	const op = "services.PostgresStore.ExpireStale"

	now := time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&models.GameSession{}).
		Where("player_wallet = ?", wallet).
		Where("status = ? OR (status = ? AND created_at < ?)", models.StatusPending, models.StatusStarted, now.Add(-staleAfter)).
		Updates(map[string]any{"status": models.StatusLost, "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("%s: %w", op, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *PostgresStore) Promote(ctx context.Context, id string, betAmount uint64, startTx string) (*models.GameSession, error) {
	const op = "services.PostgresStore.Promote"

	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(id)
	}

	var g models.GameSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&g).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		if g.Status != models.StatusPending {
			return &StateConflictError{GameID: id, Status: string(g.Status), Reason: "game is not pending"}
		}

		now := time.Now().UTC()
		err = tx.Model(&models.GameSession{}).
			Where("player_wallet = ? AND status = ? AND id <> ?", g.PlayerWallet, models.StatusStarted, id).
			Updates(map[string]any{"status": models.StatusLost, "updated_at": now}).Error
		if err != nil {
			return err
		}

		g.Status = models.StatusStarted
		g.BetAmount = betAmount
		g.StartTx = startTx
		g.UpdatedAt = now
		return tx.Save(&g).Error
	})
	if err != nil {
		var nf *NotFoundError
		var sce *StateConflictError
		if errors.As(err, &nf) || errors.As(err, &sce) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &g, nil
}

func (s *PostgresStore) AdvanceRound(ctx context.Context, id string, expectedRound int) (int, error) {
	const op = "services.PostgresStore.AdvanceRound"

	if _, err := uuid.Parse(id); err != nil {
		return 0, notFound(id)
	}

	res := s.db.WithContext(ctx).Model(&models.GameSession{}).
		Where("id = ? AND status = ? AND current_round = ?", id, models.StatusStarted, expectedRound).
		Updates(map[string]any{
			"current_round": gorm.Expr("current_round + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return 0, err
		}
		return 0, conflictError(id)
	}
	return expectedRound + 1, nil
}

func (s *PostgresStore) WithLock(ctx context.Context, id string, fn func(tx SessionTx) error) error {
	if _, err := uuid.Parse(id); err != nil {
		return notFound(id)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g models.GameSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&g).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(id)
		}
		if err != nil {
			return fmt.Errorf("services.PostgresStore.WithLock: %w", err)
		}

		ptx := &postgresTx{tx: tx, session: &g}
		if err := fn(ptx); err != nil {
			return err
		}
		if !ptx.dirty {
			return nil
		}
		return tx.Save(ptx.session).Error
	})
}

func (s *PostgresStore) MarkTerminal(ctx context.Context, id string, outcome models.Outcome) error {
	return s.WithLock(ctx, id, func(tx SessionTx) error {
		return tx.MarkTerminal(outcome)
	})
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	var out []models.LeaderboardEntry
	err := s.db.WithContext(ctx).
		Order("total_profit DESC").
		Order("player_wallet ASC").
		Limit(clampLimit(limit, DefaultHistoryLimit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("services.PostgresStore.Leaderboard: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) History(ctx context.Context, wallet string, limit int) ([]models.GameSession, error) {
	var out []models.GameSession
	err := s.db.WithContext(ctx).
		Where("player_wallet = ?", wallet).
		Order("created_at DESC").
		Limit(clampLimit(limit, DefaultHistoryLimit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("services.PostgresStore.History: %w", err)
	}
	return out, nil
}

// Ping is used by the health check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type postgresTx struct {
	tx      *gorm.DB
	session *models.GameSession
	dirty   bool
}

func (t *postgresTx) Session() *models.GameSession {
	return cloneSession(t.session)
}

func (t *postgresTx) MarkTerminal(outcome models.Outcome) error {
	if err := markTerminal(t.session, outcome); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

func (t *postgresTx) RecordLeaderboard(wallet string, wagered uint64, profit int64) error {
	now := time.Now().UTC()
	entry := models.LeaderboardEntry{
		PlayerWallet: wallet,
		TotalGames:   1,
		TotalWagered: int64(wagered),
		TotalProfit:  profit,
		UpdatedAt:    now,
	}

	return t.tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "player_wallet"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_games":   gorm.Expr("leaderboard.total_games + 1"),
			"total_wagered": gorm.Expr("leaderboard.total_wagered + ?", int64(wagered)),
			"total_profit":  gorm.Expr("leaderboard.total_profit + ?", profit),
			"updated_at":    now,
		}),
	}).Create(&entry).Error
}
