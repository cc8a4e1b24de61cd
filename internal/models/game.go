package models

import (
	"encoding/hex"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusStarted Status = "started"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
	StatusSettled Status = "settled" // chain cancelled or refunded the session
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusStarted, StatusWon, StatusLost, StatusSettled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown game status %q", s)
	}
}

func (s Status) Terminal() bool {
	switch s {
	case StatusWon, StatusLost, StatusSettled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a session may move from s to next.
// Transitions only go forward and no status is ever revisited. An unknown
// status, as read from a corrupted row, permits nothing.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusStarted || next == StatusLost
	case StatusStarted:
		return next == StatusWon || next == StatusLost || next == StatusSettled
	default:
		return false
	}
}

// GameSession is one row per game. ServerSeed stays hidden until the
// session reaches a terminal status.
type GameSession struct {
	ID           string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	PlayerWallet string `json:"player_wallet" gorm:"size:64;not null;index:idx_games_player_status,priority:1"`
	BetAmount    uint64 `json:"bet_amount" gorm:"not null;default:0"`

	ServerSeed string `json:"-" gorm:"column:server_seed;size:64;not null"`
	SeedHash   string `json:"seed_hash" gorm:"size:64;not null"`

	Status         Status `json:"status" gorm:"size:16;not null;default:'pending';index:idx_games_player_status,priority:2"`
	CurrentRound   int    `json:"current_round" gorm:"not null;default:0"`
	RoundsSurvived int    `json:"rounds_survived" gorm:"not null;default:0"`
	BulletPosition *int   `json:"bullet_position,omitempty"`
	Won            bool   `json:"won" gorm:"not null;default:false"`
	Cancelled      bool   `json:"cancelled" gorm:"not null;default:false"`
	Payout         uint64 `json:"payout" gorm:"not null;default:0"`

	StartTx  string `json:"start_tx,omitempty" gorm:"size:128"`
	SettleTx string `json:"settle_tx,omitempty" gorm:"size:128;index"`

	CreatedAt time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt time.Time  `json:"updated_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

func (GameSession) TableName() string {
	return "games"
}

func (g *GameSession) Secret() ([32]byte, error) {
	var secret [32]byte

	raw, err := hex.DecodeString(g.ServerSeed)
	if err != nil {
		return secret, fmt.Errorf("decode server seed: %w", err)
	}
	if len(raw) != len(secret) {
		return secret, fmt.Errorf("server seed has %d bytes, want %d", len(raw), len(secret))
	}

	copy(secret[:], raw)
	return secret, nil
}

func (g *GameSession) SeedHashBytes() ([]byte, error) {
	return hex.DecodeString(g.SeedHash)
}

// Outcome is the terminal state recorded by settlement.
type Outcome struct {
	Status         Status
	RoundsSurvived int
	BulletPosition int
	Won            bool
	Cancelled      bool
	Payout         uint64
	SettleTx       string
	SettledAt      time.Time
}

func (o Outcome) Apply(g *GameSession) {
	bullet := o.BulletPosition

	g.Status = o.Status
	g.RoundsSurvived = o.RoundsSurvived
	g.BulletPosition = &bullet
	g.Won = o.Won
	g.Cancelled = o.Cancelled
	g.Payout = o.Payout
	g.SettleTx = o.SettleTx
	settledAt := o.SettledAt
	g.SettledAt = &settledAt
}

type LeaderboardEntry struct {
	PlayerWallet string    `json:"player_wallet" gorm:"primaryKey;size:64"`
	TotalGames   int64     `json:"total_games" gorm:"not null;default:0"`
	TotalWagered int64     `json:"total_wagered" gorm:"not null;default:0"`
	TotalProfit  int64     `json:"total_profit" gorm:"not null;default:0;index"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (LeaderboardEntry) TableName() string {
	return "leaderboard"
}
