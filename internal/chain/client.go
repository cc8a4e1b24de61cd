// Package chain talks to the on-chain roulette program, the authority on
// wagers, outcomes and payouts.
package chain

import (
	"context"
	"errors"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusCancelled
}

type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationFailed    ConfirmationStatus = "failed"
)

var (
	ErrSessionNotFound   = errors.New("chain: game session not found")
	ErrSignatureNotFound = errors.New("chain: signature not found")
	ErrInvalidSecret     = errors.New("chain: secret does not match commitment")
	ErrInvalidClaim      = errors.New("chain: claim contradicts revealed secret")
	ErrNotActive         = errors.New("chain: game session is not active")
	ErrTransactionFailed = errors.New("chain: transaction failed")
)

// Session is the program's record of a game.
type Session struct {
	GameID         string `json:"gameId"`
	Player         string `json:"player"`
	BetAmount      uint64 `json:"betAmount"`
	SeedHash       string `json:"seedHash"`
	Status         Status `json:"status"`
	BulletPosition int    `json:"bulletPosition"`
	RoundsSurvived int    `json:"roundsSurvived"`
	Payout         uint64 `json:"payout"`
	StartTx        string `json:"startTx,omitempty"`
	SettleTx       string `json:"settleTx,omitempty"`
}

// SettleParams reveals the server seed to the program. Died marks a
// settlement triggered by the losing pull rather than a cash-out.
type SettleParams struct {
	GameID         string `json:"gameId"`
	Player         string `json:"player"`
	ServerSeed     string `json:"serverSeed"`
	RoundsSurvived int    `json:"roundsSurvived"`
	Died           bool   `json:"died"`
}

type OpenParams struct {
	GameID    string `json:"gameId"`
	Player    string `json:"player"`
	BetAmount uint64 `json:"betAmount"`
	SeedHash  string `json:"seedHash"`
}

type Client interface {
	GetSession(ctx context.Context, gameID string) (*Session, error)
	Settle(ctx context.Context, params SettleParams) (string, error)
	SignatureStatus(ctx context.Context, signature string) (ConfirmationStatus, error)
}

// Opener is implemented by backends that can place the player's commit
// transaction themselves (offline mode).
type Opener interface {
	OpenSession(ctx context.Context, params OpenParams) (string, error)
}
