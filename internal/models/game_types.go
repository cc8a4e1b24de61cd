package models

import "time"

type StartRequest struct {
	PlayerWallet string `json:"playerWallet" binding:"required"`
}

type StartResponse struct {
	GameID        string `json:"gameId"`
	SeedHash      string `json:"seedHash"`
	SeedHashBytes []int  `json:"seedHashBytes"`
	Token         string `json:"token,omitempty"`
}

type ConfirmRequest struct {
	GameID      string `json:"gameId" binding:"required"`
	TxSignature string `json:"txSignature"`
	BetAmount   uint64 `json:"betAmount"`
}

type GameRequest struct {
	GameID string `json:"gameId" binding:"required"`
}

type PullResult struct {
	Survived       bool          `json:"survived"`
	Round          int           `json:"round"`
	BulletPosition *int          `json:"bulletPosition,omitempty"`
	SettleResult   *SettleResult `json:"settleResult,omitempty"`
}

type SettleResult struct {
	GameID         string `json:"gameId"`
	Won            bool   `json:"won"`
	Cancelled      bool   `json:"cancelled"`
	BulletPosition int    `json:"bulletPosition"`
	RoundsSurvived int    `json:"roundsSurvived"`
	Payout         uint64 `json:"payout"`
	BetAmount      uint64 `json:"betAmount"`
	ServerSeed     string `json:"serverSeed"`
	SeedHash       string `json:"seedHash"`
	TxSignature    string `json:"txSignature"`
}

type VerifyResult struct {
	Valid          bool   `json:"valid"`
	GameID         string `json:"gameId"`
	PlayerWallet   string `json:"playerWallet"`
	ServerSeed     string `json:"serverSeed"`
	SeedHash       string `json:"seedHash"`
	ComputedHash   string `json:"computedHash"`
	BulletPosition int    `json:"bulletPosition"`
	BulletMatches  bool   `json:"bulletMatches"`
	RoundsSurvived int    `json:"roundsSurvived"`
	Won            bool   `json:"won"`
	Cancelled      bool   `json:"cancelled"`
	Payout         uint64 `json:"payout"`
	BetAmount      uint64 `json:"betAmount"`
	TxSignature    string `json:"txSignature"`
}

type GameView struct {
	ID             string     `json:"id"`
	PlayerWallet   string     `json:"playerWallet"`
	BetAmount      uint64     `json:"betAmount"`
	SeedHash       string     `json:"seedHash"`
	ServerSeed     string     `json:"serverSeed,omitempty"`
	Status         Status     `json:"status"`
	CurrentRound   int        `json:"currentRound"`
	RoundsSurvived int        `json:"roundsSurvived"`
	BulletPosition *int       `json:"bulletPosition,omitempty"`
	Won            bool       `json:"won"`
	Cancelled      bool       `json:"cancelled"`
	Payout         uint64     `json:"payout"`
	StartTx        string     `json:"startTx,omitempty"`
	SettleTx       string     `json:"settleTx,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	SettledAt      *time.Time `json:"settledAt,omitempty"`
}

// SettledEvent is pushed to the live feed when a game reaches a terminal
// status through settlement.
type SettledEvent struct {
	Type           string    `json:"type"`
	GameID         string    `json:"gameId"`
	PlayerWallet   string    `json:"playerWallet"`
	Status         Status    `json:"status"`
	RoundsSurvived int       `json:"roundsSurvived"`
	BulletPosition int       `json:"bulletPosition"`
	BetAmount      uint64    `json:"betAmount"`
	Payout         uint64    `json:"payout"`
	TxSignature    string    `json:"txSignature"`
	SettledAt      time.Time `json:"settledAt"`
}

const EventGameSettled = "game_settled"
