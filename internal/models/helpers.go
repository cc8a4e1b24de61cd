package models

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func GenerateGameID() string {
	return uuid.New().String()
}

// FormatLamports renders an amount in SOL with full lamport precision.
func FormatLamports(amount uint64) string {
	sol := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -9)
	return sol.StringFixed(9) + " SOL"
}

// SeedHashByteList expands a hex commitment into the byte array form the
// on-chain instruction takes.
func SeedHashByteList(seedHash string) ([]int, error) {
	raw, err := hex.DecodeString(seedHash)
	if err != nil {
		return nil, fmt.Errorf("decode seed hash: %w", err)
	}

	out := make([]int, len(raw))
	for i, b := range raw {
		out[i] = int(b)
	}
	return out, nil
}

// PublicView strips the server seed unless the session is terminal.
func (g *GameSession) PublicView() GameView {
	view := GameView{
		ID:             g.ID,
		PlayerWallet:   g.PlayerWallet,
		BetAmount:      g.BetAmount,
		SeedHash:       g.SeedHash,
		Status:         g.Status,
		CurrentRound:   g.CurrentRound,
		RoundsSurvived: g.RoundsSurvived,
		BulletPosition: g.BulletPosition,
		Won:            g.Won,
		Cancelled:      g.Cancelled,
		Payout:         g.Payout,
		StartTx:        g.StartTx,
		SettleTx:       g.SettleTx,
		CreatedAt:      g.CreatedAt,
		SettledAt:      g.SettledAt,
	}
	if g.Status.Terminal() {
		view.ServerSeed = g.ServerSeed
	}
	return view
}

func (g *GameSession) SettleResult() *SettleResult {
	bullet := -1
	if g.BulletPosition != nil {
		bullet = *g.BulletPosition
	}

	return &SettleResult{
		GameID:         g.ID,
		Won:            g.Won,
		Cancelled:      g.Cancelled,
		BulletPosition: bullet,
		RoundsSurvived: g.RoundsSurvived,
		Payout:         g.Payout,
		BetAmount:      g.BetAmount,
		ServerSeed:     g.ServerSeed,
		SeedHash:       g.SeedHash,
		TxSignature:    g.SettleTx,
	}
}

func (g *GameSession) SettledEvent() *SettledEvent {
	ev := &SettledEvent{
		Type:           EventGameSettled,
		GameID:         g.ID,
		PlayerWallet:   g.PlayerWallet,
		Status:         g.Status,
		RoundsSurvived: g.RoundsSurvived,
		BulletPosition: -1,
		BetAmount:      g.BetAmount,
		Payout:         g.Payout,
		TxSignature:    g.SettleTx,
	}
	if g.BulletPosition != nil {
		ev.BulletPosition = *g.BulletPosition
	}
	if g.SettledAt != nil {
		ev.SettledAt = *g.SettledAt
	}
	return ev
}
