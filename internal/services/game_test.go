package services_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roulette-backend/internal/chain"
	"roulette-backend/internal/lib/logger/sl"
	"roulette-backend/internal/models"
	"roulette-backend/internal/services"
)

func TestStartCreatesCommitment(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	resp, err := h.engine.Start(ctx, wallet)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.GameID)
	assert.Len(t, resp.SeedHash, 64)
	require.Len(t, resp.SeedHashBytes, 32)
	assert.Empty(t, resp.Token, "tokens are off without a secret")

	g, err := h.store.Get(ctx, resp.GameID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, g.Status)

	raw, err := hex.DecodeString(g.ServerSeed)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(sum[:]), resp.SeedHash)
	assert.Equal(t, int(sum[0]), resp.SeedHashBytes[0])

	view, err := h.engine.Get(ctx, resp.GameID)
	require.NoError(t, err)
	assert.Empty(t, view.ServerSeed, "secret hidden before settlement")
}

func TestStartRejectsInvalidWallet(t *testing.T) {
	h := newHarness(t, nil, nil)

	for _, w := range []string{"", "abc", "0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl"} {
		_, err := h.engine.Start(context.Background(), w)
		var ve *services.ValidationError
		assert.True(t, errors.As(err, &ve), "wallet %q", w)
	}
}

func TestStartAbandonsPreviousGames(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	first, err := h.engine.Start(ctx, wallet)
	require.NoError(t, err)
	second, err := h.engine.Start(ctx, wallet)
	require.NoError(t, err)

	g, err := h.store.Get(ctx, first.GameID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLost, g.Status)

	g, err = h.store.Get(ctx, second.GameID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, g.Status)
}

func TestConfirm(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	t.Run("rejects seed hash mismatch", func(t *testing.T) {
		resp, err := h.engine.Start(ctx, wallet)
		require.NoError(t, err)

		_, err = h.sim.OpenSession(ctx, chain.OpenParams{
			GameID:    resp.GameID,
			Player:    wallet,
			BetAmount: bet,
			SeedHash:  hex.EncodeToString(make([]byte, 32)),
		})
		require.NoError(t, err)

		_, err = h.engine.Confirm(ctx, &models.ConfirmRequest{GameID: resp.GameID, TxSignature: "sig"})
		var ve *services.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("rejects commit that never landed", func(t *testing.T) {
		resp, err := h.engine.Start(ctx, wallet)
		require.NoError(t, err)

		_, err = h.engine.Confirm(ctx, &models.ConfirmRequest{GameID: resp.GameID, TxSignature: "missing"})
		var sce *services.StateConflictError
		assert.True(t, errors.As(err, &sce))
	})

	t.Run("accepts player commit and is repeatable", func(t *testing.T) {
		resp, err := h.engine.Start(ctx, wallet)
		require.NoError(t, err)

		sig, err := h.sim.OpenSession(ctx, chain.OpenParams{
			GameID:    resp.GameID,
			Player:    wallet,
			BetAmount: bet,
			SeedHash:  resp.SeedHash,
		})
		require.NoError(t, err)

		req := &models.ConfirmRequest{GameID: resp.GameID, TxSignature: sig, BetAmount: bet}
		view, err := h.engine.Confirm(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.StatusStarted, view.Status)
		assert.Equal(t, bet, view.BetAmount)
		assert.Equal(t, sig, view.StartTx)

		again, err := h.engine.Confirm(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, view.ID, again.ID)

		active, err := h.engine.Active(ctx, wallet)
		require.NoError(t, err)
		assert.Equal(t, resp.GameID, active.ID)
		assert.Empty(t, active.ServerSeed)
	})

	t.Run("unknown game", func(t *testing.T) {
		_, err := h.engine.Confirm(ctx, &models.ConfirmRequest{GameID: "nope"})
		var nf *services.NotFoundError
		assert.True(t, errors.As(err, &nf))
	})
}

func TestPullRules(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	t.Run("pending game", func(t *testing.T) {
		resp, err := h.engine.Start(ctx, wallet)
		require.NoError(t, err)

		_, err = h.engine.Pull(ctx, resp.GameID)
		var sce *services.StateConflictError
		require.True(t, errors.As(err, &sce))
		assert.False(t, services.IsConflict(err))
	})

	t.Run("must cash out after five rounds", func(t *testing.T) {
		id := h.playable(t, wallet, 5)
		for i := 0; i < 5; i++ {
			res, err := h.engine.Pull(ctx, id)
			require.NoError(t, err)
			require.True(t, res.Survived)
		}

		_, err := h.engine.Pull(ctx, id)
		var sce *services.StateConflictError
		require.True(t, errors.As(err, &sce))

		result, err := h.engine.Settle(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 5, result.RoundsSurvived)
		assert.Equal(t, bet*58_200/10_000, result.Payout)
	})

	t.Run("settled game", func(t *testing.T) {
		id := h.playable(t, wallet, 0)
		_, err := h.engine.Pull(ctx, id)
		require.NoError(t, err)

		_, err = h.engine.Pull(ctx, id)
		var sce *services.StateConflictError
		assert.True(t, errors.As(err, &sce))
	})
}

func TestConcurrentPullsConflict(t *testing.T) {
	h := newHarness(t, nil, nil)
	id := h.playable(t, wallet, 4)

	gate := newBarrierStore(h.store, 2)
	engine := services.NewGameEngine(gate, h.sim, services.NewCoordinator(gate, h.sim, sl.Discard()), nil, sl.Discard())

	var wg sync.WaitGroup
	results := make([]*models.PullResult, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Pull(context.Background(), id)
		}(i)
	}
	wg.Wait()

	var survived, conflicts int
	for i := range errs {
		switch {
		case errs[i] == nil:
			survived++
			assert.True(t, results[i].Survived)
			assert.Equal(t, 1, results[i].Round)
		case services.IsConflict(errs[i]):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	assert.Equal(t, 1, survived)
	assert.Equal(t, 1, conflicts)
}

func TestVerify(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	id := h.playable(t, wallet, 2)

	_, err := h.engine.Pull(ctx, id)
	require.NoError(t, err)
	settled, err := h.engine.Settle(ctx, id)
	require.NoError(t, err)

	res, err := h.engine.Verify(ctx, settled.TxSignature)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.BulletMatches)
	assert.Equal(t, res.SeedHash, res.ComputedHash)
	assert.Equal(t, 2, res.BulletPosition)
	assert.Equal(t, settled.ServerSeed, res.ServerSeed)
	assert.Equal(t, wallet, res.PlayerWallet)

	view, err := h.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, settled.ServerSeed, view.ServerSeed, "secret revealed after settlement")

	_, err = h.engine.Verify(ctx, "unknown")
	var nf *services.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestVerifyDetectsTamperedSeed(t *testing.T) {
	store := services.NewMemoryStore()
	ctx := context.Background()

	g := newSession(wallet)
	require.NoError(t, store.Create(ctx, g))
	_, err := store.Promote(ctx, g.ID, bet, "tx")
	require.NoError(t, err)
	require.NoError(t, store.MarkTerminal(ctx, g.ID, models.Outcome{
		Status:         models.StatusLost,
		RoundsSurvived: 1,
		BulletPosition: 1,
		SettleTx:       "forged",
	}))

	engine := services.NewGameEngine(store, chain.NewSimulator(), nil, nil, sl.Discard())
	res, err := engine.Verify(ctx, "forged")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEqual(t, res.SeedHash, res.ComputedHash)
}

func TestHistoryAndLeaderboard(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	lost := h.playable(t, wallet, 0)
	_, err := h.engine.Pull(ctx, lost)
	require.NoError(t, err)

	won := h.playable(t, otherWallet, 3)
	_, err = h.engine.Pull(ctx, won)
	require.NoError(t, err)
	_, err = h.engine.Settle(ctx, won)
	require.NoError(t, err)

	board, err := h.engine.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, otherWallet, board[0].PlayerWallet)
	assert.Equal(t, wallet, board[1].PlayerWallet)

	history, err := h.engine.History(ctx, wallet, 0)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, lost, history[0].ID)
	assert.NotEmpty(t, history[0].ServerSeed)

	_, err = h.engine.History(ctx, "bad", 10)
	var ve *services.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestGameTokens(t *testing.T) {
	tokens := services.NewJWTService("test-secret", time.Minute)
	h := newHarness(t, nil, tokens)

	resp, err := h.engine.Start(context.Background(), wallet)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)

	claims, err := tokens.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.GameID, claims.GameID)
	assert.Equal(t, wallet, claims.Wallet)

	_, err = services.NewJWTService("other-secret", time.Minute).ValidateToken(resp.Token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	expired := services.NewJWTService("test-secret", -time.Minute)
	token, err := expired.GenerateToken(resp.GameID, wallet)
	require.NoError(t, err)
	_, err = tokens.ValidateToken(token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}
