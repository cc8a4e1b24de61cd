package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roulette-backend/internal/models"
	"roulette-backend/internal/services"
)

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) services.Store) {
	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		g := newSession(wallet)
		require.NoError(t, s.Create(ctx, g))
		require.NotEmpty(t, g.ID)

		got, err := s.Get(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, g.SeedHash, got.SeedHash)
		assert.Equal(t, g.ServerSeed, got.ServerSeed)

		var nf *services.NotFoundError
		_, err = s.Get(ctx, models.GenerateGameID())
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("create rejects malformed wallet", func(t *testing.T) {
		s := newStore(t)

		err := s.Create(context.Background(), newSession("not-a-wallet"))
		var ve *services.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("promote demotes other started games", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := newSession(wallet)
		require.NoError(t, s.Create(ctx, first))
		_, err := s.Promote(ctx, first.ID, bet, "tx-1")
		require.NoError(t, err)

		second := newSession(wallet)
		require.NoError(t, s.Create(ctx, second))
		promoted, err := s.Promote(ctx, second.ID, bet, "tx-2")
		require.NoError(t, err)
		assert.Equal(t, models.StatusStarted, promoted.Status)
		assert.Equal(t, "tx-2", promoted.StartTx)

		old, err := s.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusLost, old.Status)

		_, err = s.Promote(ctx, second.ID, bet, "tx-3")
		var sce *services.StateConflictError
		assert.True(t, errors.As(err, &sce))
	})

	t.Run("advance round is a compare-and-swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := startedSession(t, s, wallet)

		round, err := s.AdvanceRound(ctx, id, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, round)

		_, err = s.AdvanceRound(ctx, id, 0)
		assert.True(t, services.IsConflict(err))

		g, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, g.CurrentRound)
	})

	t.Run("concurrent advance has one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := startedSession(t, s, wallet)

		const callers = 8
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.AdvanceRound(ctx, id, 0)
				switch {
				case err == nil:
					wins.Add(1)
				case services.IsConflict(err):
					conflicts.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(callers-1), conflicts.Load())

		g, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, g.CurrentRound)
	})

	t.Run("mark terminal is one way", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := startedSession(t, s, wallet)

		outcome := models.Outcome{
			Status:         models.StatusWon,
			RoundsSurvived: 2,
			BulletPosition: 4,
			Won:            true,
			Payout:         1_455_000_000,
			SettleTx:       "settle-1",
		}
		require.NoError(t, s.MarkTerminal(ctx, id, outcome))

		outcome.Status = models.StatusLost
		assert.ErrorIs(t, s.MarkTerminal(ctx, id, outcome), services.ErrAlreadyTerminal)

		g, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWon, g.Status)
		require.NotNil(t, g.BulletPosition)
		assert.Equal(t, 4, *g.BulletPosition)
		require.NotNil(t, g.SettledAt)

		bySig, err := s.GetBySettleTx(ctx, "settle-1")
		require.NoError(t, err)
		assert.Equal(t, id, bySig.ID)

		_, err = s.AdvanceRound(ctx, id, 0)
		assert.True(t, services.IsConflict(err))
	})

	t.Run("failed callback discards changes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := startedSession(t, s, wallet)
		boom := errors.New("boom")

		err := s.WithLock(ctx, id, func(tx services.SessionTx) error {
			require.NoError(t, tx.MarkTerminal(models.Outcome{Status: models.StatusLost, RoundsSurvived: 1}))
			require.NoError(t, tx.RecordLeaderboard(wallet, bet, -int64(bet)))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		g, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusStarted, g.Status)

		board, err := s.Leaderboard(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, board)
	})

	t.Run("leaderboard accumulates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		record := func(w string, wagered uint64, profit int64) {
			id := startedSession(t, s, w)
			require.NoError(t, s.WithLock(ctx, id, func(tx services.SessionTx) error {
				return tx.RecordLeaderboard(w, wagered, profit)
			}))
		}

		record(wallet, 100, 45)
		record(wallet, 100, -100)
		record(otherWallet, 50, 10)

		board, err := s.Leaderboard(ctx, 10)
		require.NoError(t, err)
		require.Len(t, board, 2)

		assert.Equal(t, otherWallet, board[0].PlayerWallet)
		assert.Equal(t, int64(10), board[0].TotalProfit)

		assert.Equal(t, wallet, board[1].PlayerWallet)
		assert.Equal(t, int64(2), board[1].TotalGames)
		assert.Equal(t, int64(200), board[1].TotalWagered)
		assert.Equal(t, int64(-55), board[1].TotalProfit)
	})

	t.Run("expire stale abandons pending games", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		pending := newSession(wallet)
		require.NoError(t, s.Create(ctx, pending))
		started := startedSession(t, s, wallet)

		n, err := s.ExpireStale(ctx, wallet, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		g, err := s.Get(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusLost, g.Status)

		active, err := s.GetActive(ctx, wallet, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, started, active.ID)
	})

	t.Run("history is newest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var ids []string
		for i := 0; i < 3; i++ {
			g := newSession(wallet)
			require.NoError(t, s.Create(ctx, g))
			ids = append(ids, g.ID)
			time.Sleep(2 * time.Millisecond)
		}

		history, err := s.History(ctx, wallet, 2)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, ids[2], history[0].ID)
		assert.Equal(t, ids[1], history[1].ID)
	})
}

func newSession(w string) *models.GameSession {
	return &models.GameSession{
		PlayerWallet: w,
		ServerSeed:   "4f1c0b2e9a7d3c5b8e6f0a1d2c3b4a5968778695a4b3c2d1e0f1a2b3c4d5e6f7",
		SeedHash:     "0c5b3a29f1d8e7c6b5a4938271605f4e3d2c1b0a99887766554433221100ffee",
	}
}

func startedSession(t *testing.T, s services.Store, w string) string {
	t.Helper()
	ctx := context.Background()

	g := newSession(w)
	require.NoError(t, s.Create(ctx, g))
	_, err := s.Promote(ctx, g.ID, bet, "tx-"+g.ID)
	require.NoError(t, err)
	return g.ID
}
