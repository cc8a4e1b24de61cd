package chain_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roulette-backend/internal/chain"
	"roulette-backend/internal/provablyfair"
)

const player = "So11111111111111111111111111111111111111112"

// seedWithBullet generates seeds until one lands the bullet in the wanted
// chamber.
func seedWithBullet(t *testing.T, bullet int) provablyfair.SeedCommitment {
	t.Helper()

	for i := 0; i < 10_000; i++ {
		sc, err := provablyfair.GenerateSeed()
		require.NoError(t, err)
		if provablyfair.BulletPosition(sc.Secret) == bullet {
			return sc
		}
	}
	t.Fatalf("no seed with bullet %d", bullet)
	return provablyfair.SeedCommitment{}
}

func openGame(t *testing.T, sim *chain.Simulator, gameID string, sc provablyfair.SeedCommitment) {
	t.Helper()

	_, err := sim.OpenSession(context.Background(), chain.OpenParams{
		GameID:    gameID,
		Player:    player,
		BetAmount: 1_000_000,
		SeedHash:  sc.CommitmentHex(),
	})
	require.NoError(t, err)
}

func TestSimulatorCashout(t *testing.T) {
	ctx := context.Background()
	sim := chain.NewSimulator()
	sc := seedWithBullet(t, 4)
	openGame(t, sim, "g1", sc)

	sig, err := sim.Settle(ctx, chain.SettleParams{
		GameID:         "g1",
		Player:         player,
		ServerSeed:     sc.SecretHex(),
		RoundsSurvived: 2,
	})
	require.NoError(t, err)

	status, err := sim.SignatureStatus(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, chain.ConfirmationConfirmed, status)

	session, err := sim.GetSession(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, chain.StatusWon, session.Status)
	assert.Equal(t, 4, session.BulletPosition)
	assert.Equal(t, 2, session.RoundsSurvived)
	assert.Equal(t, uint64(1_455_000), session.Payout)
	assert.Equal(t, sig, session.SettleTx)

	_, err = sim.Settle(ctx, chain.SettleParams{GameID: "g1", Player: player, ServerSeed: sc.SecretHex(), RoundsSurvived: 2})
	assert.ErrorIs(t, err, chain.ErrNotActive)
}

func TestSimulatorFirstRoundDeath(t *testing.T) {
	ctx := context.Background()
	sim := chain.NewSimulator()
	sc := seedWithBullet(t, 0)
	openGame(t, sim, "g2", sc)

	_, err := sim.Settle(ctx, chain.SettleParams{
		GameID:         "g2",
		Player:         player,
		ServerSeed:     sc.SecretHex(),
		RoundsSurvived: 1,
		Died:           true,
	})
	require.NoError(t, err)

	session, err := sim.GetSession(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, chain.StatusLost, session.Status)
	assert.Equal(t, uint64(0), session.Payout)
	assert.Equal(t, 0, session.BulletPosition)
}

func TestSimulatorRejectsBadClaims(t *testing.T) {
	ctx := context.Background()
	sim := chain.NewSimulator()
	sc := seedWithBullet(t, 2)
	openGame(t, sim, "g3", sc)

	other, err := provablyfair.GenerateSeed()
	require.NoError(t, err)

	_, err = sim.Settle(ctx, chain.SettleParams{GameID: "g3", Player: player, ServerSeed: other.SecretHex(), RoundsSurvived: 1})
	assert.ErrorIs(t, err, chain.ErrInvalidSecret)

	_, err = sim.Settle(ctx, chain.SettleParams{GameID: "g3", Player: player, ServerSeed: sc.SecretHex(), RoundsSurvived: 3})
	assert.ErrorIs(t, err, chain.ErrInvalidClaim, "cash-out past the bullet")

	_, err = sim.Settle(ctx, chain.SettleParams{GameID: "g3", Player: player, ServerSeed: sc.SecretHex(), RoundsSurvived: 1, Died: true})
	assert.ErrorIs(t, err, chain.ErrInvalidClaim, "death before the bullet")

	_, err = sim.Settle(ctx, chain.SettleParams{GameID: "g3", Player: player, ServerSeed: sc.SecretHex(), RoundsSurvived: 0})
	assert.ErrorIs(t, err, chain.ErrInvalidClaim)

	_, err = sim.Settle(ctx, chain.SettleParams{GameID: "missing", Player: player, ServerSeed: sc.SecretHex(), RoundsSurvived: 1})
	assert.ErrorIs(t, err, chain.ErrSessionNotFound)

	session, err := sim.GetSession(ctx, "g3")
	require.NoError(t, err)
	assert.Equal(t, chain.StatusActive, session.Status)
}

func TestSimulatorConfirmationDelayAndFaults(t *testing.T) {
	ctx := context.Background()
	sim := chain.NewSimulator(chain.WithConfirmAfter(2))
	sc := seedWithBullet(t, 5)
	openGame(t, sim, "g4", sc)

	boom := errors.New("rpc unavailable")
	sim.FailNextSettle(boom)

	_, err := sim.Settle(ctx, chain.SettleParams{GameID: "g4", Player: player, ServerSeed: sc.SecretHex(), RoundsSurvived: 5})
	assert.ErrorIs(t, err, boom)

	sig, err := sim.Settle(ctx, chain.SettleParams{GameID: "g4", Player: player, ServerSeed: sc.SecretHex(), RoundsSurvived: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, sim.SettleCalls())

	for i := 0; i < 2; i++ {
		status, err := sim.SignatureStatus(ctx, sig)
		require.NoError(t, err)
		assert.Equal(t, chain.ConfirmationPending, status)
	}
	status, err := sim.SignatureStatus(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, chain.ConfirmationConfirmed, status)

	_, err = sim.SignatureStatus(ctx, "unknown")
	assert.ErrorIs(t, err, chain.ErrSignatureNotFound)
}

func TestSimulatorCancel(t *testing.T) {
	sim := chain.NewSimulator()
	sc := seedWithBullet(t, 3)
	openGame(t, sim, "g5", sc)

	require.NoError(t, sim.Cancel("g5"))

	session, err := sim.GetSession(context.Background(), "g5")
	require.NoError(t, err)
	assert.Equal(t, chain.StatusCancelled, session.Status)
	assert.True(t, session.Status.Terminal())
	assert.ErrorIs(t, sim.Cancel("g5"), chain.ErrNotActive)
}

func TestRPCClient(t *testing.T) {
	var lastMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		lastMethod = req.Method

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "getGameSession":
			var p map[string]string
			assert.NoError(t, json.Unmarshal(req.Params, &p))
			if p["gameId"] == "missing" {
				resp["error"] = map[string]any{"code": chain.CodeSessionNotFound, "message": "account not found"}
				break
			}
			resp["result"] = chain.Session{GameID: p["gameId"], Player: player, BetAmount: 5, Status: chain.StatusActive}
		case "settleGame":
			var p chain.SettleParams
			assert.NoError(t, json.Unmarshal(req.Params, &p))
			if p.RoundsSurvived > 3 {
				resp["error"] = map[string]any{"code": chain.CodeInvalidClaim, "message": "bullet mismatch"}
				break
			}
			resp["result"] = map[string]string{"signature": "5igSig"}
		case "getSignatureStatus":
			resp["result"] = map[string]string{"status": "confirmed"}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	ctx := context.Background()
	client := chain.NewRPCClient(srv.URL, time.Second)

	session, err := client.GetSession(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", session.GameID)
	assert.Equal(t, chain.StatusActive, session.Status)

	_, err = client.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, chain.ErrSessionNotFound)

	sig, err := client.Settle(ctx, chain.SettleParams{GameID: "g1", ServerSeed: hex.EncodeToString(make([]byte, 32)), RoundsSurvived: 2})
	require.NoError(t, err)
	assert.Equal(t, "5igSig", sig)
	assert.Equal(t, "settleGame", lastMethod)

	_, err = client.Settle(ctx, chain.SettleParams{GameID: "g1", RoundsSurvived: 4})
	assert.ErrorIs(t, err, chain.ErrInvalidClaim)

	status, err := client.SignatureStatus(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, chain.ConfirmationConfirmed, status)
}
