package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roulette-backend/internal/chain"
	"roulette-backend/internal/lib/logger/sl"
	"roulette-backend/internal/lib/retry"
	"roulette-backend/internal/models"
	"roulette-backend/internal/provablyfair"
	"roulette-backend/internal/services"
)

const (
	wallet      = "So11111111111111111111111111111111111111112"
	otherWallet = "Vote111111111111111111111111111111111111111"
	bet         = uint64(1_000_000_000)
)

type harness struct {
	store       services.Store
	sim         *chain.Simulator
	coordinator *services.Coordinator
	engine      *services.GameEngine
	events      *recordingBroadcaster
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*models.SettledEvent
}

func (r *recordingBroadcaster) BroadcastGameSettled(ev *models.SettledEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newHarness(t *testing.T, store services.Store, tokens *services.JWTService) *harness {
	t.Helper()

	if store == nil {
		store = services.NewMemoryStore()
	}
	if tokens == nil {
		tokens = services.NewJWTService("", time.Hour)
	}

	sim := chain.NewSimulator(chain.WithConfirmAfter(1))
	events := &recordingBroadcaster{}
	log := sl.Discard()

	coordinator := services.NewCoordinator(store, sim, log,
		services.WithBroadcaster(events),
		services.WithConfirmPolicy(retry.Policy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}),
	)
	engine := services.NewGameEngine(store, sim, coordinator, tokens, log)

	return &harness{
		store:       store,
		sim:         sim,
		coordinator: coordinator,
		engine:      engine,
		events:      events,
	}
}

// startWithBullet starts games for w until one lands the bullet in the
// wanted chamber. Every restart abandons the previous pending game.
func (h *harness) startWithBullet(t *testing.T, w string, bullet int) *models.StartResponse {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		resp, err := h.engine.Start(ctx, w)
		require.NoError(t, err)

		g, err := h.store.Get(ctx, resp.GameID)
		require.NoError(t, err)
		secret, err := g.Secret()
		require.NoError(t, err)

		if provablyfair.BulletPosition(secret) == bullet {
			return resp
		}
	}
	t.Fatalf("no game with bullet %d", bullet)
	return nil
}

// playable starts and confirms a game with the bullet in the given chamber.
func (h *harness) playable(t *testing.T, w string, bullet int) string {
	t.Helper()

	resp := h.startWithBullet(t, w, bullet)
	view, err := h.engine.Confirm(context.Background(), &models.ConfirmRequest{GameID: resp.GameID, BetAmount: bet})
	require.NoError(t, err)
	require.Equal(t, models.StatusStarted, view.Status)

	return resp.GameID
}

// barrierStore holds every Get until n callers have read, so concurrent
// pulls all observe the same round.
type barrierStore struct {
	services.Store
	arrived sync.WaitGroup
}

func newBarrierStore(inner services.Store, n int) *barrierStore {
	b := &barrierStore{Store: inner}
	b.arrived.Add(n)
	return b
}

func (b *barrierStore) Get(ctx context.Context, id string) (*models.GameSession, error) {
	g, err := b.Store.Get(ctx, id)
	b.arrived.Done()
	b.arrived.Wait()
	return g, err
}
