package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"roulette-backend/internal/models"
)

// MemoryStore keeps sessions in process. Used in offline mode and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	games       map[string]*models.GameSession
	leaderboard map[string]*models.LeaderboardEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// held marks sessions inside WithLock. Demotions leave them alone, the
	// way a conditional UPDATE waits on a row lock and then finds the row
	// already settled.
	held map[string]bool

	now func() time.Time
}

type MemoryStoreOption func(*MemoryStore)

func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		games:       make(map[string]*models.GameSession),
		leaderboard: make(map[string]*models.LeaderboardEntry),
		locks:       make(map[string]*sync.Mutex),
		held:        make(map[string]bool),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, session *models.GameSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := models.ValidateWallet(session.PlayerWallet); err != nil {
		return &ValidationError{Field: "playerWallet", Reason: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = models.GenerateGameID()
	}
	if _, exists := s.games[session.ID]; exists {
		return &StateConflictError{GameID: session.ID, Reason: "game already exists"}
	}
	if session.Status == "" {
		session.Status = models.StatusPending
	}
	now := s.now()
	session.CreatedAt = now
	session.UpdatedAt = now

	s.games[session.ID] = cloneSession(session)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneSession(g), nil
}

func (s *MemoryStore) GetBySettleTx(ctx context.Context, signature string) (*models.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if signature != "" {
		for _, g := range s.games {
			if g.SettleTx == signature {
				return cloneSession(g), nil
			}
		}
	}
	return nil, &NotFoundError{Resource: "settlement", ID: signature}
}

func (s *MemoryStore) GetActive(ctx context.Context, wallet string, staleAfter time.Duration) (*models.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-staleAfter)

	var active *models.GameSession
	for _, g := range s.games {
		if g.PlayerWallet != wallet || g.Status != models.StatusStarted {
			continue
		}
		if g.CreatedAt.Before(cutoff) {
			s.demoteLocked(g)
			continue
		}
		if active == nil || g.CreatedAt.After(active.CreatedAt) {
			active = g
		}
	}

	if active == nil {
		return nil, &NotFoundError{Resource: "active game", ID: wallet}
	}
	return cloneSession(active), nil
}

func (s *MemoryStore) ExpireStale(ctx context.Context, wallet string, staleAfter time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-staleAfter)

	var n int64
	for _, g := range s.games {
		if g.PlayerWallet != wallet {
			continue
		}
		if g.Status == models.StatusPending || (g.Status == models.StatusStarted && g.CreatedAt.Before(cutoff)) {
			if s.demoteLocked(g) {
				n++
			}
		}
	}
	return n, nil
}

func (s *MemoryStore) Promote(ctx context.Context, id string, betAmount uint64, startTx string) (*models.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return nil, notFound(id)
	}
	if g.Status != models.StatusPending {
		return nil, &StateConflictError{GameID: id, Status: string(g.Status), Reason: "game is not pending"}
	}

	for _, other := range s.games {
		if other.ID != id && other.PlayerWallet == g.PlayerWallet && other.Status == models.StatusStarted {
			s.demoteLocked(other)
		}
	}

	g.Status = models.StatusStarted
	g.BetAmount = betAmount
	g.StartTx = startTx
	g.UpdatedAt = s.now()

	return cloneSession(g), nil
}

func (s *MemoryStore) AdvanceRound(ctx context.Context, id string, expectedRound int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return 0, notFound(id)
	}
	if g.Status != models.StatusStarted || g.CurrentRound != expectedRound {
		return 0, conflictError(id)
	}

	g.CurrentRound++
	g.UpdatedAt = s.now()
	return g.CurrentRound, nil
}

func (s *MemoryStore) WithLock(ctx context.Context, id string, fn func(tx SessionTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	g, ok := s.games[id]
	var snapshot *models.GameSession
	if ok {
		snapshot = cloneSession(g)
		s.held[id] = true
	}
	s.mu.Unlock()
	if !ok {
		return notFound(id)
	}
	defer func() {
		s.mu.Lock()
		delete(s.held, id)
		s.mu.Unlock()
	}()
	status := snapshot.Status

	tx := &memoryTx{session: snapshot, board: make(map[string]models.LeaderboardEntry)}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty && len(tx.board) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.games[id]; cur.Status != status {
		return &StateConflictError{GameID: id, Status: string(cur.Status), Reason: "game changed while locked", Conflict: true}
	}

	now := s.now()
	if tx.dirty {
		tx.session.UpdatedAt = now
		s.games[id] = cloneSession(tx.session)
	}
	for wallet, delta := range tx.board {
		entry, ok := s.leaderboard[wallet]
		if !ok {
			entry = &models.LeaderboardEntry{PlayerWallet: wallet}
			s.leaderboard[wallet] = entry
		}
		entry.TotalGames += delta.TotalGames
		entry.TotalWagered += delta.TotalWagered
		entry.TotalProfit += delta.TotalProfit
		entry.UpdatedAt = now
	}

	return nil
}

func (s *MemoryStore) MarkTerminal(ctx context.Context, id string, outcome models.Outcome) error {
	return s.WithLock(ctx, id, func(tx SessionTx) error {
		return tx.MarkTerminal(outcome)
	})
}

func (s *MemoryStore) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]models.LeaderboardEntry, 0, len(s.leaderboard))
	for _, e := range s.leaderboard {
		out = append(out, *e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalProfit != out[j].TotalProfit {
			return out[i].TotalProfit > out[j].TotalProfit
		}
		return out[i].PlayerWallet < out[j].PlayerWallet
	})

	if limit = clampLimit(limit, DefaultHistoryLimit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) History(ctx context.Context, wallet string, limit int) ([]models.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []models.GameSession
	for _, g := range s.games {
		if g.PlayerWallet == wallet {
			out = append(out, *cloneSession(g))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit = clampLimit(limit, DefaultHistoryLimit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) sessionLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// demoteLocked abandons a session without a settlement unless a WithLock
// caller holds it. Caller holds s.mu.
func (s *MemoryStore) demoteLocked(g *models.GameSession) bool {
	if s.held[g.ID] {
		return false
	}
	g.Status = models.StatusLost
	g.UpdatedAt = s.now()
	return true
}

type memoryTx struct {
	session *models.GameSession
	dirty   bool
	board   map[string]models.LeaderboardEntry
}

func (tx *memoryTx) Session() *models.GameSession {
	return cloneSession(tx.session)
}

func (tx *memoryTx) MarkTerminal(outcome models.Outcome) error {
	if err := markTerminal(tx.session, outcome); err != nil {
		return err
	}
	tx.dirty = true
	return nil
}

func (tx *memoryTx) RecordLeaderboard(wallet string, wagered uint64, profit int64) error {
	e := tx.board[wallet]
	e.PlayerWallet = wallet
	e.TotalGames++
	e.TotalWagered += clampInt64(wagered)
	e.TotalProfit += profit
	tx.board[wallet] = e
	return nil
}
