package chain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/cosmos/btcutil/base58"

	"roulette-backend/internal/provablyfair"
)

// Simulator is an in-process model of the roulette program. It enforces the
// same rules as the deployed program: the revealed secret must hash to the
// committed seed, the bullet is recomputed from the secret and the payout
// table is applied on cash-out.
type Simulator struct {
	mu sync.Mutex

	sessions   map[string]*Session
	signatures map[string]*simSignature

	confirmAfter int
	failSettle   []error
	settleCalls  int
}

type simSignature struct {
	pollsLeft int
	status    ConfirmationStatus
}

type SimulatorOption func(*Simulator)

// WithConfirmAfter makes every transaction report pending for n status
// polls before it confirms.
func WithConfirmAfter(n int) SimulatorOption {
	return func(s *Simulator) {
		s.confirmAfter = n
	}
}

func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		sessions:   make(map[string]*Session),
		signatures: make(map[string]*simSignature),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) OpenSession(ctx context.Context, params OpenParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if params.GameID == "" || params.Player == "" {
		return "", fmt.Errorf("%w: game id and player are required", ErrTransactionFailed)
	}
	if params.BetAmount == 0 {
		return "", fmt.Errorf("%w: bet amount must be positive", ErrTransactionFailed)
	}
	if len(params.SeedHash) != 64 {
		return "", fmt.Errorf("%w: seed hash must be 32 bytes hex", ErrTransactionFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[params.GameID]; exists {
		return "", fmt.Errorf("%w: game %s already opened", ErrTransactionFailed, params.GameID)
	}

	sig := s.newSignatureLocked()
	s.sessions[params.GameID] = &Session{
		GameID:    params.GameID,
		Player:    params.Player,
		BetAmount: params.BetAmount,
		SeedHash:  params.SeedHash,
		Status:    StatusActive,
		StartTx:   sig,
	}

	return sig, nil
}

func (s *Simulator) GetSession(ctx context.Context, gameID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[gameID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	cp := *session
	return &cp, nil
}

func (s *Simulator) Settle(ctx context.Context, params SettleParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settleCalls++

	if len(s.failSettle) > 0 {
		err := s.failSettle[0]
		s.failSettle = s.failSettle[1:]
		return "", err
	}

	session, ok := s.sessions[params.GameID]
	if !ok {
		return "", ErrSessionNotFound
	}
	if session.Status != StatusActive {
		return "", ErrNotActive
	}
	if session.Player != params.Player {
		return "", fmt.Errorf("%w: player mismatch", ErrTransactionFailed)
	}

	ok, _, err := provablyfair.VerifyCommitment(params.ServerSeed, session.SeedHash)
	if err != nil || !ok {
		return "", ErrInvalidSecret
	}

	raw, err := hex.DecodeString(params.ServerSeed)
	if err != nil || len(raw) != provablyfair.SeedSize {
		return "", ErrInvalidSecret
	}
	var secret [provablyfair.SeedSize]byte
	copy(secret[:], raw)

	rounds := params.RoundsSurvived
	if !provablyfair.ValidRoundsSurvived(rounds) {
		return "", fmt.Errorf("%w: rounds survived %d", ErrInvalidClaim, rounds)
	}

	bullet := provablyfair.BulletPosition(secret)

	if params.Died {
		// A first-round death is submitted as one survived round.
		if bullet != rounds && !(rounds == 1 && bullet == 0) {
			return "", fmt.Errorf("%w: death at round %d but bullet is %d", ErrInvalidClaim, rounds, bullet)
		}
		session.Status = StatusLost
		session.Payout = 0
	} else {
		if bullet < rounds {
			return "", fmt.Errorf("%w: cash-out after %d rounds but bullet is %d", ErrInvalidClaim, rounds, bullet)
		}
		payout, err := provablyfair.CalculatePayout(session.BetAmount, rounds)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTransactionFailed, err)
		}
		session.Status = StatusWon
		session.Payout = payout
	}

	sig := s.newSignatureLocked()
	session.BulletPosition = bullet
	session.RoundsSurvived = rounds
	session.SettleTx = sig

	return sig, nil
}

func (s *Simulator) SignatureStatus(ctx context.Context, signature string) (ConfirmationStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.signatures[signature]
	if !ok {
		return "", ErrSignatureNotFound
	}
	if st.status == ConfirmationPending {
		if st.pollsLeft > 0 {
			st.pollsLeft--
			return ConfirmationPending, nil
		}
		st.status = ConfirmationConfirmed
	}

	return st.status, nil
}

// Cancel refunds an active session the way the program's timeout
// instruction does.
func (s *Simulator) Cancel(gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[gameID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Status != StatusActive {
		return ErrNotActive
	}

	session.Status = StatusCancelled
	session.Payout = session.BetAmount
	session.SettleTx = s.newSignatureLocked()

	return nil
}

// FailNextSettle queues errors returned by the next Settle calls.
func (s *Simulator) FailNextSettle(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failSettle = append(s.failSettle, errs...)
}

func (s *Simulator) SettleCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.settleCalls
}

func (s *Simulator) newSignatureLocked() string {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("chain: read random signature: %v", err))
	}

	sig := base58.Encode(raw)
	s.signatures[sig] = &simSignature{
		pollsLeft: s.confirmAfter,
		status:    ConfirmationPending,
	}
	return sig
}
