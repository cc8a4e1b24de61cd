package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"roulette-backend/internal/chain"
	"roulette-backend/internal/lib/logger/sl"
	"roulette-backend/internal/lib/retry"
	"roulette-backend/internal/models"
	"roulette-backend/internal/provablyfair"
)

type SettleKind int

const (
	SettleCashout SettleKind = iota
	SettleDeath
)

func (k SettleKind) String() string {
	if k == SettleDeath {
		return "death"
	}
	return "cashout"
}

var errConfirmationPending = errors.New("transaction not yet confirmed")

// Coordinator reveals the server seed to the chain and records the outcome
// the chain computes. At most one settlement per game reaches the chain.
type Coordinator struct {
	store       Store
	chain       chain.Client
	broadcaster Broadcaster
	metrics     *Metrics
	confirm     retry.Policy
	log         *slog.Logger
}

type CoordinatorOption func(*Coordinator)

func WithBroadcaster(b Broadcaster) CoordinatorOption {
	return func(c *Coordinator) {
		if b != nil {
			c.broadcaster = b
		}
	}
}

func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithConfirmPolicy(p retry.Policy) CoordinatorOption {
	return func(c *Coordinator) {
		c.confirm = p
	}
}

func NewCoordinator(store Store, client chain.Client, log *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:       store,
		chain:       client,
		broadcaster: noopBroadcaster{},
		confirm: retry.Policy{
			MaxAttempts:     30,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Settle finalizes a started game. Settling a game that is already terminal
// returns the recorded result without touching the chain; a death settlement
// of a game that ended otherwise is a conflict. Chain failures
// leave the game started so the call can be repeated.
func (c *Coordinator) Settle(ctx context.Context, gameID string, kind SettleKind) (*models.SettleResult, error) {
	const op = "services.Coordinator.Settle"

	log := c.log.With(
		slog.String("op", op),
		sl.GameID(gameID),
		slog.String("kind", kind.String()),
	)
	began := time.Now()

	var (
		result  *models.SettleResult
		settled *models.GameSession
	)

	err := c.store.WithLock(ctx, gameID, func(tx SessionTx) error {
		g := tx.Session()

		if g.Status.Terminal() {
			if kind == SettleDeath && g.Status != models.StatusLost {
				return &StateConflictError{GameID: g.ID, Status: string(g.Status), Reason: "game finished before the losing pull", Conflict: true}
			}
			result = g.SettleResult()
			return nil
		}
		if g.Status != models.StatusStarted {
			return &StateConflictError{GameID: g.ID, Status: string(g.Status), Reason: "game is not started"}
		}

		rounds, err := roundsToSettle(g, kind)
		if err != nil {
			return err
		}

		session, err := c.submit(ctx, log, g, rounds, kind == SettleDeath)
		if err != nil {
			return err
		}

		outcome, err := outcomeFromChain(g, session)
		if err != nil {
			return &SettlementError{GameID: g.ID, Stage: "read back", Err: err}
		}
		if err := tx.MarkTerminal(outcome); err != nil {
			return err
		}
		if outcome.Status != models.StatusSettled {
			profit := ProfitOf(g.BetAmount, outcome.Payout, outcome.Won)
			if err := tx.RecordLeaderboard(g.PlayerWallet, g.BetAmount, profit); err != nil {
				return fmt.Errorf("%s: leaderboard: %w", op, err)
			}
		}

		settled = tx.Session()
		result = settled.SettleResult()
		return nil
	})
	if err != nil {
		var se *SettlementError
		if errors.As(err, &se) {
			c.metrics.SettleFailed()
			log.Error("settlement failed, game left open for retry", sl.Err(err))
		}
		return nil, err
	}

	if settled != nil {
		log.Info("game settled",
			slog.String("status", string(settled.Status)),
			slog.Int("rounds_survived", settled.RoundsSurvived),
			slog.Uint64("payout", settled.Payout),
			slog.String("payout_sol", models.FormatLamports(settled.Payout)),
			slog.String("tx", settled.SettleTx),
		)
		c.metrics.Settled(string(settled.Status), settled.BetAmount, settled.Payout, began)
		c.broadcaster.BroadcastGameSettled(settled.SettledEvent())
	}

	return result, nil
}

// submit returns the chain's terminal record of the game, sending the
// settlement transaction only if the chain has not already finalized it.
func (c *Coordinator) submit(ctx context.Context, log *slog.Logger, g *models.GameSession, rounds int, died bool) (*chain.Session, error) {
	session, err := c.chain.GetSession(ctx, g.ID)
	if err != nil {
		return nil, &SettlementError{GameID: g.ID, Stage: "read session", Err: err}
	}
	if session.Status.Terminal() {
		log.Warn("chain already finalized game, mirroring", slog.String("chain_status", string(session.Status)))
		return session, nil
	}

	sig, err := c.chain.Settle(ctx, chain.SettleParams{
		GameID:         g.ID,
		Player:         g.PlayerWallet,
		ServerSeed:     g.ServerSeed,
		RoundsSurvived: rounds,
		Died:           died,
	})
	switch {
	case errors.Is(err, chain.ErrNotActive):
		log.Warn("chain reports game no longer active, reading back")
	case err != nil:
		return nil, &SettlementError{GameID: g.ID, Stage: "submit", Err: err}
	default:
		if err := c.awaitConfirmation(ctx, sig); err != nil {
			return nil, &SettlementError{GameID: g.ID, Stage: "confirm", Err: err}
		}
	}

	session, err = c.chain.GetSession(ctx, g.ID)
	if err != nil {
		return nil, &SettlementError{GameID: g.ID, Stage: "read back", Err: err}
	}
	if !session.Status.Terminal() {
		return nil, &SettlementError{
			GameID: g.ID,
			Stage:  "read back",
			Err:    fmt.Errorf("%w: session still %s after confirmation", chain.ErrTransactionFailed, session.Status),
		}
	}
	if session.SettleTx == "" {
		session.SettleTx = sig
	}
	return session, nil
}

func (c *Coordinator) awaitConfirmation(ctx context.Context, sig string) error {
	retryable := func(err error) bool {
		return !errors.Is(err, chain.ErrTransactionFailed)
	}

	return retry.Do(ctx, c.confirm, retryable, func(ctx context.Context) error {
		status, err := c.chain.SignatureStatus(ctx, sig)
		if err != nil {
			return err
		}
		switch status {
		case chain.ConfirmationConfirmed:
			return nil
		case chain.ConfirmationFailed:
			return fmt.Errorf("%w: signature %s", chain.ErrTransactionFailed, sig)
		default:
			return errConfirmationPending
		}
	})
}

// roundsToSettle is the survived-round count reported to the chain. A death
// in the first chamber is reported as one round; the chain accepts that
// together with bullet position zero.
func roundsToSettle(g *models.GameSession, kind SettleKind) (int, error) {
	rounds := g.CurrentRound

	if kind == SettleDeath {
		secret, err := g.Secret()
		if err != nil {
			return 0, fmt.Errorf("services.roundsToSettle: %w", err)
		}
		losing, err := provablyfair.IsLosingRound(secret, g.CurrentRound)
		if err != nil {
			return 0, &ValidationError{Field: "currentRound", Reason: err.Error()}
		}
		if !losing {
			return 0, &StateConflictError{GameID: g.ID, Status: string(g.Status), Reason: "current round is not the losing round"}
		}
		if rounds < 1 {
			rounds = 1
		}
	}

	if !provablyfair.ValidRoundsSurvived(rounds) {
		if kind == SettleCashout && rounds == 0 {
			return 0, &ValidationError{Field: "roundsSurvived", Reason: "survive at least one round before cashing out"}
		}
		return 0, &ValidationError{
			Field:  "roundsSurvived",
			Reason: fmt.Sprintf("must be between 1 and %d, got %d", provablyfair.MaxRoundsSurvived, rounds),
		}
	}
	return rounds, nil
}

func outcomeFromChain(g *models.GameSession, s *chain.Session) (models.Outcome, error) {
	outcome := models.Outcome{
		RoundsSurvived: s.RoundsSurvived,
		BulletPosition: s.BulletPosition,
		Payout:         s.Payout,
		SettleTx:       s.SettleTx,
		SettledAt:      time.Now().UTC(),
	}

	switch s.Status {
	case chain.StatusWon:
		outcome.Status = models.StatusWon
		outcome.Won = true
	case chain.StatusLost:
		outcome.Status = models.StatusLost
		outcome.Payout = 0
	case chain.StatusCancelled:
		secret, err := g.Secret()
		if err != nil {
			return outcome, err
		}
		outcome.Status = models.StatusSettled
		outcome.Cancelled = true
		outcome.RoundsSurvived = g.CurrentRound
		outcome.BulletPosition = provablyfair.BulletPosition(secret)
	default:
		return outcome, fmt.Errorf("chain session in non-terminal status %s", s.Status)
	}

	return outcome, nil
}
