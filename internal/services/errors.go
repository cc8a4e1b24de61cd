package services

import (
	"errors"
	"fmt"
)

var (
	ErrConcurrencyConflict = errors.New("concurrent update, re-fetch and retry")
	ErrAlreadyTerminal     = errors.New("game already settled")
)

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// StateConflictError reports a transition the session's current status
// does not allow. Conflict marks optimistic-lock losses (409) as opposed to
// plain wrong-status requests (400).
type StateConflictError struct {
	GameID   string
	Status   string
	Reason   string
	Conflict bool
	Err      error
}

func (e *StateConflictError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("game %s (%s): %s", e.GameID, e.Status, e.Reason)
	}
	return fmt.Sprintf("game %s: %s", e.GameID, e.Reason)
}

func (e *StateConflictError) Unwrap() error { return e.Err }

// SettlementError wraps chain submission or read-back failures. The session
// stays non-terminal and settlement may be retried.
type SettlementError struct {
	GameID string
	Stage  string
	Err    error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settle game %s: %s: %v", e.GameID, e.Stage, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

func conflictError(gameID string) error {
	return &StateConflictError{
		GameID:   gameID,
		Reason:   "round already advanced by a concurrent request",
		Conflict: true,
		Err:      ErrConcurrencyConflict,
	}
}

func IsConflict(err error) bool {
	var sce *StateConflictError
	if errors.As(err, &sce) {
		return sce.Conflict
	}
	return errors.Is(err, ErrConcurrencyConflict)
}
