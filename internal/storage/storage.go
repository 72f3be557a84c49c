// Package storage persists chat-turn history. Spotify tokens are never stored.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no turn matches an id or prefix.
var ErrNotFound = errors.New("storage: not found")

// Turn is one recorded chat exchange.
type Turn struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Persona   string          `json:"persona,omitempty"`
	Message   string          `json:"message"`
	Reply     string          `json:"reply"`
	Actions   json.RawMessage `json:"actions"`
	Results   json.RawMessage `json:"results"`
	Outcomes  []ActionOutcome `json:"outcomes,omitempty"`
	Failure   string          `json:"failure,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActionOutcome is the indexed summary of one dispatched action.
type ActionOutcome struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
	Status string `json:"status"`
}

// ActionStat counts outcomes per kind and status.
type ActionStat struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// TurnListOptions controls filtering and pagination for ListTurns.
type TurnListOptions struct {
	UserID string
	Limit  int
	Offset int
}

// Store is the persistence interface for turn history.
type Store interface {
	// RecordTurn inserts a turn. ID and CreatedAt are filled in when empty.
	RecordTurn(ctx context.Context, t *Turn) error

	// GetTurn returns a turn by ID or unique ID prefix.
	GetTurn(ctx context.Context, id string) (*Turn, error)

	// ListTurns returns turns ordered by created_at descending.
	ListTurns(ctx context.Context, opts TurnListOptions) ([]Turn, error)

	// DeleteTurns removes every turn for userID and reports how many were removed.
	DeleteTurns(ctx context.Context, userID string) (int, error)

	// ActionStats aggregates outcomes for userID, or for everyone when userID is empty.
	ActionStats(ctx context.Context, userID string) ([]ActionStat, error)

	// Close releases resources.
	Close() error
}
