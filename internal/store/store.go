// Package store keeps a local history of orchestrated operations. The
// engine never consults it: all authoritative state lives in the platform.
// History exists so operators can answer "what did we submit and how did it
// end" without the platform's audit log.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an operation record does not exist.
var ErrNotFound = errors.New("operation not found")

// Operation states recorded in history. An operation is submitted once and
// finishes exactly once; the terminal state is write-once.
const (
	StateSubmitted = "submitted"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
	StateTimedOut  = "timed_out"
)

// Operation is one history record.
type Operation struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Scope      string     `json:"scope"`
	RemoteID   string     `json:"remote_id"`
	State      string     `json:"state"`
	Detail     string     `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Stats holds aggregate history statistics.
type Stats struct {
	Total        int            `json:"total"`
	CountByKind  map[string]int `json:"count_by_kind"`
	CountByState map[string]int `json:"count_by_state"`
	AvgWaitMS    float64        `json:"avg_wait_ms"`
}

// Store defines the persistence operations for the history ledger.
type Store interface {
	RecordSubmitted(ctx context.Context, op *Operation) error
	RecordOutcome(ctx context.Context, id, state, errMsg string) error
	Get(ctx context.Context, id string) (*Operation, error)
	List(ctx context.Context, limit, offset int) ([]*Operation, int, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
