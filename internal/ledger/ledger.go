// Package ledger holds the authoritative ride-record store behind one
// adapter contract with two backends: Remote (external postgres ledger,
// notification-invalidated with a poll fallback) and Local (in-memory,
// synchronous, for simulation and deterministic tests). All mutation flows
// through Submit, which runs the transition gate before anything is written.
package ledger

import (
	"context"
	"errors"

	"github.com/example/ride-ledger/internal/bus"
	"github.com/example/ride-ledger/internal/models"
)

// DefaultWindow bounds the remote list query to the most recent records.
const DefaultWindow = 20

var (
	// ErrNotFound means the record id is unknown to the store.
	ErrNotFound = errors.New("record not found")

	// ErrRejectedByLedger means the external ledger refused the mutation
	// (declined, insufficient funds, stale connection). Safe to retry: either
	// nothing happened, or the next snapshot shows it did.
	ErrRejectedByLedger = errors.New("rejected by ledger")

	// ErrUnknown means the outcome of a submit could not be confirmed, e.g.
	// a caller-imposed timeout expired. The next snapshot is authoritative;
	// the adapters themselves never produce it.
	ErrUnknown = errors.New("outcome unknown")
)

// Adapter is the uniform contract over the authoritative store.
type Adapter interface {
	// ListRecords returns the record set newest-first. Remote bounds the
	// read to the most recent limit entries (DefaultWindow when limit <= 0);
	// Local always returns the full table.
	ListRecords(ctx context.Context, limit int) (models.Snapshot, error)

	// GetRecord returns one record or ErrNotFound.
	GetRecord(ctx context.Context, id int64) (models.RideRecord, error)

	// Submit performs one state transition and returns only once it is
	// durable, with the record as written. Gate failures surface verbatim;
	// external failures as ErrRejectedByLedger.
	Submit(ctx context.Context, intent models.MutationIntent) (models.RideRecord, error)

	// Subscribe registers an observer and immediately replays the current
	// snapshot to it, so a late subscriber never misses the present state.
	// The returned disposer unregisters.
	Subscribe(fn bus.Observer) (unsubscribe func())
}

// ChangeListener yields ledger change kinds as they arrive from whatever
// carrier connects this process to the ledger (redis pub/sub in production).
type ChangeListener interface {
	Listen(ctx context.Context) (<-chan models.Action, error)
}

// ChangeAnnouncer is the outbound half: after a durable local submit the
// remote adapter announces the change so other observers invalidate too.
type ChangeAnnouncer interface {
	Announce(ctx context.Context, action models.Action, recordID int64) error
}
