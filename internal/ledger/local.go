package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-ledger/internal/bus"
	"github.com/example/ride-ledger/internal/escrow"
	"github.com/example/ride-ledger/internal/gate"
	"github.com/example/ride-ledger/internal/models"
	"github.com/example/ride-ledger/internal/observability"
)

// Local is the in-memory backend. Submit mutates the table under one lock
// and publishes synchronously, so an initiator observes its own change
// through the same pipeline as everyone else and racing accepts serialize
// on the mutex exactly as they would on the remote ledger's row lock.
type Local struct {
	// pubMu spans mutation through publish so concurrent submits cannot
	// deliver their snapshots out of order; mu alone guards the table for
	// readers.
	pubMu   sync.Mutex
	mu      sync.Mutex
	records []models.RideRecord // append order, ids ascending
	nextID  int64
	bus     *bus.Bus
	escrow  escrow.Service
	now     func() time.Time
}

func NewLocal(esc escrow.Service) *Local {
	if esc == nil {
		esc = escrow.NewMemory()
	}
	return &Local{nextID: 1, bus: bus.New(), escrow: esc, now: time.Now}
}

// ListRecords returns the full table newest-first; Local ignores limit.
func (l *Local) ListRecords(ctx context.Context, limit int) (models.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked(), nil
}

func (l *Local) GetRecord(ctx context.Context, id int64) (models.RideRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.ID == id {
			return r, nil
		}
	}
	return models.RideRecord{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
}

func (l *Local) Submit(ctx context.Context, intent models.MutationIntent) (models.RideRecord, error) {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	rec, err := l.applyLocked(ctx, intent)
	var snap models.Snapshot
	if err == nil {
		snap = l.snapshotLocked()
	}
	l.mu.Unlock()
	observability.ObserveTransition(intent.Action, err)
	if err != nil {
		return models.RideRecord{}, err
	}
	l.bus.Publish(snap)
	return rec, nil
}

func (l *Local) applyLocked(ctx context.Context, intent models.MutationIntent) (models.RideRecord, error) {
	if intent.Action == models.ActionCreate {
		if intent.Amount < 0 {
			return models.RideRecord{}, fmt.Errorf("%w: negative amount", ErrRejectedByLedger)
		}
		rec := models.RideRecord{
			ID:          l.nextID,
			RequesterID: intent.Actor,
			Pickup:      intent.Pickup,
			Dropoff:     intent.Dropoff,
			Amount:      intent.Amount,
			Status:      models.StatusCreated,
			CreatedAt:   l.now(),
		}
		if err := l.escrow.Hold(ctx, rec.ID, rec.Amount); err != nil {
			return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
		}
		l.nextID++
		l.records = append(l.records, rec)
		return rec, nil
	}

	idx := -1
	for i := range l.records {
		if l.records[i].ID == intent.RecordID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.RideRecord{}, fmt.Errorf("record %d: %w", intent.RecordID, ErrNotFound)
	}
	rec := l.records[idx]
	if err := gate.Apply(&rec, intent); err != nil {
		return models.RideRecord{}, err
	}
	// Settlement is part of the same mutation: a failed refund/release
	// leaves the record untouched.
	switch intent.Action {
	case models.ActionCancel:
		if err := l.escrow.Refund(ctx, rec.ID); err != nil {
			return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
		}
	case models.ActionComplete:
		if err := l.escrow.Release(ctx, rec.ID); err != nil {
			return models.RideRecord{}, fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
		}
	}
	l.records[idx] = rec
	return rec, nil
}

func (l *Local) Subscribe(fn bus.Observer) (unsubscribe func()) {
	unregister := l.bus.Register(fn)
	l.mu.Lock()
	snap := l.snapshotLocked()
	l.mu.Unlock()
	fn(snap)
	return unregister
}

// snapshotLocked builds the newest-first copy handed to observers.
func (l *Local) snapshotLocked() models.Snapshot {
	out := make(models.Snapshot, 0, len(l.records))
	for i := len(l.records) - 1; i >= 0; i-- {
		out = append(out, l.records[i])
	}
	return out
}

// The four calls below are the simulation boundary: direct synchronous
// equivalents of the remote ledger's mutating calls, routed through the
// same Submit path.

func (l *Local) CreateRide(requester string, pickup, dropoff models.Location, amount float64) (models.RideRecord, error) {
	return l.Submit(context.Background(), models.MutationIntent{
		Action: models.ActionCreate, Actor: requester,
		Pickup: pickup, Dropoff: dropoff, Amount: amount,
	})
}

func (l *Local) AcceptRide(id int64, provider string) (models.RideRecord, error) {
	return l.Submit(context.Background(), models.MutationIntent{
		Action: models.ActionAccept, RecordID: id, Actor: provider,
	})
}

// UpdateStatus drives start/complete/cancel/rate by action name.
func (l *Local) UpdateStatus(id int64, actor string, action models.Action, rating int) (models.RideRecord, error) {
	return l.Submit(context.Background(), models.MutationIntent{
		Action: action, RecordID: id, Actor: actor, Rating: rating,
	})
}

// GetActiveRideForUser returns the highest-id non-terminal record involving
// identity, matching the reconciliation engine's active-record rule.
func (l *Local) GetActiveRideForUser(identity string) (models.RideRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		r := l.records[i]
		if r.Involves(identity) && !r.Status.Terminal() {
			return r, true
		}
	}
	return models.RideRecord{}, false
}
