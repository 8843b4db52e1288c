package engine

import (
	"sync"

	"github.com/example/ride-ledger/internal/bus"
	"github.com/example/ride-ledger/internal/models"
)

// Source is the slice of the ledger adapter the engine needs.
type Source interface {
	Subscribe(fn bus.Observer) (unsubscribe func())
}

// Transition reports one phase change to the listener. Reset marks the
// engine noticing its waiting/en-route record was cancelled out from under
// it and returning to Idle rather than keeping a reference to a terminal
// record.
type Transition struct {
	From  Phase
	To    Phase
	Reset bool
}

// Engine tracks the derived phase for one identity in one role. It holds no
// incremental state: every snapshot recomputes from scratch, so delivering
// the same snapshot twice is a no-op and a late full list always converges.
type Engine struct {
	identity string
	role     models.Role

	mu          sync.Mutex
	snap        models.Snapshot
	phase       Phase
	subject     models.RideRecord
	hasSubject  bool
	browsing    bool
	skipRating  int64 // unrated record passed over by a reset; 0 = none
	onChange    func(Transition)
	unsubscribe func()
}

func New(identity string, role models.Role) *Engine {
	return &Engine{identity: identity, role: role, phase: PhaseIdle}
}

// OnPhaseChange sets the listener invoked (synchronously, on the publishing
// goroutine) whenever the derived phase changes. Set before Attach.
func (e *Engine) OnPhaseChange(fn func(Transition)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// Attach subscribes to src; the replayed initial snapshot brings the engine
// current immediately. Detach with the returned disposer.
func (e *Engine) Attach(src Source) (detach func()) {
	e.unsubscribe = src.Subscribe(e.Apply)
	return e.unsubscribe
}

// Apply reconciles one snapshot.
func (e *Engine) Apply(snap models.Snapshot) {
	e.mu.Lock()
	e.snap = snap

	// Cancellation of the record we were waiting on resets to Idle even if
	// an older unrated ride would otherwise pull us into Rating.
	reset := false
	if (e.phase == PhaseWaitingForProvider || e.phase == PhaseProviderEnRoute) && e.hasSubject {
		for _, r := range snap {
			if r.ID == e.subject.ID && r.Status == models.StatusCancelled {
				reset = true
				break
			}
		}
	}

	// Auto-navigation is suppressed only while the user is explicitly
	// browsing past records; it resumes on any other phase.
	if e.browsing {
		e.mu.Unlock()
		return
	}

	phase, subject, ok := Derive(snap, e.identity, e.role)
	if reset && phase == PhaseRating {
		// The cancellation lands on Idle, and stays there on re-delivery:
		// an older unrated ride passed over now must not resurface as
		// Rating on the next identical snapshot. The user can still reach
		// it explicitly through BrowseRating. A newer non-terminal record
		// in the same snapshot is different: its phase derives as usual.
		e.skipRating = subject.ID
		phase, subject, ok = PhaseIdle, models.RideRecord{}, false
	} else if phase == PhaseRating && subject.ID == e.skipRating {
		phase, subject, ok = PhaseIdle, models.RideRecord{}, false
	} else if phase != PhaseRating {
		e.skipRating = 0
	}
	e.setLocked(phase, subject, ok, reset && phase == PhaseIdle)
}

// setLocked updates phase state and releases the lock before notifying.
func (e *Engine) setLocked(phase Phase, subject models.RideRecord, ok bool, reset bool) {
	from := e.phase
	e.phase = phase
	e.subject = subject
	e.hasSubject = ok
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil && from != phase {
		fn(Transition{From: from, To: phase, Reset: reset})
	}
}

// Phase returns the current derived phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Subject returns the record behind the current phase: the active record,
// or the unrated-completed one while rating.
func (e *Engine) Subject() (models.RideRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subject, e.hasSubject
}

// BrowseHistory enters the explicit history-viewing phase; snapshots keep
// arriving but stop moving the phase until Resume.
func (e *Engine) BrowseHistory() {
	e.mu.Lock()
	e.browsing = true
	e.setLocked(PhaseHistory, models.RideRecord{}, false, false)
}

// BrowseRating enters rating for a specific past record, with the same
// suppression as BrowseHistory.
func (e *Engine) BrowseRating(rec models.RideRecord) {
	e.mu.Lock()
	e.browsing = true
	e.setLocked(PhaseRating, rec, true, false)
}

// Resume leaves browsing and re-derives from the last seen snapshot.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.browsing = false
	phase, subject, ok := Derive(e.snap, e.identity, e.role)
	e.setLocked(phase, subject, ok, false)
}
