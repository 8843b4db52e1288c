package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-ledger/internal/bus"
	"github.com/example/ride-ledger/internal/escrow"
	"github.com/example/ride-ledger/internal/models"
	"github.com/example/ride-ledger/internal/observability"
)

// Store is the durable table the remote adapter drives; PostgresStore is
// the production implementation.
type Store interface {
	List(ctx context.Context, limit int) (models.Snapshot, error)
	Get(ctx context.Context, id int64) (models.RideRecord, error)
	Create(ctx context.Context, intent models.MutationIntent, effect func(id int64) error) (models.RideRecord, error)
	Apply(ctx context.Context, intent models.MutationIntent, effect func(rec models.RideRecord) error) (models.RideRecord, error)
}

// Remote is the external-ledger backend. Invalidation is deliberately
// coarse: any of the six change kinds (or the poll ticker) triggers a full
// re-list of the bounded window, and observers re-derive from the snapshot.
// A missed notification therefore heals on the next one, or on the next
// poll, without incremental patching.
type Remote struct {
	store      Store
	escrow     escrow.Service
	listener   ChangeListener
	announcers []ChangeAnnouncer
	log        *slog.Logger

	window int
	poll   time.Duration

	bus    *bus.Bus
	mu     sync.Mutex
	last   models.Snapshot
	seeded bool
}

type RemoteOptions struct {
	Window   int           // list window, DefaultWindow when <= 0
	Poll     time.Duration // re-list fallback interval, 0 disables
	Listener ChangeListener
	// Announcers are notified after each durable local submit (redis pub/sub
	// for other adapters, kafka change feed for downstream consumers).
	Announcers []ChangeAnnouncer
}

func NewRemote(store Store, esc escrow.Service, log *slog.Logger, opts RemoteOptions) *Remote {
	if esc == nil {
		esc = escrow.NewMemory()
	}
	if log == nil {
		log = slog.Default()
	}
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Remote{
		store:      store,
		escrow:     esc,
		listener:   opts.Listener,
		announcers: opts.Announcers,
		log:        log,
		window:     window,
		poll:       opts.Poll,
		bus:        bus.New(),
	}
}

func (r *Remote) ListRecords(ctx context.Context, limit int) (models.Snapshot, error) {
	if limit <= 0 || limit > r.window {
		limit = r.window
	}
	return r.store.List(ctx, limit)
}

func (r *Remote) GetRecord(ctx context.Context, id int64) (models.RideRecord, error) {
	return r.store.Get(ctx, id)
}

// Submit blocks until the ledger has confirmed the mutation, then announces
// the change and republishes, so the initiator observes its own write
// through the same snapshot pipeline as a remote observer.
func (r *Remote) Submit(ctx context.Context, intent models.MutationIntent) (models.RideRecord, error) {
	var rec models.RideRecord
	var err error
	switch intent.Action {
	case models.ActionCreate:
		rec, err = r.store.Create(ctx, intent, func(id int64) error {
			return r.escrow.Hold(ctx, id, intent.Amount)
		})
	case models.ActionCancel:
		rec, err = r.store.Apply(ctx, intent, func(rec models.RideRecord) error {
			return r.escrow.Refund(ctx, rec.ID)
		})
	case models.ActionComplete:
		rec, err = r.store.Apply(ctx, intent, func(rec models.RideRecord) error {
			return r.escrow.Release(ctx, rec.ID)
		})
	default:
		rec, err = r.store.Apply(ctx, intent, nil)
	}
	observability.ObserveTransition(intent.Action, err)
	if err != nil {
		return models.RideRecord{}, err
	}
	r.announce(ctx, intent.Action, rec.ID)
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("post-submit refresh failed", "error", err)
	}
	return rec, nil
}

func (r *Remote) announce(ctx context.Context, action models.Action, recordID int64) {
	for _, a := range r.announcers {
		if err := a.Announce(ctx, action, recordID); err != nil {
			r.log.Warn("change announce failed", "action", string(action), "record_id", recordID, "error", err)
		}
	}
}

// Subscribe registers the observer and replays the then-current state
// immediately, before any further events. Before the first refresh there is
// no cached snapshot yet, so the ledger is listed on the spot; a failed
// list falls back to an empty replay and heals on the next refresh.
func (r *Remote) Subscribe(fn bus.Observer) (unsubscribe func()) {
	unregister := r.bus.Register(fn)
	r.mu.Lock()
	seeded := r.seeded
	snap := r.last.Clone()
	r.mu.Unlock()
	if !seeded {
		if listed, err := r.store.List(context.Background(), r.window); err == nil {
			r.mu.Lock()
			if !r.seeded {
				r.last = listed
				r.seeded = true
			}
			snap = r.last.Clone()
			r.mu.Unlock()
		} else {
			r.log.Warn("subscribe-time list failed", "error", err)
		}
	}
	fn(snap)
	return unregister
}

// Refresh re-lists the window and publishes the result.
func (r *Remote) Refresh(ctx context.Context) error {
	snap, err := r.store.List(ctx, r.window)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.last = snap
	r.seeded = true
	r.mu.Unlock()
	observability.SnapshotsPublished.Inc()
	observability.RecordsInWindow.Set(float64(len(snap)))
	r.bus.Publish(snap)
	return nil
}

// Run drives invalidation until ctx is done: an initial refresh, then a
// refresh on every change notification and on each poll tick. Listener
// failures reconnect with capped backoff and are never swallowed silently.
func (r *Remote) Run(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("initial refresh failed", "error", err)
	}

	var tick <-chan time.Time
	if r.poll > 0 {
		t := time.NewTicker(r.poll)
		defer t.Stop()
		tick = t.C
	}

	events := r.listen(ctx)
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn("poll refresh failed", "error", err)
			}
		case action, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warn("change listener lost, reconnecting", "backoff", backoff.String())
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				events = r.listen(ctx)
				continue
			}
			backoff = time.Second
			observability.NotificationsReceived.WithLabelValues(string(action)).Inc()
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn("notified refresh failed", "action", string(action), "error", err)
			}
		}
	}
}

// listen returns the listener channel, or a closed channel when there is no
// listener or it failed, so Run's reconnect path picks it up.
func (r *Remote) listen(ctx context.Context) <-chan models.Action {
	if r.listener == nil {
		return nil
	}
	ch, err := r.listener.Listen(ctx)
	if err != nil {
		r.log.Warn("change listener connect failed", "error", err)
		closed := make(chan models.Action)
		close(closed)
		return closed
	}
	return ch
}
