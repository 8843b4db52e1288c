package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/example/ride-ledger/internal/gate"
	"github.com/example/ride-ledger/internal/models"
)

// fakeStore is an in-memory Store for exercising the remote adapter
// without a database.
type fakeStore struct {
	mu      sync.Mutex
	records []models.RideRecord
	nextID  int64
	lists   int
}

func newFakeStore() *fakeStore { return &fakeStore{nextID: 1} }

func (f *fakeStore) List(ctx context.Context, limit int) (models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	out := make(models.Snapshot, 0, len(f.records))
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.records[i])
	}
	return out, nil
}

func (f *fakeStore) Get(ctx context.Context, id int64) (models.RideRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return models.RideRecord{}, ErrNotFound
}

func (f *fakeStore) Create(ctx context.Context, intent models.MutationIntent, effect func(id int64) error) (models.RideRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := models.RideRecord{
		ID:          f.nextID,
		RequesterID: intent.Actor,
		Pickup:      intent.Pickup,
		Dropoff:     intent.Dropoff,
		Amount:      intent.Amount,
		Status:      models.StatusCreated,
	}
	if effect != nil {
		if err := effect(rec.ID); err != nil {
			return models.RideRecord{}, err
		}
	}
	f.nextID++
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeStore) Apply(ctx context.Context, intent models.MutationIntent, effect func(rec models.RideRecord) error) (models.RideRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ID != intent.RecordID {
			continue
		}
		rec := f.records[i]
		if err := gate.Apply(&rec, intent); err != nil {
			return models.RideRecord{}, err
		}
		if effect != nil {
			if err := effect(rec); err != nil {
				return models.RideRecord{}, err
			}
		}
		f.records[i] = rec
		return rec, nil
	}
	return models.RideRecord{}, ErrNotFound
}

func TestRemoteSubscribeBeforeRefreshReplaysStoreState(t *testing.T) {
	store := newFakeStore()
	store.Create(context.Background(), models.MutationIntent{Action: models.ActionCreate, Actor: "alice", Amount: 0.001}, nil)
	store.Create(context.Background(), models.MutationIntent{Action: models.ActionCreate, Actor: "carol", Amount: 0.002}, nil)

	r := NewRemote(store, nil, nil, RemoteOptions{})

	// No Run, no Refresh: the replay must still carry the table as it
	// stands, not an empty cache.
	var snaps []models.Snapshot
	defer r.Subscribe(func(s models.Snapshot) { snaps = append(snaps, s) })()

	if len(snaps) != 1 {
		t.Fatalf("expected immediate replay, got %d snapshots", len(snaps))
	}
	if len(snaps[0]) != 2 || snaps[0][0].ID != 2 {
		t.Fatalf("replay not newest-first store state: %+v", snaps[0])
	}
}

func TestRemoteSubscribeAfterRefreshUsesCache(t *testing.T) {
	store := newFakeStore()
	store.Create(context.Background(), models.MutationIntent{Action: models.ActionCreate, Actor: "alice", Amount: 0.001}, nil)

	r := NewRemote(store, nil, nil, RemoteOptions{})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	listed := store.lists

	var snaps []models.Snapshot
	defer r.Subscribe(func(s models.Snapshot) { snaps = append(snaps, s) })()

	if len(snaps) != 1 || len(snaps[0]) != 1 {
		t.Fatalf("expected cached replay of 1 record, got %+v", snaps)
	}
	if store.lists != listed {
		t.Fatalf("subscribe after refresh should not re-list, lists=%d", store.lists)
	}
}

func TestRemoteSubmitAnnouncesAndRepublishes(t *testing.T) {
	store := newFakeStore()
	var announced []models.Action
	r := NewRemote(store, nil, nil, RemoteOptions{
		Announcers: []ChangeAnnouncer{announcerFunc(func(ctx context.Context, a models.Action, id int64) error {
			announced = append(announced, a)
			return nil
		})},
	})

	var last models.Snapshot
	defer r.Subscribe(func(s models.Snapshot) { last = s })()

	rec, err := r.Submit(context.Background(), models.MutationIntent{Action: models.ActionCreate, Actor: "alice", Amount: 0.001})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(announced) != 1 || announced[0] != models.ActionCreate {
		t.Fatalf("create not announced: %v", announced)
	}
	if len(last) != 1 || last[0].ID != rec.ID {
		t.Fatalf("create not republished: %+v", last)
	}
}

type announcerFunc func(ctx context.Context, action models.Action, recordID int64) error

func (f announcerFunc) Announce(ctx context.Context, action models.Action, recordID int64) error {
	return f(ctx, action, recordID)
}
