package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/ride-ledger/internal/escrow"
	"github.com/example/ride-ledger/internal/gate"
	"github.com/example/ride-ledger/internal/models"
)

var (
	pickup  = models.Location{Name: "P", Lat: 40.0, Lon: -74.0}
	dropoff = models.Location{Name: "D", Lat: 40.1, Lon: -74.1}
)

func TestLifecycle(t *testing.T) {
	esc := escrow.NewMemory()
	l := NewLocal(esc)

	rec, err := l.CreateRide("alice", pickup, dropoff, 0.001)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Status != models.StatusCreated || rec.ID != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if esc.Disposition(rec.ID) != "held" {
		t.Fatalf("amount not held")
	}

	rec, err = l.AcceptRide(rec.ID, "bob")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if rec.Status != models.StatusAccepted || rec.ProviderID != "bob" {
		t.Fatalf("accept not applied: %+v", rec)
	}

	if _, err := l.UpdateStatus(rec.ID, "bob", models.ActionStart, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec, err = l.UpdateStatus(rec.ID, "alice", models.ActionComplete, 0)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if esc.Disposition(rec.ID) != "released" {
		t.Fatalf("amount not released on completion")
	}

	rec, err = l.UpdateStatus(rec.ID, "alice", models.ActionRate, 5)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !rec.IsRated || rec.Rating != 5 {
		t.Fatalf("rating not applied: %+v", rec)
	}
	_, err = l.UpdateStatus(rec.ID, "alice", models.ActionRate, 3)
	if !errors.Is(err, gate.ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
}

func TestCancelRefunds(t *testing.T) {
	esc := escrow.NewMemory()
	l := NewLocal(esc)
	rec, _ := l.CreateRide("alice", pickup, dropoff, 0.5)
	rec, err := l.UpdateStatus(rec.ID, "alice", models.ActionCancel, 0)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.Status != models.StatusCancelled || rec.ProviderID != "" {
		t.Fatalf("unexpected record after cancel: %+v", rec)
	}
	if esc.Disposition(rec.ID) != "refunded" {
		t.Fatalf("amount not refunded on cancel")
	}
}

func TestAcceptRaceExactlyOneWinner(t *testing.T) {
	l := NewLocal(nil)
	rec, _ := l.CreateRide("alice", pickup, dropoff, 0.001)

	const providers = 8
	var wg sync.WaitGroup
	errs := make([]error, providers)
	for i := 0; i < providers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.AcceptRide(rec.ID, string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, gate.ErrAlreadyTaken) {
			t.Fatalf("loser got %v, want ErrAlreadyTaken", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	got, err := l.GetRecord(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusAccepted || got.ProviderID == "" {
		t.Fatalf("record not accepted by the winner: %+v", got)
	}
}

func TestConcurrentSubmitsPublishInOrder(t *testing.T) {
	l := NewLocal(nil)

	var mu sync.Mutex
	var sizes []int
	defer l.Subscribe(func(s models.Snapshot) {
		mu.Lock()
		sizes = append(sizes, len(s))
		mu.Unlock()
	})()

	const creates = 16
	var wg sync.WaitGroup
	for i := 0; i < creates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.CreateRide("alice", pickup, dropoff, 0.001); err != nil {
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	// every snapshot grows the table; an out-of-order publish would show up
	// as a shrink, leaving observers on stale state
	for i := 1; i < len(sizes); i++ {
		if sizes[i] < sizes[i-1] {
			t.Fatalf("snapshot sizes regressed: %v", sizes)
		}
	}
	if last := sizes[len(sizes)-1]; last != creates {
		t.Fatalf("final snapshot has %d records, want %d", last, creates)
	}
}

func TestSubscribeReplaysCurrentState(t *testing.T) {
	l := NewLocal(nil)
	l.CreateRide("alice", pickup, dropoff, 0.001)
	l.CreateRide("carol", pickup, dropoff, 0.002)

	var snaps []models.Snapshot
	unsubscribe := l.Subscribe(func(s models.Snapshot) { snaps = append(snaps, s) })
	defer unsubscribe()

	if len(snaps) != 1 {
		t.Fatalf("expected immediate replay, got %d snapshots", len(snaps))
	}
	if len(snaps[0]) != 2 || snaps[0][0].ID != 2 {
		t.Fatalf("replay not newest-first full table: %+v", snaps[0])
	}

	l.CreateRide("dave", pickup, dropoff, 0.003)
	if len(snaps) != 2 || snaps[1][0].ID != 3 {
		t.Fatalf("change not delivered: %d snapshots", len(snaps))
	}
}

func TestInitiatorObservesOwnChangeThroughPipeline(t *testing.T) {
	l := NewLocal(nil)
	var last models.Snapshot
	defer l.Subscribe(func(s models.Snapshot) { last = s })()

	rec, _ := l.CreateRide("alice", pickup, dropoff, 0.001)
	if len(last) != 1 || last[0].ID != rec.ID {
		t.Fatalf("create not observed: %+v", last)
	}
	l.AcceptRide(rec.ID, "bob")
	if last[0].Status != models.StatusAccepted {
		t.Fatalf("accept not observed: %+v", last[0])
	}
}

func TestGetActiveRideForUser(t *testing.T) {
	l := NewLocal(nil)
	r1, _ := l.CreateRide("alice", pickup, dropoff, 0.001)
	l.UpdateStatus(r1.ID, "alice", models.ActionCancel, 0)
	r2, _ := l.CreateRide("alice", pickup, dropoff, 0.002)

	active, ok := l.GetActiveRideForUser("alice")
	if !ok || active.ID != r2.ID {
		t.Fatalf("expected record %d active, got %+v ok=%v", r2.ID, active, ok)
	}
	if _, ok := l.GetActiveRideForUser("bob"); ok {
		t.Fatalf("bob should have no active ride")
	}
}

func TestNotFound(t *testing.T) {
	l := NewLocal(nil)
	if _, err := l.GetRecord(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err := l.Submit(context.Background(), models.MutationIntent{Action: models.ActionAccept, RecordID: 99, Actor: "bob"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on submit, got %v", err)
	}
}
