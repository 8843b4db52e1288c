package engine_test

import (
	"testing"

	"github.com/example/ride-ledger/internal/engine"
	"github.com/example/ride-ledger/internal/ledger"
	"github.com/example/ride-ledger/internal/models"
)

// Walks the full lifecycle against the local backend with both parties'
// engines attached, checking each side's derived phase at every step.
func TestRequestAcceptCompleteRateScenario(t *testing.T) {
	l := ledger.NewLocal(nil)

	requester := engine.New("alice", models.RoleRequester)
	provider := engine.New("bob", models.RoleProvider)
	defer requester.Attach(l)()
	defer provider.Attach(l)()

	pickup := models.Location{Name: "P", Lat: 40.0, Lon: -74.0}
	dropoff := models.Location{Name: "D", Lat: 40.1, Lon: -74.1}

	rec, err := l.CreateRide("alice", pickup, dropoff, 0.001)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := requester.Phase(); got != engine.PhaseWaitingForProvider {
		t.Fatalf("after create requester phase %s", got)
	}
	if got := provider.Phase(); got != engine.PhaseIdle {
		t.Fatalf("after create provider phase %s", got)
	}

	if _, err := l.AcceptRide(rec.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := requester.Phase(); got != engine.PhaseProviderEnRoute {
		t.Fatalf("after accept requester phase %s", got)
	}
	if got := provider.Phase(); got != engine.PhaseProviderEnRoute {
		t.Fatalf("after accept provider phase %s", got)
	}

	if _, err := l.UpdateStatus(rec.ID, "bob", models.ActionStart, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if requester.Phase() != engine.PhaseInTrip || provider.Phase() != engine.PhaseInTrip {
		t.Fatalf("after start phases %s / %s", requester.Phase(), provider.Phase())
	}

	if _, err := l.UpdateStatus(rec.ID, "alice", models.ActionComplete, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := requester.Phase(); got != engine.PhaseRating {
		t.Fatalf("after complete requester phase %s", got)
	}
	if got := provider.Phase(); got != engine.PhaseIdle {
		t.Fatalf("after complete provider phase %s", got)
	}

	got, err := l.UpdateStatus(rec.ID, "alice", models.ActionRate, 5)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !got.IsRated || got.Rating != 5 {
		t.Fatalf("rating not applied: %+v", got)
	}
	if requester.Phase() != engine.PhaseIdle {
		t.Fatalf("after rate requester phase %s", requester.Phase())
	}
}

func TestCancellationWhileWaitingScenario(t *testing.T) {
	l := ledger.NewLocal(nil)
	requester := engine.New("alice", models.RoleRequester)
	defer requester.Attach(l)()

	rec, err := l.CreateRide("alice",
		models.Location{Name: "P", Lat: 1, Lon: 2},
		models.Location{Name: "D", Lat: 3, Lon: 4}, 0.001)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if requester.Phase() != engine.PhaseWaitingForProvider {
		t.Fatalf("phase %s", requester.Phase())
	}

	got, err := l.UpdateStatus(rec.ID, "alice", models.ActionCancel, 0)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.StatusCancelled || got.ProviderID != "" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if requester.Phase() != engine.PhaseIdle {
		t.Fatalf("expected reset to idle, got %s", requester.Phase())
	}
}

func TestLateSubscriberConverges(t *testing.T) {
	l := ledger.NewLocal(nil)
	rec, _ := l.CreateRide("alice",
		models.Location{Name: "P"}, models.Location{Name: "D"}, 0.001)
	l.AcceptRide(rec.ID, "bob")

	// Attaching after the fact replays the current state: no event history
	// is needed to land in the right phase.
	late := engine.New("bob", models.RoleProvider)
	defer late.Attach(l)()
	if late.Phase() != engine.PhaseProviderEnRoute {
		t.Fatalf("late subscriber phase %s", late.Phase())
	}
}
