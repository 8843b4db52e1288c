package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-ledger/internal/feed"
	"github.com/example/ride-ledger/internal/models"
)

// fakePublisher implements ChangePublisher for tests.
type fakePublisher struct {
	fail  int // announces to fail before succeeding
	calls int
	last  models.Action
}

func (f *fakePublisher) Announce(ctx context.Context, action models.Action, recordID int64) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("publish fail")
	}
	f.last = action
	return nil
}

func TestRepublishWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakePublisher{fail: 2}
	ch := feed.Change{Kind: models.ActionAccept, RecordID: 7}
	start := time.Now()
	if err := republishWithRetry(context.Background(), f, ch, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if f.last != models.ActionAccept {
		t.Fatalf("wrong action republished: %s", f.last)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestRepublishWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakePublisher{fail: 5}
	ch := feed.Change{Kind: models.ActionCancel, RecordID: 9}
	if err := republishWithRetry(context.Background(), f, ch, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestRepublishWithRetry_StopsOnContextCancel(t *testing.T) {
	f := &fakePublisher{fail: 10}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := republishWithRetry(ctx, f, feed.Change{Kind: models.ActionCreate}, 3, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
