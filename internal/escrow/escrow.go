// Package escrow is the boundary to the funds-holding side effect: the ride
// amount is held at creation, released to the provider on completion, and
// refunded to the requester on cancellation. The ledger consumes it as an
// opaque effect; no escrow state lives on the record itself.
package escrow

import (
	"context"
	"fmt"
	"sync"
)

type Service interface {
	// Hold reserves amount for the given record and returns when the hold
	// is durable.
	Hold(ctx context.Context, recordID int64, amount float64) error
	// Release pays out a previously held amount (ride completed).
	Release(ctx context.Context, recordID int64) error
	// Refund returns a previously held amount to the requester (ride
	// cancelled).
	Refund(ctx context.Context, recordID int64) error
}

// Memory is the in-process implementation used by the local ledger backend
// and in tests. It tracks dispositions so tests can assert refund/release
// behavior.
type Memory struct {
	mu    sync.Mutex
	holds map[int64]string // record id -> "held" | "released" | "refunded"
}

func NewMemory() *Memory { return &Memory{holds: make(map[int64]string)} }

func (m *Memory) Hold(ctx context.Context, recordID int64, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("negative amount %f", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds[recordID] = "held"
	return nil
}

func (m *Memory) Release(ctx context.Context, recordID int64) error {
	return m.settle(recordID, "released")
}

func (m *Memory) Refund(ctx context.Context, recordID int64) error {
	return m.settle(recordID, "refunded")
}

func (m *Memory) settle(recordID int64, disposition string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holds[recordID] != "held" {
		return fmt.Errorf("no active hold for record %d", recordID)
	}
	m.holds[recordID] = disposition
	return nil
}

// Disposition returns the current funds state for a record, empty if none.
func (m *Memory) Disposition(recordID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holds[recordID]
}
