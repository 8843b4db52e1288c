package bus

import (
	"sync"

	"github.com/example/ride-ledger/internal/models"
)

// Observer receives the full current record set whenever any record changes.
type Observer func(models.Snapshot)

// Bus is a process-local multicast notifier. Delivery is synchronous and in
// registration order; observers get their own snapshot copy and must return
// quickly since they stall everyone behind them. The bus is volatile
// signaling on top of the durable ledger, which stays recoverable by
// re-listing.
type Bus struct {
	mu        sync.Mutex
	observers []entry
	nextToken int
}

type entry struct {
	token int
	fn    Observer
}

func New() *Bus { return &Bus{} }

// Register appends the observer and returns its disposer. The same function
// may be registered twice; it then receives one call per registration.
func (b *Bus) Register(fn Observer) (unregister func()) {
	b.mu.Lock()
	token := b.nextToken
	b.nextToken++
	b.observers = append(b.observers, entry{token: token, fn: fn})
	b.mu.Unlock()
	return func() { b.remove(token) }
}

func (b *Bus) remove(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.observers {
		if e.token == token {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

// Publish delivers snapshot to every observer, sequentially, in registration
// order. Each observer gets its own copy.
func (b *Bus) Publish(snapshot models.Snapshot) {
	b.mu.Lock()
	targets := make([]Observer, len(b.observers))
	for i, e := range b.observers {
		targets[i] = e.fn
	}
	b.mu.Unlock()

	for _, fn := range targets {
		fn(snapshot.Clone())
	}
}

// Len reports the number of registered observers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}
