package httpapi

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/example/ride-ledger/internal/models"
	"github.com/example/ride-ledger/internal/observability"
)

var upgrader = websocket.Upgrader{}

// handleObserve streams every published snapshot to the connected client as
// one JSON array per message. The adapter replays the current snapshot on
// subscribe, so a client is current the moment it connects.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	sess := &observerSession{conn: conn}
	observability.ObserversConnected.Inc()

	var once sync.Once
	var unsubscribe func()
	drop := func() {
		once.Do(func() {
			sess.closed.Store(true)
			if unsubscribe != nil {
				unsubscribe()
			}
			_ = conn.Close()
			observability.ObserversConnected.Dec()
		})
	}

	unsubscribe = s.ledger.Subscribe(func(snap models.Snapshot) {
		if sess.closed.Load() {
			return
		}
		if err := sess.send(snap); err != nil {
			s.logger.Warn("observer send failed, dropping", "error", err)
			drop()
		}
	})
	// The replay inside Subscribe may already have failed, before the
	// disposer existed; unhook now if so.
	if sess.closed.Load() {
		unsubscribe()
	}

	// Drain client frames so we notice the close handshake; observers are
	// read-only.
	go func() {
		defer drop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type observerSession struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func (s *observerSession) send(snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(snap)
}
