package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-ledger/internal/gate"
	"github.com/example/ride-ledger/internal/ledger"
	"github.com/example/ride-ledger/internal/models"
	"github.com/example/ride-ledger/internal/query"
)

// Server exposes the ledger over HTTP plus a websocket observer stream.
// Caller identity comes from the session collaborator as the X-Identity
// header; this server does not authenticate it.
type Server struct {
	ledger ledger.Adapter
	query  *query.Service
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(adapter ledger.Adapter, q *query.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{ledger: adapter, query: q, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleCreate).Methods("POST")
	api.HandleFunc("/rides", s.handleList).Methods("GET")
	api.HandleFunc("/rides/{id:[0-9]+}", s.handleGet).Methods("GET")
	api.HandleFunc("/rides/{id:[0-9]+}/accept", s.handleTransition(models.ActionAccept)).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/start", s.handleTransition(models.ActionStart)).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/complete", s.handleTransition(models.ActionComplete)).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/cancel", s.handleTransition(models.ActionCancel)).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/rate", s.handleRate).Methods("POST")
	api.HandleFunc("/feed", s.handleFeed).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")

	s.mux.HandleFunc("/ws/observe", s.handleObserve)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRequest struct {
	Pickup  models.Location `json:"pickup"`
	Dropoff models.Location `json:"dropoff"`
	Amount  float64         `json:"amount"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Amount < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "amount must be non-negative")
		return
	}
	if req.Pickup.Name == "" || req.Dropoff.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "pickup and dropoff are required")
		return
	}
	rec, err := s.ledger.Submit(r.Context(), models.MutationIntent{
		Action: models.ActionCreate, Actor: identity,
		Pickup: req.Pickup, Dropoff: req.Dropoff, Amount: req.Amount,
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleTransition(action models.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.identity(w, r)
		if !ok {
			return
		}
		id, ok := recordID(w, r)
		if !ok {
			return
		}
		rec, err := s.ledger.Submit(r.Context(), models.MutationIntent{
			Action: action, RecordID: id, Actor: identity,
		})
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	var req struct {
		Rating int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "bad_request", "rating must be 1..5")
		return
	}
	rec, err := s.ledger.Submit(r.Context(), models.MutationIntent{
		Action: models.ActionRate, RecordID: id, Actor: identity, Rating: req.Rating,
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		limit = n
	}
	snap, err := s.ledger.ListRecords(r.Context(), limit)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := s.ledger.GetRecord(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("lat") != "" && q.Get("lon") != "" {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid lat/lon")
			return
		}
		writeJSON(w, http.StatusOK, s.query.OpenFeedNear(lat, lon))
		return
	}
	writeJSON(w, http.StatusOK, s.query.OpenFeed())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.query.HistoryFor(identity))
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-Identity")
	if id == "" {
		writeError(w, http.StatusUnauthorized, "no_identity", "X-Identity header required")
		return "", false
	}
	return id, true
}

func recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid record id")
		return 0, false
	}
	return id, true
}

// writeLedgerError maps the error taxonomy onto status codes. Contract
// violations (invalid transition, taken, rated) are conflicts the caller
// must not blindly retry; ledger rejections are upstream failures and safe
// to retry.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, gate.ErrAlreadyTaken):
		writeError(w, http.StatusConflict, "already_taken", err.Error())
	case errors.Is(err, gate.ErrAlreadyRated):
		writeError(w, http.StatusConflict, "already_rated", err.Error())
	case gate.IsInvalidTransition(err):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, ledger.ErrRejectedByLedger):
		writeError(w, http.StatusBadGateway, "rejected_by_ledger", err.Error())
	default:
		s.logger.Error("unhandled ledger error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "error": msg})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
