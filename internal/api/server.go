// Package api is the thin, out-of-scope data layer over the catalogue
// of expected jobs and their history (spec.md §1: "the REST/CRUD
// surface ... thin data layer"). It exposes read access plus a live
// feed of new Backup Entries; it never calls the reconciler directly.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/backupwatch/server/internal/eventbus"
	"github.com/backupwatch/server/internal/store"
)

// Server serves the HTTP surface.
type Server struct {
	store  store.Store
	hub    *Hub
	router *mux.Router
}

// New builds a Server and registers its routes. If bus is non-nil, the
// server subscribes to TopicAll and rebroadcasts every decision to
// connected websocket clients.
func New(st store.Store, bus *eventbus.Bus) *Server {
	hub := newHub()
	go hub.run()

	s := &Server{store: st, hub: hub, router: mux.NewRouter()}
	s.registerRoutes()

	if bus != nil {
		ch := make(chan eventbus.Decision, 256)
		bus.Subscribe(eventbus.TopicAll, ch)
		go s.forwardDecisions(ch)
	}

	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	s.router.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	s.router.HandleFunc("/jobs/{id}/entries", s.handleListEntries).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

// ServeHTTP lets Server be passed directly to http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.Jobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.Job(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := s.store.Entries(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) forwardDecisions(ch <-chan eventbus.Decision) {
	for d := range ch {
		payload, err := json.Marshal(decisionView{
			JobID:     d.Job.ID,
			AgentID:   d.Job.AgentID(),
			Database:  d.Job.DatabaseName,
			Status:    string(d.Entry.Status),
			Timestamp: d.Timestamp,
		})
		if err != nil {
			continue
		}
		s.hub.broadcast <- payload
	}
}

type decisionView struct {
	JobID     string    `json:"job_id"`
	AgentID   string    `json:"agent_id"`
	Database  string    `json:"database"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
