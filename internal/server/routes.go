package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/tallyhq/tally/internal/common"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.Handle("/metrics", s.app.Metrics.Handler())

	// Ledger
	mux.HandleFunc("/journal", s.handleJournalPost)
	mux.HandleFunc("/accounts/", s.routeAccounts)

	// Events
	mux.HandleFunc("/outbox/process", s.handleOutboxProcess)
	mux.HandleFunc("/events", s.handleEventsAck)
}

// routeAccounts dispatches /accounts/{id}/history.
func (s *Server) routeAccounts(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/accounts/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "account id is required in path")
		return
	}

	if strings.HasSuffix(path, "/history") {
		id := strings.TrimSuffix(path, "/history")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "account id is required in path")
			return
		}
		s.handleAccountHistory(w, r, id)
		return
	}

	WriteError(w, http.StatusNotFound, "Not found")
}

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	ctx := r.Context()

	if err := s.app.Storage.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Health check failed")
		WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"dbConnected": false,
			"error":       err.Error(),
			"timestamp":   time.Now().UTC(),
		})
		return
	}

	pending, err := s.app.Storage.OutboxStore().CountPending(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to inspect outbox: "+err.Error())
		return
	}
	retries, err := s.app.Storage.OutboxStore().CountPendingRetries(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to inspect outbox: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"dbConnected":    true,
		"outboxQueue":    pending,
		"pendingRetries": retries,
		"metrics":        s.app.Metrics.Snapshot(),
		"timestamp":      time.Now().UTC(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
