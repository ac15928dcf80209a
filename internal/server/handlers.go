package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/tallyhq/tally/internal/interfaces"
	"github.com/tallyhq/tally/internal/models"
)

// handleJournalPost handles POST /journal.
func (s *Server) handleJournalPost(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	j, issues := models.ParseJournalRequest(body)
	if issues != nil {
		// Unparseable JSON is a malformed request; field-level violations
		// are a schema failure with per-field details.
		if len(issues) == 1 && issues[0].Code == "invalid_json" {
			WriteError(w, http.StatusBadRequest, issues[0].Message)
			return
		}
		WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "journal failed validation",
			Code:    string(models.ErrValidation),
			Details: issues,
		})
		return
	}

	result, err := s.app.JournalService.Post(r.Context(), j)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"journalId": result.JournalID,
	})
}

// handleAccountHistory handles GET /accounts/{id}/history.
func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	currency := r.URL.Query().Get("currency")

	history, err := s.app.JournalService.History(r.Context(), accountID, currency)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	// The core treats an empty projection as a valid result; the web
	// surface reports it as not found.
	if len(history.History) == 0 {
		WriteError(w, http.StatusNotFound, "no history for account "+accountID)
		return
	}

	WriteJSON(w, http.StatusOK, history)
}

// handleOutboxProcess handles POST /outbox/process with optional
// maxBatch, maxBackoffMs, timeoutMs, and target query overrides.
func (s *Server) handleOutboxProcess(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	opts := interfaces.OutboxRunOptions{
		Target: r.URL.Query().Get("target"),
	}
	if v := r.URL.Query().Get("maxBatch"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxBatch = n
		}
	}
	if v := r.URL.Query().Get("maxBackoffMs"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			opts.MaxBackoff = time.Duration(ms) * time.Millisecond
		}
	}
	if v := r.URL.Query().Get("timeoutMs"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			opts.Timeout = time.Duration(ms) * time.Millisecond
		}
	}

	summary, err := s.app.OutboxService.ProcessOnce(r.Context(), opts)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, summary)
}

// handleEventsAck handles POST /events, the built-in consumer endpoint.
func (s *Server) handleEventsAck(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	// The payload is opaque JSON of any shape; it is stored as raw text.
	var req struct {
		JournalID string          `json:"journalId"`
		Topic     string          `json:"topic"`
		Payload   json.RawMessage `json:"payload"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.JournalID == "" {
		WriteError(w, http.StatusBadRequest, "journalId is required")
		return
	}

	created, err := s.app.EventService.RecordAck(r.Context(), &models.Ack{
		JournalID: req.JournalID,
		Topic:     req.Topic,
		Payload:   string(req.Payload),
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"journalId": req.JournalID,
		"duplicate": !created,
	})
}
