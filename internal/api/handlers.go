package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/brieflens/brieflens/internal/agent"
	"github.com/brieflens/brieflens/internal/session"
	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/pkg/types"
)

// maxMessageChars bounds an inbound message body.
const maxMessageChars = 8000

// Handlers serves the session and messaging API.
type Handlers struct {
	sessions     *session.Manager
	orchestrator *agent.Orchestrator
	store        storage.Store
	defaultUser  string
}

// NewHandlers creates the API handlers. defaultUser is the user ID assumed
// when a request does not carry one.
func NewHandlers(sessions *session.Manager, orchestrator *agent.Orchestrator, store storage.Store, defaultUser string) *Handlers {
	if defaultUser == "" {
		defaultUser = "default"
	}
	return &Handlers{
		sessions:     sessions,
		orchestrator: orchestrator,
		store:        store,
		defaultUser:  defaultUser,
	}
}

type createSessionRequest struct {
	UserID     string `json:"user_id,omitempty"`
	ContextRef string `json:"context_ref,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// CreateSession handles POST /api/sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	// An empty body is a session with no pinned context.
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID == "" {
		userID = h.defaultUser
	}

	sess, err := h.sessions.Create(r.Context(), userID, req.ContextRef)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
			return
		}
		log.Printf("ERROR: failed to create session: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID})
}

type postMessageRequest struct {
	Text string `json:"text"`
}

// PostMessage handles POST /api/sessions/{id}/messages. The response is a
// Server-Sent Events stream of chunk events ending in a terminal complete
// or error event. A generation failure before any content was streamed is
// reported as a plain 500 instead of a stream.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if sess.Status == types.SessionEnded {
		writeError(w, http.StatusConflict, "SESSION_ENDED", "session has ended")
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "text is required")
		return
	}
	if len(req.Text) > maxMessageChars {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "text too long")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
		return
	}

	events := h.orchestrator.HandleMessage(r.Context(), sess, req.Text)

	// Peek at the first event: a turn that fails before producing anything
	// still has a normal HTTP error available to it.
	first, open := <-events
	if !open {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "no response produced")
		return
	}
	if first.Type == agent.EventError {
		writeError(w, http.StatusInternalServerError, "GENERATION_FAILED", first.Message)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, flusher, first)
	for event := range events {
		writeSSE(w, flusher, event)
	}
}

// ListMessages handles GET /api/sessions/{id}/messages.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var all []types.Turn
	offset := 0
	for {
		page, err := h.store.ListTurns(r.Context(), sess.ID, storage.ListOptions{Limit: 500, Offset: offset})
		if err != nil {
			log.Printf("ERROR: failed to list turns for session %s: %v", sess.ID, err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list messages")
			return
		}
		all = append(all, page...)
		if len(page) < 500 {
			break
		}
		offset += len(page)
	}
	if all == nil {
		all = []types.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": all})
}

// DeleteSession handles DELETE /api/sessions/{id}: ends the session,
// triggering summarization, and returns 204.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := h.sessions.End(r.Context(), sess.ID); err != nil {
		log.Printf("ERROR: failed to end session %s: %v", sess.ID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) lookupSession(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown session")
		return nil, false
	}
	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown session")
			return nil, false
		}
		log.Printf("ERROR: failed to load session %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load session")
		return nil, false
	}
	return sess, true
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event agent.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ERROR: failed to marshal stream event: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("ERROR: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
