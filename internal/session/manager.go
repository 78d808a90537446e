// Package session manages session lifecycle: creation, lookup, explicit and
// idle close, and the end-of-session summarization that folds a conversation
// into long-term memory.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/pkg/types"
)

// ErrSessionEnded re-exports the storage sentinel for callers that only
// import this package.
var ErrSessionEnded = storage.ErrSessionEnded

// Forgetter releases per-session in-memory state when a session ends.
type Forgetter interface {
	ForgetSession(sessionID string)
}

// Manager owns session lifecycle. Summarization runs on close and is
// best-effort: its failure is logged and never blocks the close.
type Manager struct {
	store      storage.Store
	summarizer *Summarizer
	forgetter  Forgetter

	// OnSummarized, when set, is notified after a session's summary lands
	// in long-term memory.
	OnSummarized func(sessionID string)
}

// NewManager creates a session manager. forgetter may be nil.
func NewManager(store storage.Store, summarizer *Summarizer, forgetter Forgetter) *Manager {
	return &Manager{store: store, summarizer: summarizer, forgetter: forgetter}
}

// Create starts a session for the user, optionally pinned to a digest
// context reference.
func (m *Manager) Create(ctx context.Context, userID, contextRef string) (*types.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", storage.ErrInvalidInput)
	}
	now := time.Now().UTC()
	session := &types.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		ContextRef:     contextRef,
		Status:         types.SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the session by ID.
func (m *Manager) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// End closes the session and summarizes its conversation into long-term
// memory. Ending an already-ended session is a no-op.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == types.SessionEnded {
		return nil
	}

	if err := m.store.EndSession(ctx, sessionID, time.Now().UTC()); err != nil {
		return err
	}
	if m.forgetter != nil {
		m.forgetter.ForgetSession(sessionID)
	}

	if err := m.summarizer.Summarize(ctx, session); err != nil {
		log.Printf("Warning: summarization failed for session %s: %v", sessionID, err)
		return nil
	}
	if m.OnSummarized != nil {
		m.OnSummarized(sessionID)
	}
	return nil
}

// CloseIdleSessions ends every active session idle for longer than maxIdle.
// Returns how many sessions were closed.
func (m *Manager) CloseIdleSessions(ctx context.Context, maxIdle time.Duration) (int, error) {
	idle, err := m.store.ListIdleSessions(ctx, time.Now().UTC().Add(-maxIdle))
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, session := range idle {
		if err := m.End(ctx, session.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Printf("Warning: failed to close idle session %s: %v", session.ID, err)
			continue
		}
		closed++
	}
	return closed, nil
}

// RunIdleSweeper ends idle sessions on the given interval until ctx is
// cancelled. maxIdle <= 0 disables the sweeper.
func (m *Manager) RunIdleSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if closed, err := m.CloseIdleSessions(ctx, maxIdle); err != nil {
				log.Printf("Warning: idle-session sweep failed: %v", err)
			} else if closed > 0 {
				log.Printf("Closed %d idle sessions", closed)
			}
		}
	}
}
