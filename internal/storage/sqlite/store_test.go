package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing. New applies
// the full Schema, so no additional DDL is required.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestSession(t *testing.T, store *Store, id string) *types.Session {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	session := &types.Session{
		ID:             id,
		UserID:         "user-1",
		ContextRef:     "digest-2026-08-31",
		Status:         types.SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return session
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := newTestSession(t, store, "sess-1")

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if got.UserID != created.UserID {
		t.Errorf("UserID: got %q, want %q", got.UserID, created.UserID)
	}
	if got.ContextRef != created.ContextRef {
		t.Errorf("ContextRef: got %q, want %q", got.ContextRef, created.ContextRef)
	}
	if got.Status != types.SessionActive {
		t.Errorf("Status: got %q, want %q", got.Status, types.SessionActive)
	}
	if got.EndedAt != nil {
		t.Errorf("EndedAt: got %v, want nil", got.EndedAt)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSession(missing): got %v, want ErrNotFound", err)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newTestSession(t, store, "sess-1")

	first := time.Now().UTC().Truncate(time.Second)
	if err := store.EndSession(ctx, "sess-1", first); err != nil {
		t.Fatalf("EndSession() failed: %v", err)
	}
	if err := store.EndSession(ctx, "sess-1", first.Add(time.Hour)); err != nil {
		t.Fatalf("second EndSession() failed: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if got.Status != types.SessionEnded {
		t.Errorf("Status: got %q, want %q", got.Status, types.SessionEnded)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(first) {
		t.Errorf("EndedAt: got %v, want %v (first close wins)", got.EndedAt, first)
	}
}

func TestListIdleSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, store, "stale")
	newTestSession(t, store, "fresh")
	newTestSession(t, store, "ended")

	past := time.Now().UTC().Add(-2 * time.Hour)
	if err := store.TouchSession(ctx, "stale", past); err != nil {
		t.Fatalf("TouchSession() failed: %v", err)
	}
	if err := store.TouchSession(ctx, "ended", past); err != nil {
		t.Fatalf("TouchSession() failed: %v", err)
	}
	if err := store.EndSession(ctx, "ended", time.Now().UTC()); err != nil {
		t.Fatalf("EndSession() failed: %v", err)
	}

	idle, err := store.ListIdleSessions(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListIdleSessions() failed: %v", err)
	}
	if len(idle) != 1 || idle[0].ID != "stale" {
		t.Errorf("ListIdleSessions: got %v, want exactly [stale]", idle)
	}
}

func TestAppendTurnAssignsGaplessSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newTestSession(t, store, "sess-1")
	newTestSession(t, store, "sess-2")

	for i := 0; i < 5; i++ {
		turn := &types.Turn{
			ID:        fmt.Sprintf("turn-%d", i),
			SessionID: "sess-1",
			Role:      types.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
		}
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn() failed: %v", err)
		}
		if turn.Seq != i+1 {
			t.Errorf("Seq: got %d, want %d", turn.Seq, i+1)
		}
	}

	// A second session numbers independently from 1.
	other := &types.Turn{ID: "other-1", SessionID: "sess-2", Role: types.RoleUser, Content: "hi"}
	if err := store.AppendTurn(ctx, other); err != nil {
		t.Fatalf("AppendTurn() failed: %v", err)
	}
	if other.Seq != 1 {
		t.Errorf("other session Seq: got %d, want 1", other.Seq)
	}

	turns, err := store.ListTurns(ctx, "sess-1", storage.ListOptions{Limit: 100})
	if err != nil {
		t.Fatalf("ListTurns() failed: %v", err)
	}
	if len(turns) != 5 {
		t.Fatalf("ListTurns: got %d turns, want 5", len(turns))
	}
	for i, turn := range turns {
		if turn.Seq != i+1 {
			t.Errorf("turn %d: Seq = %d, want %d (strictly increasing, no gaps)", i, turn.Seq, i+1)
		}
	}
}

func TestTurnRoundTripMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newTestSession(t, store, "sess-1")

	turn := &types.Turn{
		ID:             "turn-1",
		SessionID:      "sess-1",
		Role:           types.RoleAssistant,
		Content:        "here is what I found",
		ToolsAttempted: []string{"retrieval", "live_search"},
		ToolsSucceeded: []string{"retrieval"},
		SourceIDs:      []string{"item-1", "item-2"},
		LatencyMS:      850,
		TokensOut:      42,
		Error:          "live_search failed",
		Incomplete:     true,
	}
	if err := store.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn() failed: %v", err)
	}

	turns, err := store.ListTurns(ctx, "sess-1", storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListTurns() failed: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("ListTurns: got %d turns, want 1", len(turns))
	}
	got := turns[0]
	if len(got.ToolsAttempted) != 2 || got.ToolsAttempted[1] != "live_search" {
		t.Errorf("ToolsAttempted: got %v", got.ToolsAttempted)
	}
	if len(got.ToolsSucceeded) != 1 || got.ToolsSucceeded[0] != "retrieval" {
		t.Errorf("ToolsSucceeded: got %v", got.ToolsSucceeded)
	}
	if len(got.SourceIDs) != 2 {
		t.Errorf("SourceIDs: got %v", got.SourceIDs)
	}
	if got.LatencyMS != 850 || got.TokensOut != 42 {
		t.Errorf("metrics: got latency=%d tokens=%d", got.LatencyMS, got.TokensOut)
	}
	if got.Error != "live_search failed" {
		t.Errorf("Error: got %q", got.Error)
	}
	if !got.Incomplete {
		t.Error("Incomplete: got false, want true")
	}
}

func TestLastTurnsOrderedOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newTestSession(t, store, "sess-1")

	for i := 0; i < 6; i++ {
		turn := &types.Turn{
			ID:        fmt.Sprintf("turn-%d", i),
			SessionID: "sess-1",
			Role:      types.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
		}
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn() failed: %v", err)
		}
	}

	last, err := store.LastTurns(ctx, "sess-1", 3)
	if err != nil {
		t.Fatalf("LastTurns() failed: %v", err)
	}
	if len(last) != 3 {
		t.Fatalf("LastTurns: got %d turns, want 3", len(last))
	}
	wantSeqs := []int{4, 5, 6}
	for i, turn := range last {
		if turn.Seq != wantSeqs[i] {
			t.Errorf("turn %d: Seq = %d, want %d", i, turn.Seq, wantSeqs[i])
		}
	}
}

func TestAppendTurnRejectsEndedSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newTestSession(t, store, "sess-1")

	turn := &types.Turn{ID: "turn-1", SessionID: "sess-1", Role: types.RoleUser, Content: "hi"}
	if err := store.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn() failed: %v", err)
	}

	if err := store.EndSession(ctx, "sess-1", time.Now().UTC()); err != nil {
		t.Fatalf("EndSession() failed: %v", err)
	}

	late := &types.Turn{ID: "turn-2", SessionID: "sess-1", Role: types.RoleUser, Content: "too late"}
	if err := store.AppendTurn(ctx, late); !errors.Is(err, storage.ErrSessionEnded) {
		t.Errorf("AppendTurn() after end: got %v, want ErrSessionEnded", err)
	}

	orphan := &types.Turn{ID: "turn-3", SessionID: "no-such-session", Role: types.RoleUser, Content: "hi"}
	if err := store.AppendTurn(ctx, orphan); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AppendTurn() unknown session: got %v, want ErrNotFound", err)
	}

	turns, err := store.ListTurns(ctx, "sess-1", storage.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListTurns() failed: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("turn count after rejected appends: got %d, want 1", len(turns))
	}
}
