package memory

import (
	"context"
	"sync"

	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/pkg/types"
)

// ToolRecord is one tool invocation remembered by the short-term window.
type ToolRecord struct {
	TurnSeq    int
	Capability string
	Succeeded  bool
}

// ShortTermWindow holds the most recent turns and tool-invocation records
// for one session. The window is bounded: the oldest entries drop silently
// as new ones arrive; nothing is ever deleted from the persisted turn log.
//
// The window is derived state: Rebuild reconstructs an identical window
// from the turn log at any time, so losing it is never a durability problem.
// It is owned exclusively by the session's single in-flight turn.
type ShortTermWindow struct {
	maxTurns int
	maxTools int

	mu    sync.Mutex
	turns []types.Turn
	tools []ToolRecord
}

// NewShortTermWindow creates a window holding at most maxTurns turns and
// maxTools tool records.
func NewShortTermWindow(maxTurns, maxTools int) *ShortTermWindow {
	if maxTurns < 1 {
		maxTurns = 10
	}
	if maxTools < 1 {
		maxTools = 5
	}
	return &ShortTermWindow{maxTurns: maxTurns, maxTools: maxTools}
}

// Append adds a turn to the window, evicting the oldest turn when full.
// Tool invocations recorded on the turn enter the tool-record window.
func (w *ShortTermWindow) Append(turn types.Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appendLocked(turn)
}

func (w *ShortTermWindow) appendLocked(turn types.Turn) {
	w.turns = append(w.turns, turn)
	if len(w.turns) > w.maxTurns {
		w.turns = w.turns[len(w.turns)-w.maxTurns:]
	}

	for _, capability := range turn.ToolsAttempted {
		w.tools = append(w.tools, ToolRecord{
			TurnSeq:    turn.Seq,
			Capability: capability,
			Succeeded:  contains(turn.ToolsSucceeded, capability),
		})
	}
	if len(w.tools) > w.maxTools {
		w.tools = w.tools[len(w.tools)-w.maxTools:]
	}
}

// Turns returns a copy of the windowed turns, oldest first.
func (w *ShortTermWindow) Turns() []types.Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// ToolRecords returns a copy of the windowed tool records, oldest first.
func (w *ShortTermWindow) ToolRecords() []ToolRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ToolRecord, len(w.tools))
	copy(out, w.tools)
	return out
}

// Rebuild replaces the window contents by replaying the persisted turn log
// in order. The result equals a window that had observed every append live.
func (w *ShortTermWindow) Rebuild(ctx context.Context, turns storage.TurnStore, sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = nil
	w.tools = nil

	offset := 0
	for {
		page, err := turns.ListTurns(ctx, sessionID, storage.ListOptions{Limit: 500, Offset: offset})
		if err != nil {
			return err
		}
		for _, turn := range page {
			w.appendLocked(turn)
		}
		if len(page) < 500 {
			return nil
		}
		offset += len(page)
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
