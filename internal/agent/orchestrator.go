// Package agent implements the turn pipeline: a finite state machine that
// takes one user message through query understanding, memory retrieval,
// tool execution, streamed synthesis, and the memory commit.
package agent

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brieflens/brieflens/internal/llm"
	"github.com/brieflens/brieflens/internal/memory"
	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/internal/tools"
	"github.com/brieflens/brieflens/pkg/types"
)

// Event types emitted on the response stream.
const (
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one element of the streamed response to a user message. Chunk
// events carry Content; the terminal complete event carries citations and
// follow-ups; a terminal error event carries Message.
type Event struct {
	Type      string     `json:"type"`
	Content   string     `json:"content,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	FollowUps []string   `json:"follow_ups,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// TurnEvent notifies observers about turn lifecycle changes.
type TurnEvent struct {
	Type      string `json:"type"` // "turn_started", "turn_completed"
	SessionID string `json:"session_id"`
	TurnSeq   int    `json:"turn_seq,omitempty"`
}

// Options tunes the orchestrator. Zero values pick the defaults.
type Options struct {
	RetrievalTopK      int           // default: 5
	ContextBudgetChars int           // default: 12000
	MaxAttempts        int           // generation attempts, default: 3
	BaseBackoff        time.Duration // default: 200ms
	ShortTermTurns     int           // default: 10
	ShortTermTools     int           // default: 5
}

func (o *Options) normalize() {
	if o.RetrievalTopK < 1 {
		o.RetrievalTopK = 5
	}
	if o.ContextBudgetChars < 1 {
		o.ContextBudgetChars = 12000
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 200 * time.Millisecond
	}
	if o.ShortTermTurns < 1 {
		o.ShortTermTurns = 10
	}
	if o.ShortTermTools < 1 {
		o.ShortTermTools = 5
	}
}

// Orchestrator runs turns. One instance serves all sessions; per-session
// mutexes enforce the single-writer rule, so a second message for the same
// session queues behind the in-flight one while other sessions proceed in
// parallel.
type Orchestrator struct {
	digest   *memory.DigestContext
	prefs    *memory.PreferenceContext
	longterm *memory.LongTerm
	store    storage.Store
	streamer llm.ChatStreamer
	executor *tools.Executor
	opts     Options

	// Notify, when set, receives turn lifecycle events. Called from the
	// turn goroutine; implementations must not block.
	Notify func(TurnEvent)

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	windows map[string]*memory.ShortTermWindow
}

// New creates an Orchestrator over its injected dependencies.
func New(
	digestCtx *memory.DigestContext,
	prefs *memory.PreferenceContext,
	longterm *memory.LongTerm,
	store storage.Store,
	streamer llm.ChatStreamer,
	executor *tools.Executor,
	opts Options,
) *Orchestrator {
	opts.normalize()
	return &Orchestrator{
		digest:   digestCtx,
		prefs:    prefs,
		longterm: longterm,
		store:    store,
		streamer: streamer,
		executor: executor,
		opts:     opts,
		locks:    make(map[string]*sync.Mutex),
		windows:  make(map[string]*memory.ShortTermWindow),
	}
}

// HandleMessage runs one turn and returns its event stream. The channel
// closes after the terminal complete or error event. Cancelling ctx stops
// generation; the partial turn is still recorded, marked incomplete.
func (o *Orchestrator) HandleMessage(ctx context.Context, session *types.Session, userText string) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		lock := o.sessionLock(session.ID)
		lock.Lock()
		defer lock.Unlock()
		o.runTurn(ctx, session, userText, events)
	}()
	return events
}

// ForgetSession drops the per-session in-memory state. Called when a
// session ends.
func (o *Orchestrator) ForgetSession(sessionID string) {
	o.mu.Lock()
	delete(o.locks, sessionID)
	delete(o.windows, sessionID)
	o.mu.Unlock()
	o.digest.Evict(sessionID)
	o.prefs.Evict(sessionID)
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sessionID] = lock
	}
	return lock
}

// window returns the session's short-term window, rebuilding it from the
// turn log on first access.
func (o *Orchestrator) window(ctx context.Context, sessionID string) *memory.ShortTermWindow {
	o.mu.Lock()
	w, ok := o.windows[sessionID]
	if !ok {
		w = memory.NewShortTermWindow(o.opts.ShortTermTurns, o.opts.ShortTermTools)
		o.windows[sessionID] = w
	}
	o.mu.Unlock()

	if !ok {
		if err := w.Rebuild(ctx, o.store, sessionID); err != nil {
			log.Printf("Warning: short-term rebuild failed for session %s: %v", sessionID, err)
		}
	}
	return w
}

func (o *Orchestrator) notify(event TurnEvent) {
	if o.Notify != nil {
		o.Notify(event)
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, session *types.Session, userText string, events chan<- Event) {
	started := time.Now()
	state := StateInitialize
	o.notify(TurnEvent{Type: "turn_started", SessionID: session.ID})

	// INITIALIZE
	snapshot, err := o.digest.Load(ctx, session.ID, session.ContextRef)
	if err != nil {
		log.Printf("Warning: digest layer unavailable for session %s: %v", session.ID, err)
		snapshot = nil
	}
	prefs, err := o.prefs.Load(ctx, session.ID, session.UserID)
	if err != nil {
		log.Printf("Warning: preference context unavailable for session %s: %v", session.ID, err)
		prefs = nil
	}
	var prefTopics []string
	if prefs != nil {
		prefTopics = prefs.Topics
	}
	window := o.window(ctx, session.ID)

	userTurn := types.Turn{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      types.RoleUser,
		Content:   userText,
	}
	if err := o.store.AppendTurn(ctx, &userTurn); err != nil {
		log.Printf("ERROR: failed to record user turn for session %s: %v", session.ID, err)
		events <- Event{Type: EventError, Message: "failed to record message"}
		return
	}
	window.Append(userTurn)

	// UNDERSTAND_QUERY
	state = NextState(state, false)
	intent := Classify(userText)

	// RETRIEVE_MEMORY
	state = NextState(state, false)
	var retrieved []types.LongTermRecord
	longTermQueried := false
	longTermAvailable := true
	if intent.HasScope(ScopeHistory) || intent.HasScope(ScopeExplore) {
		longTermQueried = true
		// Only the user's preferred topics narrow the search. Query entities
		// are already part of the query text, where both search arms match
		// them without excluding untagged records.
		retrieved, longTermAvailable = o.longterm.Query(ctx, session.UserID, userText,
			memory.QueryFilters{Topics: prefTopics}, o.opts.RetrievalTopK)
	}

	// SELECT_TOOLS
	state = NextState(state, false)
	selected := SelectTools(intent)
	// The retrieve stage already ran hybrid retrieval for explore intents;
	// running the retrieval tool again would duplicate its sources.
	if longTermQueried {
		selected = without(selected, tools.CapabilityRetrieval)
	}

	// EXECUTE_TOOLS
	state = NextState(state, len(selected) > 0)
	var toolResults []*tools.Result
	if state == StateExecuteTools {
		toolResults = o.executor.Execute(ctx, selected, tools.Args{
			UserID: session.UserID,
			Query:  userText,
			Topics: prefTopics,
			URLs:   intent.URLs,
			SeedID: seedRecordID(retrieved),
			TopK:   o.opts.RetrievalTopK,
		})
		for _, result := range toolResults {
			if result.Err != nil {
				log.Printf("Warning: %v", result.Err)
			}
		}
		state = NextState(state, false)
	}

	attempted := tools.Attempted(toolResults)
	succeeded := tools.Succeeded(toolResults)
	if longTermQueried {
		attempted = append([]string{tools.CapabilityRetrieval}, attempted...)
		if longTermAvailable {
			succeeded = append([]string{tools.CapabilityRetrieval}, succeeded...)
		}
	}

	// GENERATE_RESPONSE
	assembled := AssembleContext(snapshot, window.Turns(), retrieved,
		tools.MergedSources(toolResults), userText, o.opts.ContextBudgetChars)

	text, genErr := o.generate(ctx, assembled.Prompt, events)
	cancelled := errors.Is(genErr, context.Canceled)

	assistantTurn := types.Turn{
		ID:             uuid.New().String(),
		SessionID:      session.ID,
		Role:           types.RoleAssistant,
		Content:        text,
		ToolsAttempted: attempted,
		ToolsSucceeded: succeeded,
		LatencyMS:      time.Since(started).Milliseconds(),
		TokensOut:      len(strings.Fields(text)),
		Incomplete:     cancelled,
	}

	var citations []Citation
	var followUps []string
	switch {
	case genErr == nil:
		citations = ExtractCitations(text, assembled.Sources)
		followUps = DeriveFollowUps(intent, assembled.Sources, citations)
		for _, c := range citations {
			assistantTurn.SourceIDs = append(assistantTurn.SourceIDs, c.SourceID)
		}
	case cancelled:
		log.Printf("Warning: turn cancelled mid-stream for session %s, recording partial turn", session.ID)
	default:
		assistantTurn.Error = genErr.Error()
		log.Printf("ERROR: generation failed for session %s: %v", session.ID, genErr)
	}

	// UPDATE_MEMORY. Runs on a detached context so a cancelled caller still
	// gets its partial turn persisted.
	state = NextState(state, false)
	if state != StateUpdateMemory {
		log.Printf("ERROR: turn pipeline reached %s instead of update_memory", state)
	}
	commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.AppendTurn(commitCtx, &assistantTurn); err != nil {
		log.Printf("ERROR: failed to record assistant turn for session %s: %v", session.ID, err)
	} else {
		window.Append(assistantTurn)
	}
	if err := o.store.TouchSession(commitCtx, session.ID, time.Now().UTC()); err != nil {
		log.Printf("Warning: failed to touch session %s: %v", session.ID, err)
	}
	o.notify(TurnEvent{Type: "turn_completed", SessionID: session.ID, TurnSeq: assistantTurn.Seq})

	// COMPLETE
	switch {
	case genErr == nil:
		events <- Event{Type: EventComplete, Citations: citations, FollowUps: followUps}
	case cancelled:
		// Caller is gone; nothing to emit.
	default:
		events <- Event{Type: EventError, Message: "response generation failed"}
	}
}

// generate streams the model response, forwarding chunks to events and
// returning the accumulated text. Failures before any content arrives are
// retried with exponential backoff; a mid-stream failure after content has
// been forwarded cannot be retried transparently and is terminal.
func (o *Orchestrator) generate(ctx context.Context, prompt string, events chan<- Event) (string, error) {
	messages := []llm.ChatMessage{{Role: "user", Content: prompt}}

	var lastErr error
	for attempt := 0; attempt < o.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := o.opts.BaseBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		stream, err := o.streamer.StreamChat(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return "", context.Canceled
			}
			lastErr = err
			continue
		}

		var full strings.Builder
		streamed := false
		failed := false
		for chunk := range stream {
			if chunk.Err != nil {
				if ctx.Err() != nil {
					return full.String(), context.Canceled
				}
				lastErr = chunk.Err
				failed = true
				break
			}
			streamed = true
			full.WriteString(chunk.Content)
			select {
			case events <- Event{Type: EventChunk, Content: chunk.Content}:
			case <-ctx.Done():
				return full.String(), context.Canceled
			}
		}

		if !failed {
			if ctx.Err() != nil {
				return full.String(), context.Canceled
			}
			return full.String(), nil
		}
		if streamed {
			// Partial output already reached the caller.
			return full.String(), lastErr
		}
	}
	return "", lastErr
}

// seedRecordID picks the top retrieved record as the seed for related-item
// discovery.
func seedRecordID(retrieved []types.LongTermRecord) string {
	if len(retrieved) == 0 {
		return ""
	}
	return retrieved[0].ID
}

func without(values []string, drop string) []string {
	out := values[:0]
	for _, v := range values {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
