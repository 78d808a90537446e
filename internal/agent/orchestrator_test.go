package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brieflens/brieflens/internal/llm"
	"github.com/brieflens/brieflens/internal/memory"
	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/internal/storage/sqlite"
	"github.com/brieflens/brieflens/internal/tools"
	"github.com/brieflens/brieflens/pkg/types"
)

type fakeProvider struct {
	snapshot *types.DigestSnapshot
}

func (f *fakeProvider) GetSnapshot(ctx context.Context, contextRef string) (*types.DigestSnapshot, error) {
	if f.snapshot == nil {
		return nil, errors.New("no snapshot")
	}
	return f.snapshot, nil
}

type fakePrefsProvider struct {
	prefs *types.Preferences
	err   error
}

func (f *fakePrefsProvider) GetPreferences(ctx context.Context, userID string) (*types.Preferences, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prefs, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (fakeEmbedder) GetModel() string { return "fake-embedder" }

// fakeStreamer replays canned chunks. With block set, it emits the first
// chunk and then waits for cancellation.
type fakeStreamer struct {
	chunks []string
	err    error
	block  bool
}

func (f *fakeStreamer) StreamChat(ctx context.Context, messages []llm.ChatMessage) (<-chan llm.StreamChunk, error) {
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for i, content := range f.chunks {
			select {
			case out <- llm.StreamChunk{Content: content}:
			case <-ctx.Done():
				return
			}
			if f.block && i == 0 {
				<-ctx.Done()
				return
			}
		}
		if f.err != nil {
			select {
			case out <- llm.StreamChunk{Err: f.err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (f *fakeStreamer) GetModel() string { return "fake-streamer" }

type slowLongTerm struct {
	storage.LongTermStore
	delay time.Duration
}

func (s *slowLongTerm) LexicalSearch(ctx context.Context, userID, query string, opts storage.SearchOptions) ([]types.LongTermRecord, error) {
	select {
	case <-time.After(s.delay):
		return nil, errors.New("too slow")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowLongTerm) SemanticSearch(ctx context.Context, userID string, vector []float32, opts storage.SearchOptions) ([]types.LongTermRecord, error) {
	select {
	case <-time.After(s.delay):
		return nil, errors.New("too slow")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type testHarness struct {
	store        *sqlite.Store
	orchestrator *Orchestrator
	session      *types.Session
}

func newHarness(t *testing.T, snapshot *types.DigestSnapshot, streamer llm.ChatStreamer, longterm *memory.LongTerm, registry *tools.Registry, prefs *memory.PreferenceContext) *testHarness {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if longterm == nil {
		longterm = memory.NewLongTerm(store, fakeEmbedder{}, time.Second)
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	executor := tools.NewExecutor(registry, time.Second, 2*time.Second)
	digestLayer := memory.NewDigestContext(&fakeProvider{snapshot: snapshot})

	orchestrator := New(digestLayer, prefs, longterm, store, streamer, executor, Options{})

	now := time.Now().UTC()
	session := &types.Session{
		ID: "sess-1", UserID: "user-1", Status: types.SessionActive,
		CreatedAt: now, LastActivityAt: now,
	}
	if snapshot != nil {
		session.ContextRef = snapshot.ContextRef
	}
	require.NoError(t, store.CreateSession(context.Background(), session))

	return &testHarness{store: store, orchestrator: orchestrator, session: session}
}

func collect(t *testing.T, events <-chan Event) (text string, complete *Event, errEvent *Event) {
	t.Helper()
	for event := range events {
		switch event.Type {
		case EventChunk:
			text += event.Content
		case EventComplete:
			e := event
			complete = &e
		case EventError:
			e := event
			errEvent = &e
		}
	}
	return text, complete, errEvent
}

func TestTurnDigestOnlyScenario(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"Your digest covers fusion [S1], ", "chips [S2] and oceans [S3]."}}
	h := newHarness(t, snapshot3(), streamer, nil, nil, nil)

	events := h.orchestrator.HandleMessage(context.Background(), h.session, "what's in my digest?")
	text, complete, errEvent := collect(t, events)

	require.Nil(t, errEvent)
	require.NotNil(t, complete)
	assert.Contains(t, text, "fusion [S1]")

	require.LessOrEqual(t, len(complete.Citations), 3)
	snapshotIDs := map[string]bool{"item-1": true, "item-2": true, "item-3": true}
	for _, c := range complete.Citations {
		assert.True(t, snapshotIDs[c.SourceID], "citation %s must come from the snapshot", c.SourceID)
	}

	turns, err := h.store.ListTurns(context.Background(), "sess-1", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, types.RoleUser, turns[0].Role)
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
	assert.Empty(t, turns[1].ToolsAttempted, "answer-from-context selects no tools")
	assert.Equal(t, []string{"item-1", "item-2", "item-3"}, turns[1].SourceIDs)
	assert.Greater(t, turns[1].TokensOut, 0)
}

func TestTurnLinkExtractionFailureScenario(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	registry := tools.NewRegistry(tools.NewLinkExtractionTool(time.Second))
	streamer := &fakeStreamer{chunks: []string{"I could not read that page, sorry."}}
	h := newHarness(t, nil, streamer, nil, registry, nil)

	events := h.orchestrator.HandleMessage(context.Background(), h.session,
		"what does "+srv.URL+"/article say?")
	text, complete, errEvent := collect(t, events)

	require.Nil(t, errEvent)
	require.NotNil(t, complete)
	assert.NotEmpty(t, text)
	assert.Empty(t, complete.Citations)

	turns, err := h.store.ListTurns(context.Background(), "sess-1", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, []string{tools.CapabilityLinkExtraction}, turns[1].ToolsAttempted)
	assert.Empty(t, turns[1].ToolsSucceeded)
	assert.Empty(t, turns[1].Error, "tool failure must not flag the turn as errored")
}

func TestTurnLongTermTimeoutStillCompletes(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	slow := &slowLongTerm{LongTermStore: store, delay: time.Second}
	longterm := memory.NewLongTerm(slow, fakeEmbedder{}, 50*time.Millisecond)

	streamer := &fakeStreamer{chunks: []string{"Here is what I know without your history."}}
	h := newHarness(t, nil, streamer, longterm, nil, nil)

	events := h.orchestrator.HandleMessage(context.Background(), h.session, "tell me more about espresso brewing")
	_, complete, errEvent := collect(t, events)

	require.Nil(t, errEvent)
	require.NotNil(t, complete, "turn must complete despite long-term timeout")

	turns, err := h.store.ListTurns(context.Background(), "sess-1", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Contains(t, turns[1].ToolsAttempted, tools.CapabilityRetrieval)
	assert.NotContains(t, turns[1].ToolsSucceeded, tools.CapabilityRetrieval)
}

func TestTurnExploreRetrievesUntaggedRecords(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"Grind finer and slow the pull [S1]."}}
	h := newHarness(t, nil, streamer, nil, nil, nil)

	ctx := context.Background()
	require.NoError(t, h.store.Write(ctx, &types.LongTermRecord{
		ID: "rec-espresso", UserID: "user-1", Kind: types.RecordContent,
		Title:     "Espresso brewing notes",
		Text:      "Espresso brewing techniques and grind size adjustments",
		Embedding: []float32{1, 0},
		CreatedAt: time.Now().UTC(),
	}))

	// The capitalized subject must not become a topic filter that excludes
	// records carrying no topic labels.
	events := h.orchestrator.HandleMessage(ctx, h.session, "tell me more about Espresso brewing")
	_, complete, errEvent := collect(t, events)

	require.Nil(t, errEvent)
	require.NotNil(t, complete)
	require.Len(t, complete.Citations, 1)
	assert.Equal(t, "rec-espresso", complete.Citations[0].SourceID)

	turns, err := h.store.ListTurns(ctx, "sess-1", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Contains(t, turns[1].ToolsSucceeded, tools.CapabilityRetrieval)
	assert.Equal(t, []string{"rec-espresso"}, turns[1].SourceIDs)
}

func TestTurnPreferenceTopicsScopeRetrieval(t *testing.T) {
	prefs := memory.NewPreferenceContext(&fakePrefsProvider{
		prefs: &types.Preferences{UserID: "user-1", Topics: []string{"coffee"}},
	})
	streamer := &fakeStreamer{chunks: []string{"Pressure profiling changes extraction [S1]."}}
	h := newHarness(t, nil, streamer, nil, nil, prefs)

	ctx := context.Background()
	require.NoError(t, h.store.Write(ctx, &types.LongTermRecord{
		ID: "rec-coffee", UserID: "user-1", Kind: types.RecordContent,
		Title:     "Pressure profiling",
		Text:      "espresso machines and pressure profiling",
		Topics:    []string{"coffee"},
		Embedding: []float32{1, 0},
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, h.store.Write(ctx, &types.LongTermRecord{
		ID: "rec-market", UserID: "user-1", Kind: types.RecordContent,
		Title:     "Commodity report",
		Text:      "espresso bean futures rallied last month",
		Topics:    []string{"finance"},
		Embedding: []float32{1, 0},
		CreatedAt: time.Now().UTC(),
	}))

	events := h.orchestrator.HandleMessage(ctx, h.session, "tell me more about espresso")
	_, complete, errEvent := collect(t, events)

	require.Nil(t, errEvent)
	require.NotNil(t, complete)
	require.Len(t, complete.Citations, 1)
	assert.Equal(t, "rec-coffee", complete.Citations[0].SourceID,
		"retrieval must stay within the user's preferred topics")
}

func TestTurnGenerationRetriesThenFails(t *testing.T) {
	streamer := &fakeStreamer{err: errors.New("backend down")}
	h := newHarness(t, nil, streamer, nil, nil, nil)
	h.orchestrator.opts.BaseBackoff = time.Millisecond

	events := h.orchestrator.HandleMessage(context.Background(), h.session, "hello")
	_, complete, errEvent := collect(t, events)

	assert.Nil(t, complete)
	require.NotNil(t, errEvent)

	turns, err := h.store.ListTurns(context.Background(), "sess-1", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.NotEmpty(t, turns[1].Error, "failed generation must be recorded on the turn")
}

func TestTurnCancellationRecordsPartialTurn(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"partial ", "never sent"}, block: true}
	h := newHarness(t, nil, streamer, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events := h.orchestrator.HandleMessage(ctx, h.session, "hello")

	first := <-events
	assert.Equal(t, EventChunk, first.Type)
	cancel()
	collect(t, events)

	// The commit runs on a detached context; give it a beat.
	require.Eventually(t, func() bool {
		turns, err := h.store.ListTurns(context.Background(), "sess-1", storage.ListOptions{Limit: 10})
		return err == nil && len(turns) == 2
	}, 2*time.Second, 10*time.Millisecond)

	turns, err := h.store.ListTurns(context.Background(), "sess-1", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.True(t, turns[1].Incomplete, "cancelled turn must be recorded incomplete")
	assert.Equal(t, "partial ", turns[1].Content)
}

func TestConcurrentMessagesKeepSequenceGapless(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"ok"}}
	h := newHarness(t, nil, streamer, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			events := h.orchestrator.HandleMessage(context.Background(), h.session, fmt.Sprintf("message %d", i))
			collect(t, events)
		}(i)
	}
	wg.Wait()

	turns, err := h.store.ListTurns(context.Background(), "sess-1", storage.ListOptions{Limit: 100})
	require.NoError(t, err)
	require.Len(t, turns, 8)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.Seq, "sequence must be gapless under concurrency")
	}
}
