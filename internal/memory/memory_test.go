package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/internal/storage/sqlite"
	"github.com/brieflens/brieflens/pkg/types"
)

// fakeEmbedder returns a fixed vector, optionally failing or stalling.
type fakeEmbedder struct {
	vector []float32
	err    error
	delay  time.Duration
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embedder" }

// slowStore wraps a LongTermStore, delaying every search.
type slowStore struct {
	storage.LongTermStore
	delay time.Duration
}

func (s *slowStore) LexicalSearch(ctx context.Context, userID, query string, opts storage.SearchOptions) ([]types.LongTermRecord, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.LongTermStore.LexicalSearch(ctx, userID, query, opts)
}

func (s *slowStore) SemanticSearch(ctx context.Context, userID string, vector []float32, opts storage.SearchOptions) ([]types.LongTermRecord, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.LongTermStore.SemanticSearch(ctx, userID, vector, opts)
}

func newSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedSession(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.CreateSession(context.Background(), &types.Session{
		ID: id, UserID: "user-1", Status: types.SessionActive,
		CreatedAt: now, LastActivityAt: now,
	}))
}

var turnCounter int

func appendTurn(t *testing.T, store *sqlite.Store, sessionID string, role types.Role, content string, attempted, succeeded []string) types.Turn {
	t.Helper()
	turnCounter++
	turn := types.Turn{
		ID:             fmt.Sprintf("turn-%d", turnCounter),
		SessionID:      sessionID,
		Role:           role,
		Content:        content,
		ToolsAttempted: attempted,
		ToolsSucceeded: succeeded,
	}
	require.NoError(t, store.AppendTurn(context.Background(), &turn))
	return turn
}

func TestShortTermWindowBounded(t *testing.T) {
	w := NewShortTermWindow(3, 2)

	for i := 0; i < 5; i++ {
		w.Append(types.Turn{ID: fmt.Sprintf("t%d", i), Seq: i + 1, Content: fmt.Sprintf("msg %d", i)})
	}

	turns := w.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "t2", turns[0].ID)
	assert.Equal(t, "t4", turns[2].ID)
}

func TestShortTermWindowToolRecordsBounded(t *testing.T) {
	w := NewShortTermWindow(10, 2)

	w.Append(types.Turn{ID: "t1", Seq: 1, ToolsAttempted: []string{"retrieval", "live_search"}, ToolsSucceeded: []string{"retrieval"}})
	w.Append(types.Turn{ID: "t2", Seq: 2, ToolsAttempted: []string{"link_extraction"}})

	records := w.ToolRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "live_search", records[0].Capability)
	assert.False(t, records[0].Succeeded)
	assert.Equal(t, "link_extraction", records[1].Capability)
}

func TestShortTermWindowRebuildEqualsLive(t *testing.T) {
	store := newSQLiteStore(t)
	seedSession(t, store, "sess-1")

	live := NewShortTermWindow(4, 3)
	for i := 0; i < 9; i++ {
		var attempted, succeeded []string
		if i%3 == 0 {
			attempted = []string{"retrieval"}
			succeeded = []string{"retrieval"}
		}
		turn := appendTurn(t, store, "sess-1", types.RoleUser, fmt.Sprintf("message %d", i), attempted, succeeded)
		live.Append(turn)
	}

	rebuilt := NewShortTermWindow(4, 3)
	require.NoError(t, rebuilt.Rebuild(context.Background(), store, "sess-1"))

	liveTurns, rebuiltTurns := live.Turns(), rebuilt.Turns()
	require.Len(t, rebuiltTurns, len(liveTurns))
	for i := range liveTurns {
		assert.Equal(t, liveTurns[i].ID, rebuiltTurns[i].ID)
		assert.Equal(t, liveTurns[i].Seq, rebuiltTurns[i].Seq)
		assert.Equal(t, liveTurns[i].Content, rebuiltTurns[i].Content)
	}
	assert.Equal(t, live.ToolRecords(), rebuilt.ToolRecords())
}

func TestLongTermQueryFusesBothArms(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, &types.LongTermRecord{
		ID: "lex", UserID: "user-1", Kind: types.RecordContent,
		Text: "espresso brewing techniques", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.Write(ctx, &types.LongTermRecord{
		ID: "sem", UserID: "user-1", Kind: types.RecordContent,
		Text: "unrelated words entirely", Embedding: []float32{1, 0},
		CreatedAt: time.Now().UTC(),
	}))

	lt := NewLongTerm(store, &fakeEmbedder{vector: []float32{1, 0}}, time.Second)
	records, available := lt.Query(ctx, "user-1", "espresso brewing", QueryFilters{}, 5)

	assert.True(t, available)
	got := map[string]bool{}
	for _, r := range records {
		got[r.ID] = true
	}
	assert.True(t, got["lex"], "lexical arm result missing")
	assert.True(t, got["sem"], "semantic arm result missing")
}

func TestLongTermQueryTimeoutReportsUnavailable(t *testing.T) {
	store := newSQLiteStore(t)
	slow := &slowStore{LongTermStore: store, delay: 500 * time.Millisecond}

	lt := NewLongTerm(slow, &fakeEmbedder{vector: []float32{1, 0}}, 50*time.Millisecond)
	records, available := lt.Query(context.Background(), "user-1", "anything", QueryFilters{}, 5)

	assert.False(t, available)
	assert.Empty(t, records)
}

func TestLongTermQueryDegradesWhenEmbeddingFails(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, &types.LongTermRecord{
		ID: "lex", UserID: "user-1", Kind: types.RecordContent,
		Text: "espresso brewing techniques", CreatedAt: time.Now().UTC(),
	}))

	lt := NewLongTerm(store, &fakeEmbedder{err: errors.New("embedder down")}, time.Second)
	records, available := lt.Query(ctx, "user-1", "espresso", QueryFilters{}, 5)

	assert.True(t, available, "lexical arm alone keeps the layer available")
	require.Len(t, records, 1)
	assert.Equal(t, "lex", records[0].ID)
}

func TestLongTermWriteToleratesEmbeddingFailure(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	lt := NewLongTerm(store, &fakeEmbedder{err: errors.New("embedder down")}, time.Second)
	record := &types.LongTermRecord{
		ID: "r1", UserID: "user-1", Kind: types.RecordSummary,
		Text: "summary text", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, lt.Write(ctx, record))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, got.Embedding)
}

type fakeProvider struct {
	calls    int
	snapshot *types.DigestSnapshot
	err      error
}

func (f *fakeProvider) GetSnapshot(ctx context.Context, contextRef string) (*types.DigestSnapshot, error) {
	f.calls++
	return f.snapshot, f.err
}

func TestDigestContextCachesPerSession(t *testing.T) {
	provider := &fakeProvider{snapshot: &types.DigestSnapshot{
		ContextRef: "ref-1",
		Items:      []types.DigestItem{{ID: "item-1", Title: "One"}},
	}}
	layer := NewDigestContext(provider)

	first, err := layer.Load(context.Background(), "sess-1", "ref-1")
	require.NoError(t, err)
	second, err := layer.Load(context.Background(), "sess-1", "ref-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, provider.calls, "snapshot must be fetched once per session")
}

func TestDigestContextNoContextRef(t *testing.T) {
	provider := &fakeProvider{}
	layer := NewDigestContext(provider)

	snapshot, err := layer.Load(context.Background(), "sess-1", "")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
	assert.Zero(t, provider.calls)
}

type fakePrefsSource struct {
	calls int
	prefs *types.Preferences
	err   error
}

func (f *fakePrefsSource) GetPreferences(ctx context.Context, userID string) (*types.Preferences, error) {
	f.calls++
	return f.prefs, f.err
}

func TestPreferenceContextCachesPerSession(t *testing.T) {
	source := &fakePrefsSource{prefs: &types.Preferences{
		UserID: "user-1",
		Topics: []string{"coffee", "science"},
	}}
	layer := NewPreferenceContext(source)

	first, err := layer.Load(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	second, err := layer.Load(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, source.calls, "preferences must be fetched once per session")

	layer.Evict("sess-1")
	_, err = layer.Load(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls, "eviction must force a fresh fetch")
}

func TestPreferenceContextNilProvider(t *testing.T) {
	layer := NewPreferenceContext(nil)

	prefs, err := layer.Load(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, prefs)
}
