package memory

import (
	"context"
	"log"
	"time"

	"github.com/brieflens/brieflens/internal/fusion"
	"github.com/brieflens/brieflens/internal/llm"
	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/pkg/types"
)

// QueryFilters bias a long-term query. Zero values mean no filter.
type QueryFilters struct {
	Topics       []string
	Kind         types.RecordKind
	CreatedAfter time.Time
}

// LongTerm is the durable memory layer. It is the only layer doing network
// or database I/O on the hot path, so every query is bounded by a timeout;
// on expiry it reports empty results and unavailability instead of failing
// the caller's turn.
type LongTerm struct {
	store    storage.LongTermStore
	embedder llm.EmbeddingGenerator
	timeout  time.Duration
}

// NewLongTerm creates the long-term layer. timeout bounds each query; zero
// means 2 seconds.
func NewLongTerm(store storage.LongTermStore, embedder llm.EmbeddingGenerator, timeout time.Duration) *LongTerm {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &LongTerm{store: store, embedder: embedder, timeout: timeout}
}

// Query runs hybrid retrieval over the user's records: a lexical and a
// semantic search execute concurrently, each asking for 2×topK candidates,
// and the two lists merge via Reciprocal Rank Fusion.
//
// The second return value reports layer availability. Individual search-arm
// failures degrade to an empty arm (the other arm still contributes); only
// a deadline expiry or both arms failing marks the layer unavailable.
func (l *LongTerm) Query(ctx context.Context, userID, text string, filters QueryFilters, topK int) ([]types.LongTermRecord, bool) {
	if topK < 1 {
		topK = 5
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	opts := storage.SearchOptions{
		Limit:         2 * topK,
		Topics:        filters.Topics,
		Kind:          string(filters.Kind),
		CreatedAfter:  filters.CreatedAfter,
		FuzzyFallback: true,
	}

	type arm struct {
		records []types.LongTermRecord
		err     error
	}
	lexicalCh := make(chan arm, 1)
	semanticCh := make(chan arm, 1)

	go func() {
		records, err := l.store.LexicalSearch(ctx, userID, text, opts)
		lexicalCh <- arm{records, err}
	}()
	go func() {
		vector, err := l.embedder.Embed(ctx, text)
		if err != nil {
			// No embedding, no semantic arm. Lexical still covers the query.
			semanticCh <- arm{nil, err}
			return
		}
		records, err := l.store.SemanticSearch(ctx, userID, vector, opts)
		semanticCh <- arm{records, err}
	}()

	var lexical, semantic arm
	for i := 0; i < 2; i++ {
		select {
		case lexical = <-lexicalCh:
		case semantic = <-semanticCh:
		case <-ctx.Done():
			log.Printf("Warning: long-term query timed out for user %s: %v", userID, ctx.Err())
			return nil, false
		}
	}

	if lexical.err != nil {
		log.Printf("Warning: long-term lexical search failed: %v", lexical.err)
	}
	if semantic.err != nil {
		log.Printf("Warning: long-term semantic search failed: %v", semantic.err)
	}
	if lexical.err != nil && semantic.err != nil {
		return nil, false
	}

	return fusion.Fuse(lexical.records, semantic.records, fusion.DefaultK, topK), true
}

// Nearest returns records closest to the seed record's embedding, excluding
// the seed. Bounded by the layer timeout.
func (l *LongTerm) Nearest(ctx context.Context, userID, seedID string, limit int) ([]types.LongTermRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.Nearest(ctx, userID, seedID, limit)
}

// Write persists a record, generating its embedding first when missing.
// Embedding failure is tolerated: the record is written without a vector
// and remains lexically searchable.
func (l *LongTerm) Write(ctx context.Context, record *types.LongTermRecord) error {
	if len(record.Embedding) == 0 {
		vector, err := l.embedder.Embed(ctx, record.Text)
		if err != nil {
			log.Printf("Warning: embedding failed for record %s, storing without vector: %v", record.ID, err)
		} else {
			record.Embedding = vector
		}
	}
	return l.store.Write(ctx, record)
}
