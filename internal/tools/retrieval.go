package tools

import (
	"context"
	"errors"

	"github.com/brieflens/brieflens/internal/memory"
)

// RetrievalTool searches the user's long-term records with hybrid retrieval.
type RetrievalTool struct {
	longterm *memory.LongTerm
}

// NewRetrievalTool creates the retrieval capability over the long-term layer.
func NewRetrievalTool(longterm *memory.LongTerm) *RetrievalTool {
	return &RetrievalTool{longterm: longterm}
}

func (t *RetrievalTool) Name() string { return CapabilityRetrieval }

// Invoke runs the fused lexical+semantic query. An unavailable long-term
// layer yields a typed failure so the orchestrator can note the gap rather
// than answer from a silently empty memory.
func (t *RetrievalTool) Invoke(ctx context.Context, args Args) *Result {
	topK := args.TopK
	if topK < 1 {
		topK = 5
	}

	filters := memory.QueryFilters{Topics: args.Topics}
	records, available := t.longterm.Query(ctx, args.UserID, args.Query, filters, topK)
	if !available {
		return failure(CapabilityRetrieval, "unavailable", errors.New("long-term memory unavailable"))
	}

	sources := make([]Source, 0, len(records))
	for _, record := range records {
		sources = append(sources, Source{
			ID:      record.ID,
			Title:   record.Title,
			URL:     record.URL,
			Snippet: snippet(record.Text, 280),
		})
	}
	return &Result{Capability: CapabilityRetrieval, Sources: sources}
}

// snippet truncates text at a rune boundary.
func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

var _ Tool = (*RetrievalTool)(nil)
