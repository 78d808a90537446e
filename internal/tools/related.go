package tools

import (
	"context"
	"errors"

	"github.com/brieflens/brieflens/internal/memory"
	"github.com/brieflens/brieflens/internal/storage"
)

// RelatedItemsTool finds records near a seed record in embedding space. The
// seed itself never appears in the results.
type RelatedItemsTool struct {
	longterm *memory.LongTerm
}

// NewRelatedItemsTool creates the related-items capability.
func NewRelatedItemsTool(longterm *memory.LongTerm) *RelatedItemsTool {
	return &RelatedItemsTool{longterm: longterm}
}

func (t *RelatedItemsTool) Name() string { return CapabilityRelatedItems }

func (t *RelatedItemsTool) Invoke(ctx context.Context, args Args) *Result {
	if args.SeedID == "" {
		return failure(CapabilityRelatedItems, "bad_input", errors.New("no seed item to relate from"))
	}

	limit := args.TopK
	if limit < 1 {
		limit = 5
	}

	records, err := t.longterm.Nearest(ctx, args.UserID, args.SeedID, limit)
	if err != nil {
		kind := "unavailable"
		if errors.Is(err, storage.ErrNotFound) {
			kind = "bad_input"
		}
		return failure(CapabilityRelatedItems, kind, err)
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
	return &Result{Capability: CapabilityRelatedItems, Sources: sources}
}

var _ Tool = (*RelatedItemsTool)(nil)
