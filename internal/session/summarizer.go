package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brieflens/brieflens/internal/agent"
	"github.com/brieflens/brieflens/internal/llm"
	"github.com/brieflens/brieflens/internal/memory"
	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/pkg/types"
)

// summaryPageSize bounds each read of the turn log.
const summaryPageSize = 500

// Summarizer compresses an ended session's full turn log into one long-term
// record. That record is the only path by which a conversation influences
// future sessions.
type Summarizer struct {
	store     storage.TurnStore
	longterm  *memory.LongTerm
	generator llm.TextGenerator
	timeout   time.Duration
}

// NewSummarizer creates a summarizer. timeout bounds the whole summarization
// call; zero means 30 seconds.
func NewSummarizer(store storage.TurnStore, longterm *memory.LongTerm, generator llm.TextGenerator, timeout time.Duration) *Summarizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Summarizer{store: store, longterm: longterm, generator: generator, timeout: timeout}
}

// Summarize reads the session's turns, generates a compact summary, and
// writes it to long-term memory as a conversation summary scoped to the
// owning user. Sessions without any user turns produce nothing.
func (s *Summarizer) Summarize(ctx context.Context, session *types.Session) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	turns, err := s.loadTurns(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("summarize: read turn log: %w", err)
	}

	transcript, topics, sourceIDs := digestTurns(turns)
	if transcript == "" {
		return nil
	}

	prompt := "Summarize this conversation in at most five sentences. " +
		"Keep the concrete topics, conclusions, and items discussed.\n\n" + transcript
	summary, err := s.generator.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("summarize: generation: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Errorf("summarize: generation returned empty summary")
	}

	record := &types.LongTermRecord{
		ID:        uuid.New().String(),
		UserID:    session.UserID,
		Kind:      types.RecordSummary,
		Title:     summaryTitle(topics),
		Text:      summary,
		Topics:    topics,
		SourceIDs: sourceIDs,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.longterm.Write(ctx, record); err != nil {
		return fmt.Errorf("summarize: write record: %w", err)
	}
	return nil
}

func (s *Summarizer) loadTurns(ctx context.Context, sessionID string) ([]types.Turn, error) {
	var all []types.Turn
	offset := 0
	for {
		page, err := s.store.ListTurns(ctx, sessionID, storage.ListOptions{Limit: summaryPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < summaryPageSize {
			return all, nil
		}
		offset += len(page)
	}
}

// digestTurns flattens the log into a transcript and collects the topics
// and source IDs the conversation touched.
func digestTurns(turns []types.Turn) (transcript string, topics, sourceIDs []string) {
	var b strings.Builder
	seenTopic := make(map[string]bool)
	seenSource := make(map[string]bool)
	hasUser := false

	for _, turn := range turns {
		if turn.Content != "" {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		if turn.Role == types.RoleUser {
			hasUser = true
			for _, entity := range agent.Classify(turn.Content).Entities {
				key := strings.ToLower(entity)
				if !seenTopic[key] {
					seenTopic[key] = true
					topics = append(topics, entity)
				}
			}
		}
		for _, id := range turn.SourceIDs {
			if !seenSource[id] {
				seenSource[id] = true
				sourceIDs = append(sourceIDs, id)
			}
		}
	}

	if !hasUser {
		return "", nil, nil
	}
	return b.String(), topics, sourceIDs
}

func summaryTitle(topics []string) string {
	if len(topics) == 0 {
		return "Conversation summary"
	}
	if len(topics) > 3 {
		topics = topics[:3]
	}
	return "Conversation about " + strings.Join(topics, ", ")
}
