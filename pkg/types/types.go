// Package types defines the core domain types shared across the Brieflens
// agent: chat sessions, turns, digest snapshots, and long-term records.
package types

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus represents the lifecycle status of a chat session.
type SessionStatus string

const (
	// SessionActive means the session accepts new messages.
	SessionActive SessionStatus = "active"

	// SessionEnded means the session was closed and summarized.
	// Ended sessions reject new messages but their turn log remains readable.
	SessionEnded SessionStatus = "ended"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is one chat conversation owned by a single user.
// A session may be pinned to a digest snapshot via ContextRef; the snapshot
// is loaded once on the first turn and never refreshed for the session's
// lifetime, even if the digest is re-curated upstream.
type Session struct {
	// ID is the unique session identifier (UUID).
	ID string `json:"id"`

	// UserID is the owning user. Long-term retrieval is scoped to this user.
	UserID string `json:"user_id"`

	// ContextRef optionally pins the session to a specific digest batch.
	// Empty means the session has no digest context.
	ContextRef string `json:"context_ref,omitempty"`

	// Status is the lifecycle status (active or ended).
	Status SessionStatus `json:"status"`

	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Validate checks that the session has the required fields.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	if s.UserID == "" {
		return fmt.Errorf("session user ID is required")
	}
	if s.Status != SessionActive && s.Status != SessionEnded {
		return fmt.Errorf("invalid session status %q", s.Status)
	}
	return nil
}

// Turn is one persisted message within a session. Turns are immutable once
// written and append-only per session: Seq is strictly increasing and
// gapless, assigned by the turn store at append time.
type Turn struct {
	// ID is the unique turn identifier (UUID).
	ID string `json:"id"`

	// SessionID references the owning session.
	SessionID string `json:"session_id"`

	// Seq is the 1-based position of this turn within the session.
	Seq int `json:"seq"`

	// Role is who authored the turn (user or assistant).
	Role Role `json:"role"`

	// Content is the message text. For assistant turns recorded after a
	// mid-stream disconnect this holds the partial text produced so far.
	Content string `json:"content"`

	// ToolsAttempted lists the capability names dispatched for this turn.
	ToolsAttempted []string `json:"tools_attempted,omitempty"`

	// ToolsSucceeded lists the subset of ToolsAttempted that returned a result.
	ToolsSucceeded []string `json:"tools_succeeded,omitempty"`

	// SourceIDs lists the stable source identifiers cited in the response.
	SourceIDs []string `json:"source_ids,omitempty"`

	// LatencyMS is the wall-clock duration of the turn in milliseconds.
	// Zero for user turns.
	LatencyMS int64 `json:"latency_ms,omitempty"`

	// TokensOut approximates the generated token count. Zero for user turns.
	TokensOut int `json:"tokens_out,omitempty"`

	// Error holds a terminal error description when generation exhausted its
	// retries. The turn is still recorded.
	Error string `json:"error,omitempty"`

	// Incomplete marks an assistant turn whose stream was cancelled by the
	// caller before completion.
	Incomplete bool `json:"incomplete,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the turn has the required fields.
// Seq is assigned by the store, so zero is accepted here.
func (t *Turn) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("turn ID is required")
	}
	if t.SessionID == "" {
		return fmt.Errorf("turn session ID is required")
	}
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return fmt.Errorf("invalid turn role %q", t.Role)
	}
	return nil
}

// DigestItem is one curated item inside a digest snapshot.
type DigestItem struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Source  string   `json:"source"`
	URL     string   `json:"url"`
	Tags    []string `json:"tags,omitempty"`
	Score   float64  `json:"score"`
}

// DigestSnapshot is an immutable bundle of curated items bound to a session.
// It is read-only for the session's lifetime.
type DigestSnapshot struct {
	ContextRef  string       `json:"context_ref"`
	Items       []DigestItem `json:"items"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Preferences is the per-user preference context maintained by the upstream
// personalization service. Topics narrow long-term retrieval to the user's
// preferred subjects.
type Preferences struct {
	UserID    string    `json:"user_id"`
	Topics    []string  `json:"topics,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordKind distinguishes the two kinds of long-term records.
type RecordKind string

const (
	// RecordContent is an ingested content item written by the external
	// ingestion pipeline. The agent only reads these.
	RecordContent RecordKind = "content"

	// RecordSummary is a conversation summary written at session end.
	RecordSummary RecordKind = "conversation_summary"
)

// LongTermRecord is a durable, per-user, embedding-indexed record: either an
// ingested content item or a conversation summary. Records never cross user
// boundaries.
type LongTermRecord struct {
	// ID is the unique record identifier.
	ID string `json:"id"`

	// UserID scopes the record to one owning user.
	UserID string `json:"user_id"`

	// Kind is content or conversation_summary.
	Kind RecordKind `json:"kind"`

	// Text is the searchable body of the record.
	Text string `json:"text"`

	// Title is an optional display title (content records usually have one).
	Title string `json:"title,omitempty"`

	// URL is an optional source link for content records.
	URL string `json:"url,omitempty"`

	// Topics are coarse subject labels used for filter-biased retrieval.
	Topics []string `json:"topics,omitempty"`

	// SourceIDs lists item ids referenced by a conversation summary.
	SourceIDs []string `json:"source_ids,omitempty"`

	// Embedding is the vector representation of Text. May be nil when
	// embedding generation failed; such records remain lexically searchable.
	Embedding []float32 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the record has the required fields.
func (r *LongTermRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record ID is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("record user ID is required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("record text is required")
	}
	if r.Kind != RecordContent && r.Kind != RecordSummary {
		return fmt.Errorf("invalid record kind %q", r.Kind)
	}
	return nil
}
