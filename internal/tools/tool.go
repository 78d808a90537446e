// Package tools implements the capability-typed actions the orchestrator can
// dispatch during a turn: long-term retrieval, live web search, link-content
// extraction, and related-item discovery. Every tool shares one contract and
// failures are always typed results, never panics or aborted turns.
package tools

import (
	"context"
	"fmt"
)

// Capability names. These are the values recorded on turns and used by the
// orchestrator's selection rules.
const (
	CapabilityRetrieval      = "retrieval"
	CapabilityLiveSearch     = "live_search"
	CapabilityLinkExtraction = "link_extraction"
	CapabilityRelatedItems   = "related_items"
)

// Args carries the per-turn inputs a tool may need. Each tool reads only the
// fields relevant to its capability.
type Args struct {
	// UserID scopes retrieval-backed tools to the owning user.
	UserID string

	// Query is the user's message text (or the derived search query).
	Query string

	// Topics bias retrieval filters from the user's preferences.
	Topics []string

	// URLs are links extracted from the user's message.
	URLs []string

	// SeedID is the long-term record the conversation is about, for
	// related-item discovery.
	SeedID string

	// TopK bounds result counts for retrieval-style tools.
	TopK int
}

// Source is one citable source produced by a tool. ID is the stable source
// identifier carried through context assembly into citations.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Result is the outcome of one tool invocation. Exactly one of Sources/Err
// is meaningful: a failed invocation carries Err and no sources.
type Result struct {
	Capability string
	Sources    []Source
	Err        *ToolError
}

// OK reports whether the invocation produced a usable result.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil
}

// ToolError is a typed, per-tool failure. It is recorded on the turn and
// never aborts the turn.
type ToolError struct {
	Capability string
	Kind       string // "timeout", "fetch_failed", "unavailable", "bad_input"
	Message    string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed (%s): %s", e.Capability, e.Kind, e.Message)
}

// Tool is a named capability with a uniform invocation contract.
// Invoke returns a typed error Result for expected failures; the error
// return is reserved for programmer mistakes (nil args and the like).
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args Args) *Result
}

// failure builds a failed Result for the given capability.
func failure(capability, kind string, err error) *Result {
	return &Result{
		Capability: capability,
		Err: &ToolError{
			Capability: capability,
			Kind:       kind,
			Message:    err.Error(),
		},
	}
}
