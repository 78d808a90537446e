package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// Citation is one resolved source reference in a finished response.
type Citation struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
}

var citationMarker = regexp.MustCompile(`\[(S\d+)\]`)

// ExtractCitations resolves the inline [Sn] markers in the response text
// against the sources that were actually assembled into the context. Markers
// naming labels absent from the context resolve to nothing, so every emitted
// citation is backed by real context.
func ExtractCitations(text string, sources []ContextSource) []Citation {
	byLabel := make(map[string]ContextSource, len(sources))
	for _, src := range sources {
		byLabel[src.Label] = src
	}

	var citations []Citation
	seen := make(map[string]bool)
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		src, ok := byLabel[m[1]]
		if !ok || seen[src.ID] {
			continue
		}
		seen[src.ID] = true
		citations = append(citations, Citation{SourceID: src.ID, Title: src.Title, URL: src.URL})
	}
	return citations
}

// maxFollowUps bounds the suggestion list on a completed turn.
const maxFollowUps = 3

// DeriveFollowUps proposes next questions from the intent and from sources
// that were in context but went uncited. The list is best-effort and may be
// empty.
func DeriveFollowUps(intent Intent, sources []ContextSource, citations []Citation) []string {
	cited := make(map[string]bool, len(citations))
	for _, c := range citations {
		cited[c.SourceID] = true
	}

	var followUps []string
	add := func(q string) {
		if len(followUps) < maxFollowUps {
			followUps = append(followUps, q)
		}
	}

	for _, src := range sources {
		if cited[src.ID] || strings.TrimSpace(src.Title) == "" {
			continue
		}
		add(fmt.Sprintf("Want to hear about %q as well?", clip(src.Title, 80)))
		if len(followUps) == maxFollowUps {
			return followUps
		}
	}

	switch intent.Kind {
	case IntentAnswerFromContext:
		add("Should I go deeper on any of these items?")
	case IntentExploreTopic, IntentCompare:
		if len(intent.Entities) > 0 {
			add(fmt.Sprintf("Want related items from your history on %s?", intent.Entities[0]))
		} else {
			add("Want me to search your history for related items?")
		}
	case IntentFindRelated:
		add("Should I look for the latest coverage on this?")
	case IntentGeneral:
		add("Want a summary of today's digest?")
	}
	return followUps
}
