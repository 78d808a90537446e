package agent

import (
	"regexp"
	"strings"
)

// IntentKind is the coarse classification of a user message.
type IntentKind string

const (
	IntentAnswerFromContext IntentKind = "answer-from-context"
	IntentExploreTopic      IntentKind = "explore-topic"
	IntentCompare           IntentKind = "compare"
	IntentFindRelated       IntentKind = "find-related"
	IntentGeneral           IntentKind = "general"
)

// Retrieval scopes an intent can carry. History and explore pull in
// long-term memory; live pulls in web search.
const (
	ScopeHistory = "history"
	ScopeLive    = "live"
	ScopeExplore = "explore"
)

// Intent is the structured reading of one user message. Classification is
// heuristic and total: it always yields an intent, falling back to general.
type Intent struct {
	Kind     IntentKind
	Scopes   []string
	Entities []string
	URLs     []string
}

// HasScope reports whether the intent carries the given scope.
func (in Intent) HasScope(scope string) bool {
	for _, s := range in.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// Phrase tables for the keyword classifier. First matching kind wins, in
// specificity order: related and compare before the broader explore/context
// buckets.
var (
	relatedPhrases = []string{"related", "similar", "more like", "anything like", "else like"}
	comparePhrases = []string{"compare", " vs ", " vs. ", "versus", "difference between", "which is better"}
	explorePhrases = []string{"tell me more", "more about", "more on", "explore", "deep dive", "dig into", "expand on", "elaborate"}
	contextPhrases = []string{"my digest", "the digest", "this digest", "my briefing", "in my feed", "today's items", "what's in", "what is in", "summarize", "summarise"}

	livePhrases    = []string{"latest", "breaking", "current", "right now", "this week", "today", "recent news", "search the web", "look up", "up to date"}
	historyPhrases = []string{"we talked", "we discussed", "earlier", "last time", "last session", "previously", "you mentioned", "you said", "remember when"}
)

// Classify derives an Intent from the raw message text. It never fails:
// text matching nothing classifies as general with no scopes.
func Classify(text string) Intent {
	lower := strings.ToLower(text)

	intent := Intent{
		Kind:     IntentGeneral,
		URLs:     urlPattern.FindAllString(text, -1),
		Entities: extractEntities(text),
	}

	switch {
	case matchesAny(lower, relatedPhrases):
		intent.Kind = IntentFindRelated
	case matchesAny(lower, comparePhrases):
		intent.Kind = IntentCompare
	case matchesAny(lower, explorePhrases):
		intent.Kind = IntentExploreTopic
	case matchesAny(lower, contextPhrases):
		intent.Kind = IntentAnswerFromContext
	}

	if matchesAny(lower, livePhrases) {
		intent.Scopes = append(intent.Scopes, ScopeLive)
	}
	if matchesAny(lower, historyPhrases) {
		intent.Scopes = append(intent.Scopes, ScopeHistory)
	}
	if intent.Kind == IntentExploreTopic || intent.Kind == IntentFindRelated || intent.Kind == IntentCompare {
		intent.Scopes = append(intent.Scopes, ScopeExplore)
	}

	return intent
}

func matchesAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

var quotedPattern = regexp.MustCompile(`"([^"]{2,80})"`)

// extractEntities pulls quoted phrases and mid-sentence capitalized word
// runs. Crude, but entities only bias retrieval filters and follow-ups.
func extractEntities(text string) []string {
	var entities []string
	seen := make(map[string]bool)
	add := func(e string) {
		e = strings.TrimSpace(e)
		if e == "" || seen[strings.ToLower(e)] {
			return
		}
		seen[strings.ToLower(e)] = true
		entities = append(entities, e)
	}

	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	words := strings.Fields(urlPattern.ReplaceAllString(text, " "))
	var run []string
	for i, word := range words {
		trimmed := strings.Trim(word, ".,;:!?()[]")
		if i > 0 && len(trimmed) > 1 && trimmed[0] >= 'A' && trimmed[0] <= 'Z' {
			run = append(run, trimmed)
			continue
		}
		if len(run) > 0 {
			add(strings.Join(run, " "))
			run = nil
		}
	}
	if len(run) > 0 {
		add(strings.Join(run, " "))
	}
	return entities
}
