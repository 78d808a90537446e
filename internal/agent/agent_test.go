package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brieflens/brieflens/internal/tools"
	"github.com/brieflens/brieflens/pkg/types"
)

func TestClassifyIntentKinds(t *testing.T) {
	cases := []struct {
		text string
		want IntentKind
	}{
		{"what's in my digest today?", IntentAnswerFromContext},
		{"summarize my briefing", IntentAnswerFromContext},
		{"tell me more about the chip shortage", IntentExploreTopic},
		{"can you expand on that second item", IntentExploreTopic},
		{"how does Rust compare to Go for services?", IntentCompare},
		{"PostgreSQL vs MySQL", IntentCompare},
		{"show me similar articles", IntentFindRelated},
		{"anything else like this one?", IntentFindRelated},
		{"hello there", IntentGeneral},
		{"", IntentGeneral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.text).Kind, "text: %q", tc.text)
	}
}

func TestClassifyScopes(t *testing.T) {
	assert.True(t, Classify("what's the latest on the election?").HasScope(ScopeLive))
	assert.True(t, Classify("what did we discussed earlier about housing?").HasScope(ScopeHistory))
	assert.True(t, Classify("tell me more about fusion power").HasScope(ScopeExplore))
	assert.Empty(t, Classify("hello").Scopes)
}

func TestClassifyExtractsURLs(t *testing.T) {
	intent := Classify("what does https://example.com/post-1 say about this?")
	require.Len(t, intent.URLs, 1)
	assert.Equal(t, "https://example.com/post-1", intent.URLs[0])
}

func TestClassifyExtractsEntities(t *testing.T) {
	intent := Classify(`tell me more about "carbon capture" and what OpenAI Codex shipped`)
	assert.Contains(t, intent.Entities, "carbon capture")
	assert.Contains(t, intent.Entities, "OpenAI Codex")
}

func TestClassifyNeverFails(t *testing.T) {
	for _, text := range []string{"", "???", strings.Repeat("x", 100000), "\x00\x01"} {
		intent := Classify(text)
		assert.NotEmpty(t, intent.Kind)
	}
}

func TestSelectToolsDeterministic(t *testing.T) {
	cases := []struct {
		intent Intent
		want   []string
	}{
		{Intent{Kind: IntentAnswerFromContext}, nil},
		{Intent{Kind: IntentGeneral, Scopes: []string{ScopeLive}}, []string{tools.CapabilityLiveSearch}},
		{Intent{Kind: IntentGeneral, URLs: []string{"https://x"}}, []string{tools.CapabilityLinkExtraction}},
		{Intent{Kind: IntentFindRelated, Scopes: []string{ScopeExplore}}, []string{tools.CapabilityRelatedItems}},
		{Intent{Kind: IntentExploreTopic, Scopes: []string{ScopeExplore}}, []string{tools.CapabilityRetrieval}},
		{
			Intent{Kind: IntentCompare, Scopes: []string{ScopeLive, ScopeExplore}, URLs: []string{"https://x"}},
			[]string{tools.CapabilityLiveSearch, tools.CapabilityLinkExtraction, tools.CapabilityRetrieval},
		},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SelectTools(tc.intent), "intent: %+v", tc.intent)
	}
}

func TestStateTransitions(t *testing.T) {
	// Linear path with tools.
	withTools := []State{StateInitialize, StateUnderstandQuery, StateRetrieveMemory,
		StateSelectTools, StateExecuteTools, StateGenerateResponse, StateUpdateMemory, StateComplete}
	state := StateInitialize
	for i := 1; i < len(withTools); i++ {
		state = NextState(state, true)
		assert.Equal(t, withTools[i], state)
	}

	// Conditional edge: no tools selected skips EXECUTE_TOOLS.
	assert.Equal(t, StateGenerateResponse, NextState(StateSelectTools, false))
	// Terminal state absorbs.
	assert.Equal(t, StateComplete, NextState(StateComplete, true))
}

func snapshot3() *types.DigestSnapshot {
	return &types.DigestSnapshot{
		ContextRef:  "ref-1",
		GeneratedAt: time.Now().UTC(),
		Items: []types.DigestItem{
			{ID: "item-1", Title: "Fusion milestone", Summary: "net energy gain", Source: "science-daily"},
			{ID: "item-2", Title: "Chip subsidies", Summary: "new fab funding", Source: "tech-wire"},
			{ID: "item-3", Title: "Ocean cleanup", Summary: "pacific progress", Source: "enviro-news"},
		},
	}
}

func TestAssembleContextLabelsSources(t *testing.T) {
	assembled := AssembleContext(snapshot3(), nil, nil, nil, "what's in my digest?", 12000)

	require.Len(t, assembled.Sources, 3)
	assert.Equal(t, "S1", assembled.Sources[0].Label)
	assert.Equal(t, "item-1", assembled.Sources[0].ID)
	assert.Contains(t, assembled.Prompt, "[S1] Fusion milestone")
	assert.Contains(t, assembled.Prompt, "[S3] Ocean cleanup")
	assert.Contains(t, assembled.Prompt, "what's in my digest?")
}

func TestAssembleContextBudgetEvictsLowestRankedFirst(t *testing.T) {
	var retrieved []types.LongTermRecord
	for i := 0; i < 20; i++ {
		retrieved = append(retrieved, types.LongTermRecord{
			ID:    "rec-" + strings.Repeat("x", i+1),
			Title: "record",
			Text:  strings.Repeat("filler ", 60),
		})
	}
	window := []types.Turn{{Role: types.RoleUser, Content: "earlier question"}}

	assembled := AssembleContext(snapshot3(), window, retrieved, nil, "question", 1800)

	assert.LessOrEqual(t, len(assembled.Prompt), 1800)
	// The transcript ranks above retrieved records and survives the squeeze.
	assert.Contains(t, assembled.Prompt, "earlier question")
	// Citable sources shrink to what actually remains in the prompt.
	for _, src := range assembled.Sources {
		assert.Contains(t, assembled.Prompt, "["+src.Label+"]")
	}
	assert.Less(t, len(assembled.Sources), 23)
}

func TestExtractCitationsNoOrphans(t *testing.T) {
	sources := []ContextSource{
		{Label: "S1", ID: "item-1", Title: "One"},
		{Label: "S2", ID: "item-2", Title: "Two", URL: "https://two"},
	}
	text := "First [S1], then [S2] again [S2], and a fabricated [S9]."

	citations := ExtractCitations(text, sources)
	require.Len(t, citations, 2)
	assert.Equal(t, "item-1", citations[0].SourceID)
	assert.Equal(t, "item-2", citations[1].SourceID)
	assert.Equal(t, "https://two", citations[1].URL)
	for _, c := range citations {
		assert.NotEqual(t, "S9", c.SourceID)
	}
}

func TestExtractCitationsEmptyText(t *testing.T) {
	assert.Empty(t, ExtractCitations("no markers here", []ContextSource{{Label: "S1", ID: "x"}}))
}

func TestDeriveFollowUpsAtMostThree(t *testing.T) {
	sources := []ContextSource{
		{Label: "S1", ID: "a", Title: "Alpha"},
		{Label: "S2", ID: "b", Title: "Beta"},
		{Label: "S3", ID: "c", Title: "Gamma"},
		{Label: "S4", ID: "d", Title: "Delta"},
	}
	followUps := DeriveFollowUps(Intent{Kind: IntentAnswerFromContext}, sources, nil)
	assert.LessOrEqual(t, len(followUps), 3)
	assert.NotEmpty(t, followUps)
}

func TestDeriveFollowUpsSkipsCitedSources(t *testing.T) {
	sources := []ContextSource{{Label: "S1", ID: "a", Title: "Alpha"}}
	citations := []Citation{{SourceID: "a", Title: "Alpha"}}
	followUps := DeriveFollowUps(Intent{Kind: IntentGeneral}, sources, citations)
	for _, q := range followUps {
		assert.NotContains(t, q, "Alpha")
	}
}
