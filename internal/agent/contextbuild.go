package agent

import (
	"fmt"
	"strings"

	"github.com/brieflens/brieflens/internal/tools"
	"github.com/brieflens/brieflens/pkg/types"
)

// ContextSource is one citable source included in the assembled context,
// bound to the label the model is asked to cite it by.
type ContextSource struct {
	Label string // "S1", "S2", …
	ID    string
	Title string
	URL   string
}

// AssembledContext is the bounded context block handed to generation, plus
// the source index citations resolve against.
type AssembledContext struct {
	Prompt  string
	Sources []ContextSource
}

// budgetedSection is a context block candidate with its eviction priority.
// Higher rank evicts first when the assembly is over budget.
type budgetedSection struct {
	rank int
	text string
}

// AssembleContext builds the generation context from the three memory layers
// and the tool results, bounded by budgetChars. When over budget the
// lowest-ranked material goes first: tool/long-term sources in reverse
// retrieval order, then digest items, then the oldest transcript turns. The
// user's message and the instruction header are never evicted.
//
// Source labels are assigned in inclusion order and are stable for the turn:
// digest items first, then retrieved records, then tool sources.
func AssembleContext(
	snapshot *types.DigestSnapshot,
	window []types.Turn,
	retrieved []types.LongTermRecord,
	toolSources []tools.Source,
	userText string,
	budgetChars int,
) AssembledContext {
	if budgetChars <= 0 {
		budgetChars = 12000
	}

	var out AssembledContext
	label := func(id, title, url string) string {
		l := fmt.Sprintf("S%d", len(out.Sources)+1)
		out.Sources = append(out.Sources, ContextSource{Label: l, ID: id, Title: title, URL: url})
		return l
	}

	// Rank 0 material survives any squeeze; everything else carries the
	// rank it evicts at.
	var sections []budgetedSection

	if snapshot != nil && len(snapshot.Items) > 0 {
		var b strings.Builder
		b.WriteString("## Digest\n")
		for _, item := range snapshot.Items {
			l := label(item.ID, item.Title, item.URL)
			fmt.Fprintf(&b, "[%s] %s — %s (%s)\n", l, item.Title, item.Summary, item.Source)
		}
		sections = append(sections, budgetedSection{rank: 2, text: b.String()})
	}

	if len(retrieved) > 0 {
		var b strings.Builder
		b.WriteString("## From memory\n")
		for _, record := range retrieved {
			l := label(record.ID, record.Title, record.URL)
			fmt.Fprintf(&b, "[%s] %s: %s\n", l, record.Title, clip(record.Text, 400))
		}
		sections = append(sections, budgetedSection{rank: 3, text: b.String()})
	}

	if len(toolSources) > 0 {
		var b strings.Builder
		b.WriteString("## Tool results\n")
		for _, src := range toolSources {
			l := label(src.ID, src.Title, src.URL)
			fmt.Fprintf(&b, "[%s] %s: %s\n", l, src.Title, clip(src.Snippet, 400))
		}
		sections = append(sections, budgetedSection{rank: 3, text: b.String()})
	}

	if len(window) > 0 {
		var b strings.Builder
		b.WriteString("## Conversation so far\n")
		for _, turn := range window {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, clip(turn.Content, 600))
		}
		sections = append(sections, budgetedSection{rank: 1, text: b.String()})
	}

	header := "You are a personal digest assistant. Answer from the context below. " +
		"Cite sources inline with their bracketed labels, e.g. [S1]. " +
		"Only cite labels that appear in the context.\n\n"
	footer := "\n## Question\n" + userText + "\n"

	used := len(header) + len(footer)
	for _, s := range sections {
		used += len(s.text) + 1
	}

	// Evict highest rank first, trimming lines off the section's tail until
	// the assembly fits.
	for rank := 3; rank >= 1 && used > budgetChars; rank-- {
		for i := len(sections) - 1; i >= 0 && used > budgetChars; i-- {
			if sections[i].rank != rank {
				continue
			}
			lines := strings.Split(strings.TrimRight(sections[i].text, "\n"), "\n")
			for len(lines) > 1 && used > budgetChars {
				used -= len(lines[len(lines)-1]) + 1
				lines = lines[:len(lines)-1]
			}
			sections[i].text = strings.Join(lines, "\n") + "\n"
			if len(lines) == 1 { // only the section heading left
				used -= len(sections[i].text) + 1
				sections[i].text = ""
			}
		}
	}

	var b strings.Builder
	b.WriteString(header)
	for _, s := range sections {
		if s.text == "" {
			continue
		}
		b.WriteString(s.text)
		b.WriteString("\n")
	}
	b.WriteString(footer)
	out.Prompt = b.String()

	// Budget trimming may have dropped labelled lines; only sources whose
	// label survived into the prompt stay citable.
	kept := out.Sources[:0]
	for _, src := range out.Sources {
		if strings.Contains(out.Prompt, "["+src.Label+"]") {
			kept = append(kept, src)
		}
	}
	out.Sources = kept
	return out
}

func clip(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
