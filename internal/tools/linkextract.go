package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// linkExtractMaxChars bounds the text kept per fetched page.
const linkExtractMaxChars = 2000

// linkExtractMaxBody bounds how much of a response body is read at all.
const linkExtractMaxBody = 1 << 20 // 1 MiB

// LinkExtractionTool fetches the URLs mentioned in a message and reduces
// each page to a plain-text excerpt. An unreachable or non-HTML page is a
// typed failure, never a turn abort.
type LinkExtractionTool struct {
	client *http.Client
}

// NewLinkExtractionTool creates the link-extraction capability. timeout
// bounds each fetch; zero means 8 seconds.
func NewLinkExtractionTool(timeout time.Duration) *LinkExtractionTool {
	if timeout == 0 {
		timeout = 8 * time.Second
	}
	return &LinkExtractionTool{client: &http.Client{Timeout: timeout}}
}

func (t *LinkExtractionTool) Name() string { return CapabilityLinkExtraction }

func (t *LinkExtractionTool) Invoke(ctx context.Context, args Args) *Result {
	if len(args.URLs) == 0 {
		return failure(CapabilityLinkExtraction, "bad_input", errors.New("no URLs in message"))
	}

	var sources []Source
	var lastErr error
	for _, pageURL := range args.URLs {
		text, title, err := t.fetch(ctx, pageURL)
		if err != nil {
			lastErr = err
			continue
		}
		if title == "" {
			title = pageURL
		}
		sources = append(sources, Source{
			ID:      "link:" + pageURL,
			Title:   title,
			URL:     pageURL,
			Snippet: text,
		})
	}

	// Partial success counts as success; only an empty yield is a failure.
	if len(sources) == 0 {
		kind := "fetch_failed"
		if errors.Is(lastErr, context.DeadlineExceeded) {
			kind = "timeout"
		}
		return failure(CapabilityLinkExtraction, kind, lastErr)
	}
	return &Result{Capability: CapabilityLinkExtraction, Sources: sources}
}

func (t *LinkExtractionTool) fetch(ctx context.Context, pageURL string) (text, title string, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("link: bad url %q: %w", pageURL, err)
	}
	req.Header.Set("Accept", "text/html, text/plain")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("link: fetch %s: %w", pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("link: %s returned status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, linkExtractMaxBody))
	if err != nil {
		return "", "", fmt.Errorf("link: read %s: %w", pageURL, err)
	}

	page := string(body)
	title = extractTitle(page)
	text = truncateChars(stripTags(page), linkExtractMaxChars)
	if text == "" {
		return "", "", fmt.Errorf("link: %s yielded no text", pageURL)
	}
	return text, title, nil
}

// extractTitle pulls the <title> element, if any.
func extractTitle(page string) string {
	lower := strings.ToLower(page)
	start := strings.Index(lower, "<title")
	if start < 0 {
		return ""
	}
	open := strings.Index(lower[start:], ">")
	if open < 0 {
		return ""
	}
	start += open + 1
	end := strings.Index(lower[start:], "</title")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(page[start : start+end])
}

// stripTags reduces HTML to whitespace-normalized text. Script and style
// bodies are dropped wholesale.
func stripTags(page string) string {
	page = dropElement(page, "script")
	page = dropElement(page, "style")

	var b strings.Builder
	b.Grow(len(page) / 2)
	inTag := false
	for _, r := range page {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	fields := strings.FieldsFunc(b.String(), unicode.IsSpace)
	return strings.Join(fields, " ")
}

// dropElement removes every <name ...>...</name> block, case-insensitively.
func dropElement(page, name string) string {
	lower := strings.ToLower(page)
	openTag := "<" + name
	closeTag := "</" + name
	var b strings.Builder
	pos := 0
	for {
		start := strings.Index(lower[pos:], openTag)
		if start < 0 {
			b.WriteString(page[pos:])
			return b.String()
		}
		start += pos
		b.WriteString(page[pos:start])

		end := strings.Index(lower[start:], closeTag)
		if end < 0 {
			return b.String()
		}
		end += start
		gt := strings.Index(lower[end:], ">")
		if gt < 0 {
			return b.String()
		}
		pos = end + gt + 1
	}
}

func truncateChars(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

var _ Tool = (*LinkExtractionTool)(nil)
