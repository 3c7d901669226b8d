package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	webRequestTimeout = 30 * time.Second
	maxPageTextChars  = 8000
)

//nolint:gochecknoglobals // compiled once
var (
	scriptBlockRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// WebSearchTool queries the configured search endpoint and returns result
// snippets plus the readable text of the top hits.
type WebSearchTool struct {
	tc   *Context
	http *http.Client
}

// NewWebSearchTool creates the web_search tool.
func NewWebSearchTool(tc *Context) *WebSearchTool {
	return &WebSearchTool{
		tc:   tc,
		http: &http.Client{Timeout: webRequestTimeout},
	}
}

// Name returns the tool name.
func (t *WebSearchTool) Name() string { return ToolWebSearch }

// Definition returns the tool definition for the LLM.
func (t *WebSearchTool) Definition() Definition {
	return Definition{
		Name:        ToolWebSearch,
		Description: "Search the web and return result titles, URLs and the readable text of the top pages.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {
					Type:        "string",
					Description: "Search query.",
				},
			},
			Required: []string{"query"},
		},
	}
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Exec runs the search.
func (t *WebSearchTool) Exec(ctx context.Context, args map[string]any) (*Result, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	if !t.tc.Web.Enabled() {
		return nil, fmt.Errorf("web search is not configured")
	}

	results, err := t.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Result{Response: "No results."}, nil
	}

	maxResults := t.tc.Web.MaxResults
	if maxResults <= 0 {
		maxResults = 3
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString(r.Snippet + "\n")
		}
		if text := t.fetchPageText(ctx, r.URL); text != "" {
			b.WriteString(text + "\n")
		}
		b.WriteString("\n")
	}
	return &Result{Response: strings.TrimSpace(b.String())}, nil
}

func (t *WebSearchTool) search(ctx context.Context, query string) ([]searchResult, error) {
	endpoint := t.tc.Web.Endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	if t.tc.Web.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.tc.Web.APIKey)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Results []searchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return payload.Results, nil
}

// fetchPageText downloads a result page and reduces it to readable text.
// Failures return "" so a dead link never fails the whole search.
func (t *WebSearchTool) fetchPageText(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return ""
	}

	text := extractReadableText(body, pageURL)
	if len(text) > maxPageTextChars {
		text = text[:maxPageTextChars] + "..."
	}
	return text
}

// extractReadableText prefers the readability extraction and falls back to
// stripping tags when the page has no recognizable article structure.
func extractReadableText(body []byte, pageURL string) string {
	if u, err := url.Parse(pageURL); err == nil {
		if article, err := readability.FromReader(strings.NewReader(string(body)), u); err == nil {
			if text := collapseWhitespace(article.TextContent); text != "" {
				return text
			}
		}
	}
	return StripHTML(string(body))
}

// StripHTML removes script and style blocks, strips the remaining tags,
// decodes entities and collapses whitespace.
func StripHTML(s string) string {
	s = scriptBlockRe.ReplaceAllString(s, " ")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return collapseWhitespace(s)
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
