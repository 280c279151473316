package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	// SearchName is the tool name the model calls.
	SearchName = "web_search"

	// DuckDuckGoURL is the HTML endpoint queried by default.
	DuckDuckGoURL = "https://html.duckduckgo.com/html/"

	defaultNumResults = 5
	maxNumResults     = 10
	searchTimeout     = 10 * time.Second
	maxResponseBytes  = 2 << 20

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Search queries the DuckDuckGo HTML interface and scrapes the result list.
type Search struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// SearchOption configures a Search tool.
type SearchOption func(*Search)

// WithEndpoint overrides the search URL.
func WithEndpoint(endpoint string) SearchOption {
	return func(s *Search) { s.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) SearchOption {
	return func(s *Search) { s.client = c }
}

// WithLimiter overrides the outbound query limiter. A nil limiter disables
// rate limiting.
func WithLimiter(l *rate.Limiter) SearchOption {
	return func(s *Search) { s.limiter = l }
}

// NewSearch returns the web search tool. By default it allows one query per
// second with bursts of three.
func NewSearch(opts ...SearchOption) *Search {
	s := &Search{
		endpoint: DuckDuckGoURL,
		client:   &http.Client{Timeout: searchTimeout},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (*Search) Name() string { return SearchName }

func (*Search) Description() string {
	return "Search the web for current information. Returns titles, URLs and snippets of the top results."
}

func (*Search) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": stringParam("Search query"),
			"num_results": map[string]any{
				"type":        "integer",
				"description": "Number of results to return (1-10, default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (s *Search) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		Query      string `json:"query"`
		NumResults int    `json:"num_results"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return Errorf("Search failed: query is required")
	}
	return s.Search(ctx, params.Query, params.NumResults)
}

// Search runs query and returns up to n results, n clamped to 1-10 with
// non-positive values meaning the default of 5.
func (s *Search) Search(ctx context.Context, query string, n int) Result {
	switch {
	case n <= 0:
		n = defaultNumResults
	case n > maxNumResults:
		n = maxNumResults
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Errorf("Search failed: %v", err)
		}
	}

	results, err := s.fetch(ctx, query, n)
	if err != nil {
		return Errorf("Search failed: %v", err)
	}
	if len(results) == 0 {
		return Result{
			Status:  StatusNoResults,
			Message: "No results found for query: " + query,
		}
	}
	return Result{Status: StatusSuccess, Query: query, Results: results}
}

func (s *Search) fetch(ctx context.Context, query string, n int) ([]SearchResult, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	return parseResults(doc, n), nil
}

// parseResults collects div.result blocks in document order. Blocks without
// a title link are skipped.
func parseResults(doc *html.Node, limit int) []SearchResult {
	var out []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(out) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if r, ok := parseResult(n); ok {
				out = append(out, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func parseResult(block *html.Node) (SearchResult, bool) {
	title := findByClass(block, "a", "result__a")
	if title == nil {
		return SearchResult{}, false
	}

	r := SearchResult{
		Title: textOf(title),
		URL:   unwrapRedirect(attr(title, "href")),
	}
	if snippet := findByClass(block, "", "result__snippet"); snippet != nil {
		r.Snippet = textOf(snippet)
	}
	return r, true
}

// unwrapRedirect extracts the target of a DuckDuckGo "/l/?uddg=" link.
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" && strings.HasPrefix(u.Path, "/l") {
		return target
	}
	return href
}

func findByClass(n *html.Node, tag, class string) *html.Node {
	if n.Type == html.ElementNode && (tag == "" || n.Data == tag) && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, tag, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
