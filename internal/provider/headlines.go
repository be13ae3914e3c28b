package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	headlinesDefaultTimeout = 15 * time.Second
	headlinesUserAgent      = "harvester-headlines/1.0"
)

// Headlines scrapes headline links from a configured index page and keeps the
// ones matching the search query. It is the fallback source for sites without
// a search API; only titles and links are collected here, bodies are fetched
// later by the content fetcher.
type Headlines struct {
	indexURL   string
	httpClient *http.Client
}

func NewHeadlines(indexURL string, timeout time.Duration) *Headlines {
	if timeout <= 0 {
		timeout = headlinesDefaultTimeout
	}
	return &Headlines{
		indexURL: strings.TrimSpace(indexURL),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *Headlines) Name() string { return "headlines" }

func (p *Headlines) Search(ctx context.Context, req SearchRequest) ([]Candidate, error) {
	if p == nil || p.indexURL == "" {
		return nil, &CallError{Provider: "headlines", Err: fmt.Errorf("index url is not configured")}
	}

	base, err := url.Parse(p.indexURL)
	if err != nil {
		return nil, &CallError{Provider: "headlines", Err: fmt.Errorf("parse index url: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.indexURL, nil)
	if err != nil {
		return nil, &CallError{Provider: "headlines", Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("User-Agent", headlinesUserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &CallError{Provider: "headlines", Err: fmt.Errorf("fetch index: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{Provider: "headlines", Err: fmt.Errorf("status %d fetching index", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &CallError{Provider: "headlines", Err: fmt.Errorf("parse index html: %w", err)}
	}

	limit := clampLimit(req.Limit)
	seen := make(map[string]struct{})
	candidates := make([]Candidate, 0, limit)

	doc.Find("h1 a, h2 a, h3 a, article a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(candidates) >= limit {
			return false
		}

		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		title := strings.TrimSpace(sel.Text())
		if len(title) < 10 {
			return true
		}

		matched := MatchQuery(title, req.Query)
		if len(matched) == 0 {
			return true
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Host == "" || (abs.Scheme != "http" && abs.Scheme != "https") {
			return true
		}
		link := abs.String()
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}

		candidates = append(candidates, Candidate{
			Provider:        "headlines",
			Title:           title,
			URL:             link,
			Snippet:         title,
			MatchedKeywords: matched,
		})
		return true
	})

	return candidates, nil
}

// MatchQuery evaluates the shared query syntax against a piece of text and
// returns the terms that matched, or nil when the text does not satisfy the
// query. Alternatives separated by OR; within an alternative every term and
// quoted phrase must be present.
func MatchQuery(text, query string) []string {
	haystack := strings.ToLower(text)
	for _, alternative := range splitQueryAlternatives(query) {
		terms := splitQueryTerms(alternative)
		if len(terms) == 0 {
			continue
		}
		allFound := true
		for _, term := range terms {
			if !strings.Contains(haystack, strings.ToLower(term)) {
				allFound = false
				break
			}
		}
		if allFound {
			return terms
		}
	}
	return nil
}

func splitQueryAlternatives(query string) []string {
	parts := strings.Split(query, " OR ")
	alternatives := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			alternatives = append(alternatives, trimmed)
		}
	}
	return alternatives
}

// splitQueryTerms tokenizes one alternative into bare terms and quoted phrases.
func splitQueryTerms(alternative string) []string {
	terms := make([]string, 0, 4)
	remaining := alternative
	for {
		start := strings.IndexByte(remaining, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(remaining[start+1:], '"')
		if end < 0 {
			break
		}
		phrase := strings.TrimSpace(remaining[start+1 : start+1+end])
		if phrase != "" {
			terms = append(terms, phrase)
		}
		remaining = remaining[:start] + " " + remaining[start+2+end:]
	}
	for _, word := range strings.Fields(remaining) {
		if word != "AND" {
			terms = append(terms, word)
		}
	}
	return terms
}
