package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	gdeltDefaultTimeout = 15 * time.Second
	gdeltTimeLayout     = "20060102150405"
)

// GDELT queries the keyless GDELT DOC 2.0 article search API.
type GDELT struct {
	endpoint   string
	httpClient *http.Client
}

func NewGDELT(endpoint string, timeout time.Duration) *GDELT {
	if timeout <= 0 {
		timeout = gdeltDefaultTimeout
	}
	return &GDELT{
		endpoint: strings.TrimSpace(endpoint),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *GDELT) Name() string { return "gdelt" }

type gdeltResponse struct {
	Articles []struct {
		Title    string `json:"title"`
		URL      string `json:"url"`
		SeenDate string `json:"seendate"`
		Snippet  string `json:"snippet"`
	} `json:"articles"`
}

func (p *GDELT) Search(ctx context.Context, req SearchRequest) ([]Candidate, error) {
	if p == nil || p.endpoint == "" {
		return nil, &CallError{Provider: "gdelt", Err: fmt.Errorf("endpoint is not configured")}
	}

	query := url.Values{}
	query.Set("query", req.Query)
	query.Set("mode", "artlist")
	query.Set("format", "json")
	query.Set("maxrecords", strconv.Itoa(clampLimit(req.Limit)))
	if !req.From.IsZero() {
		query.Set("startdatetime", req.From.UTC().Format(gdeltTimeLayout))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &CallError{Provider: "gdelt", Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &CallError{Provider: "gdelt", Err: fmt.Errorf("search request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, &CallError{Provider: "gdelt", Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{Provider: "gdelt", Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(body))}
	}

	var payload gdeltResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &CallError{Provider: "gdelt", Err: fmt.Errorf("decode response: %w", err)}
	}

	candidates := make([]Candidate, 0, len(payload.Articles))
	for _, article := range payload.Articles {
		title := strings.TrimSpace(article.Title)
		link := strings.TrimSpace(article.URL)
		if title == "" || link == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Provider:    "gdelt",
			Title:       title,
			URL:         link,
			PublishedAt: parseGDELTSeenDate(article.SeenDate),
			Snippet:     strings.TrimSpace(article.Snippet),
		})
	}
	return candidates, nil
}

func parseGDELTSeenDate(raw string) *time.Time {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.ReplaceAll(raw, "T", ""), "Z"))
	if trimmed == "" {
		return nil
	}
	ts, err := time.ParseInLocation(gdeltTimeLayout, trimmed, time.UTC)
	if err != nil {
		return nil
	}
	return &ts
}
