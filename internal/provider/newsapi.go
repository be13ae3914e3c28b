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

const newsAPIDefaultTimeout = 15 * time.Second

// NewsAPI queries a newsapi.org-compatible JSON search endpoint.
type NewsAPI struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewNewsAPI(endpoint, apiKey string, timeout time.Duration) *NewsAPI {
	if timeout <= 0 {
		timeout = newsAPIDefaultTimeout
	}
	return &NewsAPI{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *NewsAPI) Name() string { return "newsapi" }

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Description string `json:"description"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (p *NewsAPI) Search(ctx context.Context, req SearchRequest) ([]Candidate, error) {
	if p == nil || p.endpoint == "" {
		return nil, &CallError{Provider: "newsapi", Err: fmt.Errorf("endpoint is not configured")}
	}
	if p.apiKey == "" {
		return nil, &CallError{Provider: "newsapi", Err: fmt.Errorf("api key is not configured")}
	}

	query := url.Values{}
	query.Set("q", req.Query)
	query.Set("sortBy", "publishedAt")
	query.Set("pageSize", strconv.Itoa(clampLimit(req.Limit)))
	if !req.From.IsZero() {
		query.Set("from", req.From.UTC().Format(time.RFC3339))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &CallError{Provider: "newsapi", Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &CallError{Provider: "newsapi", Err: fmt.Errorf("search request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, &CallError{Provider: "newsapi", Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{Provider: "newsapi", Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(body))}
	}

	var payload newsAPIResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &CallError{Provider: "newsapi", Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.Status != "" && payload.Status != "ok" {
		return nil, &CallError{Provider: "newsapi", Err: fmt.Errorf("api status %s: %s", payload.Code, payload.Message)}
	}

	candidates := make([]Candidate, 0, len(payload.Articles))
	for _, article := range payload.Articles {
		title := strings.TrimSpace(article.Title)
		link := strings.TrimSpace(article.URL)
		if title == "" || link == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Provider:    "newsapi",
			Title:       title,
			URL:         link,
			PublishedAt: parsePublishedAt(article.PublishedAt),
			Snippet:     strings.TrimSpace(article.Description),
		})
	}
	return candidates, nil
}

func parsePublishedAt(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 25
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func truncateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}
