package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Indexer pushes saved articles to an external vector indexing service.
// Indexing failures are item-level errors, never fatal to a job.
type Indexer interface {
	Index(ctx context.Context, doc Document) error
}

// Document is the indexing payload for one saved article.
type Document struct {
	CanonicalURL string   `json:"canonical_url"`
	Title        string   `json:"title"`
	Topic        string   `json:"topic"`
	Body         string   `json:"body,omitempty"`
	Entities     []string `json:"entities,omitempty"`
}

// HTTPIndexer posts documents to an indexing endpoint.
type HTTPIndexer struct {
	endpoint string
	http     *http.Client
}

func NewHTTPIndexer(endpoint string) *HTTPIndexer {
	return &HTTPIndexer{
		endpoint: strings.TrimSpace(endpoint),
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPIndexer) Index(ctx context.Context, doc Document) error {
	if c == nil || c.endpoint == "" {
		return fmt.Errorf("vector indexer endpoint is not configured")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal index payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("index request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("index status %s", resp.Status)
	}
	return nil
}

// Noop ignores every document; used when no indexer is configured.
type Noop struct{}

func (Noop) Index(context.Context, Document) error { return nil }
