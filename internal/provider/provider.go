package provider

import (
	"context"
	"fmt"
	"time"
)

// Candidate is one raw search hit, normalized to a provider-independent shape.
// It lives only for the duration of one ingestion job.
type Candidate struct {
	Provider        string
	Title           string
	URL             string
	PublishedAt     *time.Time
	Snippet         string
	MatchedKeywords []string
}

// SearchRequest describes one provider search. Query uses a small shared
// syntax: terms are ANDed, `OR` separates alternatives, double quotes mark
// exact phrases. Adapters translate it to their own contract.
type SearchRequest struct {
	Query string
	From  time.Time
	Limit int
}

// Provider wraps one external search source.
type Provider interface {
	Name() string
	Search(ctx context.Context, req SearchRequest) ([]Candidate, error)
}

// CallError wraps a failed provider call so the collector can attribute it.
type CallError struct {
	Provider string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
