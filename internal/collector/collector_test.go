package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/provider"
	"github.com/pulsewire/harvester/internal/quota"
)

type stubProvider struct {
	name       string
	candidates []provider.Candidate
	err        error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(_ context.Context, _ provider.SearchRequest) ([]provider.Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

func newTestCollector(t *testing.T, ceilings map[string]int, providers ...provider.Provider) *Collector {
	t.Helper()

	registry := provider.NewRegistry()
	for _, p := range providers {
		if err := registry.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.Name(), err)
		}
	}
	return New(registry, quota.NewTracker(ceilings), zerolog.Nop())
}

func TestCollectMergesProviders(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t,
		map[string]int{"newsapi": 10, "gdelt": 10},
		&stubProvider{name: "newsapi", candidates: []provider.Candidate{
			{Provider: "newsapi", Title: "One", URL: "https://a.example/1"},
		}},
		&stubProvider{name: "gdelt", candidates: []provider.Candidate{
			{Provider: "gdelt", Title: "Two", URL: "https://b.example/2"},
			{Provider: "gdelt", Title: "Three", URL: "https://b.example/3"},
		}},
	)

	result, err := c.Collect(context.Background(), Request{
		Query:     "fed OR rates",
		Providers: []string{"newsapi", "gdelt"},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if len(result.Candidates) != 3 {
		t.Fatalf("expected 3 merged candidates, got %d", len(result.Candidates))
	}
	if result.Attempted != 2 || result.Succeeded != 2 {
		t.Fatalf("unexpected attempt accounting: %+v", result)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("expected no failures, got %+v", result.Failures)
	}
}

func TestCollectPartialFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t,
		map[string]int{"newsapi": 10, "gdelt": 10},
		&stubProvider{name: "newsapi", err: fmt.Errorf("upstream 500")},
		&stubProvider{name: "gdelt", candidates: []provider.Candidate{
			{Provider: "gdelt", Title: "Still Here", URL: "https://b.example/1"},
		}},
	)

	result, err := c.Collect(context.Background(), Request{
		Query:     "anything",
		Providers: []string{"newsapi", "gdelt"},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("partial failure must not be fatal, got %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected survivor candidates, got %d", len(result.Candidates))
	}
	if len(result.Failures) != 1 || result.Failures[0].Provider != "newsapi" {
		t.Fatalf("expected one newsapi failure, got %+v", result.Failures)
	}
}

func TestCollectAllProvidersFailed(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t,
		map[string]int{"newsapi": 10, "gdelt": 10},
		&stubProvider{name: "newsapi", err: fmt.Errorf("boom")},
		&stubProvider{name: "gdelt", err: fmt.Errorf("bust")},
	)

	_, err := c.Collect(context.Background(), Request{
		Query:     "anything",
		Providers: []string{"newsapi", "gdelt"},
		Limit:     10,
	})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestCollectSkipsExhaustedQuota(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t,
		map[string]int{"newsapi": 0, "gdelt": 10},
		&stubProvider{name: "newsapi", candidates: []provider.Candidate{
			{Provider: "newsapi", Title: "Never Fetched", URL: "https://a.example/1"},
		}},
		&stubProvider{name: "gdelt", candidates: []provider.Candidate{
			{Provider: "gdelt", Title: "Fetched", URL: "https://b.example/1"},
		}},
	)

	result, err := c.Collect(context.Background(), Request{
		Query:     "anything",
		Providers: []string{"newsapi", "gdelt"},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Provider != "gdelt" {
		t.Fatalf("expected only gdelt candidates, got %+v", result.Candidates)
	}
	if len(result.Failures) != 1 || !result.Failures[0].QuotaSkipped {
		t.Fatalf("expected a quota-skipped failure, got %+v", result.Failures)
	}
	// A quota skip is not an attempted call.
	if result.Attempted != 1 {
		t.Fatalf("expected 1 attempted call, got %d", result.Attempted)
	}
}

func TestCollectValidatesRequest(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t, map[string]int{"newsapi": 10},
		&stubProvider{name: "newsapi"})

	if _, err := c.Collect(context.Background(), Request{Providers: []string{"newsapi"}}); err == nil {
		t.Fatalf("expected error for empty query")
	}
	if _, err := c.Collect(context.Background(), Request{Query: "x"}); err == nil {
		t.Fatalf("expected error for empty provider list")
	}
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	got := BuildQuery([]string{`"climate policy" EU`, "", "  carbon tax  "})
	want := `"climate policy" EU OR carbon tax`
	if got != want {
		t.Fatalf("BuildQuery = %q, want %q", got, want)
	}
}
