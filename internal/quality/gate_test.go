package quality

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/dedup"
	"github.com/pulsewire/harvester/internal/provider"
)

type stubScorer struct {
	score int
	err   error
}

func (s *stubScorer) Score(context.Context, string, string) (int, error) {
	return s.score, s.err
}

func candidateArticle(title, url, snippet string) dedup.Article {
	return dedup.Article{
		Primary: provider.Candidate{
			Provider: "newsapi",
			Title:    title,
			URL:      url,
			Snippet:  snippet,
		},
		CanonicalURL: url,
	}
}

func TestEvaluateHeuristicRejections(t *testing.T) {
	t.Parallel()

	gate := NewGate(&stubScorer{score: 99}, true, zerolog.Nop())

	cases := []struct {
		name    string
		article dedup.Article
	}{
		{
			name:    "empty title",
			article: candidateArticle("", "https://a.example/1", "some snippet text here"),
		},
		{
			name:    "malformed url",
			article: candidateArticle("Fine Title", "not a url", "some snippet text here"),
		},
		{
			name:    "near-empty content",
			article: candidateArticle("Hi", "https://a.example/1", ""),
		},
		{
			name:    "error page signature",
			article: candidateArticle("Fine Title", "https://a.example/1", "404 Not Found - the page you requested does not exist"),
		},
		{
			name:    "bot wall signature",
			article: candidateArticle("Fine Title", "https://a.example/1", "Please verify you are human to continue to this site"),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			verdict := gate.Evaluate(context.Background(), "economy", 60, tc.article)
			if verdict.Accepted {
				t.Fatalf("expected rejection, got %+v", verdict)
			}
			if verdict.Reason == "" {
				t.Fatalf("rejections must carry a reason")
			}
		})
	}
}

func TestEvaluateThreshold(t *testing.T) {
	t.Parallel()

	article := candidateArticle(
		"Central Bank Raises Rates",
		"https://a.example/rates",
		"The central bank raised its benchmark rate by 25 basis points on Tuesday.",
	)

	below := NewGate(&stubScorer{score: 40}, true, zerolog.Nop()).
		Evaluate(context.Background(), "monetary policy", 60, article)
	if below.Accepted {
		t.Fatalf("expected rejection below threshold, got %+v", below)
	}
	if below.Score != 40 {
		t.Fatalf("expected recorded score 40, got %d", below.Score)
	}

	at := NewGate(&stubScorer{score: 60}, true, zerolog.Nop()).
		Evaluate(context.Background(), "monetary policy", 60, article)
	if !at.Accepted {
		t.Fatalf("expected acceptance at threshold, got %+v", at)
	}
}

func TestEvaluateScorerFailureDegrades(t *testing.T) {
	t.Parallel()

	article := candidateArticle(
		"Central Bank Raises Rates",
		"https://a.example/rates",
		"The central bank raised its benchmark rate by 25 basis points on Tuesday.",
	)

	verdict := NewGate(&stubScorer{err: fmt.Errorf("model offline")}, true, zerolog.Nop()).
		Evaluate(context.Background(), "monetary policy", 60, article)

	if !verdict.Accepted {
		t.Fatalf("scorer failure must degrade to heuristic acceptance, got %+v", verdict)
	}
	if verdict.Score != ScoreUnavailable {
		t.Fatalf("expected ScoreUnavailable, got %d", verdict.Score)
	}
	if !verdict.Degraded {
		t.Fatalf("expected verdict marked degraded")
	}
}

func TestEvaluateScoringDisabled(t *testing.T) {
	t.Parallel()

	article := candidateArticle(
		"Central Bank Raises Rates",
		"https://a.example/rates",
		"The central bank raised its benchmark rate by 25 basis points on Tuesday.",
	)

	verdict := NewGate(nil, false, zerolog.Nop()).
		Evaluate(context.Background(), "monetary policy", 60, article)

	if !verdict.Accepted {
		t.Fatalf("disabled scoring must accept heuristic survivors, got %+v", verdict)
	}
	if verdict.Degraded {
		t.Fatalf("disabled scoring is not a degradation")
	}
}
