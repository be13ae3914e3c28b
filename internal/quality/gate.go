package quality

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/dedup"
)

// ScoreUnavailable marks a verdict whose relevance score could not be
// obtained; the candidate passed on heuristics alone.
const ScoreUnavailable = -1

// Scorer rates how relevant a text is to a topic, 0-100.
type Scorer interface {
	Score(ctx context.Context, topic, text string) (int, error)
}

// Verdict is the gate's terminal decision for one candidate in one run.
// Degraded marks an acceptance that skipped relevance scoring because the
// scorer failed, as opposed to scoring being disabled outright.
type Verdict struct {
	Accepted bool
	Score    int
	Reason   string
	Language string
	Degraded bool
}

// Gate applies the two-stage quality filter: cheap content heuristics first,
// then AI relevance scoring against the keyword group's threshold.
type Gate struct {
	scorer  Scorer
	enabled bool
	logger  zerolog.Logger
}

func NewGate(scorer Scorer, enabled bool, logger zerolog.Logger) *Gate {
	return &Gate{
		scorer:  scorer,
		enabled: enabled,
		logger:  logger,
	}
}

// Evaluate gates one deduplicated candidate. A rejecting verdict is terminal
// for the candidate in this run. Scorer failures degrade to heuristic-only
// acceptance so a flaky classifier cannot stall ingestion.
func (g *Gate) Evaluate(ctx context.Context, topic string, threshold int, article dedup.Article) Verdict {
	if g == nil {
		return Verdict{Accepted: true, Score: ScoreUnavailable, Reason: "quality gate not configured"}
	}

	text := gateText(article)
	language := DetectISO6391(text)

	if reason := heuristicReject(article, text); reason != "" {
		return Verdict{Accepted: false, Score: 0, Reason: reason, Language: language}
	}

	if !g.enabled || g.scorer == nil {
		return Verdict{Accepted: true, Score: ScoreUnavailable, Reason: "relevance scoring disabled", Language: language}
	}

	score, err := g.scorer.Score(ctx, topic, text)
	if err != nil {
		g.logger.Warn().Err(err).Str("url", article.CanonicalURL).Msg("relevance scoring failed, accepting on heuristics")
		return Verdict{
			Accepted: true,
			Score:    ScoreUnavailable,
			Reason:   fmt.Sprintf("relevance scoring unavailable: %v", err),
			Language: language,
			Degraded: true,
		}
	}

	if score < threshold {
		return Verdict{
			Accepted: false,
			Score:    score,
			Reason:   fmt.Sprintf("relevance %d below threshold %d", score, threshold),
			Language: language,
		}
	}
	return Verdict{Accepted: true, Score: score, Language: language}
}

// badContentMarkers are phrases that identify error pages, bot walls, and
// other non-article content that sometimes leaks through search results.
var badContentMarkers = []string{
	"404 not found",
	"page not found",
	"403 forbidden",
	"access denied",
	"captcha",
	"are you a robot",
	"verify you are human",
	"enable javascript and cookies",
	"subscribe to continue reading",
	"this content is for subscribers",
}

func heuristicReject(article dedup.Article, text string) string {
	if article.CanonicalURL == "" || dedup.CanonicalizeURL(article.CanonicalURL) == "" {
		return "malformed or non-http url"
	}
	if strings.TrimSpace(article.Primary.Title) == "" {
		return "empty title"
	}
	if letterCount(text) < 12 {
		return "near-empty content"
	}

	lowered := strings.ToLower(text)
	for _, marker := range badContentMarkers {
		if strings.Contains(lowered, marker) {
			return fmt.Sprintf("bad content signature %q", marker)
		}
	}
	return ""
}

func gateText(article dedup.Article) string {
	title := strings.TrimSpace(article.Primary.Title)
	snippet := strings.TrimSpace(article.Primary.Snippet)
	if snippet == "" || strings.EqualFold(snippet, title) {
		return title
	}
	return title + "\n" + snippet
}

func letterCount(text string) int {
	count := 0
	for _, r := range text {
		if r > ' ' {
			count++
		}
	}
	return count
}
