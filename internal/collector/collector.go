package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/provider"
	"github.com/pulsewire/harvester/internal/quota"
)

// ErrAllProvidersFailed reports that every attempted provider call failed, so
// the job has no raw results at all to continue with.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Request describes one keyword-group collection pass.
type Request struct {
	Query     string
	Providers []string
	From      time.Time
	Limit     int
}

// Failure records one provider that produced no results, either because the
// call failed or because its daily quota was already exhausted.
type Failure struct {
	Provider     string
	Reason       string
	QuotaSkipped bool
}

// Result merges candidates from every provider that succeeded.
type Result struct {
	Candidates []provider.Candidate
	Failures   []Failure
	Attempted  int
	Succeeded  int
}

// Collector fans one search out across enabled providers concurrently,
// gated by the shared quota tracker.
type Collector struct {
	registry *provider.Registry
	quota    *quota.Tracker
	logger   zerolog.Logger
}

func New(registry *provider.Registry, tracker *quota.Tracker, logger zerolog.Logger) *Collector {
	return &Collector{
		registry: registry,
		quota:    tracker,
		logger:   logger,
	}
}

// Collect issues one search per enabled provider. Provider failures are
// recorded and skipped, never fatal on their own; ErrAllProvidersFailed is
// returned only when every attempted call failed.
func (c *Collector) Collect(ctx context.Context, req Request) (Result, error) {
	if c == nil || c.registry == nil {
		return Result{}, fmt.Errorf("collector is not initialized")
	}
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, fmt.Errorf("query is required")
	}
	if len(req.Providers) == 0 {
		return Result{}, fmt.Errorf("at least one provider is required")
	}

	result := Result{}

	type attempt struct {
		name     string
		provider provider.Provider
	}
	attempts := make([]attempt, 0, len(req.Providers))

	for _, name := range req.Providers {
		p, err := c.registry.Provider(name)
		if err != nil {
			result.Failures = append(result.Failures, Failure{Provider: name, Reason: err.Error()})
			continue
		}

		// Quota is consumed immediately before the call so concurrent jobs
		// cannot race past the ceiling.
		if err := c.quota.Acquire(p.Name()); err != nil {
			if errors.Is(err, quota.ErrExhausted) {
				c.logger.Warn().Str("provider", p.Name()).Msg("provider skipped: daily quota exhausted")
				result.Failures = append(result.Failures, Failure{
					Provider:     p.Name(),
					Reason:       err.Error(),
					QuotaSkipped: true,
				})
				continue
			}
			result.Failures = append(result.Failures, Failure{Provider: p.Name(), Reason: err.Error()})
			continue
		}
		attempts = append(attempts, attempt{name: p.Name(), provider: p})
	}

	result.Attempted = len(attempts)
	if len(attempts) == 0 {
		return result, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	searchReq := provider.SearchRequest{
		Query: req.Query,
		From:  req.From,
		Limit: req.Limit,
	}

	for _, a := range attempts {
		wg.Add(1)
		go func(a attempt) {
			defer wg.Done()

			candidates, err := a.provider.Search(ctx, searchReq)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn().Err(err).Str("provider", a.name).Msg("provider search failed")
				result.Failures = append(result.Failures, Failure{Provider: a.name, Reason: err.Error()})
				return
			}
			c.logger.Debug().Str("provider", a.name).Int("candidates", len(candidates)).Msg("provider search succeeded")
			result.Succeeded++
			result.Candidates = append(result.Candidates, candidates...)
		}(a)
	}
	wg.Wait()

	if result.Succeeded == 0 {
		return result, fmt.Errorf("%w: %d attempted", ErrAllProvidersFailed, result.Attempted)
	}
	return result, nil
}

// BuildQuery joins keyword expressions into the shared query syntax:
// expressions are alternatives joined with OR, each expression keeps its own
// AND/phrase structure.
func BuildQuery(expressions []string) string {
	cleaned := make([]string, 0, len(expressions))
	for _, expr := range expressions {
		if trimmed := strings.TrimSpace(expr); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, " OR ")
}
