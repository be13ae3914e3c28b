package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/collector"
	"github.com/pulsewire/harvester/internal/db"
	"github.com/pulsewire/harvester/internal/dedup"
	"github.com/pulsewire/harvester/internal/enrich"
	"github.com/pulsewire/harvester/internal/fetcher"
	"github.com/pulsewire/harvester/internal/globaltime"
	"github.com/pulsewire/harvester/internal/provider"
	"github.com/pulsewire/harvester/internal/quality"
	"github.com/pulsewire/harvester/internal/vector"
)

// Store is the persistence contract the controller writes through.
type Store interface {
	GetKeywordGroup(ctx context.Context, groupID int64) (db.KeywordGroup, error)
	ExistingCanonicalURLs(ctx context.Context, urls []string) (map[string]bool, error)
	UpsertArticle(ctx context.Context, article db.Article) (bool, error)
	InsertJob(ctx context.Context, record db.IngestJobRecord) error
	FinalizeJob(ctx context.Context, record db.IngestJobRecord) error
}

// Searcher fans a query out across providers.
type Searcher interface {
	Collect(ctx context.Context, req collector.Request) (collector.Result, error)
}

// Gate decides whether a candidate survives quality filtering.
type Gate interface {
	Evaluate(ctx context.Context, topic string, threshold int, article dedup.Article) quality.Verdict
}

// BodyFetcher retrieves article bodies on offloaded worker capacity.
type BodyFetcher interface {
	FetchAll(ctx context.Context, articles []dedup.Article) <-chan fetcher.Result
}

// Enricher attaches AI-derived metadata to a fetched body.
type Enricher interface {
	Enrich(ctx context.Context, text string) (enrich.Enrichment, error)
}

// Options tunes one controller shared by all jobs.
type Options struct {
	DefaultProviders    []string
	LookbackDays        int
	MaxPerProvider      int
	DefaultThreshold    int
	SaveApprovedOnly    bool
	EnrichConcurrency   int
	EnrichTimeout       time.Duration
	PersistRetryMax     int
	PersistRetryBackoff time.Duration
	ProviderPriority    func(name string) int
}

// SubmitOptions are per-job overrides accepted at submission.
type SubmitOptions struct {
	LookbackDays int
	MaxArticles  int
	DryRun       bool
}

// Controller owns ingestion run lifecycles: phase sequencing, counters,
// error collection, cancellation, and progress emission.
type Controller struct {
	store    Store
	search   Searcher
	gate     Gate
	fetch    BodyFetcher
	enricher Enricher
	indexer  vector.Indexer
	dedupe   *dedup.Deduplicator
	broker   *Broker
	registry *Registry
	opts     Options
	logger   zerolog.Logger
}

func NewController(
	store Store,
	search Searcher,
	gate Gate,
	fetch BodyFetcher,
	enricher Enricher,
	indexer vector.Indexer,
	broker *Broker,
	registry *Registry,
	opts Options,
	logger zerolog.Logger,
) *Controller {
	if indexer == nil {
		indexer = vector.Noop{}
	}
	if broker == nil {
		broker = NewBroker()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.LookbackDays < 1 {
		opts.LookbackDays = 7
	}
	if opts.MaxPerProvider < 1 {
		opts.MaxPerProvider = 25
	}
	if opts.EnrichConcurrency < 1 {
		opts.EnrichConcurrency = 5
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = 30 * time.Second
	}
	if opts.PersistRetryBackoff <= 0 {
		opts.PersistRetryBackoff = 500 * time.Millisecond
	}

	return &Controller{
		store:    store,
		search:   search,
		gate:     gate,
		fetch:    fetch,
		enricher: enricher,
		indexer:  indexer,
		dedupe:   dedup.New(opts.ProviderPriority),
		broker:   broker,
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

func (c *Controller) Broker() *Broker     { return c.broker }
func (c *Controller) Registry() *Registry { return c.registry }

// Submit starts one ingestion run for a keyword group and returns its job
// immediately; the run itself proceeds asynchronously.
func (c *Controller) Submit(ctx context.Context, groupID int64, opts SubmitOptions) (*Job, error) {
	if c == nil || c.store == nil {
		return nil, fmt.Errorf("controller is not initialized")
	}

	group, err := c.store.GetKeywordGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.Enabled {
		return nil, fmt.Errorf("keyword group %d is disabled", groupID)
	}
	if len(group.KeywordList()) == 0 {
		return nil, fmt.Errorf("keyword group %d has no keyword expressions", groupID)
	}

	job := newJob(group.GroupID, group.Topic, opts.DryRun)
	c.registry.add(job)

	if err := c.store.InsertJob(ctx, db.IngestJobRecord{
		JobID:     job.ID(),
		GroupID:   group.GroupID,
		Topic:     group.Topic,
		Phase:     string(PhasePending),
		DryRun:    opts.DryRun,
		StartedAt: globaltime.UTC(),
	}); err != nil {
		// The job never ran; keeping it registered would leave a phantom
		// pending entry in job listings.
		c.registry.remove(job.ID())
		return nil, fmt.Errorf("record job submission: %w", err)
	}

	go c.run(job, group, opts)
	return job, nil
}

// Cancel requests cooperative cancellation of a running job.
func (c *Controller) Cancel(jobID string) error {
	job, err := c.registry.Get(jobID)
	if err != nil {
		return err
	}
	if job.phaseNow().Terminal() {
		return nil
	}
	job.Cancel()
	return nil
}

func (c *Controller) run(job *Job, group db.KeywordGroup, opts SubmitOptions) {
	logger := c.logger.With().Str("job_id", job.ID()).Int64("group_id", group.GroupID).Logger()
	logger.Info().Str("topic", group.Topic).Bool("dry_run", job.dryRun).Msg("ingestion run started")

	candidates := c.phaseSearch(job, group, opts)
	if job.phaseNow().Terminal() {
		c.finalize(job, logger)
		return
	}

	articles := c.phaseDedup(job, candidates)
	if job.phaseNow().Terminal() {
		c.finalize(job, logger)
		return
	}
	accepted := c.phaseQuality(job, group, articles, opts)
	results := c.phaseFetch(job, accepted)
	enriched := c.phaseEnrich(job, results)
	c.phasePersist(job, group, enriched)

	if !job.phaseNow().Terminal() {
		if job.Cancelled() {
			job.setPhase(PhaseCancelled)
		} else {
			job.setPhase(PhaseCompleted)
		}
	}
	c.finalize(job, logger)
}

func (c *Controller) phaseSearch(job *Job, group db.KeywordGroup, opts SubmitOptions) []provider.Candidate {
	c.enterPhase(job, PhaseSearching, 0)

	lookback := opts.LookbackDays
	if lookback < 1 {
		lookback = c.opts.LookbackDays
	}
	providers := group.ProviderList()
	if len(providers) == 0 {
		providers = c.opts.DefaultProviders
	}

	result, err := c.search.Collect(job.Context(), collector.Request{
		Query:     collector.BuildQuery(group.KeywordList()),
		Providers: providers,
		From:      globaltime.UTC().AddDate(0, 0, -lookback),
		Limit:     c.opts.MaxPerProvider,
	})

	for _, failure := range result.Failures {
		kind := ErrorProvider
		if failure.QuotaSkipped {
			kind = ErrorQuota
		}
		job.addError(kind, failure.Provider, failure.Reason)
	}

	if err != nil {
		if errors.Is(err, collector.ErrAllProvidersFailed) {
			c.fail(job, fmt.Sprintf("no providers reachable: %v", err))
			return nil
		}
		c.fail(job, err.Error())
		return nil
	}

	job.updateCounts(func(counts *Counts) {
		counts.Found = len(result.Candidates)
	})
	c.publishProgress(job, len(result.Candidates), len(result.Candidates), "")
	return result.Candidates
}

func (c *Controller) phaseDedup(job *Job, candidates []provider.Candidate) []dedup.Article {
	if job.Cancelled() {
		job.setPhase(PhaseCancelled)
		return nil
	}
	c.enterPhase(job, PhaseDeduplicating, len(candidates))

	urls := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if canonical := dedup.CanonicalizeURL(candidate.URL); canonical != "" {
			urls = append(urls, canonical)
		}
	}

	existing, err := c.store.ExistingCanonicalURLs(job.Context(), urls)
	if err != nil {
		job.addError(ErrorInternal, "store", fmt.Sprintf("existing-url lookup failed: %v", err))
		existing = nil
	}

	articles, stats := c.dedupe.Collapse(candidates, existing)
	job.updateCounts(func(counts *Counts) {
		counts.Deduplicated = len(articles)
		counts.AlreadyStored = stats.AlreadyStored
	})
	c.publishProgress(job, len(articles), len(articles), "")
	return articles
}

func (c *Controller) phaseQuality(job *Job, group db.KeywordGroup, articles []dedup.Article, opts SubmitOptions) []gated {
	if job.phaseNow().Terminal() {
		return nil
	}
	if job.Cancelled() {
		job.setPhase(PhaseCancelled)
		return nil
	}
	c.enterPhase(job, PhaseQualityGating, len(articles))

	threshold := group.RelevanceThreshold
	if threshold <= 0 {
		threshold = c.opts.DefaultThreshold
	}

	type indexed struct {
		idx     int
		verdict quality.Verdict
	}

	verdicts := make([]quality.Verdict, len(articles))
	results := make(chan indexed, len(articles))
	sem := make(chan struct{}, c.opts.EnrichConcurrency)
	dispatched := 0

	for idx, article := range articles {
		if job.Cancelled() {
			break
		}
		sem <- struct{}{}
		dispatched++
		go func(idx int, article dedup.Article) {
			defer func() { <-sem }()
			results <- indexed{idx: idx, verdict: c.gate.Evaluate(job.Context(), group.Topic, threshold, article)}
		}(idx, article)
	}
	for i := 0; i < dispatched; i++ {
		res := <-results
		verdicts[res.idx] = res.verdict
	}

	accepted := make([]gated, 0, len(articles))
	for idx := 0; idx < dispatched; idx++ {
		article := articles[idx]
		verdict := verdicts[idx]
		switch {
		case !verdict.Accepted:
			job.updateCounts(func(counts *Counts) { counts.Rejected++ })
			c.logger.Debug().Str("url", article.CanonicalURL).Str("reason", verdict.Reason).Msg("candidate rejected")
		case verdict.Degraded && c.opts.SaveApprovedOnly:
			// Unscorable candidates are dropped when only approved articles
			// may be saved; they are not rejections, just unprovable.
			job.updateCounts(func(counts *Counts) { counts.Rejected++ })
			job.addError(ErrorInternal, article.CanonicalURL, verdict.Reason)
		default:
			accepted = append(accepted, gated{article: article, verdict: verdict})
		}
	}

	if opts.MaxArticles > 0 && len(accepted) > opts.MaxArticles {
		accepted = accepted[:opts.MaxArticles]
	}

	job.updateCounts(func(counts *Counts) {
		counts.QualityPassed = len(accepted)
	})
	c.publishProgress(job, len(accepted), len(articles), "")
	return accepted
}

type gated struct {
	article dedup.Article
	verdict quality.Verdict
}

type pipelined struct {
	article     dedup.Article
	verdict     quality.Verdict
	body        string
	usedSnippet bool
	enrichment  *enrich.Enrichment
}

func (c *Controller) phaseFetch(job *Job, accepted []gated) []pipelined {
	if job.phaseNow().Terminal() || job.Cancelled() {
		return nil
	}
	c.enterPhase(job, PhaseFetching, len(accepted))

	byURL := make(map[string]quality.Verdict, len(accepted))
	articles := make([]dedup.Article, 0, len(accepted))
	for _, item := range accepted {
		articles = append(articles, item.article)
		byURL[item.article.CanonicalURL] = item.verdict
	}

	items := make([]pipelined, 0, len(accepted))
	for result := range c.fetch.FetchAll(job.Context(), articles) {
		if result.Err != nil {
			job.addError(ErrorFetch, result.Article.CanonicalURL, result.Err.Error())
		}
		items = append(items, pipelined{
			article:     result.Article,
			verdict:     byURL[result.Article.CanonicalURL],
			body:        result.Body,
			usedSnippet: result.UsedSnippet,
		})
		job.updateCounts(func(counts *Counts) { counts.Fetched++ })
		c.publishProgress(job, len(items), len(accepted), "")
	}
	return items
}

func (c *Controller) phaseEnrich(job *Job, items []pipelined) []pipelined {
	if job.phaseNow().Terminal() {
		return nil
	}
	if job.Cancelled() {
		return items
	}
	c.enterPhase(job, PhaseEnriching, len(items))

	if c.enricher == nil {
		return items
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		processed int
	)
	sem := make(chan struct{}, c.opts.EnrichConcurrency)

	for idx := range items {
		if job.Cancelled() {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(item *pipelined) {
			defer wg.Done()
			defer func() { <-sem }()

			enrichCtx, cancel := context.WithTimeout(job.Context(), c.opts.EnrichTimeout)
			defer cancel()

			text := item.body
			if strings.TrimSpace(text) == "" {
				text = item.article.Primary.Title
			}
			result, err := c.enricher.Enrich(enrichCtx, text)

			mu.Lock()
			defer mu.Unlock()
			processed++
			if err != nil {
				job.addError(ErrorEnrichment, item.article.CanonicalURL, err.Error())
			} else {
				item.enrichment = &result
				job.updateCounts(func(counts *Counts) { counts.Enriched++ })
			}
			c.publishProgress(job, processed, len(items), "")
		}(&items[idx])
	}
	wg.Wait()
	return items
}

func (c *Controller) phasePersist(job *Job, group db.KeywordGroup, items []pipelined) {
	if job.phaseNow().Terminal() {
		return
	}
	if job.Cancelled() {
		// Results of already-dispatched work are discarded, never persisted.
		return
	}
	c.enterPhase(job, PhasePersisting, len(items))

	for idx, item := range items {
		if job.Cancelled() {
			return
		}

		record := c.buildRecord(group, item)
		if job.dryRun {
			job.updateCounts(func(counts *Counts) { counts.Saved++ })
			c.publishProgress(job, idx+1, len(items), "")
			continue
		}

		if err := c.persistWithRetry(job.Context(), record); err != nil {
			job.addError(ErrorPersistence, record.CanonicalURL, err.Error())
			c.publishProgress(job, idx+1, len(items), "")
			continue
		}
		job.updateCounts(func(counts *Counts) { counts.Saved++ })

		if strings.TrimSpace(record.Body) != "" {
			if err := c.indexer.Index(job.Context(), vector.Document{
				CanonicalURL: record.CanonicalURL,
				Title:        record.Title,
				Topic:        record.Topic,
				Body:         record.Body,
				Entities:     decodeEntities(record.Entities),
			}); err != nil {
				job.addError(ErrorIndexing, record.CanonicalURL, err.Error())
			}
		}
		c.publishProgress(job, idx+1, len(items), "")
	}
}

func (c *Controller) buildRecord(group db.KeywordGroup, item pipelined) db.Article {
	primary := item.article.Primary

	record := db.Article{
		CanonicalURL:    item.article.CanonicalURL,
		Title:           strings.TrimSpace(primary.Title),
		Source:          primary.Provider,
		Topic:           group.Topic,
		GroupID:         group.GroupID,
		PublishedAt:     primary.PublishedAt,
		Body:            item.body,
		BodyFromSnippet: item.usedSnippet,
		Language:        item.verdict.Language,
		AutoIngested:    true,
		IngestStatus:    db.IngestStatusUnenriched,
	}
	if host := dedup.Host(item.article.CanonicalURL); host != "" {
		record.SourceDomain = &host
	}
	if item.verdict.Score != quality.ScoreUnavailable {
		score := item.verdict.Score
		record.QualityScore = &score
	}
	if len(item.article.Sources) > 0 {
		type groupedSource struct {
			Provider string `json:"provider"`
			Title    string `json:"title"`
			URL      string `json:"url"`
		}
		sources := make([]groupedSource, 0, len(item.article.Sources))
		for _, source := range item.article.Sources {
			sources = append(sources, groupedSource{Provider: source.Provider, Title: source.Title, URL: source.URL})
		}
		if raw, err := json.Marshal(sources); err == nil {
			record.GroupedSources = raw
		}
	}
	if item.enrichment != nil {
		record.IngestStatus = db.IngestStatusEnriched
		record.Category = optional(item.enrichment.Category)
		record.Sentiment = optional(item.enrichment.Sentiment)
		record.Signal = optional(item.enrichment.Signal)
		record.TimeToImpact = optional(item.enrichment.TimeToImpact)
		if raw, err := json.Marshal(item.enrichment.Entities); err == nil {
			record.Entities = raw
		}
	}
	return record
}

func (c *Controller) persistWithRetry(ctx context.Context, record db.Article) error {
	var lastErr error
	backoff := c.opts.PersistRetryBackoff

	for attempt := 0; attempt <= c.opts.PersistRetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		_, err := c.store.UpsertArticle(ctx, record)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, db.ErrIncompleteArticle) {
			return err
		}
	}
	return fmt.Errorf("persist after %d attempts: %w", c.opts.PersistRetryMax+1, lastErr)
}

func (c *Controller) enterPhase(job *Job, phase Phase, total int) {
	job.setPhase(phase)
	c.publishProgress(job, 0, total, "")
}

func (c *Controller) publishProgress(job *Job, processed, total int, message string) {
	counts := job.countsNow()
	c.broker.Publish(Event{
		JobID:     job.ID(),
		Type:      EventProgress,
		Phase:     job.phaseNow(),
		Processed: processed,
		Total:     total,
		Results: EventResults{
			Saved:    counts.Saved,
			Enriched: counts.Enriched,
			Errors:   counts.Errors,
		},
		Message: message,
	})
}

func (c *Controller) fail(job *Job, reason string) {
	job.setFailureCause(reason)
	job.setPhase(PhaseFailed)
}

func (c *Controller) finalize(job *Job, logger zerolog.Logger) {
	snapshot := job.Snapshot()

	errorsJSON, err := json.Marshal(snapshot.Errors)
	if err != nil {
		errorsJSON = json.RawMessage("[]")
	}

	finalizeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.FinalizeJob(finalizeCtx, db.IngestJobRecord{
		JobID:         snapshot.JobID,
		Phase:         string(snapshot.Phase),
		Found:         snapshot.Counts.Found,
		Deduplicated:  snapshot.Counts.Deduplicated,
		QualityPassed: snapshot.Counts.QualityPassed,
		Fetched:       snapshot.Counts.Fetched,
		Enriched:      snapshot.Counts.Enriched,
		Saved:         snapshot.Counts.Saved,
		ErrorCount:    snapshot.Counts.Errors,
		Errors:        errorsJSON,
		FinishedAt:    snapshot.FinishedAt,
	}); err != nil {
		logger.Error().Err(err).Msg("failed to finalize job record")
	}

	eventType := EventCompleted
	message := ""
	if snapshot.Phase == PhaseFailed {
		eventType = EventError
		message = snapshot.FailureCause
	}
	c.broker.Publish(Event{
		JobID: snapshot.JobID,
		Type:  eventType,
		Phase: snapshot.Phase,
		Results: EventResults{
			Saved:    snapshot.Counts.Saved,
			Enriched: snapshot.Counts.Enriched,
			Errors:   snapshot.Counts.Errors,
		},
		Message: message,
	})

	logger.Info().
		Str("phase", string(snapshot.Phase)).
		Int("found", snapshot.Counts.Found).
		Int("saved", snapshot.Counts.Saved).
		Int("errors", snapshot.Counts.Errors).
		Msg("ingestion run finished")

	close(job.done)
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func decodeEntities(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var entities []string
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil
	}
	return entities
}
