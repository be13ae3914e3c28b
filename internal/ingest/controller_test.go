package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/collector"
	"github.com/pulsewire/harvester/internal/db"
	"github.com/pulsewire/harvester/internal/dedup"
	"github.com/pulsewire/harvester/internal/enrich"
	"github.com/pulsewire/harvester/internal/fetcher"
	"github.com/pulsewire/harvester/internal/provider"
	"github.com/pulsewire/harvester/internal/quality"
)

type fakeStore struct {
	mu        sync.Mutex
	group     db.KeywordGroup
	groupErr  error
	existing  map[string]bool
	upsertErr error
	insertErr error

	upserts   []db.Article
	inserted  []db.IngestJobRecord
	finalized []db.IngestJobRecord
}

func (s *fakeStore) GetKeywordGroup(_ context.Context, groupID int64) (db.KeywordGroup, error) {
	if s.groupErr != nil {
		return db.KeywordGroup{}, s.groupErr
	}
	if s.group.GroupID != groupID {
		return db.KeywordGroup{}, db.ErrGroupNotFound
	}
	return s.group, nil
}

func (s *fakeStore) ExistingCanonicalURLs(_ context.Context, _ []string) (map[string]bool, error) {
	return s.existing, nil
}

func (s *fakeStore) UpsertArticle(_ context.Context, article db.Article) (bool, error) {
	if s.upsertErr != nil {
		return false, s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, article)
	return false, nil
}

func (s *fakeStore) InsertJob(_ context.Context, record db.IngestJobRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, record)
	return nil
}

func (s *fakeStore) FinalizeJob(_ context.Context, record db.IngestJobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, record)
	return nil
}

func (s *fakeStore) savedArticles() []db.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.Article, len(s.upserts))
	copy(out, s.upserts)
	return out
}

func (s *fakeStore) finalizedRecords() []db.IngestJobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.IngestJobRecord, len(s.finalized))
	copy(out, s.finalized)
	return out
}

type fakeSearcher struct {
	result collector.Result
	err    error
}

func (f *fakeSearcher) Collect(context.Context, collector.Request) (collector.Result, error) {
	return f.result, f.err
}

type fakeFetcher struct {
	started chan struct{}
	proceed chan struct{}
}

func (f *fakeFetcher) FetchAll(ctx context.Context, articles []dedup.Article) <-chan fetcher.Result {
	out := make(chan fetcher.Result, len(articles))
	go func() {
		defer close(out)
		if f.started != nil {
			close(f.started)
		}
		if f.proceed != nil {
			<-f.proceed
		}
		for _, article := range articles {
			if ctx.Err() != nil {
				return
			}
			out <- fetcher.Result{
				Article: article,
				Body:    "fetched body for " + article.Primary.Title,
			}
		}
	}()
	return out
}

type fakeEnricher struct {
	err error
}

func (f *fakeEnricher) Enrich(context.Context, string) (enrich.Enrichment, error) {
	if f.err != nil {
		return enrich.Enrichment{}, f.err
	}
	return enrich.Enrichment{
		Category:     "economy",
		Sentiment:    "neutral",
		Signal:       "steady",
		TimeToImpact: "short_term",
		Entities:     []string{"Central Bank"},
	}, nil
}

func testGroup() db.KeywordGroup {
	keywords, _ := json.Marshal([]string{"interest rates"})
	return db.KeywordGroup{
		GroupID:            7,
		Topic:              "monetary policy",
		Keywords:           keywords,
		RelevanceThreshold: 60,
		Enabled:            true,
	}
}

func searchResult(candidates ...provider.Candidate) collector.Result {
	return collector.Result{
		Candidates: candidates,
		Attempted:  1,
		Succeeded:  1,
	}
}

func newTestController(store *fakeStore, search Searcher, fetch BodyFetcher, enricher Enricher) *Controller {
	return NewController(
		store,
		search,
		quality.NewGate(nil, false, zerolog.Nop()),
		fetch,
		enricher,
		nil,
		NewBroker(),
		NewRegistry(),
		Options{
			DefaultProviders:    []string{"newsapi"},
			LookbackDays:        7,
			MaxPerProvider:      25,
			DefaultThreshold:    60,
			EnrichConcurrency:   2,
			EnrichTimeout:       time.Second,
			PersistRetryBackoff: time.Millisecond,
		},
		zerolog.Nop(),
	)
}

func waitDone(t *testing.T, job *Job) Snapshot {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not finish in time")
	}
	return job.Snapshot()
}

func TestRunCompletesAndPersists(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{group: testGroup()}
	search := &fakeSearcher{result: searchResult(
		provider.Candidate{Provider: "newsapi", Title: "Rates Rise Again", URL: "https://a.example/rates?utm_source=x", PublishedAt: &when, Snippet: "the central bank raised rates again"},
		provider.Candidate{Provider: "gdelt", Title: "rates rise again", URL: "https://b.example/rates-mirror", PublishedAt: &when, Snippet: "mirror of the same story"},
		provider.Candidate{Provider: "newsapi", Title: "Unrelated Piece", URL: "https://c.example/other", PublishedAt: &when, Snippet: "a different story entirely"},
	)}

	c := newTestController(store, search, &fakeFetcher{}, &fakeEnricher{})
	job, err := c.Submit(context.Background(), 7, SubmitOptions{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	snapshot := waitDone(t, job)
	if snapshot.Phase != PhaseCompleted {
		t.Fatalf("expected completed phase, got %s (%s)", snapshot.Phase, snapshot.FailureCause)
	}
	if snapshot.Counts.Found != 3 || snapshot.Counts.Deduplicated != 2 {
		t.Fatalf("unexpected counts: %+v", snapshot.Counts)
	}
	if snapshot.Counts.Saved != 2 || snapshot.Counts.Enriched != 2 {
		t.Fatalf("unexpected save/enrich counts: %+v", snapshot.Counts)
	}

	saved := store.savedArticles()
	if len(saved) != 2 {
		t.Fatalf("expected 2 persisted articles, got %d", len(saved))
	}
	for _, article := range saved {
		if article.IngestStatus != db.IngestStatusEnriched {
			t.Fatalf("expected enriched status, got %s", article.IngestStatus)
		}
		if article.GroupID != 7 || article.Topic != "monetary policy" {
			t.Fatalf("group attribution missing: %+v", article)
		}
		if !article.AutoIngested {
			t.Fatalf("expected auto_ingested flag")
		}
	}

	finalized := store.finalizedRecords()
	if len(finalized) != 1 || finalized[0].Phase != string(PhaseCompleted) {
		t.Fatalf("expected one completed finalize record, got %+v", finalized)
	}

	terminal, ok := c.Broker().Terminal(job.ID())
	if !ok || terminal.Type != EventCompleted {
		t.Fatalf("expected retained completed terminal event, got %+v", terminal)
	}
}

func TestRunSurvivesEnricherOutage(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{group: testGroup()}
	search := &fakeSearcher{result: searchResult(
		provider.Candidate{Provider: "newsapi", Title: "Rates Rise Again", URL: "https://a.example/rates", PublishedAt: &when, Snippet: "the central bank raised rates again"},
	)}

	c := newTestController(store, search, &fakeFetcher{}, &fakeEnricher{err: fmt.Errorf("model offline")})
	job, err := c.Submit(context.Background(), 7, SubmitOptions{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	snapshot := waitDone(t, job)
	if snapshot.Phase != PhaseCompleted {
		t.Fatalf("enrichment outage must not fail the run, got %s", snapshot.Phase)
	}
	if snapshot.Counts.Enriched != 0 || snapshot.Counts.Saved != 1 {
		t.Fatalf("expected unenriched save, got %+v", snapshot.Counts)
	}

	saved := store.savedArticles()
	if len(saved) != 1 || saved[0].IngestStatus != db.IngestStatusUnenriched {
		t.Fatalf("expected unenriched persisted article, got %+v", saved)
	}

	foundEnrichErr := false
	for _, itemErr := range snapshot.Errors {
		if itemErr.Kind == ErrorEnrichment {
			foundEnrichErr = true
		}
	}
	if !foundEnrichErr {
		t.Fatalf("expected enrichment error recorded, got %+v", snapshot.Errors)
	}
}

func TestRunFailsWhenAllProvidersFail(t *testing.T) {
	t.Parallel()

	store := &fakeStore{group: testGroup()}
	search := &fakeSearcher{
		result: collector.Result{Attempted: 2},
		err:    fmt.Errorf("%w: 2 attempted", collector.ErrAllProvidersFailed),
	}

	c := newTestController(store, search, &fakeFetcher{}, &fakeEnricher{})
	job, err := c.Submit(context.Background(), 7, SubmitOptions{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	snapshot := waitDone(t, job)
	if snapshot.Phase != PhaseFailed {
		t.Fatalf("expected failed phase, got %s", snapshot.Phase)
	}
	if snapshot.FailureCause == "" {
		t.Fatalf("expected failure cause recorded")
	}
	if len(store.savedArticles()) != 0 {
		t.Fatalf("failed run must not persist articles")
	}

	terminal, ok := c.Broker().Terminal(job.ID())
	if !ok || terminal.Type != EventError {
		t.Fatalf("expected retained error terminal event, got %+v", terminal)
	}
}

func TestRunRecordsQuotaSkips(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{group: testGroup()}
	search := &fakeSearcher{result: collector.Result{
		Candidates: []provider.Candidate{
			{Provider: "gdelt", Title: "Still Flowing", URL: "https://b.example/1", PublishedAt: &when, Snippet: "one provider still works fine"},
		},
		Failures: []collector.Failure{
			{Provider: "newsapi", Reason: "daily request quota exhausted", QuotaSkipped: true},
		},
		Attempted: 1,
		Succeeded: 1,
	}}

	c := newTestController(store, search, &fakeFetcher{}, &fakeEnricher{})
	job, err := c.Submit(context.Background(), 7, SubmitOptions{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	snapshot := waitDone(t, job)
	if snapshot.Phase != PhaseCompleted {
		t.Fatalf("quota skip must not fail the run, got %s", snapshot.Phase)
	}

	foundQuotaErr := false
	for _, itemErr := range snapshot.Errors {
		if itemErr.Kind == ErrorQuota && itemErr.Item == "newsapi" {
			foundQuotaErr = true
		}
	}
	if !foundQuotaErr {
		t.Fatalf("expected quota error recorded, got %+v", snapshot.Errors)
	}
}

func TestRunSkipsAlreadyStored(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{
		group:    testGroup(),
		existing: map[string]bool{"https://a.example/old": true},
	}
	search := &fakeSearcher{result: searchResult(
		provider.Candidate{Provider: "newsapi", Title: "Old Story", URL: "https://a.example/old", PublishedAt: &when, Snippet: "seen before in a previous run"},
		provider.Candidate{Provider: "newsapi", Title: "New Story", URL: "https://a.example/new", PublishedAt: &when, Snippet: "never seen until this run"},
	)}

	c := newTestController(store, search, &fakeFetcher{}, &fakeEnricher{})
	job, err := c.Submit(context.Background(), 7, SubmitOptions{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	snapshot := waitDone(t, job)
	if snapshot.Counts.AlreadyStored != 1 {
		t.Fatalf("expected 1 already-stored drop, got %+v", snapshot.Counts)
	}

	saved := store.savedArticles()
	if len(saved) != 1 || saved[0].CanonicalURL != "https://a.example/new" {
		t.Fatalf("expected only the new story persisted, got %+v", saved)
	}
}

func TestRunDryRunPersistsNothing(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{group: testGroup()}
	search := &fakeSearcher{result: searchResult(
		provider.Candidate{Provider: "newsapi", Title: "Rates Rise Again", URL: "https://a.example/rates", PublishedAt: &when, Snippet: "the central bank raised rates again"},
	)}

	c := newTestController(store, search, &fakeFetcher{}, &fakeEnricher{})
	job, err := c.Submit(context.Background(), 7, SubmitOptions{DryRun: true})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	snapshot := waitDone(t, job)
	if snapshot.Phase != PhaseCompleted {
		t.Fatalf("expected completed dry run, got %s", snapshot.Phase)
	}
	if snapshot.Counts.Saved != 1 {
		t.Fatalf("dry run still counts would-be saves, got %+v", snapshot.Counts)
	}
	if len(store.savedArticles()) != 0 {
		t.Fatalf("dry run must not write articles")
	}
}

func TestCancelDiscardsInFlightResults(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{group: testGroup()}
	search := &fakeSearcher{result: searchResult(
		provider.Candidate{Provider: "newsapi", Title: "Rates Rise Again", URL: "https://a.example/rates", PublishedAt: &when, Snippet: "the central bank raised rates again"},
	)}
	fetch := &fakeFetcher{
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}

	c := newTestController(store, search, fetch, &fakeEnricher{})
	job, err := c.Submit(context.Background(), 7, SubmitOptions{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case <-fetch.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch phase never started")
	}

	if err := c.Cancel(job.ID()); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(fetch.proceed)

	snapshot := waitDone(t, job)
	if snapshot.Phase != PhaseCancelled {
		t.Fatalf("expected cancelled phase, got %s", snapshot.Phase)
	}
	if len(store.savedArticles()) != 0 {
		t.Fatalf("cancelled run must not persist in-flight results")
	}
}

func TestSubmitRejectsDisabledGroup(t *testing.T) {
	t.Parallel()

	group := testGroup()
	group.Enabled = false
	store := &fakeStore{group: group}

	c := newTestController(store, &fakeSearcher{}, &fakeFetcher{}, &fakeEnricher{})
	if _, err := c.Submit(context.Background(), 7, SubmitOptions{}); err == nil {
		t.Fatalf("expected rejection of disabled group")
	}
}

func TestSubmitRejectsUnknownGroup(t *testing.T) {
	t.Parallel()

	store := &fakeStore{group: testGroup()}
	c := newTestController(store, &fakeSearcher{}, &fakeFetcher{}, &fakeEnricher{})
	if _, err := c.Submit(context.Background(), 99, SubmitOptions{}); err == nil {
		t.Fatalf("expected unknown-group error")
	}
}

func TestSubmitInsertFailureLeavesNoJobBehind(t *testing.T) {
	t.Parallel()

	store := &fakeStore{group: testGroup(), insertErr: fmt.Errorf("insert refused")}
	c := newTestController(store, &fakeSearcher{}, &fakeFetcher{}, &fakeEnricher{})

	if _, err := c.Submit(context.Background(), 7, SubmitOptions{}); err == nil {
		t.Fatalf("expected submission to fail when the job row cannot be written")
	}
	if snapshots := c.Registry().Snapshots(); len(snapshots) != 0 {
		t.Fatalf("expected no registered jobs after failed submission, got %+v", snapshots)
	}
}
