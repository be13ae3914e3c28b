package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/collector"
	"github.com/pulsewire/harvester/internal/db"
	"github.com/pulsewire/harvester/internal/dedup"
	"github.com/pulsewire/harvester/internal/enrich"
	"github.com/pulsewire/harvester/internal/fetcher"
	"github.com/pulsewire/harvester/internal/ingest"
	"github.com/pulsewire/harvester/internal/provider"
	"github.com/pulsewire/harvester/internal/quality"
	"github.com/pulsewire/harvester/internal/quota"
)

type memoryStore struct {
	group db.KeywordGroup
}

func (s *memoryStore) GetKeywordGroup(_ context.Context, groupID int64) (db.KeywordGroup, error) {
	if s.group.GroupID != groupID {
		return db.KeywordGroup{}, db.ErrGroupNotFound
	}
	return s.group, nil
}

func (s *memoryStore) ExistingCanonicalURLs(context.Context, []string) (map[string]bool, error) {
	return nil, nil
}

func (s *memoryStore) UpsertArticle(context.Context, db.Article) (bool, error) {
	return false, nil
}

func (s *memoryStore) InsertJob(context.Context, db.IngestJobRecord) error { return nil }

func (s *memoryStore) FinalizeJob(context.Context, db.IngestJobRecord) error { return nil }

type staticSearcher struct{}

func (staticSearcher) Collect(context.Context, collector.Request) (collector.Result, error) {
	when := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return collector.Result{
		Candidates: []provider.Candidate{
			{Provider: "newsapi", Title: "Rates Rise Again", URL: "https://a.example/rates", PublishedAt: &when, Snippet: "the central bank raised rates again"},
		},
		Attempted: 1,
		Succeeded: 1,
	}, nil
}

type passthroughFetcher struct{}

func (passthroughFetcher) FetchAll(_ context.Context, articles []dedup.Article) <-chan fetcher.Result {
	out := make(chan fetcher.Result, len(articles))
	for _, article := range articles {
		out <- fetcher.Result{Article: article, Body: "body of " + article.Primary.Title}
	}
	close(out)
	return out
}

type staticEnricher struct{}

func (staticEnricher) Enrich(context.Context, string) (enrich.Enrichment, error) {
	return enrich.Enrichment{
		Category:     "economy",
		Sentiment:    "neutral",
		Signal:       "steady",
		TimeToImpact: "short_term",
		Entities:     []string{"Central Bank"},
	}, nil
}

func newTestServer(t *testing.T) (*Server, *ingest.Controller) {
	t.Helper()

	keywords, _ := json.Marshal([]string{"interest rates"})
	store := &memoryStore{group: db.KeywordGroup{
		GroupID:            7,
		Topic:              "monetary policy",
		Keywords:           keywords,
		RelevanceThreshold: 60,
		Enabled:            true,
	}}

	controller := ingest.NewController(
		store,
		staticSearcher{},
		quality.NewGate(nil, false, zerolog.Nop()),
		passthroughFetcher{},
		staticEnricher{},
		nil,
		ingest.NewBroker(),
		ingest.NewRegistry(),
		ingest.Options{
			DefaultProviders:  []string{"newsapi"},
			LookbackDays:      7,
			MaxPerProvider:    25,
			DefaultThreshold:  60,
			EnrichConcurrency: 2,
			EnrichTimeout:     time.Second,
		},
		zerolog.Nop(),
	)

	server := NewServer(nil, controller, quota.NewTracker(map[string]int{"newsapi": 10}), zerolog.Nop(), Options{})
	return server, controller
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	srv := httptest.NewServer(server.buildEcho())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Status string `json:"status"`
		Data   struct {
			Service string `json:"service"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if payload.Status != "success" || payload.Data.Service != "harvester" {
		t.Fatalf("unexpected health payload: %+v", payload)
	}
}

func TestSubmitAndInspectJob(t *testing.T) {
	t.Parallel()

	server, controller := newTestServer(t)
	srv := httptest.NewServer(server.buildEcho())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(`{"group_id": 7}`))
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var submitted struct {
		Data ingest.Snapshot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode submit payload: %v", err)
	}
	if submitted.Data.JobID == "" {
		t.Fatalf("expected job id in response")
	}

	job, err := controller.Registry().Get(submitted.Data.JobID)
	if err != nil {
		t.Fatalf("job not registered: %v", err)
	}
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not finish")
	}

	detailResp, err := http.Get(srv.URL + "/api/v1/jobs/" + submitted.Data.JobID)
	if err != nil {
		t.Fatalf("detail request failed: %v", err)
	}
	defer detailResp.Body.Close()

	var detail struct {
		Data ingest.Snapshot `json:"data"`
	}
	if err := json.NewDecoder(detailResp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail payload: %v", err)
	}
	if detail.Data.Phase != ingest.PhaseCompleted {
		t.Fatalf("expected completed job, got %s", detail.Data.Phase)
	}
	if detail.Data.Counts.Saved != 1 {
		t.Fatalf("unexpected counts: %+v", detail.Data.Counts)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	srv := httptest.NewServer(server.buildEcho())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(`{"group_id": 0}`))
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	missing, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(`{"group_id": 404}`))
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown group, got %d", missing.StatusCode)
	}
}

func TestJobEventsReplayTerminalEvent(t *testing.T) {
	t.Parallel()

	server, controller := newTestServer(t)
	srv := httptest.NewServer(server.buildEcho())
	defer srv.Close()

	job, err := controller.Submit(context.Background(), 7, ingest.SubmitOptions{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not finish")
	}

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID() + "/events")
	if err != nil {
		t.Fatalf("events request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("expected event-stream content type, got %q", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	if eventLine != ingest.EventCompleted {
		t.Fatalf("expected replayed completed event, got %q", eventLine)
	}

	var event ingest.Event
	if err := json.Unmarshal([]byte(dataLine), &event); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if event.JobID != job.ID() || event.Results.Saved != 1 {
		t.Fatalf("unexpected terminal event: %+v", event)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	srv := httptest.NewServer(server.buildEcho())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/jobs/nope", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteUsesFailEnvelope(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	srv := httptest.NewServer(server.buildEcho())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/nope")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Status != "fail" || payload.Message == "" {
		t.Fatalf("unexpected error envelope: %+v", payload)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	srv := httptest.NewServer(server.buildEcho())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/quota")
	if err != nil {
		t.Fatalf("quota request failed: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Data struct {
			Items []quota.Usage `json:"items"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode quota payload: %v", err)
	}
	if len(payload.Data.Items) != 1 || payload.Data.Items[0].Provider != "newsapi" {
		t.Fatalf("unexpected quota payload: %+v", payload.Data.Items)
	}
}
