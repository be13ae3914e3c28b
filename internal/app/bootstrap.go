package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/cli"
	"github.com/pulsewire/harvester/internal/collector"
	"github.com/pulsewire/harvester/internal/config"
	"github.com/pulsewire/harvester/internal/db"
	"github.com/pulsewire/harvester/internal/enrich"
	"github.com/pulsewire/harvester/internal/fetcher"
	"github.com/pulsewire/harvester/internal/ingest"
	"github.com/pulsewire/harvester/internal/logging"
	"github.com/pulsewire/harvester/internal/provider"
	"github.com/pulsewire/harvester/internal/quality"
	"github.com/pulsewire/harvester/internal/quota"
	"github.com/pulsewire/harvester/internal/vector"
)

// loadRuntime resolves env file, config, and logger, the preamble shared by
// every command.
func loadRuntime(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// pipeline bundles the components one ingestion controller needs.
type pipeline struct {
	controller *ingest.Controller
	quotas     *quota.Tracker
	fetchPool  *fetcher.Fetcher
}

func (p *pipeline) Close() {
	if p != nil && p.fetchPool != nil {
		p.fetchPool.Close()
	}
}

// buildPipeline wires providers, quota tracking, quality gating, fetching,
// enrichment, and vector indexing into a controller backed by the pool.
func buildPipeline(cfg *config.Config, pool *db.Pool, logger zerolog.Logger) (*pipeline, error) {
	registry := provider.NewRegistry()
	ceilings := make(map[string]int)

	for _, name := range cfg.EnabledProvidersList() {
		switch name {
		case config.ProviderNewsAPI:
			if cfg.NewsAPIKey == "" {
				logger.Warn().Msg("newsapi enabled without an api key, provider skipped")
				continue
			}
			if err := registry.Register(provider.NewNewsAPI(cfg.NewsAPIEndpoint, cfg.NewsAPIKey, cfg.SearchTimeout)); err != nil {
				return nil, err
			}
		case config.ProviderGDELT:
			if err := registry.Register(provider.NewGDELT(cfg.GDELTEndpoint, cfg.SearchTimeout)); err != nil {
				return nil, err
			}
		case config.ProviderHeadlines:
			if cfg.HeadlinesIndexURL == "" {
				logger.Warn().Msg("headlines enabled without an index url, provider skipped")
				continue
			}
			if err := registry.Register(provider.NewHeadlines(cfg.HeadlinesIndexURL, cfg.SearchTimeout)); err != nil {
				return nil, err
			}
		}
		ceilings[name] = cfg.DailyQuota(name)
	}
	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no usable search providers configured")
	}

	quotas := quota.NewTracker(ceilings)
	search := collector.New(registry, quotas, logger)

	var scorer quality.Scorer
	var enricher ingest.Enricher
	if cfg.AIAPIKey != "" {
		client := enrich.NewClient(cfg.AIEndpoint, cfg.AIAPIKey, enrich.ClientOptions{
			Model:       cfg.AIModel,
			Temperature: cfg.AITemperature,
			MaxTokens:   cfg.AIMaxTokens,
			Timeout:     cfg.AITimeout,
		})
		scorer = client
		enricher = client
	} else {
		logger.Warn().Msg("no ai api key configured, relevance scoring and enrichment disabled")
	}
	gate := quality.NewGate(scorer, cfg.QualityControlEnabled && scorer != nil, logger)

	fetchPool, err := fetcher.New(cfg.FetchConcurrency, fetcher.Options{
		Timeout: cfg.FetchTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build fetch pool: %w", err)
	}

	var indexer vector.Indexer = vector.Noop{}
	if cfg.VectorIndexURL != "" {
		indexer = vector.NewHTTPIndexer(cfg.VectorIndexURL)
	}

	controller := ingest.NewController(
		pool,
		search,
		gate,
		fetchPool,
		enricher,
		indexer,
		ingest.NewBroker(),
		ingest.NewRegistry(),
		ingest.Options{
			DefaultProviders:    registry.Names(),
			LookbackDays:        cfg.LookbackDays,
			MaxPerProvider:      cfg.MaxPerProvider,
			DefaultThreshold:    cfg.RelevanceThreshold,
			SaveApprovedOnly:    cfg.SaveApprovedOnly,
			EnrichConcurrency:   cfg.FetchConcurrency,
			EnrichTimeout:       cfg.AITimeout,
			PersistRetryMax:     cfg.PersistRetryMax,
			PersistRetryBackoff: cfg.PersistRetryBackoff,
			ProviderPriority:    registry.Priority,
		},
		logger,
	)

	return &pipeline{
		controller: controller,
		quotas:     quotas,
		fetchPool:  fetchPool,
	}, nil
}
