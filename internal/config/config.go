package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Provider identifiers accepted in HV_ENABLED_PROVIDERS.
const (
	ProviderNewsAPI   = "newsapi"
	ProviderGDELT     = "gdelt"
	ProviderHeadlines = "headlines"
)

var knownProviders = map[string]struct{}{
	ProviderNewsAPI:   {},
	ProviderGDELT:     {},
	ProviderHeadlines: {},
}

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"HV_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"HV_DB_MAX_CONNS" default:"8"`

	CheckInterval    time.Duration `envconfig:"HV_CHECK_INTERVAL" default:"1h"`
	LookbackDays     int           `envconfig:"HV_LOOKBACK_DAYS" default:"7"`
	MaxPerProvider   int           `envconfig:"HV_MAX_PER_PROVIDER" default:"25"`
	EnabledProviders string        `envconfig:"HV_ENABLED_PROVIDERS" default:"newsapi,gdelt"`

	NewsAPIEndpoint   string `envconfig:"HV_NEWSAPI_ENDPOINT" default:"https://newsapi.org/v2/everything"`
	NewsAPIKey        string `envconfig:"HV_NEWSAPI_KEY" default:""`
	NewsAPIDailyQuota int    `envconfig:"HV_NEWSAPI_DAILY_QUOTA" default:"100"`

	GDELTEndpoint   string `envconfig:"HV_GDELT_ENDPOINT" default:"https://api.gdeltproject.org/api/v2/doc/doc"`
	GDELTDailyQuota int    `envconfig:"HV_GDELT_DAILY_QUOTA" default:"500"`

	HeadlinesIndexURL   string `envconfig:"HV_HEADLINES_INDEX_URL" default:""`
	HeadlinesDailyQuota int    `envconfig:"HV_HEADLINES_DAILY_QUOTA" default:"200"`

	RelevanceThreshold    int  `envconfig:"HV_RELEVANCE_THRESHOLD" default:"60"`
	QualityControlEnabled bool `envconfig:"HV_QUALITY_CONTROL_ENABLED" default:"true"`
	SaveApprovedOnly      bool `envconfig:"HV_SAVE_APPROVED_ONLY" default:"true"`

	FetchConcurrency int           `envconfig:"HV_FETCH_CONCURRENCY" default:"5"`
	FetchTimeout     time.Duration `envconfig:"HV_FETCH_TIMEOUT" default:"30s"`
	SearchTimeout    time.Duration `envconfig:"HV_SEARCH_TIMEOUT" default:"15s"`

	AIEndpoint    string        `envconfig:"HV_AI_ENDPOINT" default:"https://api.openai.com/v1/chat/completions"`
	AIAPIKey      string        `envconfig:"HV_AI_API_KEY" default:""`
	AIModel       string        `envconfig:"HV_AI_MODEL" default:"gpt-4o-mini"`
	AITemperature float64       `envconfig:"HV_AI_TEMPERATURE" default:"0.2"`
	AIMaxTokens   int           `envconfig:"HV_AI_MAX_TOKENS" default:"800"`
	AITimeout     time.Duration `envconfig:"HV_AI_TIMEOUT" default:"30s"`

	VectorIndexURL string `envconfig:"HV_VECTOR_INDEX_URL" default:""`

	PersistRetryMax     int           `envconfig:"HV_PERSIST_RETRY_MAX" default:"3"`
	PersistRetryBackoff time.Duration `envconfig:"HV_PERSIST_RETRY_BACKOFF" default:"500ms"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("HV_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("HV_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("HV_DB_MIN_CONNS (%d) cannot exceed HV_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.CheckInterval < 15*time.Minute || c.CheckInterval > 24*time.Hour {
		return fmt.Errorf("HV_CHECK_INTERVAL must be between 15m and 24h, got %s", c.CheckInterval)
	}
	if c.LookbackDays < 1 || c.LookbackDays > 30 {
		return fmt.Errorf("HV_LOOKBACK_DAYS must be between 1 and 30, got %d", c.LookbackDays)
	}
	if c.MaxPerProvider < 1 {
		return fmt.Errorf("HV_MAX_PER_PROVIDER must be >= 1")
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 100 {
		return fmt.Errorf("HV_RELEVANCE_THRESHOLD must be between 0 and 100, got %d", c.RelevanceThreshold)
	}
	if c.FetchConcurrency < 1 || c.FetchConcurrency > 64 {
		return fmt.Errorf("HV_FETCH_CONCURRENCY must be between 1 and 64, got %d", c.FetchConcurrency)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("HV_FETCH_TIMEOUT must be > 0")
	}
	if c.SearchTimeout <= 0 {
		return fmt.Errorf("HV_SEARCH_TIMEOUT must be > 0")
	}
	if c.AITemperature < 0 || c.AITemperature > 2 {
		return fmt.Errorf("HV_AI_TEMPERATURE must be between 0 and 2, got %g", c.AITemperature)
	}
	if c.AIMaxTokens < 1 {
		return fmt.Errorf("HV_AI_MAX_TOKENS must be >= 1")
	}
	if c.PersistRetryMax < 0 {
		return fmt.Errorf("HV_PERSIST_RETRY_MAX must be >= 0")
	}
	for _, quota := range []struct {
		name  string
		value int
	}{
		{"HV_NEWSAPI_DAILY_QUOTA", c.NewsAPIDailyQuota},
		{"HV_GDELT_DAILY_QUOTA", c.GDELTDailyQuota},
		{"HV_HEADLINES_DAILY_QUOTA", c.HeadlinesDailyQuota},
	} {
		if quota.value < 0 {
			return fmt.Errorf("%s must be >= 0", quota.name)
		}
	}
	for _, name := range c.EnabledProvidersList() {
		if _, known := knownProviders[name]; !known {
			return fmt.Errorf("HV_ENABLED_PROVIDERS contains unknown provider %q", name)
		}
	}
	if len(c.EnabledProvidersList()) == 0 {
		return fmt.Errorf("HV_ENABLED_PROVIDERS must list at least one provider")
	}
	return nil
}

// EnabledProvidersList parses the comma-separated provider list, deduplicated
// and normalized to lowercase.
func (c *Config) EnabledProvidersList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.EnabledProviders, ",")
	names := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// DailyQuota returns the configured per-day request ceiling for a provider.
// Zero means the provider is never called.
func (c *Config) DailyQuota(provider string) int {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderNewsAPI:
		return c.NewsAPIDailyQuota
	case ProviderGDELT:
		return c.GDELTDailyQuota
	case ProviderHeadlines:
		return c.HeadlinesDailyQuota
	default:
		return 0
	}
}
