package db

import (
	"encoding/json"
	"strings"
	"time"
)

// Article ingest statuses.
const (
	IngestStatusEnriched   = "enriched"
	IngestStatusUnenriched = "unenriched"
)

// Article maps harvest.articles, the durable record keyed by canonical URL.
type Article struct {
	ArticleID       int64           `gorm:"column:article_id;primaryKey;autoIncrement"`
	CanonicalURL    string          `gorm:"column:canonical_url;type:text;not null;uniqueIndex"`
	Title           string          `gorm:"column:title;type:text;not null"`
	Source          string          `gorm:"column:source;type:text;not null"`
	SourceDomain    *string         `gorm:"column:source_domain;type:text"`
	Topic           string          `gorm:"column:topic;type:text;not null"`
	GroupID         int64           `gorm:"column:group_id;type:bigint;not null;index"`
	PublishedAt     *time.Time      `gorm:"column:published_at;type:timestamptz"`
	Body            string          `gorm:"column:body;type:text;not null;default:''"`
	BodyFromSnippet bool            `gorm:"column:body_from_snippet;type:boolean;not null;default:false"`
	Language        string          `gorm:"column:language;type:text;not null;default:und"`
	Category        *string         `gorm:"column:category;type:text"`
	Sentiment       *string         `gorm:"column:sentiment;type:text"`
	Signal          *string         `gorm:"column:signal;type:text"`
	TimeToImpact    *string         `gorm:"column:time_to_impact;type:text"`
	Entities        json.RawMessage `gorm:"column:entities;type:jsonb"`
	GroupedSources  json.RawMessage `gorm:"column:grouped_sources;type:jsonb"`
	AutoIngested    bool            `gorm:"column:auto_ingested;type:boolean;not null;default:true"`
	IngestStatus    string          `gorm:"column:ingest_status;type:text;not null;default:unenriched"`
	QualityScore    *int            `gorm:"column:quality_score;type:integer"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "harvest.articles" }

// KeywordGroup maps harvest.keyword_groups, the operator-defined search topics.
type KeywordGroup struct {
	GroupID            int64           `gorm:"column:group_id;primaryKey;autoIncrement"`
	Topic              string          `gorm:"column:topic;type:text;not null"`
	Keywords           json.RawMessage `gorm:"column:keywords;type:jsonb;not null"`
	Providers          json.RawMessage `gorm:"column:providers;type:jsonb"`
	RelevanceThreshold int             `gorm:"column:relevance_threshold;type:integer;not null;default:60"`
	Enabled            bool            `gorm:"column:enabled;type:boolean;not null;default:true"`
	CreatedAt          time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (KeywordGroup) TableName() string { return "harvest.keyword_groups" }

// KeywordList decodes the group's keyword expressions in stored order.
func (g KeywordGroup) KeywordList() []string {
	return decodeStringList(g.Keywords)
}

// ProviderList decodes the group's enabled provider names.
func (g KeywordGroup) ProviderList() []string {
	return decodeStringList(g.Providers)
}

// IngestJobRecord maps harvest.ingest_jobs, the durable summary of one run.
type IngestJobRecord struct {
	JobID         string          `gorm:"column:job_id;type:text;primaryKey"`
	GroupID       int64           `gorm:"column:group_id;type:bigint;not null;index"`
	Topic         string          `gorm:"column:topic;type:text;not null"`
	Phase         string          `gorm:"column:phase;type:text;not null;default:pending"`
	Found         int             `gorm:"column:found;type:integer;not null;default:0"`
	Deduplicated  int             `gorm:"column:deduplicated;type:integer;not null;default:0"`
	QualityPassed int             `gorm:"column:quality_passed;type:integer;not null;default:0"`
	Fetched       int             `gorm:"column:fetched;type:integer;not null;default:0"`
	Enriched      int             `gorm:"column:enriched;type:integer;not null;default:0"`
	Saved         int             `gorm:"column:saved;type:integer;not null;default:0"`
	ErrorCount    int             `gorm:"column:error_count;type:integer;not null;default:0"`
	Errors        json.RawMessage `gorm:"column:errors;type:jsonb"`
	DryRun        bool            `gorm:"column:dry_run;type:boolean;not null;default:false"`
	StartedAt     time.Time       `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt    *time.Time      `gorm:"column:finished_at;type:timestamptz"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (IngestJobRecord) TableName() string { return "harvest.ingest_jobs" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&KeywordGroup{},
		&IngestJobRecord{},
	}
}

func decodeStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
