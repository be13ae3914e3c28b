package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrIncompleteArticle rejects records with neither title nor body; the
// pipeline must supply at least a title before persistence is reached.
var ErrIncompleteArticle = errors.New("article has no title and no body")

// UpsertArticle inserts or updates the record keyed by canonical URL and
// reports whether a row already existed. Updates fill in missing enrichment
// fields and never replace a real title or body with a blank placeholder.
func (p *Pool) UpsertArticle(ctx context.Context, article Article) (bool, error) {
	if p == nil || p.gdb == nil {
		return false, fmt.Errorf("database pool is not initialized")
	}
	if strings.TrimSpace(article.CanonicalURL) == "" {
		return false, fmt.Errorf("canonical URL is required")
	}
	if strings.TrimSpace(article.Title) == "" && strings.TrimSpace(article.Body) == "" {
		return false, fmt.Errorf("%w: %s", ErrIncompleteArticle, article.CanonicalURL)
	}

	const q = `
INSERT INTO harvest.articles (
	canonical_url,
	title,
	source,
	source_domain,
	topic,
	group_id,
	published_at,
	body,
	body_from_snippet,
	language,
	category,
	sentiment,
	signal,
	time_to_impact,
	entities,
	grouped_sources,
	auto_ingested,
	ingest_status,
	quality_score,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now(), now())
ON CONFLICT (canonical_url)
DO UPDATE SET
	title = CASE
		WHEN btrim(harvest.articles.title) = '' AND btrim(EXCLUDED.title) <> '' THEN EXCLUDED.title
		ELSE harvest.articles.title
	END,
	body = CASE
		WHEN btrim(harvest.articles.body) = '' AND btrim(EXCLUDED.body) <> '' THEN EXCLUDED.body
		ELSE harvest.articles.body
	END,
	body_from_snippet = CASE
		WHEN btrim(harvest.articles.body) = '' AND btrim(EXCLUDED.body) <> '' THEN EXCLUDED.body_from_snippet
		ELSE harvest.articles.body_from_snippet
	END,
	published_at = COALESCE(harvest.articles.published_at, EXCLUDED.published_at),
	category = COALESCE(harvest.articles.category, EXCLUDED.category),
	sentiment = COALESCE(harvest.articles.sentiment, EXCLUDED.sentiment),
	signal = COALESCE(harvest.articles.signal, EXCLUDED.signal),
	time_to_impact = COALESCE(harvest.articles.time_to_impact, EXCLUDED.time_to_impact),
	entities = COALESCE(harvest.articles.entities, EXCLUDED.entities),
	quality_score = COALESCE(harvest.articles.quality_score, EXCLUDED.quality_score),
	ingest_status = CASE
		WHEN harvest.articles.ingest_status = 'unenriched' AND EXCLUDED.ingest_status = 'enriched' THEN 'enriched'
		ELSE harvest.articles.ingest_status
	END,
	updated_at = now()
RETURNING (xmax <> 0) AS existed
`

	var existed bool
	err := p.QueryRow(
		ctx,
		q,
		strings.TrimSpace(article.CanonicalURL),
		strings.TrimSpace(article.Title),
		article.Source,
		article.SourceDomain,
		article.Topic,
		article.GroupID,
		article.PublishedAt,
		article.Body,
		article.BodyFromSnippet,
		normalizeLanguage(article.Language),
		article.Category,
		article.Sentiment,
		article.Signal,
		article.TimeToImpact,
		article.Entities,
		article.GroupedSources,
		article.AutoIngested,
		normalizeIngestStatus(article.IngestStatus),
		article.QualityScore,
	).Scan(&existed)
	if err != nil {
		return false, fmt.Errorf("upsert article: %w", err)
	}
	return existed, nil
}

// ExistingCanonicalURLs returns the subset of urls already persisted.
func (p *Pool) ExistingCanonicalURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	existing := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return existing, nil
	}

	const q = `
SELECT a.canonical_url
FROM harvest.articles a
WHERE a.canonical_url = ANY($1)
`

	rows, err := p.Query(ctx, q, urls)
	if err != nil {
		return nil, fmt.Errorf("query existing canonical urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var canonical string
		if err := rows.Scan(&canonical); err != nil {
			return nil, fmt.Errorf("scan canonical url row: %w", err)
		}
		existing[canonical] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate canonical url rows: %w", err)
	}

	return existing, nil
}

// ArticleListOptions controls article listing queries.
type ArticleListOptions struct {
	GroupID int64
	From    time.Time
	To      time.Time
	Limit   int
}

// ArticleListItem is used by the articles CLI command.
type ArticleListItem struct {
	ArticleID    int64      `json:"article_id"`
	CanonicalURL string     `json:"canonical_url"`
	Title        string     `json:"title"`
	Source       string     `json:"source"`
	Topic        string     `json:"topic"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	IngestStatus string     `json:"ingest_status"`
	QualityScore *int       `json:"quality_score,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ListArticles lists saved articles in a UTC created_at window.
func (p *Pool) ListArticles(ctx context.Context, opts ArticleListOptions) ([]ArticleListItem, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	from := opts.From.UTC()
	to := opts.To.UTC()
	if !from.Before(to) {
		return nil, fmt.Errorf("from must be before to")
	}

	const q = `
SELECT
	a.article_id,
	a.canonical_url,
	a.title,
	a.source,
	a.topic,
	a.published_at,
	a.ingest_status,
	a.quality_score,
	a.created_at
FROM harvest.articles a
WHERE a.created_at >= $1
  AND a.created_at < $2
  AND ($3 = 0 OR a.group_id = $3)
ORDER BY a.created_at DESC, a.article_id DESC
LIMIT $4
`

	rows, err := p.Query(ctx, q, from, to, opts.GroupID, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	items := make([]ArticleListItem, 0, opts.Limit)
	for rows.Next() {
		var row ArticleListItem
		if err := rows.Scan(
			&row.ArticleID,
			&row.CanonicalURL,
			&row.Title,
			&row.Source,
			&row.Topic,
			&row.PublishedAt,
			&row.IngestStatus,
			&row.QualityScore,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}

	return items, nil
}

func normalizeLanguage(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "und"
	}
	return trimmed
}

func normalizeIngestStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case IngestStatusEnriched:
		return IngestStatusEnriched
	default:
		return IngestStatusUnenriched
	}
}
