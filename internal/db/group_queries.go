package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrGroupNotFound = errors.New("keyword group not found")

// GetKeywordGroup loads one keyword group by id.
func (p *Pool) GetKeywordGroup(ctx context.Context, groupID int64) (KeywordGroup, error) {
	if p == nil || p.gdb == nil {
		return KeywordGroup{}, fmt.Errorf("database pool is not initialized")
	}

	const q = `
SELECT
	g.group_id,
	g.topic,
	g.keywords,
	g.providers,
	g.relevance_threshold,
	g.enabled,
	g.created_at,
	g.updated_at
FROM harvest.keyword_groups g
WHERE g.group_id = $1
LIMIT 1
`

	var group KeywordGroup
	err := p.QueryRow(ctx, q, groupID).Scan(
		&group.GroupID,
		&group.Topic,
		&group.Keywords,
		&group.Providers,
		&group.RelevanceThreshold,
		&group.Enabled,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return KeywordGroup{}, ErrGroupNotFound
		}
		return KeywordGroup{}, fmt.Errorf("query keyword group: %w", err)
	}
	return group, nil
}

// ListKeywordGroups returns keyword groups, optionally only enabled ones.
func (p *Pool) ListKeywordGroups(ctx context.Context, enabledOnly bool) ([]KeywordGroup, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	const q = `
SELECT
	g.group_id,
	g.topic,
	g.keywords,
	g.providers,
	g.relevance_threshold,
	g.enabled,
	g.created_at,
	g.updated_at
FROM harvest.keyword_groups g
WHERE ($1 = false OR g.enabled)
ORDER BY g.group_id
`

	rows, err := p.Query(ctx, q, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("query keyword groups: %w", err)
	}
	defer rows.Close()

	groups := make([]KeywordGroup, 0, 16)
	for rows.Next() {
		var group KeywordGroup
		if err := rows.Scan(
			&group.GroupID,
			&group.Topic,
			&group.Keywords,
			&group.Providers,
			&group.RelevanceThreshold,
			&group.Enabled,
			&group.CreatedAt,
			&group.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan keyword group row: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword group rows: %w", err)
	}

	return groups, nil
}

// KeywordGroupInput is the operator-facing create/update payload.
type KeywordGroupInput struct {
	Topic              string   `json:"topic"`
	Keywords           []string `json:"keywords"`
	Providers          []string `json:"providers"`
	RelevanceThreshold int      `json:"relevance_threshold"`
	Enabled            bool     `json:"enabled"`
}

func (in KeywordGroupInput) validate() error {
	if strings.TrimSpace(in.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if len(in.Keywords) == 0 {
		return fmt.Errorf("at least one keyword expression is required")
	}
	if in.RelevanceThreshold < 0 || in.RelevanceThreshold > 100 {
		return fmt.Errorf("relevance threshold must be between 0 and 100")
	}
	return nil
}

// CreateKeywordGroup inserts a new keyword group and returns it.
func (p *Pool) CreateKeywordGroup(ctx context.Context, in KeywordGroupInput) (KeywordGroup, error) {
	if p == nil || p.gdb == nil {
		return KeywordGroup{}, fmt.Errorf("database pool is not initialized")
	}
	if err := in.validate(); err != nil {
		return KeywordGroup{}, err
	}

	keywords, err := json.Marshal(in.Keywords)
	if err != nil {
		return KeywordGroup{}, fmt.Errorf("marshal keywords: %w", err)
	}
	providers, err := json.Marshal(in.Providers)
	if err != nil {
		return KeywordGroup{}, fmt.Errorf("marshal providers: %w", err)
	}

	const q = `
INSERT INTO harvest.keyword_groups (topic, keywords, providers, relevance_threshold, enabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
RETURNING group_id
`

	var groupID int64
	err = p.QueryRow(ctx, q, strings.TrimSpace(in.Topic), keywords, providers, in.RelevanceThreshold, in.Enabled).Scan(&groupID)
	if err != nil {
		return KeywordGroup{}, fmt.Errorf("insert keyword group: %w", err)
	}

	return p.GetKeywordGroup(ctx, groupID)
}

// UpdateKeywordGroup replaces an existing group's definition.
func (p *Pool) UpdateKeywordGroup(ctx context.Context, groupID int64, in KeywordGroupInput) (KeywordGroup, error) {
	if p == nil || p.gdb == nil {
		return KeywordGroup{}, fmt.Errorf("database pool is not initialized")
	}
	if err := in.validate(); err != nil {
		return KeywordGroup{}, err
	}

	keywords, err := json.Marshal(in.Keywords)
	if err != nil {
		return KeywordGroup{}, fmt.Errorf("marshal keywords: %w", err)
	}
	providers, err := json.Marshal(in.Providers)
	if err != nil {
		return KeywordGroup{}, fmt.Errorf("marshal providers: %w", err)
	}

	const q = `
UPDATE harvest.keyword_groups
SET topic = $2,
	keywords = $3,
	providers = $4,
	relevance_threshold = $5,
	enabled = $6,
	updated_at = now()
WHERE group_id = $1
`

	tag, err := p.Exec(ctx, q, groupID, strings.TrimSpace(in.Topic), keywords, providers, in.RelevanceThreshold, in.Enabled)
	if err != nil {
		return KeywordGroup{}, fmt.Errorf("update keyword group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return KeywordGroup{}, ErrGroupNotFound
	}

	return p.GetKeywordGroup(ctx, groupID)
}
