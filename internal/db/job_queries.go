package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pulsewire/harvester/internal/globaltime"
)

var ErrJobNotFound = errors.New("ingest job not found")

// InsertJob records a newly submitted job.
func (p *Pool) InsertJob(ctx context.Context, record IngestJobRecord) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	const q = `
INSERT INTO harvest.ingest_jobs (job_id, group_id, topic, phase, dry_run, started_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now())
`

	startedAt := startedAtOrNow(record.StartedAt)

	if _, err := p.Exec(ctx, q, record.JobID, record.GroupID, record.Topic, record.Phase, record.DryRun, startedAt); err != nil {
		return fmt.Errorf("insert ingest job: %w", err)
	}
	return nil
}

func startedAtOrNow(startedAt time.Time) time.Time {
	if startedAt.IsZero() {
		return globaltime.UTC()
	}
	return startedAt
}

// FinalizeJob writes the terminal snapshot of a finished run.
func (p *Pool) FinalizeJob(ctx context.Context, record IngestJobRecord) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	errorsJSON := record.Errors
	if len(errorsJSON) == 0 {
		errorsJSON = json.RawMessage("[]")
	}

	const q = `
UPDATE harvest.ingest_jobs
SET phase = $2,
	found = $3,
	deduplicated = $4,
	quality_passed = $5,
	fetched = $6,
	enriched = $7,
	saved = $8,
	error_count = $9,
	errors = $10,
	finished_at = $11,
	updated_at = now()
WHERE job_id = $1
`

	tag, err := p.Exec(
		ctx,
		q,
		record.JobID,
		record.Phase,
		record.Found,
		record.Deduplicated,
		record.QualityPassed,
		record.Fetched,
		record.Enriched,
		record.Saved,
		record.ErrorCount,
		errorsJSON,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finalize ingest job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, record.JobID)
	}
	return nil
}

// ListRecentJobs returns the newest job summaries.
func (p *Pool) ListRecentJobs(ctx context.Context, limit int) ([]IngestJobRecord, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	const q = `
SELECT
	j.job_id,
	j.group_id,
	j.topic,
	j.phase,
	j.found,
	j.deduplicated,
	j.quality_passed,
	j.fetched,
	j.enriched,
	j.saved,
	j.error_count,
	j.errors,
	j.dry_run,
	j.started_at,
	j.finished_at,
	j.created_at,
	j.updated_at
FROM harvest.ingest_jobs j
ORDER BY j.started_at DESC, j.job_id DESC
LIMIT $1
`

	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingest jobs: %w", err)
	}
	defer rows.Close()

	records := make([]IngestJobRecord, 0, limit)
	for rows.Next() {
		var record IngestJobRecord
		if err := rows.Scan(
			&record.JobID,
			&record.GroupID,
			&record.Topic,
			&record.Phase,
			&record.Found,
			&record.Deduplicated,
			&record.QualityPassed,
			&record.Fetched,
			&record.Enriched,
			&record.Saved,
			&record.ErrorCount,
			&record.Errors,
			&record.DryRun,
			&record.StartedAt,
			&record.FinishedAt,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ingest job row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingest job rows: %w", err)
	}

	return records, nil
}
