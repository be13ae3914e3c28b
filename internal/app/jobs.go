package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pulsewire/harvester/internal/cli"
	"github.com/pulsewire/harvester/internal/db"
)

func runJobs(args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 20, "Maximum rows to print")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
		return 2
	}

	cfg, logger, err := loadRuntime(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	records, err := pool.ListRecentJobs(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list jobs: %v\n", err)
		return 1
	}

	if len(records) == 0 {
		fmt.Println("no recorded jobs")
		return 0
	}
	for _, record := range records {
		finished := "-"
		if record.FinishedAt != nil {
			finished = record.FinishedAt.Format(time.RFC3339)
		}
		fmt.Printf(
			"job_id=%s group_id=%d phase=%s found=%d saved=%d errors=%d dry_run=%t started=%s finished=%s\n",
			record.JobID,
			record.GroupID,
			record.Phase,
			record.Found,
			record.Saved,
			record.ErrorCount,
			record.DryRun,
			record.StartedAt.Format(time.RFC3339),
			finished,
		)
	}
	return 0
}
