package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsewire/harvester/internal/cli"
	"github.com/pulsewire/harvester/internal/db"
	"github.com/pulsewire/harvester/internal/ingest"
)

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	groupID := fs.Int64("group", 0, "Keyword group id to run")
	lookbackDays := fs.Int("lookback-days", 0, "Override lookback window in days (1-30)")
	maxArticles := fs.Int("max-articles", 0, "Cap of articles processed past quality gating (0 = no cap)")
	dryRun := fs.Bool("dry-run", false, "Run the full pipeline without writing articles")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *groupID <= 0 {
		fmt.Fprintln(os.Stderr, "--group is required")
		return 2
	}
	if *lookbackDays < 0 || *lookbackDays > 30 {
		fmt.Fprintln(os.Stderr, "--lookback-days must be between 1 and 30")
		return 2
	}
	if *maxArticles < 0 {
		fmt.Fprintln(os.Stderr, "--max-articles must be >= 0")
		return 2
	}

	cfg, logger, err := loadRuntime(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to %v\n", err)
		return 1
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	pipe, err := buildPipeline(cfg, pool, logger)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline construction failed")
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}
	defer pipe.Close()

	job, err := pipe.controller.Submit(context.Background(), *groupID, ingest.SubmitOptions{
		LookbackDays: *lookbackDays,
		MaxArticles:  *maxArticles,
		DryRun:       *dryRun,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to submit job: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		fmt.Fprintln(os.Stderr, "Cancellation requested, waiting for in-flight work to settle...")
		job.Cancel()
		<-job.Done()
	case <-job.Done():
	}

	snapshot := job.Snapshot()
	printJobSummary(snapshot)

	if snapshot.Phase == ingest.PhaseFailed {
		return 1
	}
	return 0
}

func printJobSummary(snapshot ingest.Snapshot) {
	fmt.Printf("job_id=%s phase=%s dry_run=%t\n", snapshot.JobID, snapshot.Phase, snapshot.DryRun)
	fmt.Printf(
		"found=%d deduplicated=%d already_stored=%d quality_passed=%d rejected=%d fetched=%d enriched=%d saved=%d errors=%d\n",
		snapshot.Counts.Found,
		snapshot.Counts.Deduplicated,
		snapshot.Counts.AlreadyStored,
		snapshot.Counts.QualityPassed,
		snapshot.Counts.Rejected,
		snapshot.Counts.Fetched,
		snapshot.Counts.Enriched,
		snapshot.Counts.Saved,
		snapshot.Counts.Errors,
	)
	if snapshot.FailureCause != "" {
		fmt.Printf("failure_cause=%s\n", snapshot.FailureCause)
	}
	for _, itemErr := range snapshot.Errors {
		fmt.Printf("error kind=%s item=%s reason=%s\n", itemErr.Kind, itemErr.Item, itemErr.Reason)
	}
}
