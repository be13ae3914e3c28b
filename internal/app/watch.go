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

	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/cli"
	"github.com/pulsewire/harvester/internal/db"
	"github.com/pulsewire/harvester/internal/ingest"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	immediate := fs.Bool("immediate", true, "Run all enabled groups once on startup before ticking")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		logger.Info().Msg("shutdown requested")
		cancel()
	}()

	logger.Info().Dur("interval", cfg.CheckInterval).Msg("watch scheduler started")

	if *immediate {
		runEnabledGroups(ctx, pool, pipe, logger)
	}

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("watch scheduler stopped")
			return 0
		case <-ticker.C:
			runEnabledGroups(ctx, pool, pipe, logger)
		}
	}
}

// runEnabledGroups executes one ingestion run per enabled keyword group,
// sequentially. A slow group delays later ones rather than stacking
// overlapping runs against the same provider quotas.
func runEnabledGroups(ctx context.Context, pool *db.Pool, pipe *pipeline, logger zerolog.Logger) {
	groups, err := pool.ListKeywordGroups(ctx, true)
	if err != nil {
		logger.Error().Err(err).Msg("listing enabled keyword groups failed")
		return
	}
	if len(groups) == 0 {
		logger.Info().Msg("no enabled keyword groups, skipping cycle")
		return
	}

	for _, group := range groups {
		if ctx.Err() != nil {
			return
		}

		job, err := pipe.controller.Submit(ctx, group.GroupID, ingest.SubmitOptions{})
		if err != nil {
			logger.Error().Err(err).Int64("group_id", group.GroupID).Msg("scheduled run submission failed")
			continue
		}

		select {
		case <-ctx.Done():
			job.Cancel()
			<-job.Done()
			return
		case <-job.Done():
		}

		snapshot := job.Snapshot()
		logger.Info().
			Str("job_id", snapshot.JobID).
			Int64("group_id", group.GroupID).
			Str("phase", string(snapshot.Phase)).
			Int("found", snapshot.Counts.Found).
			Int("saved", snapshot.Counts.Saved).
			Int("errors", snapshot.Counts.Errors).
			Msg("scheduled run finished")
	}
}
