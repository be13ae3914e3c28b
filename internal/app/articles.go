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
	"github.com/pulsewire/harvester/internal/globaltime"
)

func runArticles(args []string) int {
	fs := flag.NewFlagSet("articles", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	groupID := fs.Int64("group", 0, "Filter by keyword group id (0 = all)")
	days := fs.Int("days", 7, "How many days back to list")
	limit := fs.Int("limit", 50, "Maximum rows to print")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *days < 1 {
		fmt.Fprintln(os.Stderr, "--days must be >= 1")
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

	now := globaltime.UTC()
	items, err := pool.ListArticles(ctx, db.ArticleListOptions{
		GroupID: *groupID,
		From:    now.AddDate(0, 0, -*days),
		To:      now,
		Limit:   *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list articles: %v\n", err)
		return 1
	}

	if len(items) == 0 {
		fmt.Println("no articles in window")
		return 0
	}
	for _, item := range items {
		published := "-"
		if item.PublishedAt != nil {
			published = item.PublishedAt.Format(time.RFC3339)
		}
		score := "-"
		if item.QualityScore != nil {
			score = fmt.Sprintf("%d", *item.QualityScore)
		}
		fmt.Printf(
			"article_id=%d status=%s score=%s source=%s published=%s title=%q url=%s\n",
			item.ArticleID,
			item.IngestStatus,
			score,
			item.Source,
			published,
			item.Title,
			item.CanonicalURL,
		)
	}
	return 0
}
