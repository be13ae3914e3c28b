package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pulsewire/harvester/internal/cli"
	"github.com/pulsewire/harvester/internal/db"
)

func runGroups(args []string) int {
	if len(args) == 0 {
		printGroupsUsage()
		return 2
	}

	action := strings.ToLower(strings.TrimSpace(args[0]))
	switch action {
	case "help", "-h", "--help":
		printGroupsUsage()
		return 0
	case "list":
		return runGroupsList(args[1:])
	case "create":
		return runGroupsCreate(args[1:])
	case "update":
		return runGroupsUpdate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown groups action: %s\n\n", args[0])
		printGroupsUsage()
		return 2
	}
}

func printGroupsUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  harvester groups list [-enabled]")
	fmt.Fprintln(os.Stderr, "  harvester groups create -topic <topic> -keywords <expr,...> [flags]")
	fmt.Fprintln(os.Stderr, "  harvester groups update -group <id> -topic <topic> -keywords <expr,...> [flags]")
}

func runGroupsList(args []string) int {
	fs := flag.NewFlagSet("groups list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	enabledOnly := fs.Bool("enabled", false, "Show only enabled groups")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	groups, err := pool.ListKeywordGroups(ctx, *enabledOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list keyword groups: %v\n", err)
		return 1
	}

	if len(groups) == 0 {
		fmt.Println("no keyword groups")
		return 0
	}
	for _, group := range groups {
		fmt.Printf(
			"group_id=%d topic=%q enabled=%t threshold=%d keywords=%s providers=%s\n",
			group.GroupID,
			group.Topic,
			group.Enabled,
			group.RelevanceThreshold,
			strings.Join(group.KeywordList(), "|"),
			strings.Join(group.ProviderList(), ","),
		)
	}
	return 0
}

func runGroupsCreate(args []string) int {
	fs := flag.NewFlagSet("groups create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	input, timeout := addGroupInputFlags(fs)

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	group, err := pool.CreateKeywordGroup(ctx, input())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create keyword group: %v\n", err)
		return 1
	}

	fmt.Printf("created group_id=%d topic=%q\n", group.GroupID, group.Topic)
	return 0
}

func runGroupsUpdate(args []string) int {
	fs := flag.NewFlagSet("groups update", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	groupID := fs.Int64("group", 0, "Keyword group id to update")
	input, timeout := addGroupInputFlags(fs)

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

	group, err := pool.UpdateKeywordGroup(ctx, *groupID, input())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update keyword group: %v\n", err)
		return 1
	}

	fmt.Printf("updated group_id=%d topic=%q enabled=%t\n", group.GroupID, group.Topic, group.Enabled)
	return 0
}

// addGroupInputFlags registers the shared create/update flags and returns a
// closure assembling the input after parsing.
func addGroupInputFlags(fs *flag.FlagSet) (func() db.KeywordGroupInput, *time.Duration) {
	topic := fs.String("topic", "", "Human-readable topic label")
	keywords := fs.String("keywords", "", "Comma-separated keyword expressions (quote multi-word phrases)")
	providers := fs.String("providers", "", "Comma-separated provider subset (empty = all enabled)")
	threshold := fs.Int("threshold", 0, "Relevance threshold 0-100 (0 = use global default)")
	enabled := fs.Bool("enabled", true, "Whether the group participates in scheduled runs")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	return func() db.KeywordGroupInput {
		return db.KeywordGroupInput{
			Topic:              strings.TrimSpace(*topic),
			Keywords:           splitCSV(*keywords),
			Providers:          splitCSV(*providers),
			RelevanceThreshold: *threshold,
			Enabled:            *enabled,
		}
	}, timeout
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
