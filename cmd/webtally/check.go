package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/webtally/webtally/internal/config"
	"github.com/webtally/webtally/internal/domain"
	"github.com/webtally/webtally/internal/limits"
	"github.com/webtally/webtally/internal/storage"
)

var checkCmd = &cobra.Command{
	Use:   "check URL",
	Short: "Check how a URL would be treated",
	Long:  `Check whether a URL is trackable, whitelisted, and how much of its domain's daily limit is used.`,
	Example: `  webtally check https://www.example.com/watch
  webtally -c config.yaml check chrome://settings`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	rawURL := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Quiet logger for CLI mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	accessor := storage.NewAccessor(store)
	evaluator := limits.NewEvaluator(accessor, cfg.Tracking.BlockPageURL, logger)

	printCheckResult(context.Background(), store, evaluator, rawURL)
	return nil
}

// printCheckResult prints the check result with colors
func printCheckResult(ctx context.Context, store storage.Store, evaluator *limits.Evaluator, rawURL string) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("URL CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("URL:        %s\n", rawURL)

	d, ok := domain.Extract(rawURL)
	if !ok {
		fmt.Println()
		cyan.Print("Decision:   ")
		yellow.Println("NOT TRACKABLE")
		fmt.Println("            → Browser-internal or malformed URL")
		fmt.Println("            → No time will be recorded")
		fmt.Println()
		cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println()
		return
	}
	fmt.Printf("Domain:     %s\n", d)
	fmt.Println()

	whitelisted := false
	if domains, err := store.Config().GetWhitelist(ctx); err == nil {
		for _, w := range domains {
			if w == d {
				whitelisted = true
			}
		}
	}
	if whitelisted {
		cyan.Print("Decision:   ")
		green.Println("WHITELISTED")
		fmt.Println("            → No time or visits will be recorded")
		fmt.Println("            → Limits do not apply")
		fmt.Println()
		cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println()
		return
	}

	now := time.Now()
	exceeded, blockURL, err := evaluator.Exceeded(ctx, d, now)
	if err != nil {
		red.Printf("Error checking limits: %v\n", err)
		return
	}

	cyan.Print("Decision:   ")
	if exceeded {
		red.Println("BLOCKED")
		fmt.Println("            → Daily limit is used up and blocking is on")
		fmt.Printf("            → Navigation would be redirected to %s\n", blockURL)
	} else {
		green.Println("TRACKED")
		fmt.Println("            → Active time will be recorded")
	}

	// Show today's usage against the limit, if one is set
	limit, haveLimit := lookupLimit(ctx, store, d)
	if haveLimit && limit.TimeLimitMS > 0 {
		used := todayUsage(ctx, store, d, now)
		fmt.Println()
		fmt.Printf("Limit:      %s\n", formatDuration(limit.TimeLimitMS))
		fmt.Printf("Used today: %s (%.0f%%)\n", formatDuration(used),
			100*float64(used)/float64(limit.TimeLimitMS))
		fmt.Printf("Blocking:   %v\n", limit.BlockOnLimit)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func lookupLimit(ctx context.Context, store storage.Store, d string) (storage.Limit, bool) {
	all, err := store.Config().GetLimits(ctx)
	if err != nil {
		return storage.Limit{}, false
	}
	limit, ok := all[d]
	return limit, ok
}

func todayUsage(ctx context.Context, store storage.Store, d string, now time.Time) int64 {
	records, err := store.Daily().GetDay(ctx, storage.DayKey(now))
	if err != nil {
		return 0
	}
	return records[d].TimeMS
}
