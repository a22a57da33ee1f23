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
	"github.com/webtally/webtally/internal/report"
	"github.com/webtally/webtally/internal/track"
)

var reportRange string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a usage summary from the local database",
	Long:  `Print per-domain active time and visit counts for a range of days.`,
	Example: `  webtally report
  webtally report --range week
  webtally -c config.yaml report --range all`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportRange, "range", "today", "Range to report (today, week, month, year, all)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	rng, err := report.ParseRange(reportRange)
	if err != nil {
		return err
	}

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

	engine := report.NewEngine(store, track.RealClock{}, logger)

	summary, err := engine.Aggregate(context.Background(), rng)
	if err != nil {
		return fmt.Errorf("failed to aggregate usage: %w", err)
	}

	printSummary(rng, summary)
	return nil
}

// printSummary prints the usage summary with colors
func printSummary(rng report.Range, summary *report.Summary) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Printf("USAGE SUMMARY (%s)\n", rng)
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	if len(summary.ByDomain) == 0 {
		yellow.Println("No activity recorded for this range.")
		fmt.Println()
		return
	}

	fmt.Printf("%-40s %12s %8s\n", "DOMAIN", "TIME", "VISITS")
	fmt.Printf("%-40s %12s %8s\n", "------", "----", "------")
	for _, d := range summary.ByDomain {
		fmt.Printf("%-40s %12s %8d\n", d.Domain, formatDuration(d.TimeMS), d.VisitCount)
	}

	fmt.Println()
	green.Printf("Total: %s across %d domains, %d visits\n",
		formatDuration(summary.TotalTimeMS), len(summary.ByDomain), summary.TotalVisits)
	fmt.Println()
}

// formatDuration renders milliseconds as a compact h/m/s string
func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
