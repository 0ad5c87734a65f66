package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/noah04091/contract-ai-sub015/internal/cli"
	"github.com/noah04091/contract-ai-sub015/internal/feedback"
	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
)

type pipelineStats struct {
	LawUpdatesTotal     int64            `json:"law_updates_total"`
	LawUpdates24h       int64            `json:"law_updates_24h"`
	StaleContracts      int64            `json:"stale_contracts"`
	Notifications24h    int64            `json:"notifications_24h"`
	PendingDigests      map[string]int64 `json:"pending_digests"`
	FeedbackTotal       int64            `json:"feedback_total"`
	FeedbackHelpfulRate float64          `json:"feedback_helpful_rate"`
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	withFeedback := fs.Bool("feedback", false, "Include the full feedback rollup")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, rt, err := connectRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.Close()

	dayAgo := globaltime.Now().UTC().Add(-24 * time.Hour)
	stats := pipelineStats{}

	if stats.LawUpdatesTotal, err = rt.pool.CountLawUpdates(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query law updates: %v\n", err)
		return 1
	}
	if stats.LawUpdates24h, err = rt.pool.CountLawUpdatesSince(ctx, dayAgo); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query recent law updates: %v\n", err)
		return 1
	}
	if stats.StaleContracts, err = rt.pool.CountStaleContracts(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query stale contracts: %v\n", err)
		return 1
	}
	if stats.Notifications24h, err = rt.pool.CountNotificationsSince(ctx, dayAgo); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query notifications: %v\n", err)
		return 1
	}
	if stats.PendingDigests, err = rt.pool.CountPendingDigestEntries(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query pending digests: %v\n", err)
		return 1
	}
	if stats.FeedbackHelpfulRate, stats.FeedbackTotal, err = rt.pool.FeedbackHelpfulRate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query feedback rate: %v\n", err)
		return 1
	}

	var rollup *feedback.Aggregate
	if *withFeedback {
		agg, err := feedback.NewService(rt.pool, rt.logger).Aggregate(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to aggregate feedback: %v\n", err)
			return 1
		}
		rollup = &agg
	}

	if outputFormat == outputFormatJSON {
		payload := struct {
			pipelineStats
			Feedback *feedback.Aggregate `json:"feedback,omitempty"`
		}{pipelineStats: stats, Feedback: rollup}
		if err := printJSON(payload); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"law_updates_total", fmt.Sprintf("%d", stats.LawUpdatesTotal)},
		{"law_updates_24h", fmt.Sprintf("%d", stats.LawUpdates24h)},
		{"stale_contracts", fmt.Sprintf("%d", stats.StaleContracts)},
		{"notifications_24h", fmt.Sprintf("%d", stats.Notifications24h)},
	}
	for mode, count := range stats.PendingDigests {
		rows = append(rows, []string{"pending_digest_" + mode, fmt.Sprintf("%d", count)})
	}
	rows = append(rows,
		[]string{"feedback_total", fmt.Sprintf("%d", stats.FeedbackTotal)},
		[]string{"feedback_helpful_rate", fmt.Sprintf("%.3f", stats.FeedbackHelpfulRate)},
	)
	if err := writeTable([]string{"metric", "value"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}

	if rollup != nil {
		fmt.Println()
		areaRows := make([][]string, 0, len(rollup.ByArea))
		for area, stat := range rollup.ByArea {
			areaRows = append(areaRows, []string{area, fmt.Sprintf("%.3f", stat.HelpfulRate), fmt.Sprintf("%d", stat.Count)})
		}
		if err := writeTable([]string{"area", "helpful_rate", "ratings"}, areaRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render feedback table: %v\n", err)
			return 1
		}
	}
	return 0
}
