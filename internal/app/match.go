package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/noah04091/contract-ai-sub015/internal/cli"
	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
	"github.com/noah04091/contract-ai-sub015/internal/matcher"
)

func runMatch(args []string) int {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	lawID := fs.String("law", "", "Match a single law id instead of the recent window")
	since := fs.Duration("since", 24*time.Hour, "Match laws updated within this window")
	limit := fs.Int("limit", 200, "Maximum laws to match")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

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

	index, err := rt.loadIndex(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	svc := rt.newMatcherService(ctx, index)

	var laws []db.LawUpdate
	if trimmed := strings.TrimSpace(*lawID); trimmed != "" {
		law, err := rt.pool.GetLawUpdate(ctx, trimmed)
		if err != nil {
			if db.IsNoRows(err) {
				fmt.Fprintf(os.Stderr, "Unknown law: %s\n", trimmed)
				return 2
			}
			fmt.Fprintf(os.Stderr, "Failed to load law: %v\n", err)
			return 1
		}
		laws = append(laws, law)
	} else {
		cutoff := globaltime.Now().UTC().Add(-*since)
		laws, err = rt.pool.ListLawUpdatesSince(ctx, cutoff, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list recent laws: %v\n", err)
			return 1
		}
	}

	var matches []matcher.Match
	for _, law := range laws {
		lawMatches, err := svc.MatchLaw(law)
		if err != nil {
			rt.logger.Warn().Err(err).Str("law_id", law.LawID).Msg("match failed")
			continue
		}
		matches = append(matches, lawMatches...)
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(matches); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []string{m.ContractID, m.LawID, fmt.Sprintf("%.4f", m.Score), m.Area})
	}
	if err := writeTable([]string{"contract", "law", "score", "area"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
