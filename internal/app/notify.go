package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/noah04091/contract-ai-sub015/internal/cli"
	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
	"github.com/noah04091/contract-ai-sub015/internal/joblock"
	"github.com/noah04091/contract-ai-sub015/internal/matcher"
	"github.com/noah04091/contract-ai-sub015/internal/notify"
	"github.com/noah04091/contract-ai-sub015/internal/vectorindex"
)

func runNotify(args []string) int {
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	since := fs.Duration("since", 24*time.Hour, "Alert on laws updated within this window")
	limit := fs.Int("limit", 200, "Maximum laws to match")

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

	ctx, cancel, rt, err := connectRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.Close()

	release, err := rt.newLockManager().Acquire(ctx, "notify")
	if err != nil {
		if errors.Is(err, joblock.ErrHeld) {
			fmt.Fprintln(os.Stderr, "Another notify run is in progress, skipping")
			return 0
		}
		fmt.Fprintf(os.Stderr, "Failed to acquire notify lock: %v\n", err)
		return 1
	}
	defer release()

	index, err := rt.loadIndex(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	result, err := notifyRecentLaws(ctx, rt, index, *since, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Notify failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"matches=%d created=%d suppressed=%d delivered=%d queued=%d failed=%d\n",
		result.Matches, result.Created, result.Suppressed,
		result.Delivered, result.Queued, result.Failed,
	)
	return 0
}

// notifyRecentLaws matches every law updated within the window and hands
// the matches to the emitter. Re-running over an already-alerted window is
// harmless: the suppression check drops repeat pairs.
func notifyRecentLaws(ctx context.Context, rt *runtime, index *vectorindex.Index, since time.Duration, limit int) (notify.EmitResult, error) {
	cutoff := globaltime.Now().UTC().Add(-since)
	laws, err := rt.pool.ListLawUpdatesSince(ctx, cutoff, limit)
	if err != nil {
		return notify.EmitResult{}, fmt.Errorf("list recent laws: %w", err)
	}

	svc := rt.newMatcherService(ctx, index)
	var matches []matcher.Match
	for _, law := range laws {
		lawMatches, err := svc.MatchLaw(law)
		if err != nil {
			rt.logger.Warn().Err(err).Str("law_id", law.LawID).Msg("match failed, law skipped")
			continue
		}
		matches = append(matches, lawMatches...)
	}

	return rt.newEmitter().Emit(ctx, matches)
}
