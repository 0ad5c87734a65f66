package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/noah04091/contract-ai-sub015/internal/cli"
	"github.com/noah04091/contract-ai-sub015/internal/joblock"
)

// runProcess chains sync, index, and notify in one invocation. Each stage
// takes the same lock its standalone command does, so a process run and a
// standalone stage never overlap on the same work.
func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
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

	index, err := rt.loadIndex(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	locks := rt.newLockManager()

	syncOK := withJobLock(ctx, locks, "law-sync", func() error {
		svc := rt.newIngestService(index)
		syncResult, err := svc.Sync(ctx)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		fmt.Printf(
			"sync: fetched=%d inserted=%d updated=%d merged=%d skipped=%d failed=%d\n",
			syncResult.Fetched, syncResult.Inserted, syncResult.Updated,
			syncResult.Merged, syncResult.Skipped, syncResult.Failed,
		)

		embedResult, err := svc.EmbedMissing(ctx)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		fmt.Printf(
			"embed: processed=%d embedded=%d failed=%d\n",
			embedResult.Processed, embedResult.Embedded, embedResult.Failed,
		)
		return nil
	})
	if !syncOK {
		return 1
	}

	indexOK := withJobLock(ctx, locks, "contract-index", func() error {
		result, err := rt.newIndexerService(index).Run(ctx)
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		fmt.Printf(
			"index: processed=%d indexed=%d chunks=%d skipped=%d failed=%d\n",
			result.Processed, result.Indexed, result.Chunks, result.Skipped, result.Failed,
		)
		return nil
	})
	if !indexOK {
		return 1
	}

	notifyOK := withJobLock(ctx, locks, "notify", func() error {
		result, err := notifyRecentLaws(ctx, rt, index, *since, *limit)
		if err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		fmt.Printf(
			"notify: matches=%d created=%d suppressed=%d delivered=%d queued=%d failed=%d\n",
			result.Matches, result.Created, result.Suppressed,
			result.Delivered, result.Queued, result.Failed,
		)
		return nil
	})
	if !notifyOK {
		return 1
	}

	return 0
}

// withJobLock runs fn under the named lock. A held lock skips the stage
// without failing the run; a stage error fails it.
func withJobLock(ctx context.Context, locks *joblock.Manager, jobName string, fn func() error) bool {
	release, err := locks.Acquire(ctx, jobName)
	if err != nil {
		if errors.Is(err, joblock.ErrHeld) {
			fmt.Fprintf(os.Stderr, "Stage %s is already running elsewhere, skipping\n", jobName)
			return true
		}
		fmt.Fprintf(os.Stderr, "Failed to acquire %s lock: %v\n", jobName, err)
		return false
	}
	defer release()

	if err := fn(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return false
	}
	return true
}
