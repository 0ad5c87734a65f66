package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/noah04091/contract-ai-sub015/internal/cli"
	"github.com/noah04091/contract-ai-sub015/internal/joblock"
)

func runSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	skipEmbed := fs.Bool("skip-embed", false, "Skip embedding laws after the feed sync")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel, rt, err := connectRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.Close()

	release, err := rt.newLockManager().Acquire(ctx, "law-sync")
	if err != nil {
		if errors.Is(err, joblock.ErrHeld) {
			fmt.Fprintln(os.Stderr, "Another sync run is in progress, skipping")
			return 0
		}
		fmt.Fprintf(os.Stderr, "Failed to acquire sync lock: %v\n", err)
		return 1
	}
	defer release()

	index, err := rt.loadIndex(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	svc := rt.newIngestService(index)

	syncResult, err := svc.Sync(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		return 1
	}
	fmt.Printf(
		"fetched=%d inserted=%d updated=%d merged=%d skipped=%d failed=%d\n",
		syncResult.Fetched, syncResult.Inserted, syncResult.Updated,
		syncResult.Merged, syncResult.Skipped, syncResult.Failed,
	)

	if *skipEmbed {
		return 0
	}

	embedResult, err := svc.EmbedMissing(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedding failed: %v\n", err)
		return 1
	}
	fmt.Printf(
		"embed: processed=%d embedded=%d failed=%d\n",
		embedResult.Processed, embedResult.Embedded, embedResult.Failed,
	)

	return 0
}
