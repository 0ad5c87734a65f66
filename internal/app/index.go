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

func runIndex(args []string) int {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")

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

	release, err := rt.newLockManager().Acquire(ctx, "contract-index")
	if err != nil {
		if errors.Is(err, joblock.ErrHeld) {
			fmt.Fprintln(os.Stderr, "Another indexing run is in progress, skipping")
			return 0
		}
		fmt.Fprintf(os.Stderr, "Failed to acquire index lock: %v\n", err)
		return 1
	}
	defer release()

	index, err := rt.loadIndex(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	result, err := rt.newIndexerService(index).Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"processed=%d indexed=%d chunks=%d skipped=%d failed=%d\n",
		result.Processed, result.Indexed, result.Chunks, result.Skipped, result.Failed,
	)
	return 0
}
