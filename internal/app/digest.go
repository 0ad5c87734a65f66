package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/noah04091/contract-ai-sub015/internal/cli"
	"github.com/noah04091/contract-ai-sub015/internal/joblock"
)

func runDigest(args []string) int {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	mode := fs.String("mode", "daily", "Digest mode: daily or weekly")
	skipCleanup := fs.Bool("skip-cleanup", false, "Skip deleting sent entries past retention")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	digestMode := strings.TrimSpace(strings.ToLower(*mode))
	if digestMode != "daily" && digestMode != "weekly" {
		fmt.Fprintln(os.Stderr, "--mode must be daily or weekly")
		return 2
	}

	ctx, cancel, rt, err := connectRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.Close()

	release, err := rt.newLockManager().Acquire(ctx, "digest-"+digestMode)
	if err != nil {
		if errors.Is(err, joblock.ErrHeld) {
			fmt.Fprintf(os.Stderr, "Another %s digest run is in progress, skipping\n", digestMode)
			return 0
		}
		fmt.Fprintf(os.Stderr, "Failed to acquire digest lock: %v\n", err)
		return 1
	}
	defer release()

	scheduler := rt.newScheduler()
	result, err := scheduler.Run(ctx, digestMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Digest run failed: %v\n", err)
		return 1
	}
	fmt.Printf(
		"mode=%s pending=%d delivered=%d marked=%d failed=%d\n",
		result.Mode, result.Pending, result.Delivered, result.Marked, result.Failed,
	)

	if *skipCleanup {
		return 0
	}

	deleted, err := scheduler.Cleanup(ctx, rt.cfg.DigestRetention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Digest cleanup failed: %v\n", err)
		return 1
	}
	fmt.Printf("cleanup: deleted=%d\n", deleted)
	return 0
}
