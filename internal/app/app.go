package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "sync":
		return runSync(args[1:])
	case "contract":
		return runContract(args[1:])
	case "index":
		return runIndex(args[1:])
	case "match":
		return runMatch(args[1:])
	case "notify":
		return runNotify(args[1:])
	case "digest":
		return runDigest(args[1:])
	case "stats":
		return runStats(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "lawmon CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  lawmon <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health   Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  sync     Pull law feeds, dedup, and embed new updates")
	fmt.Fprintln(os.Stderr, "  contract Upsert one contract (and optionally its user) by hand")
	fmt.Fprintln(os.Stderr, "  index    Re-embed contracts whose text changed since last indexing")
	fmt.Fprintln(os.Stderr, "  match    Score recent law updates against indexed contracts")
	fmt.Fprintln(os.Stderr, "  notify   Match recent law updates and emit alerts")
	fmt.Fprintln(os.Stderr, "  digest   Deliver queued daily or weekly digests")
	fmt.Fprintln(os.Stderr, "  stats    Print pipeline and feedback metrics")
	fmt.Fprintln(os.Stderr, "  process  Run sync + index + notify in sequence")
	fmt.Fprintln(os.Stderr, "  run-once Alias for process")
	fmt.Fprintln(os.Stderr, "  serve    Start the status and feedback API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"lawmon <command> -h\" for command-specific flags.")
}
