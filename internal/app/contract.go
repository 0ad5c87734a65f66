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
)

// runContract upserts one contract (and optionally its user) by hand.
// The next index run picks the contract up through the staleness check.
func runContract(args []string) int {
	fs := flag.NewFlagSet("contract", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 20*time.Second, "Command timeout")
	contractID := fs.String("id", "", "Contract id (required)")
	userID := fs.String("user", "", "Owning user id (required)")
	name := fs.String("name", "", "Contract name")
	area := fs.String("area", "", "Legal area, e.g. tenancy or labor")
	textFile := fs.String("text-file", "", "Path to the contract's full text")
	email := fs.String("email", "", "User email; upserts the user row when set")
	digestMode := fs.String("digest-mode", "instant", "User digest preference: instant, daily, or weekly")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	id := strings.TrimSpace(*contractID)
	owner := strings.TrimSpace(*userID)
	if id == "" || owner == "" {
		fmt.Fprintln(os.Stderr, "--id and --user are required")
		return 2
	}
	mode := strings.TrimSpace(strings.ToLower(*digestMode))
	switch mode {
	case "instant", "daily", "weekly":
	default:
		fmt.Fprintln(os.Stderr, "--digest-mode must be instant, daily, or weekly")
		return 2
	}

	var fullText *string
	if path := strings.TrimSpace(*textFile); path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read text file: %v\n", err)
			return 2
		}
		trimmed := strings.TrimSpace(string(payload))
		if trimmed == "" {
			fmt.Fprintf(os.Stderr, "Text file %q is empty\n", path)
			return 2
		}
		fullText = &trimmed
	}

	ctx, cancel, rt, err := connectRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.Close()

	now := globaltime.Now().UTC()
	if trimmedEmail := strings.TrimSpace(*email); trimmedEmail != "" {
		err := rt.pool.UpsertUser(ctx, db.User{
			UserID:     owner,
			Email:      trimmedEmail,
			DigestMode: mode,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to upsert user: %v\n", err)
			return 1
		}
		fmt.Printf("user=%s digest_mode=%s\n", owner, mode)
	}

	err = rt.pool.UpsertContract(ctx, db.Contract{
		ContractID: id,
		UserID:     owner,
		Name:       strings.TrimSpace(*name),
		FullText:   fullText,
		Area:       strings.TrimSpace(strings.ToLower(*area)),
		UpdatedAt:  now,
		CreatedAt:  now,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to upsert contract: %v\n", err)
		return 1
	}

	fmt.Printf("contract=%s user=%s\n", id, owner)
	fmt.Println("Contract is stale; the next index run will embed it.")
	return 0
}
