// Command mailsyncd is a minimal headless driver for the mail-sync
// core: connect an account, run a sync, list cached accounts. A full
// RPC/UI wrapper is out of scope for this module; this binary exists so
// the wired-together core is runnable and inspectable from a shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/config"
	"github.com/vivasaayi/PersonalMailClient/internal/core"
	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
	"github.com/vivasaayi/PersonalMailClient/internal/imapclient"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
	"github.com/vivasaayi/PersonalMailClient/internal/syncengine"
)

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "application data directory")
	logFormat := flag.String("log-format", "", "console or json (default console)")
	llmBaseURL := flag.String("llm-base-url", "", "OpenAI-compatible completion endpoint for bulk analysis")
	llmModel := flag.String("llm-model", "", "model id passed to the LLM worker")
	flag.Parse()

	logging.Init(zerolog.InfoLevel, *logFormat)
	log := logging.WithComponent("mailsyncd")

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg := config.Default(*dataDir)
	sink := eventbus.NewLogSink(log)
	c, err := core.Open(cfg, sink, core.LLMConfig{BaseURL: *llmBaseURL, Model: *llmModel})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open core")
	}
	defer c.Close()

	ctx := context.Background()

	switch args[0] {
	case "connect":
		runConnect(ctx, c, args[1:])
	case "sync":
		runSync(ctx, c, args[1:])
	case "list-accounts":
		runListAccounts(c)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: mailsyncd [flags] <command> [args]

commands:
  connect <provider> <email> <password> [custom-host] [custom-port]
  sync <email> [full|incremental]
  sync <email> windowed <since-RFC3339> [before-RFC3339]
  list-accounts`)
}

func runConnect(ctx context.Context, c *core.Core, args []string) {
	if len(args) < 3 {
		usage()
		os.Exit(2)
	}
	acct := account.Account{
		Provider: account.Provider(args[0]),
		Email:    args[1],
	}
	if len(args) > 3 {
		acct.CustomHost = args[3]
	}
	if len(args) > 4 {
		port, err := strconv.Atoi(args[4])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid custom port %q: %v\n", args[4], err)
			os.Exit(2)
		}
		acct.CustomPort = port
	}
	recent, err := c.Account.Connect(ctx, acct, args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("connected %s, cached %d recent messages\n", acct.Email, len(recent))
}

func runSync(ctx context.Context, c *core.Core, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	email := args[0]
	creds, ok := c.Account.Credentials(email)
	if !ok {
		fmt.Fprintf(os.Stderr, "account %s is not connected\n", email)
		os.Exit(1)
	}

	opts := syncengine.RunOptions{Mode: syncengine.ModeIncremental}
	if len(args) > 1 {
		switch args[1] {
		case "full":
			opts.Mode = syncengine.ModeFull
		case "windowed":
			window, err := parseWindowArgs(args[2:])
			if err != nil {
				fmt.Fprintf(os.Stderr, "windowed sync: %v\n", err)
				os.Exit(2)
			}
			opts.Mode = syncengine.ModeWindowed
			opts.Window = window
		}
	}

	start := time.Now()
	result, err := c.Sync.Run(ctx, creds, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("synced %s: %d batches, %d fetched, %d stored, in %s\n",
		email, result.Batches, result.FetchedTotal, result.StoredTotal, time.Since(start))
}

// parseWindowArgs parses the optional since/before RFC3339 timestamps
// for "sync <email> windowed ...", used by servers with a capped
// UID SEARCH result size (spec'd for Yahoo's ~1000 UID search limit).
func parseWindowArgs(args []string) (*imapclient.SyncWindow, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("windowed sync requires a since timestamp, e.g. 2024-01-01T00:00:00Z")
	}
	since, err := time.Parse(time.RFC3339, args[0])
	if err != nil {
		return nil, fmt.Errorf("parse since: %w", err)
	}
	window := &imapclient.SyncWindow{Since: since}
	if len(args) > 1 {
		before, err := time.Parse(time.RFC3339, args[1])
		if err != nil {
			return nil, fmt.Errorf("parse before: %w", err)
		}
		window.Before = &before
	}
	return window, nil
}

func runListAccounts(c *core.Core) {
	accounts, err := c.Account.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}
	for _, a := range accounts {
		fmt.Printf("%s\t%s\thas_password=%v\n", a.Email, a.Provider, a.HasPassword)
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/personal-mail-client"
	}
	return "./.personal-mail-client"
}
