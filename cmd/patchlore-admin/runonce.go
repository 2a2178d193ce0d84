package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/patchlore/patchlore/config"
	"github.com/patchlore/patchlore/db"
	"github.com/patchlore/patchlore/feed"
	"github.com/patchlore/patchlore/logger"
	"github.com/patchlore/patchlore/monitor"
	"github.com/patchlore/patchlore/notify"
	"github.com/patchlore/patchlore/thread"
)

func handleRunOnce() {
	fs := flag.NewFlagSet("run-once", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Usage = func() {
		fmt.Printf(`Run a single monitoring cycle and print its stats

Usage:
  patchlore-admin run-once [--config config.toml]
`)
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		exitWithError("error parsing flags: %v", err)
	}

	cfg, err := config.Load(*configPath, true)
	if err != nil {
		exitWithError("configuration error: %v", err)
	}
	if _, err := logger.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "warning initializing logger: %v\n", err)
	}

	ctx := commandContext()
	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		exitWithError("failed to connect to database: %v", err)
	}
	defer database.Close()

	fetchTimeout, err := cfg.Monitor.GetFetchTimeout()
	if err != nil {
		exitWithError("invalid fetch_timeout: %v", err)
	}
	source := feed.NewLoreSource(&cfg.Feed, fetchTimeout)
	dispatcher := notify.NewLogDispatcher()
	aggregator := thread.New(database, dispatcher)

	mon, err := monitor.New(cfg, source, database, aggregator, dispatcher)
	if err != nil {
		exitWithError("failed to create monitor: %v", err)
	}

	stats, err := mon.RunNow(ctx)
	if err != nil {
		exitWithError("cycle failed: %v", err)
	}

	fmt.Printf("Cycle %d complete in %v\n", stats.RunID, stats.Duration)
	fmt.Printf("  subsystems:     %d\n", stats.Subsystems)
	fmt.Printf("  entries:        %d\n", stats.Entries)
	fmt.Printf("  new messages:   %d\n", stats.NewMessages)
	fmt.Printf("  duplicates:     %d\n", stats.Duplicates)
	fmt.Printf("  replies:        %d\n", stats.Replies)
	fmt.Printf("  cards created:  %d\n", stats.CardsCreated)
	fmt.Printf("  thread updates: %d\n", stats.ThreadUpdates)
	fmt.Printf("  fetch errors:   %d\n", stats.FetchErrors)
	if stats.Dropped > 0 {
		fmt.Printf("  dropped:        %d (over the per-cycle notification cap)\n", stats.Dropped)
	}
}
