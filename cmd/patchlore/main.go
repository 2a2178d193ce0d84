package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/patchlore/patchlore/admin"
	"github.com/patchlore/patchlore/config"
	"github.com/patchlore/patchlore/db"
	"github.com/patchlore/patchlore/feed"
	"github.com/patchlore/patchlore/logger"
	"github.com/patchlore/patchlore/monitor"
	"github.com/patchlore/patchlore/notify"
	"github.com/patchlore/patchlore/subsys"
	"github.com/patchlore/patchlore/thread"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("patchlore version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "PATCHLORE: configuration error: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "PATCHLORE: warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer func(f *os.File) {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "PATCHLORE: error closing log file %s: %v\n", f.Name(), err)
			}
		}(logFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		logger.Fatalf("[MAIN] failed to connect to database: %v", err)
	}
	defer database.Close()

	// A failed migration leaves the schema where it was; the process still
	// comes up so the admin surface can be used to inspect and force it.
	if err := database.Migrate(ctx); err != nil {
		logger.Errorf("[MAIN] database migration failed: %v", err)
	}

	names, err := subsys.New(&cfg.Subsystems)
	if err != nil {
		logger.Fatalf("[MAIN] invalid subsystems configuration: %v", err)
	}

	fetchTimeout, err := cfg.Monitor.GetFetchTimeout()
	if err != nil {
		logger.Fatalf("[MAIN] invalid fetch_timeout: %v", err)
	}
	source := feed.NewLoreSource(&cfg.Feed, fetchTimeout)

	dispatcher := notify.NewLogDispatcher()
	aggregator := thread.New(database, dispatcher)

	mon, err := monitor.New(cfg, source, database, aggregator, dispatcher)
	if err != nil {
		logger.Fatalf("[MAIN] failed to create monitor: %v", err)
	}

	if cfg.Monitor.AutoStart {
		if err := mon.Start(ctx); err != nil {
			logger.Fatalf("[MAIN] failed to start monitor: %v", err)
		}
		logger.Info("[MAIN] monitor started")
	} else {
		logger.Info("[MAIN] monitor idle, start it via the admin API")
	}

	errCh := make(chan error, 1)
	if cfg.Admin.Addr != "" {
		adminServer := admin.New(cfg.Admin.Addr, database, mon, names, aggregator, nil)
		go func() {
			errCh <- adminServer.Start(ctx)
		}()
	} else {
		logger.Warn("[MAIN] admin listener disabled, no admin.addr configured")
	}

	select {
	case <-ctx.Done():
		logger.Info("[MAIN] shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Errorf("[MAIN] admin server error: %v", err)
		}
	}

	if mon.State() != monitor.StateStopped {
		if err := mon.Stop(); err != nil {
			logger.Errorf("[MAIN] error stopping monitor: %v", err)
		}
	}
	logger.Info("[MAIN] shutdown complete")
}
