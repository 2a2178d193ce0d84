package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/patchlore/patchlore/config"
	"github.com/patchlore/patchlore/db"
)

func handleMigrate() {
	if len(os.Args) < 3 {
		printMigrateUsage()
		os.Exit(1)
	}

	sub := os.Args[2]
	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	steps := fs.Int("steps", -1, "Number of migrations to roll back (down only; -1 means all)")
	fs.Usage = printMigrateUsage

	var forceVersion int
	args := os.Args[3:]
	if sub == "force" {
		if len(args) < 1 {
			exitWithError("migrate force requires a version argument")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			exitWithError("invalid version %q: %v", args[0], err)
		}
		forceVersion = v
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		exitWithError("error parsing flags: %v", err)
	}

	database := connectDatabase(*configPath)
	defer database.Close()
	ctx := commandContext()

	switch sub {
	case "up":
		if err := database.Migrate(ctx); err != nil {
			exitWithError("migration failed: %v", err)
		}
		fmt.Println("Database schema is up to date.")
	case "down":
		if err := database.MigrateDown(ctx, *steps); err != nil {
			exitWithError("rollback failed: %v", err)
		}
		fmt.Println("Rollback complete.")
	case "version":
		version, dirty, err := database.MigrateVersion(ctx)
		if err != nil {
			exitWithError("failed to read schema version: %v", err)
		}
		state := "clean"
		if dirty {
			state = "dirty"
		}
		fmt.Printf("Schema version %d (%s)\n", version, state)
	case "force":
		if err := database.MigrateForce(ctx, forceVersion); err != nil {
			exitWithError("force failed: %v", err)
		}
		fmt.Printf("Schema version forced to %d.\n", forceVersion)
	default:
		fmt.Printf("Unknown migrate subcommand: %s\n\n", sub)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Printf(`Manage the database schema

Usage:
  patchlore-admin migrate <up|down|version|force> [options]

Options:
  --config string  Path to TOML configuration file (default: config.toml)
  --steps int      Number of migrations to roll back (down only; -1 means all)

Examples:
  patchlore-admin migrate up
  patchlore-admin migrate down --steps 1
  patchlore-admin migrate version
  patchlore-admin migrate force 2
`)
}

// connectDatabase loads configuration and opens the pool; any failure is
// fatal for a CLI command.
func connectDatabase(configPath string) *db.Database {
	cfg, err := config.Load(configPath, true)
	if err != nil {
		exitWithError("configuration error: %v", err)
	}
	database, err := db.New(commandContext(), &cfg.Database)
	if err != nil {
		exitWithError("failed to connect to database: %v", err)
	}
	return database
}
