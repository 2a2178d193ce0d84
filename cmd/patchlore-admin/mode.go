package main

import (
	"flag"
	"fmt"
	"os"
)

func handleMode() {
	if len(os.Args) < 3 {
		printModeUsage()
		os.Exit(1)
	}

	sub := os.Args[2]
	fs := flag.NewFlagSet("mode "+sub, flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	exclusive := fs.Bool("exclusive", false, "Enable exclusive mode (set only)")
	fs.Usage = printModeUsage

	if err := fs.Parse(os.Args[3:]); err != nil {
		exitWithError("error parsing flags: %v", err)
	}

	database := connectDatabase(*configPath)
	defer database.Close()
	ctx := commandContext()

	switch sub {
	case "get":
		on, err := database.GetExclusiveMode(ctx)
		if err != nil {
			exitWithError("failed to read mode: %v", err)
		}
		printModeState(on)
	case "set":
		if err := database.SetExclusiveMode(ctx, *exclusive); err != nil {
			exitWithError("failed to set mode: %v", err)
		}
		printModeState(*exclusive)
	default:
		fmt.Printf("Unknown mode subcommand: %s\n\n", sub)
		printModeUsage()
		os.Exit(1)
	}
}

func printModeState(exclusive bool) {
	if exclusive {
		fmt.Println("Mode: exclusive (only messages matching a filter produce cards)")
	} else {
		fmt.Println("Mode: highlight (all patch messages produce cards; matches are highlighted)")
	}
}

func printModeUsage() {
	fmt.Printf(`Get or set the global exclusive mode

Usage:
  patchlore-admin mode <get|set> [options]

Options:
  --exclusive      Enable exclusive mode (set only; omit to disable)
  --config string  Path to TOML configuration file (default: config.toml)

Examples:
  patchlore-admin mode get
  patchlore-admin mode set --exclusive
  patchlore-admin mode set
`)
}
