package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "migrate":
		handleMigrate()
	case "filter":
		handleFilter()
	case "mode":
		handleMode()
	case "subscribe":
		handleSubscribe()
	case "unsubscribe":
		handleUnsubscribe()
	case "list-subscriptions":
		handleListSubscriptions()
	case "monitor":
		handleMonitor()
	case "watch":
		handleWatch()
	case "run-once":
		handleRunOnce()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`PATCHLORE Admin Tool

Usage:
  patchlore-admin <command> [options]

Commands:
  migrate             Manage the database schema (up, down, version, force)
  filter              Manage filter rules (add, list, show, remove, enable, disable)
  mode                Get or set the global exclusive mode
  subscribe           Subscribe to a mailing list subsystem
  unsubscribe         Unsubscribe from a mailing list subsystem
  list-subscriptions  List the subscribed subsystems
  monitor             Control the monitor in a running process (status, start, stop, pause, resume, run)
  watch               Attach a thread handle to a patch series (via the running process)
  run-once            Run a single monitoring cycle and print its stats
  help                Show this help message

Examples:
  patchlore-admin migrate up
  patchlore-admin filter add --name damon --cond 'subject=/damon/i' --cond 'min_patch_total=5'
  patchlore-admin filter list --all
  patchlore-admin mode set --exclusive
  patchlore-admin subscribe --name linux-mm
  patchlore-admin run-once

Use 'patchlore-admin <command> --help' for more information about a command.
`)
}

func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func commandContext() context.Context {
	return context.Background()
}
