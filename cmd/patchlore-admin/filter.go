package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/patchlore/patchlore/db"
	"github.com/patchlore/patchlore/filter"
)

// condFlags collects repeated --cond key=pattern flags into a map.
type condFlags map[string]string

func (c condFlags) String() string { return "" }

func (c condFlags) Set(value string) error {
	key, pattern, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected key=pattern, got %q", value)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty condition key in %q", value)
	}
	c[key] = pattern
	return nil
}

func handleFilter() {
	if len(os.Args) < 3 {
		printFilterUsage()
		os.Exit(1)
	}

	sub := os.Args[2]
	fs := flag.NewFlagSet("filter "+sub, flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	name := fs.String("name", "", "Filter rule name")
	description := fs.String("description", "", "Free-form description (add only)")
	all := fs.Bool("all", false, "Include disabled rules (list only)")
	conds := make(condFlags)
	fs.Var(conds, "cond", "Condition as key=pattern; repeat for AND semantics")
	fs.Usage = printFilterUsage

	if err := fs.Parse(os.Args[3:]); err != nil {
		exitWithError("error parsing flags: %v", err)
	}

	database := connectDatabase(*configPath)
	defer database.Close()
	ctx := commandContext()

	switch sub {
	case "add":
		if *name == "" {
			exitWithError("--name is required")
		}
		conditions, err := filter.ParseConditions(conds)
		if err != nil {
			exitWithError("invalid filter: %v", err)
		}
		stored, err := database.UpsertFilter(ctx, *name, conditions, *description)
		if err != nil {
			exitWithError("failed to store filter: %v", err)
		}
		fmt.Printf("Filter %q stored.\n", stored.Name)
		printFilter(stored)
	case "list":
		records, err := database.ListFilters(ctx, !*all)
		if err != nil {
			exitWithError("failed to list filters: %v", err)
		}
		if len(records) == 0 {
			fmt.Println("No filters configured.")
			return
		}
		for _, f := range records {
			state := "enabled"
			if !f.Enabled {
				state = "disabled"
			}
			fmt.Printf("%-24s %s\n", f.Name, state)
		}
	case "show":
		if *name == "" {
			exitWithError("--name is required")
		}
		f, err := database.GetFilter(ctx, *name)
		if err != nil {
			exitWithError("failed to load filter %q: %v", *name, err)
		}
		printFilter(f)
	case "remove":
		if *name == "" {
			exitWithError("--name is required")
		}
		if err := database.RemoveFilter(ctx, *name); err != nil {
			exitWithError("failed to remove filter %q: %v", *name, err)
		}
		fmt.Printf("Filter %q removed.\n", *name)
	case "enable", "disable":
		if *name == "" {
			exitWithError("--name is required")
		}
		enabled := sub == "enable"
		if err := database.SetFilterEnabled(ctx, *name, enabled); err != nil {
			exitWithError("failed to update filter %q: %v", *name, err)
		}
		fmt.Printf("Filter %q %sd.\n", *name, sub)
	default:
		fmt.Printf("Unknown filter subcommand: %s\n\n", sub)
		printFilterUsage()
		os.Exit(1)
	}
}

func printFilter(f *db.FilterRecord) {
	state := "enabled"
	if !f.Enabled {
		state = "disabled"
	}
	fmt.Printf("Name:        %s\n", f.Name)
	fmt.Printf("State:       %s\n", state)
	if f.Description != "" {
		fmt.Printf("Description: %s\n", f.Description)
	}
	fmt.Println("Conditions:")
	for _, c := range f.Conditions {
		parts := make([]string, 0, len(c.Patterns))
		for _, p := range c.Patterns {
			parts = append(parts, p.String())
		}
		fmt.Printf("  %s = %s\n", c.Key, strings.Join(parts, ", "))
	}
}

func printFilterUsage() {
	fmt.Printf(`Manage filter rules

Usage:
  patchlore-admin filter <add|list|show|remove|enable|disable> [options]

Options:
  --name string         Filter rule name
  --cond key=pattern    Condition; repeat the flag for AND semantics.
                        Patterns: plain text (case-insensitive substring),
                        /regex/ (case-sensitive), /regex/i, or an integer
                        for the patch-count keys. Comma-separate patterns
                        within one condition for OR semantics.
  --description string  Free-form description (add only)
  --all                 Include disabled rules (list only)
  --config string       Path to TOML configuration file (default: config.toml)

Condition keys:
  author, author_email, subsystem, subject, keywords, cclist,
  min_patch_total, patch_total

Examples:
  patchlore-admin filter add --name damon --cond 'subject=/damon/i'
  patchlore-admin filter add --name big-series --cond 'min_patch_total=10'
  patchlore-admin filter add --name maintainers --cond 'author=SeongJae, Andrew'
  patchlore-admin filter list --all
  patchlore-admin filter disable --name damon
`)
}
