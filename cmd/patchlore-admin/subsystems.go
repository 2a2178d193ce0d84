package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/patchlore/patchlore/config"
	"github.com/patchlore/patchlore/subsys"
)

func handleSubscribe() {
	configPath, name := parseSubsystemFlags("subscribe")

	cfg, err := config.Load(configPath, true)
	if err != nil {
		exitWithError("configuration error: %v", err)
	}
	names, err := subsys.New(&cfg.Subsystems)
	if err != nil {
		exitWithError("invalid subsystems configuration: %v", err)
	}

	ctx := commandContext()
	ok, err := names.IsSupported(ctx, name)
	if err != nil {
		exitWithError("failed to validate subsystem name: %v", err)
	}
	if !ok {
		exitWithError("unknown subsystem %q; run with a name from the archive listing or add it to subsystems.manual", name)
	}

	database := connectDatabase(configPath)
	defer database.Close()

	if err := database.SubscribeSubsystem(ctx, name); err != nil {
		exitWithError("failed to subscribe: %v", err)
	}
	fmt.Printf("Subscribed to %s.\n", name)
}

func handleUnsubscribe() {
	configPath, name := parseSubsystemFlags("unsubscribe")

	database := connectDatabase(configPath)
	defer database.Close()

	if err := database.UnsubscribeSubsystem(commandContext(), name); err != nil {
		exitWithError("failed to unsubscribe: %v", err)
	}
	fmt.Printf("Unsubscribed from %s.\n", name)
}

func handleListSubscriptions() {
	fs := flag.NewFlagSet("list-subscriptions", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	if err := fs.Parse(os.Args[2:]); err != nil {
		exitWithError("error parsing flags: %v", err)
	}

	database := connectDatabase(*configPath)
	defer database.Close()

	names, err := database.ListSubscribedSubsystems(commandContext())
	if err != nil {
		exitWithError("failed to list subscriptions: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No subscriptions.")
		return
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func parseSubsystemFlags(command string) (configPath, name string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	cfgPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	n := fs.String("name", "", "Subsystem name (required)")
	fs.Usage = func() {
		fmt.Printf(`Usage:
  patchlore-admin %s --name <subsystem> [--config config.toml]

Examples:
  patchlore-admin %s --name linux-mm
`, command, command)
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		exitWithError("error parsing flags: %v", err)
	}
	if *n == "" {
		exitWithError("--name is required")
	}
	return *cfgPath, *n
}
