package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/patchlore/patchlore/config"
)

// Monitor run-state and watch commands act on the live process, so they go
// through its admin HTTP listener rather than the database.

func handleMonitor() {
	if len(os.Args) < 3 {
		printMonitorUsage()
		os.Exit(1)
	}

	sub := os.Args[2]
	fs := flag.NewFlagSet("monitor "+sub, flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	addr := fs.String("addr", "", "Admin listener address (overrides config)")
	fs.Usage = printMonitorUsage
	if err := fs.Parse(os.Args[3:]); err != nil {
		exitWithError("error parsing flags: %v", err)
	}

	base := adminBaseURL(*configPath, *addr)

	switch sub {
	case "status":
		body := adminRequest("GET", base+"/api/v1/monitor", nil)
		var resp struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			exitWithError("unexpected response: %s", body)
		}
		fmt.Printf("Monitor state: %s\n", resp.State)
	case "start", "stop", "pause", "resume":
		adminRequest("POST", base+"/api/v1/monitor/"+sub, nil)
		fmt.Printf("Monitor %s requested.\n", sub)
	case "run":
		body := adminRequest("POST", base+"/api/v1/monitor/run", nil)
		fmt.Println(string(body))
	default:
		fmt.Printf("Unknown monitor subcommand: %s\n\n", sub)
		printMonitorUsage()
		os.Exit(1)
	}
}

func handleWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	addr := fs.String("addr", "", "Admin listener address (overrides config)")
	cover := fs.String("cover", "", "Cover letter message-id header (required)")
	fs.Usage = func() {
		fmt.Printf(`Attach a thread handle to a patch series

Usage:
  patchlore-admin watch --cover <message-id> [--addr host:port]

Examples:
  patchlore-admin watch --cover 20260830123456.1234-1-dev@example.org
`)
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		exitWithError("error parsing flags: %v", err)
	}
	if *cover == "" {
		exitWithError("--cover is required")
	}

	base := adminBaseURL(*configPath, *addr)
	payload, _ := json.Marshal(map[string]string{"cover_message_id": *cover})
	body := adminRequest("POST", base+"/api/v1/threads/watch", payload)
	var resp struct {
		ThreadHandle string `json:"thread_handle"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		exitWithError("unexpected response: %s", body)
	}
	fmt.Printf("Thread handle: %s\n", resp.ThreadHandle)
}

func printMonitorUsage() {
	fmt.Printf(`Control the monitor in a running patchlore process

Usage:
  patchlore-admin monitor <status|start|stop|pause|resume|run> [options]

Options:
  --addr string    Admin listener address (overrides config)
  --config string  Path to TOML configuration file (default: config.toml)

Examples:
  patchlore-admin monitor status
  patchlore-admin monitor start
  patchlore-admin monitor run --addr localhost:8970
`)
}

func adminBaseURL(configPath, override string) string {
	addr := override
	if addr == "" {
		cfg, err := config.Load(configPath, true)
		if err != nil {
			exitWithError("configuration error: %v", err)
		}
		addr = cfg.Admin.Addr
	}
	if addr == "" {
		exitWithError("no admin listener address; set admin.addr in the config or pass --addr")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func adminRequest(method, url string, payload []byte) []byte {
	client := &http.Client{Timeout: 30 * time.Second}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		exitWithError("invalid request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		exitWithError("admin request failed: %v (is the server running?)", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		exitWithError("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			exitWithError("server refused: %s", e.Error)
		}
		exitWithError("server returned %s: %s", resp.Status, body)
	}
	return body
}
