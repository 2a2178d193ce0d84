package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// MinPollInterval is the floor for the monitor poll interval. Configured
// values below it are clamped, never honored.
const MinPollInterval = 60 * time.Second

const (
	defaultPollInterval     = 300 * time.Second
	defaultMaxNotifications = 20
	defaultFetchTimeout     = 30 * time.Second
	defaultFeedBaseURL      = "https://lore.kernel.org"
	defaultListNamesURL     = "https://subspace.kernel.org/vger.kernel.org.html"
)

// LoggingConfig controls the logger package.
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr" or "file"
	File   string `toml:"file"`   // Path when output is "file"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "console" or "json"
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	// URL takes precedence over the individual fields when set.
	URL      string `toml:"url"`
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	TLSMode  bool   `toml:"tls"`
	MaxConns int    `toml:"max_conns"`
	MinConns int    `toml:"min_conns"`
	Debug    bool   `toml:"debug"` // Enable SQL query logging
}

// ConnString builds a pgx connection string from the configuration.
func (d *DatabaseConfig) ConnString() string {
	if d.URL != "" {
		return d.URL
	}
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	port := d.Port
	if port == "" {
		port = "5432"
	}
	name := d.Name
	if name == "" {
		name = "patchlore"
	}
	sslMode := "disable"
	if d.TLSMode {
		sslMode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, host, port, name, sslMode)
}

// MonitorConfig controls the feed poller.
type MonitorConfig struct {
	PollInterval     string `toml:"poll_interval"`     // e.g. "5m"; floor 60s
	MaxNotifications int    `toml:"max_notifications"` // Cap on notifications emitted per cycle
	FetchTimeout     string `toml:"fetch_timeout"`     // Per-subsystem feed fetch timeout
	FetchConcurrency int    `toml:"fetch_concurrency"` // Parallel feed fetches within one cycle
	AutoStart        bool   `toml:"auto_start"`        // Start polling on process startup
}

// GetPollInterval returns the poll interval, clamped to MinPollInterval.
func (m *MonitorConfig) GetPollInterval() (time.Duration, error) {
	if m.PollInterval == "" {
		return defaultPollInterval, nil
	}
	d, err := parseDurationOrSeconds(m.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval %q: %w", m.PollInterval, err)
	}
	if d < MinPollInterval {
		log.Printf("[CONFIG] WARNING: poll_interval %v is below the minimum %v, clamping", d, MinPollInterval)
		return MinPollInterval, nil
	}
	return d, nil
}

// GetMaxNotifications returns the per-cycle notification cap.
func (m *MonitorConfig) GetMaxNotifications() int {
	if m.MaxNotifications <= 0 {
		return defaultMaxNotifications
	}
	return m.MaxNotifications
}

// GetFetchTimeout returns the per-subsystem fetch timeout.
func (m *MonitorConfig) GetFetchTimeout() (time.Duration, error) {
	if m.FetchTimeout == "" {
		return defaultFetchTimeout, nil
	}
	return parseDurationOrSeconds(m.FetchTimeout)
}

// GetFetchConcurrency returns how many subsystem feeds are fetched in parallel.
func (m *MonitorConfig) GetFetchConcurrency() int {
	if m.FetchConcurrency <= 0 {
		return 4
	}
	return m.FetchConcurrency
}

// SubsystemsConfig controls where valid subsystem names come from.
type SubsystemsConfig struct {
	// Manual is a comma-separated overlay of subsystem names merged into
	// the externally sourced list.
	Manual string `toml:"manual"`
	// ListNamesURL is the page the external subsystem list is scraped from.
	ListNamesURL string `toml:"list_names_url"`
	// ListCacheTTL controls how long the scraped list is reused.
	ListCacheTTL string `toml:"list_cache_ttl"`
}

// ManualList returns the manual overlay as a cleaned slice.
func (s *SubsystemsConfig) ManualList() []string {
	if strings.TrimSpace(s.Manual) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s.Manual, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// GetListNamesURL returns the subsystem listing URL.
func (s *SubsystemsConfig) GetListNamesURL() string {
	if s.ListNamesURL == "" {
		return defaultListNamesURL
	}
	return s.ListNamesURL
}

// GetListCacheTTL returns the scrape cache TTL, defaulting to 24h.
func (s *SubsystemsConfig) GetListCacheTTL() (time.Duration, error) {
	if s.ListCacheTTL == "" {
		return 24 * time.Hour, nil
	}
	return parseDurationOrSeconds(s.ListCacheTTL)
}

// FeedConfig controls the feed source.
type FeedConfig struct {
	// BaseURL is the archive root; per-subsystem feeds are fetched from
	// <base>/<subsystem>/new.atom.
	BaseURL string `toml:"base_url"`
}

// GetBaseURL returns the archive base URL.
func (f *FeedConfig) GetBaseURL() string {
	if f.BaseURL == "" {
		return defaultFeedBaseURL
	}
	return strings.TrimRight(f.BaseURL, "/")
}

// AdminConfig controls the administrative HTTP listener.
type AdminConfig struct {
	Addr string `toml:"addr"` // e.g. ":8970"; empty disables the listener
}

// Config is the root configuration.
type Config struct {
	Logging    LoggingConfig    `toml:"logging"`
	Database   DatabaseConfig   `toml:"database"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Subsystems SubsystemsConfig `toml:"subsystems"`
	Feed       FeedConfig       `toml:"feed"`
	Admin      AdminConfig      `toml:"admin"`
}

// Load reads a TOML configuration file, then applies environment
// overrides. A missing file is not an error when allowMissing is set;
// environment variables alone can carry a full configuration.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if os.IsNotExist(err) && allowMissing {
				log.Printf("[CONFIG] config file %s not found, using defaults and environment", path)
			} else {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the recognized environment variables on top of the
// file-supplied values.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("PATCHLORE_DATABASE_URL")); v != "" {
		c.Database.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("PATCHLORE_POLL_INTERVAL")); v != "" {
		c.Monitor.PollInterval = v
	}
	if v := strings.TrimSpace(os.Getenv("PATCHLORE_MAX_NOTIFICATIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.MaxNotifications = n
		} else {
			log.Printf("[CONFIG] WARNING: ignoring non-numeric PATCHLORE_MAX_NOTIFICATIONS=%q", v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("PATCHLORE_MANUAL_SUBSYSTEMS")); v != "" {
		c.Subsystems.Manual = v
	}
}

// Validate checks the parts of the configuration that can be rejected
// up front.
func (c *Config) Validate() error {
	if _, err := c.Monitor.GetPollInterval(); err != nil {
		return err
	}
	if _, err := c.Monitor.GetFetchTimeout(); err != nil {
		return fmt.Errorf("invalid fetch_timeout: %w", err)
	}
	if _, err := c.Subsystems.GetListCacheTTL(); err != nil {
		return fmt.Errorf("invalid list_cache_ttl: %w", err)
	}
	switch c.Logging.Output {
	case "", "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}
	return nil
}

// parseDurationOrSeconds accepts either a Go duration string ("5m") or a
// bare integer interpreted as seconds ("300").
func parseDurationOrSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(strings.TrimSpace(s))
}
