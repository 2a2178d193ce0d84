// Package subsys resolves the set of known mailing list subsystems: the
// scraped vger listing merged with a configured manual overlay.
package subsys

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patchlore/patchlore/config"
	"github.com/patchlore/patchlore/logger"
)

const maxListingBody = 8 << 20

// Listing table rows carry the list name in the first <th> cell, either
// as plain text or a link.
var (
	tableRowRe = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	firstThRe  = regexp.MustCompile(`(?is)<th[^>]*>(.*?)</th>`)
	linkRe     = regexp.MustCompile(`(?is)<a[^>]*>(.*?)</a>`)
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	nameRe     = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$|^[a-z0-9]$`)
)

var headerKeywords = map[string]bool{
	"name": true, "description": true, "fl": true, "addresses": true, "subs": true,
}

var excludedPrefixes = []string{"sub", "unsub", "post", "archive", "http", "mailto"}

// ValidName reports whether a scraped cell is a plausible list name.
func ValidName(name string) bool {
	if name == "" || len(name) <= 1 {
		return false
	}
	if headerKeywords[strings.ToLower(name)] {
		return false
	}
	for _, p := range excludedPrefixes {
		if strings.HasPrefix(name, p) {
			return false
		}
	}
	if strings.ContainsAny(name, "/@ ") {
		return false
	}
	// Subscriber-count cells are numeric; a list name never is.
	if strings.Trim(name, "0123456789") == "" {
		return false
	}
	return nameRe.MatchString(name)
}

// parseListing extracts valid list names from the vger listing HTML,
// deduplicated and sorted.
func parseListing(html string) []string {
	seen := make(map[string]bool)
	for _, row := range tableRowRe.FindAllStringSubmatch(html, -1) {
		th := firstThRe.FindStringSubmatch(row[1])
		if th == nil {
			continue
		}
		cell := strings.TrimSpace(th[1])
		var name string
		if link := linkRe.FindStringSubmatch(cell); link != nil {
			name = strings.TrimSpace(link[1])
		} else {
			name = strings.TrimSpace(tagRe.ReplaceAllString(cell, ""))
		}
		if ValidName(name) {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Service caches the scraped listing for a TTL and merges the manual
// overlay from configuration. Safe for concurrent use.
type Service struct {
	client     *http.Client
	listingURL string
	ttl        time.Duration
	manual     []string

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

// New builds the service from configuration.
func New(cfg *config.SubsystemsConfig) (*Service, error) {
	ttl, err := cfg.GetListCacheTTL()
	if err != nil {
		return nil, err
	}
	return &Service{
		client:     &http.Client{Timeout: 30 * time.Second},
		listingURL: cfg.GetListNamesURL(),
		ttl:        ttl,
		manual:     cfg.ManualList(),
	}, nil
}

// Supported returns the merged known subsystem set. A stale or failed
// scrape falls back to the last good cache plus the manual overlay; only
// a cold cache with a failed scrape and no overlay is an error.
func (s *Service) Supported(ctx context.Context) ([]string, error) {
	scraped, err := s.scrapedNames(ctx)
	if err != nil {
		logger.Warnf("[SUBSYS] listing fetch failed, using %d manual entries: %v",
			len(s.manual), err)
		if len(s.manual) == 0 {
			return nil, fmt.Errorf("no subsystem names available: %w", err)
		}
	}

	return mergeNames(scraped, s.manual), nil
}

// IsSupported reports whether a name is in the merged set.
func (s *Service) IsSupported(ctx context.Context, name string) (bool, error) {
	names, err := s.Supported(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Refresh forces a scrape regardless of cache age.
func (s *Service) Refresh(ctx context.Context) error {
	names, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cached = names
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	logger.Infof("[SUBSYS] refreshed listing, %d subsystems", len(names))
	return nil
}

func (s *Service) scrapedNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	fresh := s.cached != nil && time.Since(s.fetchedAt) < s.ttl
	cached := s.cached
	s.mu.Unlock()
	if fresh {
		return cached, nil
	}

	if err := s.Refresh(ctx); err != nil {
		// Keep serving the stale cache if there is one.
		if cached != nil {
			logger.Warnf("[SUBSYS] refresh failed, serving stale listing: %v", err)
			return cached, nil
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached, nil
}

func (s *Service) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.listingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build listing request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subsystem listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subsystem listing returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read subsystem listing: %w", err)
	}

	names := parseListing(string(body))
	if len(names) == 0 {
		return nil, fmt.Errorf("subsystem listing parsed to zero names")
	}
	return names, nil
}

func mergeNames(lists ...[]string) []string {
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, n := range list {
			if n != "" {
				seen[n] = true
			}
		}
	}
	merged := make([]string, 0, len(seen))
	for n := range seen {
		merged = append(merged, n)
	}
	sort.Strings(merged)
	return merged
}
