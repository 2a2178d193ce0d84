package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/k3a/html2text"
	"lukechampine.com/blake3"

	"github.com/patchlore/patchlore/config"
	"github.com/patchlore/patchlore/helpers"
)

// maxFeedBody bounds how much of a feed response is read.
const maxFeedBody = 16 << 20

// LoreSource fetches <base>/<subsystem>/new.atom from a lore-style
// public-inbox archive.
type LoreSource struct {
	client  *http.Client
	baseURL string
}

// NewLoreSource builds a source from the feed and monitor configuration.
func NewLoreSource(feedCfg *config.FeedConfig, fetchTimeout time.Duration) *LoreSource {
	return &LoreSource{
		client:  &http.Client{Timeout: fetchTimeout},
		baseURL: feedCfg.GetBaseURL(),
	}
}

// FeedURL returns the new.atom URL for a subsystem.
func (s *LoreSource) FeedURL(subsystem string) string {
	return fmt.Sprintf("%s/%s/new.atom", s.baseURL, subsystem)
}

// Fetch downloads and parses one subsystem feed, returning entries
// strictly newer than since (dedup in the store is the real guarantee;
// the window only trims work).
func (s *LoreSource) Fetch(ctx context.Context, subsystem string, since time.Time) ([]Entry, error) {
	url := s.FeedURL(subsystem)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request for %s: %w", subsystem, err)
	}
	req.Header.Set("User-Agent", "patchlore/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed for %s: %w", subsystem, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed for %s returned status %d", subsystem, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body for %s: %w", subsystem, err)
	}

	parsed, err := parseAtom(body)
	if err != nil {
		return nil, fmt.Errorf("feed for %s: %w", subsystem, err)
	}

	entries := make([]Entry, 0, len(parsed.Entries))
	for i := range parsed.Entries {
		e := convertEntry(&parsed.Entries[i], subsystem)
		if !since.IsZero() && !e.Published.After(since) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func convertEntry(raw *atomEntry, subsystem string) Entry {
	published := raw.entryTime()
	permalink := raw.permalink()

	e := Entry{
		MessageID:       strings.TrimSpace(raw.ID),
		MessageIDHeader: messageIDFromPermalink(permalink),
		InReplyToHeader: messageIDFromPermalink(raw.InReplyTo.Href),
		Subject:         strings.TrimSpace(raw.Title),
		Author:          strings.TrimSpace(raw.Author.Name),
		AuthorEmail:     helpers.ExtractEmail(raw.Author.Email),
		URL:             permalink,
		Published:       published,
		Subsystem:       subsystem,
	}

	for _, c := range raw.Contributors {
		if addr := helpers.ExtractEmail(c.Email); addr != "" {
			e.Recipients = append(e.Recipients, addr)
		}
	}

	content := raw.Content.Body
	if content == "" {
		content = raw.Summary.Body
	}
	if strings.Contains(raw.Content.Type+raw.Summary.Type, "html") || looksLikeHTML(content) {
		content = html2text.HTML2Text(content)
	}
	e.Content = strings.TrimSpace(content)

	if e.MessageIDHeader == "" {
		e.MessageIDHeader = fallbackMessageID(subsystem, e.Subject, published)
	}
	return e
}

func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<pre") || strings.Contains(s, "<p>") ||
		strings.Contains(s, "<br") || strings.Contains(s, "&gt;")
}

// fallbackMessageID gives an entry without any archive identity a stable
// synthetic one so dedup still works across cycles.
func fallbackMessageID(subsystem, subject string, published time.Time) string {
	sum := blake3.Sum256([]byte(subsystem + "|" + subject + "|" + published.UTC().Format(time.RFC3339)))
	return fmt.Sprintf("<%x@patchlore.synthetic>", sum[:16])
}
