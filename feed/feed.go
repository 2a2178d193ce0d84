// Package feed fetches and parses per-subsystem mailing list Atom feeds.
package feed

import (
	"context"
	"time"
)

// Entry is one feed item, normalized to mail-like fields.
type Entry struct {
	// MessageIDHeader is the <...> form message id, extracted from the
	// archive permalink or synthesized when the feed carries no identity.
	MessageIDHeader string
	// MessageID is the feed-provided entry id, when present.
	MessageID string
	// InReplyToHeader is the threading parent from the thr: extension,
	// empty for thread roots.
	InReplyToHeader string
	Subject         string
	Author          string
	AuthorEmail     string
	// Recipients are additional addresses the feed exposes for the entry.
	Recipients []string
	// Content is the entry body converted to plain text.
	Content   string
	URL       string
	Published time.Time
	Subsystem string
}

// Source produces entries for one subsystem newer than the given time.
// A zero since means no window filtering.
type Source interface {
	Fetch(ctx context.Context, subsystem string, since time.Time) ([]Entry, error)
}
