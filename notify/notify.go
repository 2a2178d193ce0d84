// Package notify defines the outbound notification boundary. The core
// produces structured payloads; delivery transports implement Dispatcher.
package notify

import (
	"context"
	"fmt"

	"github.com/patchlore/patchlore/logger"
)

// CardCreated announces a new patch card.
type CardCreated struct {
	Subsystem    string   `json:"subsystem"`
	Subject      string   `json:"subject"`
	Author       string   `json:"author"`
	ToCCList     []string `json:"to_cc_list"`
	MatchedRules []string `json:"matched_rules"`
	Highlighted  bool     `json:"highlighted"`
	URL          string   `json:"url,omitempty"`
	PatchVersion int      `json:"patch_version,omitempty"`
	PatchTotal   int      `json:"patch_total,omitempty"`
}

// ThreadOverviewUpdated announces series activity, at most once per
// thread per polling cycle.
type ThreadOverviewUpdated struct {
	ThreadHandle   string `json:"thread_handle"`
	CoverSubject   string `json:"cover_subject"`
	NewMemberCount int    `json:"new_member_count"`
	Summary        string `json:"summary"`
}

// Dispatcher delivers notifications. Implementations must not assume the
// caller waits for delivery success; errors are logged, never retried by
// the core.
type Dispatcher interface {
	// DispatchCardCreated delivers a new card announcement.
	DispatchCardCreated(ctx context.Context, payload *CardCreated) error
	// DispatchThreadOverviewUpdated delivers a coalesced series update.
	DispatchThreadOverviewUpdated(ctx context.Context, payload *ThreadOverviewUpdated) error
	// OpenThread allocates a transport-side handle for a watched series.
	// Must be safe to call once per thread; the caller persists the handle.
	OpenThread(ctx context.Context, coverHeader, coverSubject string) (string, error)
}

// LogDispatcher is the default transport: structured log lines only.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher { return &LogDispatcher{} }

func (d *LogDispatcher) DispatchCardCreated(ctx context.Context, p *CardCreated) error {
	logger.Infof("[NOTIFY] card created: subsystem=%s subject=%q author=%q matched=%v highlighted=%t",
		p.Subsystem, p.Subject, p.Author, p.MatchedRules, p.Highlighted)
	return nil
}

func (d *LogDispatcher) DispatchThreadOverviewUpdated(ctx context.Context, p *ThreadOverviewUpdated) error {
	logger.Infof("[NOTIFY] thread updated: handle=%s members=%d summary=%q",
		p.ThreadHandle, p.NewMemberCount, p.Summary)
	return nil
}

func (d *LogDispatcher) OpenThread(ctx context.Context, coverHeader, coverSubject string) (string, error) {
	handle := fmt.Sprintf("log:%s", coverHeader)
	logger.Infof("[NOTIFY] thread opened: handle=%s subject=%q", handle, coverSubject)
	return handle, nil
}
