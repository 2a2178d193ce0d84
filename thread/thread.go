// Package thread aggregates classified messages into patch cards and
// long-lived series threads.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/patchlore/patchlore/db"
	"github.com/patchlore/patchlore/filter"
	"github.com/patchlore/patchlore/helpers"
	"github.com/patchlore/patchlore/logger"
	"github.com/patchlore/patchlore/metrics"
	"github.com/patchlore/patchlore/notify"
)

// Store is the persistence surface the aggregator needs. *db.Database
// implements it; tests substitute a fake.
type Store interface {
	GetFeedMessageByHeader(ctx context.Context, header string) (*db.FeedMessage, error)
	FindSeriesMembers(ctx context.Context, coverHeader string) ([]*db.FeedMessage, error)
	CountSeriesMembers(ctx context.Context, coverHeader string) (int, error)
	LinkMessageToSeries(ctx context.Context, header, coverHeader string, markSeries bool) error

	InsertPatchCard(ctx context.Context, c *db.PatchCard) (*db.PatchCard, bool, error)
	GetPatchCardByHeader(ctx context.Context, header string) (*db.PatchCard, error)

	GetSeriesThread(ctx context.Context, coverHeader string) (*db.SeriesThread, error)
	InsertSeriesThread(ctx context.Context, coverHeader string, patchCardID *int64) (*db.SeriesThread, bool, error)
	TouchSeriesThread(ctx context.Context, coverHeader string, memberCount int) (*db.SeriesThread, error)
	SetThreadHandle(ctx context.Context, coverHeader, handle string) (string, error)
}

// pendingUpdate is one coalesced thread notification awaiting flush.
type pendingUpdate struct {
	coverHeader  string
	coverSubject string
	handle       string
	memberCount  int
}

// Aggregator drives card creation, series tracking and orphan
// reconciliation. Thread overview notifications coalesce per thread per
// cycle; the scheduler flushes them at cycle end.
type Aggregator struct {
	store      Store
	dispatcher notify.Dispatcher

	mu      sync.Mutex
	pending map[string]*pendingUpdate
}

func New(store Store, dispatcher notify.Dispatcher) *Aggregator {
	return &Aggregator{
		store:      store,
		dispatcher: dispatcher,
		pending:    make(map[string]*pendingUpdate),
	}
}

// OnMessage processes one newly persisted message. It returns the card
// announcement to deliver, or nil when the message produced no new card.
// Delivery of the returned payload is the caller's concern (per-cycle cap).
func (a *Aggregator) OnMessage(ctx context.Context, msg *db.FeedMessage, decision filter.Decision) (*notify.CardCreated, error) {
	switch {
	case msg.IsCoverLetter:
		return a.onCardCandidate(ctx, msg, decision, true)
	case msg.IsPatch && !msg.IsSeriesPatch && !msg.IsReply:
		return a.onCardCandidate(ctx, msg, decision, false)
	case msg.IsSeriesPatch:
		return nil, a.onSeriesMember(ctx, msg)
	case msg.IsReply:
		return nil, a.onReply(ctx, msg)
	default:
		return nil, nil
	}
}

// onCardCandidate handles cover letters and standalone patches, the only
// messages that may create cards.
func (a *Aggregator) onCardCandidate(ctx context.Context, msg *db.FeedMessage, decision filter.Decision, isCover bool) (*notify.CardCreated, error) {
	if !decision.CreateCard {
		metrics.CardsSuppressedTotal.Inc()
		logger.Debugf("[THREAD] exclusive mode suppressed card for %s", msg.MessageIDHeader)
		return nil, nil
	}

	matched := decision.Matched
	if matched == nil {
		matched = []string{}
	}
	card, created, err := a.store.InsertPatchCard(ctx, &db.PatchCard{
		MessageIDHeader: msg.MessageIDHeader,
		SubsystemName:   msg.SubsystemName,
		Subject:         msg.Subject,
		Author:          msg.Author,
		ToCCList:        helpers.MergeRecipients([]string{msg.AuthorEmail}, msg.Recipients),
		MatchedFilters:  matched,
		Highlighted:     decision.Highlighted,
		IsSeriesPatch:   isCover,
		SeriesMessageID: msg.SeriesMessageID,
		PatchVersion:    msg.PatchVersion,
		PatchIndex:      msg.PatchIndex,
		PatchTotal:      msg.PatchTotal,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create card for %s: %w", msg.MessageIDHeader, err)
	}

	if isCover {
		if err := a.trackSeries(ctx, msg, card); err != nil {
			return nil, err
		}
	}

	if !created {
		return nil, nil
	}

	metrics.CardsCreatedTotal.WithLabelValues(msg.SubsystemName,
		fmt.Sprintf("%t", decision.Highlighted)).Inc()

	return &notify.CardCreated{
		Subsystem:    msg.SubsystemName,
		Subject:      msg.Subject,
		Author:       msg.Author,
		ToCCList:     card.ToCCList,
		MatchedRules: matched,
		Highlighted:  decision.Highlighted,
		URL:          msg.URL,
		PatchVersion: msg.PatchVersion,
		PatchTotal:   msg.PatchTotal,
	}, nil
}

// trackSeries creates the thread for a cover letter and reconciles any
// members that arrived before it.
func (a *Aggregator) trackSeries(ctx context.Context, cover *db.FeedMessage, card *db.PatchCard) error {
	_, createdThread, err := a.store.InsertSeriesThread(ctx, cover.MessageIDHeader, &card.ID)
	if err != nil {
		return fmt.Errorf("failed to track series %s: %w", cover.MessageIDHeader, err)
	}
	if !createdThread {
		return nil
	}

	orphans, err := a.store.FindSeriesMembers(ctx, cover.MessageIDHeader)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	logger.Infof("[THREAD] reconciled %d early members for series %s",
		len(orphans), cover.MessageIDHeader)
	return a.touchThread(ctx, cover.MessageIDHeader, len(orphans))
}

// onSeriesMember links a sub-patch to its series and records activity on
// the tracked thread, if any. Members whose cover is still unknown stay
// unresolved until a later reconciliation.
func (a *Aggregator) onSeriesMember(ctx context.Context, msg *db.FeedMessage) error {
	coverHeader := ""
	if msg.SeriesMessageID != nil {
		coverHeader = *msg.SeriesMessageID
	}
	if coverHeader == "" {
		resolved, err := a.resolveSeries(ctx, msg.InReplyToHeader)
		if err != nil {
			return err
		}
		if resolved == "" {
			logger.Debugf("[THREAD] series member %s has no resolvable cover yet", msg.MessageIDHeader)
			return nil
		}
		coverHeader = resolved
		if err := a.store.LinkMessageToSeries(ctx, msg.MessageIDHeader, coverHeader, true); err != nil {
			return err
		}
	}

	return a.touchTrackedThread(ctx, coverHeader)
}

// onReply adopts a reply into a tracked series when its parent chain
// resolves to one; unrelated replies are kept only as stored messages.
func (a *Aggregator) onReply(ctx context.Context, msg *db.FeedMessage) error {
	coverHeader, err := a.resolveSeries(ctx, msg.InReplyToHeader)
	if err != nil {
		return err
	}
	if coverHeader == "" {
		return nil
	}

	if _, err := a.store.GetSeriesThread(ctx, coverHeader); err != nil {
		if errors.Is(err, db.ErrThreadNotFound) {
			return nil
		}
		return err
	}

	if err := a.store.LinkMessageToSeries(ctx, msg.MessageIDHeader, coverHeader, false); err != nil {
		return err
	}
	return a.touchTrackedThread(ctx, coverHeader)
}

// resolveSeries follows one In-Reply-To hop through the store: the parent
// is either a cover letter itself or already linked to one.
func (a *Aggregator) resolveSeries(ctx context.Context, inReplyTo string) (string, error) {
	if inReplyTo == "" {
		return "", nil
	}
	parent, err := a.store.GetFeedMessageByHeader(ctx, inReplyTo)
	if err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			return "", nil
		}
		return "", err
	}
	if parent.IsCoverLetter {
		return parent.MessageIDHeader, nil
	}
	if parent.SeriesMessageID != nil && *parent.SeriesMessageID != "" {
		return *parent.SeriesMessageID, nil
	}
	return "", nil
}

// touchTrackedThread updates counters for a series that has a thread;
// untracked series accumulate silently.
func (a *Aggregator) touchTrackedThread(ctx context.Context, coverHeader string) error {
	if _, err := a.store.GetSeriesThread(ctx, coverHeader); err != nil {
		if errors.Is(err, db.ErrThreadNotFound) {
			return nil
		}
		return err
	}
	count, err := a.store.CountSeriesMembers(ctx, coverHeader)
	if err != nil {
		return err
	}
	return a.touchThread(ctx, coverHeader, count)
}

func (a *Aggregator) touchThread(ctx context.Context, coverHeader string, memberCount int) error {
	thread, err := a.store.TouchSeriesThread(ctx, coverHeader, memberCount)
	if err != nil {
		return err
	}

	subject := coverHeader
	if card, err := a.store.GetPatchCardByHeader(ctx, coverHeader); err == nil {
		subject = card.Subject
	}

	handle := ""
	if thread.ThreadHandle != nil {
		handle = *thread.ThreadHandle
	}

	a.mu.Lock()
	a.pending[coverHeader] = &pendingUpdate{
		coverHeader:  coverHeader,
		coverSubject: subject,
		handle:       handle,
		memberCount:  thread.MemberCount,
	}
	a.mu.Unlock()
	return nil
}

// FlushThreadUpdates dispatches the coalesced updates collected during
// the cycle, at most budget of them; the rest are dropped, not carried
// over. Returns dispatched and dropped counts.
func (a *Aggregator) FlushThreadUpdates(ctx context.Context, budget int) (int, int) {
	a.mu.Lock()
	updates := make([]*pendingUpdate, 0, len(a.pending))
	for _, u := range a.pending {
		updates = append(updates, u)
	}
	a.pending = make(map[string]*pendingUpdate)
	a.mu.Unlock()

	dispatched := 0
	for _, u := range updates {
		if dispatched >= budget {
			dropped := len(updates) - dispatched
			metrics.NotificationsDroppedTotal.Add(float64(dropped))
			return dispatched, dropped
		}
		handle := u.handle
		if handle == "" {
			handle = u.coverHeader
		}
		err := a.dispatcher.DispatchThreadOverviewUpdated(ctx, &notify.ThreadOverviewUpdated{
			ThreadHandle:   handle,
			CoverSubject:   u.coverSubject,
			NewMemberCount: u.memberCount,
			Summary:        fmt.Sprintf("%s now has %d messages", u.coverSubject, u.memberCount),
		})
		if err != nil {
			logger.Warnf("[THREAD] failed to dispatch thread update for %s: %v", u.coverHeader, err)
		}
		metrics.ThreadUpdatesTotal.Inc()
		dispatched++
	}
	return dispatched, 0
}

// Watch attaches a transport handle to a series thread, creating the
// thread first if the cover is known but untracked. Idempotent: an
// existing handle is returned unchanged.
func (a *Aggregator) Watch(ctx context.Context, coverHeader string) (string, error) {
	thread, err := a.store.GetSeriesThread(ctx, coverHeader)
	if errors.Is(err, db.ErrThreadNotFound) {
		thread, _, err = a.store.InsertSeriesThread(ctx, coverHeader, nil)
	}
	if err != nil {
		return "", err
	}

	if thread.ThreadHandle != nil && *thread.ThreadHandle != "" {
		return *thread.ThreadHandle, nil
	}

	subject := coverHeader
	if msg, err := a.store.GetFeedMessageByHeader(ctx, coverHeader); err == nil {
		subject = msg.Subject
	}

	handle, err := a.dispatcher.OpenThread(ctx, coverHeader, subject)
	if err != nil {
		return "", fmt.Errorf("failed to open thread for %s: %w", coverHeader, err)
	}
	return a.store.SetThreadHandle(ctx, coverHeader, handle)
}
