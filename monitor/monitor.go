// Package monitor runs the polling scheduler: a single-active-cycle loop
// over the subscribed subsystems that fetches, classifies, deduplicates,
// filters and hands messages to the aggregator.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/patchlore/patchlore/classify"
	"github.com/patchlore/patchlore/config"
	"github.com/patchlore/patchlore/consts"
	"github.com/patchlore/patchlore/db"
	"github.com/patchlore/patchlore/feed"
	"github.com/patchlore/patchlore/filter"
	"github.com/patchlore/patchlore/helpers"
	"github.com/patchlore/patchlore/logger"
	"github.com/patchlore/patchlore/metrics"
	"github.com/patchlore/patchlore/notify"
	"github.com/patchlore/patchlore/thread"
)

// State is the scheduler run state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Store is the persistence surface the scheduler needs. *db.Database
// implements it.
type Store interface {
	ListSubscribedSubsystems(ctx context.Context) ([]string, error)
	InsertFeedMessage(ctx context.Context, m *db.FeedMessage) (bool, error)
	LoadRules(ctx context.Context) ([]filter.Rule, error)
	GetExclusiveMode(ctx context.Context) (bool, error)
}

// CycleStats summarizes one polling cycle.
type CycleStats struct {
	RunID         int64
	Subsystems    int
	Entries       int
	NewMessages   int
	Duplicates    int
	Replies       int
	CardsCreated  int
	ThreadUpdates int
	FetchErrors   int
	Dropped       int
	Duration      time.Duration
}

// Monitor owns the scheduler goroutine. At most one cycle runs at a time
// system-wide; RunNow and ticks share the same mutex.
type Monitor struct {
	source     feed.Source
	store      Store
	aggregator *thread.Aggregator
	dispatcher notify.Dispatcher

	pollInterval     time.Duration
	maxNotifications int
	fetchConcurrency int

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	cycleMu sync.Mutex
	runID   int64

	windowMu sync.Mutex
	lastSeen map[string]time.Time
}

// New builds a monitor from configuration.
func New(cfg *config.Config, source feed.Source, store Store, aggregator *thread.Aggregator, dispatcher notify.Dispatcher) (*Monitor, error) {
	interval, err := cfg.Monitor.GetPollInterval()
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		source:           source,
		store:            store,
		aggregator:       aggregator,
		dispatcher:       dispatcher,
		pollInterval:     interval,
		maxNotifications: cfg.Monitor.GetMaxNotifications(),
		fetchConcurrency: cfg.Monitor.GetFetchConcurrency(),
		state:            StateStopped,
		lastSeen:         make(map[string]time.Time),
	}
	metrics.MonitorState.Set(0)
	return m, nil
}

// State returns the current run state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the scheduler loop. The first cycle runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateStopped {
		return consts.ErrMonitorAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = StateRunning
	metrics.MonitorState.Set(1)

	logger.Infof("[MONITOR] starting, poll interval %s", m.pollInterval)
	go m.loop(loopCtx, m.done)
	return nil
}

// Stop cancels future ticks. An in-flight cycle finishes; Stop waits for
// the loop goroutine to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return consts.ErrMonitorNotRunning
	}
	cancel, done := m.cancel, m.done
	m.state = StateStopped
	m.cancel = nil
	m.done = nil
	metrics.MonitorState.Set(0)
	m.mu.Unlock()

	cancel()
	<-done
	logger.Info("[MONITOR] stopped")
	return nil
}

// Pause keeps the ticker running but skips cycle bodies.
func (m *Monitor) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return consts.ErrMonitorNotRunning
	}
	m.state = StatePaused
	metrics.MonitorState.Set(2)
	logger.Info("[MONITOR] paused")
	return nil
}

// Resume re-enables cycle bodies after Pause.
func (m *Monitor) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return consts.ErrMonitorNotRunning
	}
	m.state = StateRunning
	metrics.MonitorState.Set(1)
	logger.Info("[MONITOR] resumed")
	return nil
}

// RunNow executes one cycle immediately, waiting for any active cycle to
// finish first. It works in any state, including stopped.
func (m *Monitor) RunNow(ctx context.Context) (*CycleStats, error) {
	return m.runCycle(ctx)
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	if _, err := m.runCycle(ctx); err != nil {
		logger.Errorf("[MONITOR] initial cycle failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() == StatePaused {
				logger.Debug("[MONITOR] paused, skipping cycle")
				continue
			}
			if _, err := m.runCycle(ctx); err != nil {
				logger.Errorf("[MONITOR] cycle failed: %v", err)
			}
		}
	}
}

// fetchResult carries one subsystem's entries out of the fan-out.
type fetchResult struct {
	subsystem string
	entries   []feed.Entry
	err       error
}

func (m *Monitor) runCycle(ctx context.Context) (*CycleStats, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	start := time.Now()
	m.runID++
	stats := &CycleStats{RunID: m.runID}

	defer func() {
		stats.Duration = time.Since(start)
		metrics.CycleDuration.Observe(stats.Duration.Seconds())
	}()

	subsystems, err := m.store.ListSubscribedSubsystems(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return stats, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	stats.Subsystems = len(subsystems)
	if len(subsystems) == 0 {
		logger.Debugf("[MONITOR] run=%d no subscribed subsystems", stats.RunID)
		metrics.CyclesTotal.WithLabelValues("empty").Inc()
		return stats, nil
	}

	results := m.fetchAll(ctx, subsystems)

	notified := 0
	for _, res := range results {
		if res.err != nil {
			// A failed fetch is an empty cycle for that subsystem.
			logger.Warnf("[MONITOR] run=%d fetch failed for %s: %v",
				stats.RunID, res.subsystem, res.err)
			metrics.FeedFetchErrorsTotal.WithLabelValues(res.subsystem).Inc()
			stats.FetchErrors++
			continue
		}
		for i := range res.entries {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			m.processEntry(ctx, &res.entries[i], stats, &notified)
		}
		m.advanceWindow(res.subsystem, res.entries)
	}

	flushed, dropped := m.aggregator.FlushThreadUpdates(ctx, m.maxNotifications-notified)
	stats.ThreadUpdates = flushed
	stats.Dropped += dropped

	outcome := "ok"
	if stats.FetchErrors > 0 {
		outcome = "partial"
	}
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()

	logger.Infof("[MONITOR] run=%d subsystems=%d entries=%d new=%d duplicates=%d replies=%d cards=%d thread_updates=%d errors=%d dropped=%d took=%s",
		stats.RunID, stats.Subsystems, stats.Entries, stats.NewMessages,
		stats.Duplicates, stats.Replies, stats.CardsCreated,
		stats.ThreadUpdates, stats.FetchErrors, stats.Dropped,
		stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// fetchAll fans out per-subsystem fetches with bounded concurrency and
// returns results in subsystem order.
func (m *Monitor) fetchAll(ctx context.Context, subsystems []string) []fetchResult {
	results := make([]fetchResult, len(subsystems))

	g, fetchCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.fetchConcurrency)
	for i, name := range subsystems {
		i, name := i, name
		g.Go(func() error {
			since := m.windowFor(name)
			entries, err := m.source.Fetch(fetchCtx, name, since)
			results[i] = fetchResult{subsystem: name, entries: entries, err: err}
			// Fetch errors never fail the group; they are per-subsystem.
			return nil
		})
	}
	g.Wait()
	return results
}

func (m *Monitor) processEntry(ctx context.Context, entry *feed.Entry, stats *CycleStats, notified *int) {
	stats.Entries++

	c := classify.Classify(entry.Subject, entry.InReplyToHeader, entry.MessageIDHeader)

	msg := &db.FeedMessage{
		SubsystemName:   entry.Subsystem,
		MessageIDHeader: helpers.CleanMessageID(entry.MessageIDHeader),
		InReplyToHeader: helpers.CleanMessageID(entry.InReplyToHeader),
		Subject:         entry.Subject,
		Author:          entry.Author,
		AuthorEmail:     entry.AuthorEmail,
		Content:         entry.Content,
		URL:             entry.URL,
		ReceivedAt:      entry.Published,
		IsPatch:         c.IsPatch,
		IsReply:         c.IsReply,
		IsSeriesPatch:   c.IsSeriesPatch,
		IsCoverLetter:   c.IsCoverLetter,
		PatchVersion:    c.Patch.Version,
		PatchIndex:      c.Patch.Index,
		PatchTotal:      c.Patch.Total,
		Recipients:      entry.Recipients,
	}
	if entry.MessageID != "" {
		msg.MessageID = &entry.MessageID
	}
	if c.SeriesMessageID != "" {
		id := helpers.CleanMessageID(c.SeriesMessageID)
		msg.SeriesMessageID = &id
	}
	if msg.MessageIDHeader == "" {
		logger.Warnf("[MONITOR] entry without identity in %s, skipping: %q",
			entry.Subsystem, entry.Subject)
		return
	}

	inserted, err := m.store.InsertFeedMessage(ctx, msg)
	if err != nil {
		logger.Errorf("[MONITOR] failed to persist %s: %v", msg.MessageIDHeader, err)
		return
	}
	if !inserted {
		stats.Duplicates++
		metrics.MessagesDuplicateTotal.WithLabelValues(entry.Subsystem).Inc()
		return
	}
	stats.NewMessages++
	metrics.MessagesIngestedTotal.WithLabelValues(entry.Subsystem).Inc()
	if c.IsReply {
		stats.Replies++
	}

	decision := m.evaluate(ctx, entry, c)

	card, err := m.aggregator.OnMessage(ctx, msg, decision)
	if err != nil {
		logger.Errorf("[MONITOR] aggregation failed for %s: %v", msg.MessageIDHeader, err)
		return
	}
	if card == nil {
		return
	}
	stats.CardsCreated++

	if *notified >= m.maxNotifications {
		stats.Dropped++
		metrics.NotificationsDroppedTotal.Inc()
		return
	}
	if err := m.dispatcher.DispatchCardCreated(ctx, card); err != nil {
		logger.Warnf("[MONITOR] card notification failed for %s: %v", msg.MessageIDHeader, err)
	}
	*notified++
}

// evaluate loads the rule set fresh for each message so synchronous
// filter mutations apply from the very next evaluation.
func (m *Monitor) evaluate(ctx context.Context, entry *feed.Entry, c classify.Classification) filter.Decision {
	rules, err := m.store.LoadRules(ctx)
	if err != nil {
		logger.Errorf("[MONITOR] failed to load filter rules: %v", err)
		rules = nil
	}
	exclusive, err := m.store.GetExclusiveMode(ctx)
	if err != nil {
		logger.Errorf("[MONITOR] failed to load filter mode: %v", err)
		exclusive = false
	}

	return filter.Evaluate(&filter.Message{
		Author:     entry.Author,
		Email:      entry.AuthorEmail,
		Subsystem:  entry.Subsystem,
		Subject:    entry.Subject,
		Content:    entry.Content,
		Recipients: entry.Recipients,
		PatchTotal: int64(c.Patch.Total),
	}, rules, exclusive)
}

func (m *Monitor) windowFor(subsystem string) time.Time {
	m.windowMu.Lock()
	defer m.windowMu.Unlock()
	return m.lastSeen[subsystem]
}

// advanceWindow remembers the newest entry time per subsystem; later
// cycles skip older entries. Dedup in the store is the real guarantee.
func (m *Monitor) advanceWindow(subsystem string, entries []feed.Entry) {
	var newest time.Time
	for i := range entries {
		if entries[i].Published.After(newest) {
			newest = entries[i].Published
		}
	}
	if newest.IsZero() {
		return
	}
	m.windowMu.Lock()
	if newest.After(m.lastSeen[subsystem]) {
		m.lastSeen[subsystem] = newest
	}
	m.windowMu.Unlock()
}
