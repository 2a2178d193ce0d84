package thread

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchlore/patchlore/classify"
	"github.com/patchlore/patchlore/db"
	"github.com/patchlore/patchlore/filter"
	"github.com/patchlore/patchlore/notify"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	messages map[string]*db.FeedMessage
	cards    map[string]*db.PatchCard
	threads  map[string]*db.SeriesThread
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string]*db.FeedMessage),
		cards:    make(map[string]*db.PatchCard),
		threads:  make(map[string]*db.SeriesThread),
	}
}

func (s *fakeStore) id() int64 { s.nextID++; return s.nextID }

func (s *fakeStore) addMessage(m *db.FeedMessage) {
	m.ID = s.id()
	s.messages[m.MessageIDHeader] = m
}

func (s *fakeStore) GetFeedMessageByHeader(_ context.Context, header string) (*db.FeedMessage, error) {
	if m, ok := s.messages[header]; ok {
		return m, nil
	}
	return nil, db.ErrMessageNotFound
}

func (s *fakeStore) FindSeriesMembers(_ context.Context, cover string) ([]*db.FeedMessage, error) {
	var out []*db.FeedMessage
	for _, m := range s.messages {
		if m.SeriesMessageID != nil && *m.SeriesMessageID == cover && m.MessageIDHeader != cover {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) CountSeriesMembers(ctx context.Context, cover string) (int, error) {
	members, _ := s.FindSeriesMembers(ctx, cover)
	return len(members), nil
}

func (s *fakeStore) LinkMessageToSeries(_ context.Context, header, cover string, markSeries bool) error {
	m, ok := s.messages[header]
	if !ok {
		return db.ErrMessageNotFound
	}
	m.SeriesMessageID = &cover
	if markSeries {
		m.IsSeriesPatch = true
	}
	return nil
}

func (s *fakeStore) InsertPatchCard(_ context.Context, c *db.PatchCard) (*db.PatchCard, bool, error) {
	if existing, ok := s.cards[c.MessageIDHeader]; ok {
		return existing, false, nil
	}
	stored := *c
	stored.ID = s.id()
	stored.CreatedAt = time.Now()
	s.cards[c.MessageIDHeader] = &stored
	return &stored, true, nil
}

func (s *fakeStore) GetPatchCardByHeader(_ context.Context, header string) (*db.PatchCard, error) {
	if c, ok := s.cards[header]; ok {
		return c, nil
	}
	return nil, db.ErrCardNotFound
}

func (s *fakeStore) GetSeriesThread(_ context.Context, cover string) (*db.SeriesThread, error) {
	if t, ok := s.threads[cover]; ok {
		return t, nil
	}
	return nil, db.ErrThreadNotFound
}

func (s *fakeStore) InsertSeriesThread(_ context.Context, cover string, cardID *int64) (*db.SeriesThread, bool, error) {
	if existing, ok := s.threads[cover]; ok {
		return existing, false, nil
	}
	t := &db.SeriesThread{
		ID:                   s.id(),
		CoverMessageIDHeader: cover,
		PatchCardID:          cardID,
		CreatedAt:            time.Now(),
		LastUpdateAt:         time.Now(),
	}
	s.threads[cover] = t
	return t, true, nil
}

func (s *fakeStore) TouchSeriesThread(_ context.Context, cover string, memberCount int) (*db.SeriesThread, error) {
	t, ok := s.threads[cover]
	if !ok {
		return nil, db.ErrThreadNotFound
	}
	t.MemberCount = memberCount
	t.UpdateCount++
	t.LastUpdateAt = time.Now()
	return t, nil
}

func (s *fakeStore) SetThreadHandle(_ context.Context, cover, handle string) (string, error) {
	t, ok := s.threads[cover]
	if !ok {
		return "", db.ErrThreadNotFound
	}
	if t.ThreadHandle == nil || *t.ThreadHandle == "" {
		t.ThreadHandle = &handle
	}
	return *t.ThreadHandle, nil
}

// recordingDispatcher captures payloads.
type recordingDispatcher struct {
	cards       []*notify.CardCreated
	updates     []*notify.ThreadOverviewUpdated
	openedCount int
}

func (d *recordingDispatcher) DispatchCardCreated(_ context.Context, p *notify.CardCreated) error {
	d.cards = append(d.cards, p)
	return nil
}

func (d *recordingDispatcher) DispatchThreadOverviewUpdated(_ context.Context, p *notify.ThreadOverviewUpdated) error {
	d.updates = append(d.updates, p)
	return nil
}

func (d *recordingDispatcher) OpenThread(_ context.Context, cover, _ string) (string, error) {
	d.openedCount++
	return fmt.Sprintf("handle-%d", d.openedCount), nil
}

// ingest classifies, stores and processes one message, mirroring the
// scheduler's per-message pipeline.
func ingest(t *testing.T, a *Aggregator, store *fakeStore, subsystem, subject, header, inReplyTo string) *notify.CardCreated {
	t.Helper()
	c := classify.Classify(subject, inReplyTo, header)

	msg := &db.FeedMessage{
		SubsystemName:   subsystem,
		MessageIDHeader: header,
		InReplyToHeader: inReplyTo,
		Subject:         subject,
		Author:          "Jane Dev",
		AuthorEmail:     "jane@example.org",
		ReceivedAt:      time.Now(),
		IsPatch:         c.IsPatch,
		IsReply:         c.IsReply,
		IsSeriesPatch:   c.IsSeriesPatch,
		IsCoverLetter:   c.IsCoverLetter,
		PatchVersion:    c.Patch.Version,
		PatchIndex:      c.Patch.Index,
		PatchTotal:      c.Patch.Total,
	}
	if c.SeriesMessageID != "" {
		msg.SeriesMessageID = &c.SeriesMessageID
	}
	store.addMessage(msg)

	card, err := a.OnMessage(context.Background(), msg, filter.Decision{CreateCard: true})
	require.NoError(t, err)
	return card
}

func TestOutOfOrderSeriesArrival(t *testing.T) {
	store := newFakeStore()
	dispatcher := &recordingDispatcher{}
	agg := New(store, dispatcher)
	ctx := context.Background()

	cover := "series-cover@host"

	// Members 2/3 and 1/3 land before their cover letter.
	card := ingest(t, agg, store, "mm", "[PATCH 2/3] mm: part two", "m2@host", cover)
	assert.Nil(t, card, "sub-patches never get cards")
	card = ingest(t, agg, store, "mm", "[PATCH 1/3] mm: part one", "m1@host", cover)
	assert.Nil(t, card)

	dispatched, _ := agg.FlushThreadUpdates(ctx, 10)
	assert.Equal(t, 0, dispatched, "no thread exists yet, nothing to report")

	// The cover arrives: one card, one thread, early members reconciled.
	card = ingest(t, agg, store, "mm", "[PATCH 0/3] mm: rework", cover, "")
	require.NotNil(t, card)
	assert.Equal(t, "[PATCH 0/3] mm: rework", card.Subject)

	thread, err := store.GetSeriesThread(ctx, cover)
	require.NoError(t, err)
	assert.Equal(t, 2, thread.MemberCount)

	dispatched, dropped := agg.FlushThreadUpdates(ctx, 10)
	assert.Equal(t, 1, dispatched, "reconciliation coalesces to one update")
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 2, dispatcher.updates[0].NewMemberCount)

	// The final member arrives normally.
	card = ingest(t, agg, store, "mm", "[PATCH 3/3] mm: part three", "m3@host", cover)
	assert.Nil(t, card)

	dispatched, _ = agg.FlushThreadUpdates(ctx, 10)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, 3, dispatcher.updates[1].NewMemberCount)

	// Exactly one card exists for the whole series.
	assert.Len(t, store.cards, 1)
}

func TestSeriesUpdatesCoalescePerCycle(t *testing.T) {
	store := newFakeStore()
	dispatcher := &recordingDispatcher{}
	agg := New(store, dispatcher)
	ctx := context.Background()

	cover := "big-series@host"
	require.NotNil(t, ingest(t, agg, store, "mm", "[PATCH 0/5] mm: big rework", cover, ""))

	for i := 1; i <= 3; i++ {
		ingest(t, agg, store, "mm",
			fmt.Sprintf("[PATCH %d/5] mm: part %d", i, i),
			fmt.Sprintf("big-%d@host", i), cover)
	}

	dispatched, _ := agg.FlushThreadUpdates(ctx, 10)
	assert.Equal(t, 1, dispatched, "three members in one cycle mean one update")
	assert.Equal(t, 3, dispatcher.updates[0].NewMemberCount)
}

func TestReplyAdoption(t *testing.T) {
	store := newFakeStore()
	dispatcher := &recordingDispatcher{}
	agg := New(store, dispatcher)
	ctx := context.Background()

	cover := "adopt-series@host"
	require.NotNil(t, ingest(t, agg, store, "mm", "[PATCH 0/2] mm: adopt test", cover, ""))
	ingest(t, agg, store, "mm", "[PATCH 1/2] mm: first", "adopt-1@host", cover)
	agg.FlushThreadUpdates(ctx, 10)

	// A review reply to a member resolves through it to the series.
	ingest(t, agg, store, "mm", "Re: [PATCH 1/2] mm: first", "review-1@host", "adopt-1@host")

	thread, err := store.GetSeriesThread(ctx, cover)
	require.NoError(t, err)
	assert.Equal(t, 2, thread.MemberCount, "adopted reply is counted")

	reply, err := store.GetFeedMessageByHeader(ctx, "review-1@host")
	require.NoError(t, err)
	require.NotNil(t, reply.SeriesMessageID)
	assert.Equal(t, cover, *reply.SeriesMessageID)

	// A reply to an untracked message is stored but adopts nothing.
	ingest(t, agg, store, "mm", "Re: unrelated discussion", "stray@host", "unknown@host")
	dispatched, _ := agg.FlushThreadUpdates(ctx, 10)
	assert.Equal(t, 1, dispatched)
}

func TestWatchIdempotent(t *testing.T) {
	store := newFakeStore()
	dispatcher := &recordingDispatcher{}
	agg := New(store, dispatcher)
	ctx := context.Background()

	cover := "watch-series@host"
	require.NotNil(t, ingest(t, agg, store, "mm", "[PATCH 0/2] mm: watch me", cover, ""))

	h1, err := agg.Watch(ctx, cover)
	require.NoError(t, err)
	assert.Equal(t, "handle-1", h1)

	h2, err := agg.Watch(ctx, cover)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "second watch returns the stored handle")
	assert.Equal(t, 1, dispatcher.openedCount, "transport opened once")

	// Watching an untracked cover creates the thread on the fly.
	other := "untracked-cover@host"
	h3, err := agg.Watch(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "handle-2", h3)
	_, err = store.GetSeriesThread(ctx, other)
	require.NoError(t, err)
}

func TestExclusiveSuppressionCreatesNoCardButCoverStillUntracked(t *testing.T) {
	store := newFakeStore()
	dispatcher := &recordingDispatcher{}
	agg := New(store, dispatcher)
	ctx := context.Background()

	cover := "suppressed@host"
	msg := &db.FeedMessage{
		SubsystemName:   "mm",
		MessageIDHeader: cover,
		Subject:         "[PATCH 0/2] mm: suppressed",
		IsPatch:         true,
		IsCoverLetter:   true,
		PatchIndex:      0,
		PatchTotal:      2,
		SeriesMessageID: &cover,
	}
	store.addMessage(msg)

	card, err := agg.OnMessage(ctx, msg, filter.Decision{CreateCard: false})
	require.NoError(t, err)
	assert.Nil(t, card)
	assert.Empty(t, store.cards)
	_, err = store.GetSeriesThread(ctx, cover)
	assert.ErrorIs(t, err, db.ErrThreadNotFound)
}
