package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// FeedMessage is one ingested feed entry with its classification result.
// MessageIDHeader is the durable dedup key; MessageID is the optional
// feed-provided identity covered by a partial unique index.
type FeedMessage struct {
	ID              int64
	SubsystemName   string
	MessageID       *string
	MessageIDHeader string
	InReplyToHeader string
	Subject         string
	Author          string
	AuthorEmail     string
	Content         string
	URL             string
	ReceivedAt      time.Time
	IsPatch         bool
	IsReply         bool
	IsSeriesPatch   bool
	IsCoverLetter   bool
	PatchVersion    int
	PatchIndex      int
	PatchTotal      int
	SeriesMessageID *string

	// Recipients is the entry's To/CC set, carried through for card
	// creation within the ingesting cycle. Not persisted on this table;
	// cards store the merged list.
	Recipients []string
}

const feedMessageColumns = `id, subsystem_name, message_id, message_id_header,
	in_reply_to_header, subject, author, author_email, content, url,
	received_at, is_patch, is_reply, is_series_patch, is_cover_letter,
	patch_version, patch_index, patch_total, series_message_id`

func scanFeedMessage(row pgx.Row) (*FeedMessage, error) {
	var m FeedMessage
	err := row.Scan(&m.ID, &m.SubsystemName, &m.MessageID, &m.MessageIDHeader,
		&m.InReplyToHeader, &m.Subject, &m.Author, &m.AuthorEmail, &m.Content,
		&m.URL, &m.ReceivedAt, &m.IsPatch, &m.IsReply, &m.IsSeriesPatch,
		&m.IsCoverLetter, &m.PatchVersion, &m.PatchIndex, &m.PatchTotal,
		&m.SeriesMessageID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertFeedMessage persists a message idempotently. It returns
// inserted=false without error when the message was already stored,
// whether the conflict comes from the header key or the partial
// message_id index. Concurrent inserts of the same header yield exactly
// one inserted=true.
func (d *Database) InsertFeedMessage(ctx context.Context, m *FeedMessage) (bool, error) {
	tag, err := d.Pool.Exec(ctx, `
		INSERT INTO feed_messages (
			subsystem_name, message_id, message_id_header, in_reply_to_header,
			subject, author, author_email, content, url, received_at,
			is_patch, is_reply, is_series_patch, is_cover_letter,
			patch_version, patch_index, patch_total, series_message_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (message_id_header) DO NOTHING`,
		m.SubsystemName, m.MessageID, m.MessageIDHeader, m.InReplyToHeader,
		m.Subject, m.Author, m.AuthorEmail, m.Content, m.URL, m.ReceivedAt,
		m.IsPatch, m.IsReply, m.IsSeriesPatch, m.IsCoverLetter,
		m.PatchVersion, m.PatchIndex, m.PatchTotal, m.SeriesMessageID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// The message_id partial index fired; same message seen
			// under a different header. Duplicate, not an error.
			return false, nil
		}
		return false, fmt.Errorf("failed to insert feed message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetFeedMessageByHeader fetches one message by its Message-ID header.
func (d *Database) GetFeedMessageByHeader(ctx context.Context, header string) (*FeedMessage, error) {
	m, err := scanFeedMessage(d.Pool.QueryRow(ctx,
		`SELECT `+feedMessageColumns+` FROM feed_messages WHERE message_id_header = $1`,
		header))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed message: %w", err)
	}
	return m, nil
}

// FindSeriesMembers returns every stored message already linked to the
// given cover letter header, oldest first. Used by the aggregator's
// reconciliation pass when a cover arrives after its members.
func (d *Database) FindSeriesMembers(ctx context.Context, coverHeader string) ([]*FeedMessage, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT `+feedMessageColumns+` FROM feed_messages
		 WHERE series_message_id = $1 AND message_id_header <> $1
		 ORDER BY received_at, id`,
		coverHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to query series members: %w", err)
	}
	defer rows.Close()

	var members []*FeedMessage
	for rows.Next() {
		m, err := scanFeedMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan series member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// LinkMessageToSeries records a message's resolved series. markSeries
// additionally flips the series flag, used when a plain reply is adopted
// into a tracked series.
func (d *Database) LinkMessageToSeries(ctx context.Context, header, coverHeader string, markSeries bool) error {
	tag, err := d.Pool.Exec(ctx, `
		UPDATE feed_messages
		SET series_message_id = $2,
		    is_series_patch = is_series_patch OR $3
		WHERE message_id_header = $1`,
		header, coverHeader, markSeries)
	if err != nil {
		return fmt.Errorf("failed to link message to series: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// CountSeriesMembers reports how many stored messages belong to a series.
func (d *Database) CountSeriesMembers(ctx context.Context, coverHeader string) (int, error) {
	var n int
	err := d.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM feed_messages
		 WHERE series_message_id = $1 AND message_id_header <> $1`,
		coverHeader).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count series members: %w", err)
	}
	return n, nil
}
