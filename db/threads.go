package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SeriesThread tracks one patch series over its lifetime. Threads are
// never deleted; later revisions of a series are separate threads keyed
// by their own cover letters.
type SeriesThread struct {
	ID                   int64
	CoverMessageIDHeader string
	PatchCardID          *int64
	MemberCount          int
	UpdateCount          int
	ThreadHandle         *string
	LastUpdateAt         time.Time
	CreatedAt            time.Time
}

const seriesThreadColumns = `id, cover_message_id_header, patch_card_id,
	member_count, update_count, thread_handle, last_update_at, created_at`

func scanSeriesThread(row pgx.Row) (*SeriesThread, error) {
	var t SeriesThread
	err := row.Scan(&t.ID, &t.CoverMessageIDHeader, &t.PatchCardID,
		&t.MemberCount, &t.UpdateCount, &t.ThreadHandle, &t.LastUpdateAt,
		&t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertSeriesThread creates a thread for a cover letter idempotently;
// if one already exists it is returned with created=false.
func (d *Database) InsertSeriesThread(ctx context.Context, coverHeader string, patchCardID *int64) (*SeriesThread, bool, error) {
	row := d.Pool.QueryRow(ctx, `
		INSERT INTO series_threads (cover_message_id_header, patch_card_id)
		VALUES ($1, $2)
		ON CONFLICT (cover_message_id_header) DO NOTHING
		RETURNING `+seriesThreadColumns,
		coverHeader, patchCardID)

	created, err := scanSeriesThread(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert series thread: %w", err)
	}

	existing, err := d.GetSeriesThread(ctx, coverHeader)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetSeriesThread fetches a thread by its cover letter header.
func (d *Database) GetSeriesThread(ctx context.Context, coverHeader string) (*SeriesThread, error) {
	t, err := scanSeriesThread(d.Pool.QueryRow(ctx,
		`SELECT `+seriesThreadColumns+` FROM series_threads WHERE cover_message_id_header = $1`,
		coverHeader))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get series thread: %w", err)
	}
	return t, nil
}

// TouchSeriesThread records series activity: member_count is set to the
// caller's reconciled count, update_count increments and last_update_at
// advances. Returns the updated thread.
func (d *Database) TouchSeriesThread(ctx context.Context, coverHeader string, memberCount int) (*SeriesThread, error) {
	t, err := scanSeriesThread(d.Pool.QueryRow(ctx, `
		UPDATE series_threads
		SET member_count = $2,
		    update_count = update_count + 1,
		    last_update_at = now()
		WHERE cover_message_id_header = $1
		RETURNING `+seriesThreadColumns,
		coverHeader, memberCount))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to touch series thread: %w", err)
	}
	return t, nil
}

// SetThreadHandle stores the dispatcher-assigned handle only when none is
// set yet, keeping Watch idempotent. The stored handle is returned either
// way.
func (d *Database) SetThreadHandle(ctx context.Context, coverHeader, handle string) (string, error) {
	var stored string
	err := d.Pool.QueryRow(ctx, `
		UPDATE series_threads
		SET thread_handle = COALESCE(thread_handle, $2)
		WHERE cover_message_id_header = $1
		RETURNING thread_handle`,
		coverHeader, handle).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrThreadNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to set thread handle: %w", err)
	}
	return stored, nil
}

// ListSeriesThreads returns threads by most recent activity.
// limit <= 0 means no limit.
func (d *Database) ListSeriesThreads(ctx context.Context, limit int) ([]*SeriesThread, error) {
	query := `SELECT ` + seriesThreadColumns + ` FROM series_threads
		ORDER BY last_update_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := d.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list series threads: %w", err)
	}
	defer rows.Close()

	var threads []*SeriesThread
	for rows.Next() {
		t, err := scanSeriesThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan series thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}
