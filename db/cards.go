package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// PatchCard is the persisted notification unit: one per cover letter or
// single standalone patch. Sub-patches of a series never get cards.
type PatchCard struct {
	ID              int64
	MessageIDHeader string
	SubsystemName   string
	Subject         string
	Author          string
	ToCCList        []string
	MatchedFilters  []string
	Highlighted     bool
	IsSeriesPatch   bool
	SeriesMessageID *string
	PatchVersion    int
	PatchIndex      int
	PatchTotal      int
	CreatedAt       time.Time
}

const patchCardColumns = `id, message_id_header, subsystem_name, subject,
	author, to_cc_list, matched_filters, highlighted, is_series_patch,
	series_message_id, patch_version, patch_index, patch_total, created_at`

func scanPatchCard(row pgx.Row) (*PatchCard, error) {
	var c PatchCard
	err := row.Scan(&c.ID, &c.MessageIDHeader, &c.SubsystemName, &c.Subject,
		&c.Author, &c.ToCCList, &c.MatchedFilters, &c.Highlighted,
		&c.IsSeriesPatch, &c.SeriesMessageID, &c.PatchVersion, &c.PatchIndex,
		&c.PatchTotal, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertPatchCard creates a card idempotently; a second insert for the
// same message header returns the existing card with created=false.
func (d *Database) InsertPatchCard(ctx context.Context, c *PatchCard) (*PatchCard, bool, error) {
	row := d.Pool.QueryRow(ctx, `
		INSERT INTO patch_cards (
			message_id_header, subsystem_name, subject, author, to_cc_list,
			matched_filters, highlighted, is_series_patch, series_message_id,
			patch_version, patch_index, patch_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (message_id_header) DO NOTHING
		RETURNING `+patchCardColumns,
		c.MessageIDHeader, c.SubsystemName, c.Subject, c.Author, c.ToCCList,
		c.MatchedFilters, c.Highlighted, c.IsSeriesPatch, c.SeriesMessageID,
		c.PatchVersion, c.PatchIndex, c.PatchTotal)

	created, err := scanPatchCard(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert patch card: %w", err)
	}

	existing, err := d.GetPatchCardByHeader(ctx, c.MessageIDHeader)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetPatchCardByHeader fetches one card by its message header.
func (d *Database) GetPatchCardByHeader(ctx context.Context, header string) (*PatchCard, error) {
	c, err := scanPatchCard(d.Pool.QueryRow(ctx,
		`SELECT `+patchCardColumns+` FROM patch_cards WHERE message_id_header = $1`,
		header))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patch card: %w", err)
	}
	return c, nil
}

// ListPatchCards returns the newest cards, optionally scoped to one
// subsystem. limit <= 0 means no limit.
func (d *Database) ListPatchCards(ctx context.Context, subsystem string, limit int) ([]*PatchCard, error) {
	query := `SELECT ` + patchCardColumns + ` FROM patch_cards`
	args := []any{}
	if subsystem != "" {
		query += ` WHERE subsystem_name = $1`
		args = append(args, subsystem)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list patch cards: %w", err)
	}
	defer rows.Close()

	var cards []*PatchCard
	for rows.Next() {
		c, err := scanPatchCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patch card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}
