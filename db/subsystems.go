package db

import (
	"context"
	"fmt"
	"time"
)

// Subsystem is a mailing list subscription entry. Unsubscribing keeps
// the row with subscribed=false so history survives.
type Subsystem struct {
	ID         int64
	Name       string
	Subscribed bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SubscribeSubsystem marks a subsystem as polled, creating the row on
// first subscribe. Idempotent.
func (d *Database) SubscribeSubsystem(ctx context.Context, name string) error {
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO subsystems (name, subscribed)
		VALUES ($1, TRUE)
		ON CONFLICT (name) DO UPDATE SET
			subscribed = TRUE,
			updated_at = now()`,
		name)
	if err != nil {
		return fmt.Errorf("failed to subscribe subsystem %q: %w", name, err)
	}
	return nil
}

// UnsubscribeSubsystem stops polling a subsystem.
func (d *Database) UnsubscribeSubsystem(ctx context.Context, name string) error {
	tag, err := d.Pool.Exec(ctx, `
		UPDATE subsystems
		SET subscribed = FALSE, updated_at = now()
		WHERE name = $1 AND subscribed`,
		name)
	if err != nil {
		return fmt.Errorf("failed to unsubscribe subsystem %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubsystemNotFound
	}
	return nil
}

// ListSubscribedSubsystems returns the names the poller iterates.
func (d *Database) ListSubscribedSubsystems(ctx context.Context) ([]string, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT name FROM subsystems WHERE subscribed ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed subsystems: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan subsystem: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
