package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ConfigKeyExclusive is the global filter mode flag. When true, only
// messages matching an enabled rule create patch cards.
const ConfigKeyExclusive = "exclusive"

// GetConfigValue reads a typed value from filter_config into out.
func (d *Database) GetConfigValue(ctx context.Context, key string, out any) error {
	var raw []byte
	err := d.Pool.QueryRow(ctx,
		`SELECT value FROM filter_config WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConfigKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get config key %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode config key %q: %w", key, err)
	}
	return nil
}

// SetConfigValue writes a typed value, creating the key if needed.
func (d *Database) SetConfigValue(ctx context.Context, key string, value any, description string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode config key %q: %w", key, err)
	}
	_, err = d.Pool.Exec(ctx, `
		INSERT INTO filter_config (key, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			description = CASE WHEN EXCLUDED.description <> ''
				THEN EXCLUDED.description ELSE filter_config.description END,
			updated_at = now()`,
		key, encoded, description)
	if err != nil {
		return fmt.Errorf("failed to set config key %q: %w", key, err)
	}
	return nil
}

// GetExclusiveMode reads the global filter mode. A missing key means
// highlight mode, the default.
func (d *Database) GetExclusiveMode(ctx context.Context) (bool, error) {
	var exclusive bool
	err := d.GetConfigValue(ctx, ConfigKeyExclusive, &exclusive)
	if errors.Is(err, ErrConfigKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return exclusive, nil
}

// SetExclusiveMode switches the global filter mode.
func (d *Database) SetExclusiveMode(ctx context.Context, exclusive bool) error {
	return d.SetConfigValue(ctx, ConfigKeyExclusive, exclusive,
		"when true, only messages matching an enabled filter create cards")
}
