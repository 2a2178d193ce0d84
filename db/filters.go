package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/patchlore/patchlore/filter"
)

// FilterRecord is a persisted filter rule. Conditions are stored in the
// normalized JSONB form so patterns are compiled once, at add time.
type FilterRecord struct {
	ID          int64
	Name        string
	Enabled     bool
	Conditions  []filter.Condition
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Rule converts the record to its evaluation form.
func (f *FilterRecord) Rule() filter.Rule {
	return filter.Rule{
		ID:         f.ID,
		Name:       f.Name,
		Enabled:    f.Enabled,
		Conditions: f.Conditions,
	}
}

const filterColumns = `id, name, enabled, conditions, description, created_at, updated_at`

func scanFilter(row pgx.Row) (*FilterRecord, error) {
	var f FilterRecord
	var conditions []byte
	err := row.Scan(&f.ID, &f.Name, &f.Enabled, &conditions, &f.Description,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &f.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions for filter %q: %w", f.Name, err)
	}
	return &f, nil
}

// UpsertFilter creates a named rule or overwrites an existing one of the
// same name. Overwrite replaces the conditions entirely and re-enables
// the rule.
func (d *Database) UpsertFilter(ctx context.Context, name string, conditions []filter.Condition, description string) (*FilterRecord, error) {
	if name == "" {
		return nil, fmt.Errorf("filter name must not be empty")
	}
	if len(conditions) == 0 {
		return nil, fmt.Errorf("filter %q must have at least one condition", name)
	}

	encoded, err := json.Marshal(conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conditions: %w", err)
	}

	f, err := scanFilter(d.Pool.QueryRow(ctx, `
		INSERT INTO patch_card_filters (name, enabled, conditions, description)
		VALUES ($1, TRUE, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			enabled = TRUE,
			conditions = EXCLUDED.conditions,
			description = EXCLUDED.description,
			updated_at = now()
		RETURNING `+filterColumns,
		name, encoded, description))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert filter %q: %w", name, err)
	}
	return f, nil
}

// RemoveFilter deletes a rule by name.
func (d *Database) RemoveFilter(ctx context.Context, name string) error {
	tag, err := d.Pool.Exec(ctx,
		`DELETE FROM patch_card_filters WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to remove filter %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFilterNotFound
	}
	return nil
}

// SetFilterEnabled toggles a rule without touching its conditions.
func (d *Database) SetFilterEnabled(ctx context.Context, name string, enabled bool) error {
	tag, err := d.Pool.Exec(ctx, `
		UPDATE patch_card_filters
		SET enabled = $2, updated_at = now()
		WHERE name = $1`,
		name, enabled)
	if err != nil {
		return fmt.Errorf("failed to update filter %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFilterNotFound
	}
	return nil
}

// GetFilter fetches one rule by name.
func (d *Database) GetFilter(ctx context.Context, name string) (*FilterRecord, error) {
	f, err := scanFilter(d.Pool.QueryRow(ctx,
		`SELECT `+filterColumns+` FROM patch_card_filters WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFilterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get filter %q: %w", name, err)
	}
	return f, nil
}

// ListFilters returns rules by name. enabledOnly narrows to enabled ones,
// which is what the list admin command shows.
func (d *Database) ListFilters(ctx context.Context, enabledOnly bool) ([]*FilterRecord, error) {
	query := `SELECT ` + filterColumns + ` FROM patch_card_filters`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name`

	rows, err := d.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list filters: %w", err)
	}
	defer rows.Close()

	var filters []*FilterRecord
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan filter: %w", err)
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

// LoadRules returns every enabled rule in evaluation form, the set the
// engine runs against each classified message.
func (d *Database) LoadRules(ctx context.Context) ([]filter.Rule, error) {
	records, err := d.ListFilters(ctx, true)
	if err != nil {
		return nil, err
	}
	rules := make([]filter.Rule, 0, len(records))
	for _, r := range records {
		rules = append(rules, r.Rule())
	}
	return rules, nil
}
