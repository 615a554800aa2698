package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/glimmer/internal/animation"
)

// activeKey is the settings key holding the active animation id.
const activeKey = "active_animation"

// SaveActive records id as the active animation and replaces the values
// stored for it, in one transaction.
func (s *Store) SaveActive(ctx context.Context, id string, values animation.ParameterValues) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO animations (id, last_used_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_used_at = excluded.last_used_at`,
		id, time.Now(),
	); err != nil {
		return fmt.Errorf("save animation %s: %w", id, err)
	}
	if err := replaceParameters(ctx, tx, id, values); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		activeKey, id,
	); err != nil {
		return fmt.Errorf("save active animation: %w", err)
	}
	return tx.Commit()
}

func replaceParameters(ctx context.Context, tx *sql.Tx, id string, values animation.ParameterValues) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM animation_parameters WHERE animation_id = ?`, id); err != nil {
		return fmt.Errorf("clear parameters of %s: %w", id, err)
	}
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode parameter %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO animation_parameters (animation_id, key, value) VALUES (?, ?, ?)`,
			id, key, string(raw),
		); err != nil {
			return fmt.Errorf("save parameter %s: %w", key, err)
		}
	}
	return nil
}

// LoadActive returns the active animation id and its stored values. The id
// is empty when nothing has been saved yet.
func (s *Store) LoadActive(ctx context.Context) (string, animation.ParameterValues, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, activeKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("load active animation: %w", err)
	}

	values, err := s.Parameters(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, values, nil
}

// Parameters returns the values last stored for animation id. Rows that no
// longer decode are skipped.
func (s *Store) Parameters(ctx context.Context, id string) (animation.ParameterValues, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM animation_parameters WHERE animation_id = ? ORDER BY key`, id)
	if err != nil {
		return nil, fmt.Errorf("load parameters of %s: %w", id, err)
	}
	defer rows.Close()

	values := animation.ParameterValues{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v animation.ParameterValue
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		values[key] = v
	}
	return values, rows.Err()
}

// Forget removes everything stored about animation id. If it was active,
// no animation is active afterwards.
func (s *Store) Forget(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM animations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("forget %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ? AND value = ?`, activeKey, id); err != nil {
		return fmt.Errorf("forget %s: %w", id, err)
	}
	return tx.Commit()
}
