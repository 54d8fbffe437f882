package storagedb

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/btcmap/btcmap-api/internal/apperr"
)

// ConfRepo is the typed repository for the runtime-mutable key/value
// configuration table (spec §6): provider secrets, per-action invoice
// prices, feature toggles that change without a redeploy.
type ConfRepo struct{ db *sql.DB }

// NewConfRepo builds a ConfRepo backed by db.
func NewConfRepo(db *sql.DB) *ConfRepo { return &ConfRepo{db: db} }

// Get reads one value, or NotFound if key is unset.
func (r *ConfRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM conf WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", apperr.NotFound("conf key %q not set", key)
	}
	if err != nil {
		return "", apperr.Internal(err, "reading conf key %q", key)
	}
	return value, nil
}

// GetOrDefault reads one value, falling back to def when key is unset.
func (r *ConfRepo) GetOrDefault(ctx context.Context, key, def string) (string, error) {
	value, err := r.Get(ctx, key)
	if apperr.Is(err, apperr.KindNotFound) {
		return def, nil
	}
	return value, err
}

// GetIntOrDefault reads one value as an integer, falling back to def when
// the key is unset or does not parse.
func (r *ConfRepo) GetIntOrDefault(ctx context.Context, key string, def int) (int, error) {
	value, err := r.Get(ctx, key)
	if apperr.Is(err, apperr.KindNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// Set writes key=value, creating or overwriting the row.
func (r *ConfRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conf (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return apperr.Internal(err, "writing conf key %q", key)
	}
	return nil
}

// SelectAll returns the full configuration table, used at boot to prime
// in-process caches (provider credentials, pricing).
func (r *ConfRepo) SelectAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM conf`)
	if err != nil {
		return nil, apperr.Internal(err, "selecting conf")
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Internal(err, "scanning conf row")
		}
		out[k] = v
	}
	return out, rows.Err()
}
