package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// AreaRepo is the typed repository for the area entity.
type AreaRepo struct{ db *sql.DB }

// NewAreaRepo builds an AreaRepo backed by db.
func NewAreaRepo(db *sql.DB) *AreaRepo { return &AreaRepo{db: db} }

const areaColumns = "id, alias, tags, created_at, updated_at, deleted_at"

func scanArea(row interface{ Scan(...any) error }) (*types.Area, error) {
	var a types.Area
	if err := row.Scan(&a.ID, &a.Alias, &a.Tags, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// Insert creates a new area. alias must be unique among live rows.
func (r *AreaRepo) Insert(ctx context.Context, alias, tags string) (*types.Area, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO area (alias, tags) VALUES (?, ?)`, alias, tags)
	if err != nil {
		return nil, apperr.Wrap(classifyUnique(err), "inserting area %q", alias)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted area id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one area by id.
func (r *AreaRepo) SelectByID(ctx context.Context, id int64) (*types.Area, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+areaColumns+` FROM area WHERE id = ?`, id)
	a, err := scanArea(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("area %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting area %d", id)
	}
	return a, nil
}

// SelectByAlias fetches one live area by its unique alias.
func (r *AreaRepo) SelectByAlias(ctx context.Context, alias string) (*types.Area, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+areaColumns+` FROM area WHERE alias = ? AND deleted_at IS NULL`, alias)
	a, err := scanArea(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("area %q not found", alias)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting area %q", alias)
	}
	return a, nil
}

// SelectAllLive returns every non-tombstoned area, used by the spatial
// membership engine (spec §4.7) to enumerate candidate geometries.
func (r *AreaRepo) SelectAllLive(ctx context.Context) ([]*types.Area, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+areaColumns+` FROM area WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, apperr.Internal(err, "selecting live areas")
	}
	defer rows.Close()
	var out []*types.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning area")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SelectUpdatedSince implements the sync-feed protocol for areas.
func (r *AreaRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.Area, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+areaColumns+` FROM area WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`, since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting areas updated since %s", since)
	}
	defer rows.Close()
	var out []*types.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning area")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetTags overwrites the canonical tags JSON, bumping updated_at.
func (r *AreaRepo) SetTags(ctx context.Context, id int64, tags string) error {
	return r.execUpdate(ctx, id, `UPDATE area SET tags = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, tags, id)
}

// SetDeletedAt tombstones or resurrects the row.
func (r *AreaRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	return r.execUpdate(ctx, id, `UPDATE area SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
}

func (r *AreaRepo) execUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Internal(err, "updating area %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for area %d", id)
	}
	if n == 0 {
		return apperr.NotFound("area %d not found", id)
	}
	return nil
}
