package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// InsertElementTx is the transactional variant of Insert, used by the
// upstream merge engine (spec §4.5) so the row and its ElementEvent commit
// together.
func InsertElementTx(ctx context.Context, tx *sql.Tx, overpassData, tags string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO element (overpass_data, tags) VALUES (?, ?)`, overpassData, tags)
	if err != nil {
		return 0, apperr.Internal(err, "inserting element")
	}
	return res.LastInsertId()
}

// SetOverpassDataTx is the transactional variant of SetOverpassData.
func SetOverpassDataTx(ctx context.Context, tx *sql.Tx, id int64, overpassData string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE element SET overpass_data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, overpassData, id)
	if err != nil {
		return apperr.Internal(err, "updating element %d", id)
	}
	return nil
}

// SetDeletedAtTx is the transactional variant of SetDeletedAt.
func SetDeletedAtTx(ctx context.Context, tx *sql.Tx, id int64, at *time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE element SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	if err != nil {
		return apperr.Internal(err, "updating element %d", id)
	}
	return nil
}

// ElementRepo is the typed repository for the element entity (spec §4.3).
type ElementRepo struct{ db *sql.DB }

// NewElementRepo builds an ElementRepo backed by db.
func NewElementRepo(db *sql.DB) *ElementRepo { return &ElementRepo{db: db} }

const elementColumns = "id, overpass_data, tags, created_at, updated_at, deleted_at"

func scanElement(row interface{ Scan(...any) error }) (*types.Element, error) {
	var e types.Element
	if err := row.Scan(&e.ID, &e.OverpassData, &e.Tags, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert creates a new element row and returns it re-read from storage,
// since created_at/updated_at are server-side defaults.
func (r *ElementRepo) Insert(ctx context.Context, overpassData, tags string) (*types.Element, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO element (overpass_data, tags) VALUES (?, ?)`, overpassData, tags)
	if err != nil {
		return nil, apperr.Internal(err, "inserting element")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted element id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one element, including soft-deleted rows (callers
// that must exclude tombstones filter on DeletedAt themselves).
func (r *ElementRepo) SelectByID(ctx context.Context, id int64) (*types.Element, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM element WHERE id = ?`, id)
	e, err := scanElement(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("element %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting element %d", id)
	}
	return e, nil
}

// SelectAllLive returns every element with a null deleted_at, used by the
// upstream merge engine (spec §4.5) to index local state before diffing.
func (r *ElementRepo) SelectAllLive(ctx context.Context) ([]*types.Element, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+elementColumns+` FROM element WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, apperr.Internal(err, "selecting live elements")
	}
	defer rows.Close()
	var out []*types.Element
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning element")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SelectUpdatedSince implements the sync-feed protocol (spec §4.4):
// ascending (updated_at, id), including tombstones, capped at limit.
func (r *ElementRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.Element, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+elementColumns+` FROM element WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting elements updated since %s", since)
	}
	defer rows.Close()
	var out []*types.Element
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning element")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetOverpassData overwrites the immutable upstream payload wholesale,
// the only mutation spec §3 allows against it (an upstream merge update).
func (r *ElementRepo) SetOverpassData(ctx context.Context, id int64, overpassData string) error {
	return r.execUpdate(ctx, id, `UPDATE element SET overpass_data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, overpassData, id)
}

// SetTags overwrites the canonical tags JSON, bumping updated_at.
func (r *ElementRepo) SetTags(ctx context.Context, id int64, tags string) error {
	return r.execUpdate(ctx, id, `UPDATE element SET tags = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, tags, id)
}

// SetDeletedAt tombstones (non-nil) or resurrects (nil) the row, touching
// only deleted_at and updated_at per spec §4.3's soft-delete invariant.
func (r *ElementRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	return r.execUpdate(ctx, id, `UPDATE element SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
}

func (r *ElementRepo) execUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Internal(err, "updating element %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for element %d", id)
	}
	if n == 0 {
		return apperr.NotFound("element %d not found", id)
	}
	return nil
}
