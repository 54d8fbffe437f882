package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// AreaElementRepo is the typed repository for the area<->element spatial
// membership relation (spec §3 AreaElement, §4.7).
type AreaElementRepo struct{ db *sql.DB }

// NewAreaElementRepo builds an AreaElementRepo backed by db.
func NewAreaElementRepo(db *sql.DB) *AreaElementRepo { return &AreaElementRepo{db: db} }

const areaElementColumns = "id, area_id, element_id, created_at, updated_at, deleted_at"

func scanAreaElement(row interface{ Scan(...any) error }) (*types.AreaElement, error) {
	var ae types.AreaElement
	if err := row.Scan(&ae.ID, &ae.AreaID, &ae.ElementID, &ae.CreatedAt, &ae.UpdatedAt, &ae.DeletedAt); err != nil {
		return nil, err
	}
	return &ae, nil
}

// Insert creates a fresh membership row. At most one live row may exist
// per (area_id, element_id), enforced by a partial unique index.
func (r *AreaElementRepo) Insert(ctx context.Context, areaID, elementID int64) (*types.AreaElement, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO area_element (area_id, element_id) VALUES (?, ?)`, areaID, elementID)
	if err != nil {
		return nil, apperr.Wrap(classifyUnique(err), "inserting area_element (%d,%d)", areaID, elementID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted area_element id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one area_element row.
func (r *AreaElementRepo) SelectByID(ctx context.Context, id int64) (*types.AreaElement, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+areaElementColumns+` FROM area_element WHERE id = ?`, id)
	ae, err := scanAreaElement(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("area_element %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting area_element %d", id)
	}
	return ae, nil
}

// SelectLiveAreaIDsForElement returns the area ids an element currently,
// non-tombstoned, belongs to.
func (r *AreaElementRepo) SelectLiveAreaIDsForElement(ctx context.Context, elementID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT area_id FROM area_element WHERE element_id = ? AND deleted_at IS NULL`, elementID)
	if err != nil {
		return nil, apperr.Internal(err, "selecting area ids for element %d", elementID)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal(err, "scanning area id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SelectLiveRowForPair returns the live membership row for (areaID,
// elementID), or a NotFound error if none exists.
func (r *AreaElementRepo) SelectLiveRowForPair(ctx context.Context, areaID, elementID int64) (*types.AreaElement, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+areaElementColumns+` FROM area_element WHERE area_id = ? AND element_id = ? AND deleted_at IS NULL`,
		areaID, elementID)
	ae, err := scanAreaElement(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("area_element (%d,%d) not found", areaID, elementID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting area_element (%d,%d)", areaID, elementID)
	}
	return ae, nil
}

// SelectUpdatedSince implements the sync-feed protocol for area_element.
func (r *AreaElementRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.AreaElement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+areaElementColumns+` FROM area_element WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting area_elements updated since %s", since)
	}
	defer rows.Close()
	var out []*types.AreaElement
	for rows.Next() {
		ae, err := scanAreaElement(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning area_element")
		}
		out = append(out, ae)
	}
	return out, rows.Err()
}

// SetDeletedAt tombstones or resurrects a membership row.
func (r *AreaElementRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE area_element SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	if err != nil {
		return apperr.Internal(err, "updating area_element %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for area_element %d", id)
	}
	if n == 0 {
		return apperr.NotFound("area_element %d not found", id)
	}
	return nil
}
