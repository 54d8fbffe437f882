package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// OsmUserRepo is the typed repository mirroring remote OpenStreetMap
// identities, keyed by their upstream numeric id.
type OsmUserRepo struct{ db *sql.DB }

// NewOsmUserRepo builds an OsmUserRepo backed by db.
func NewOsmUserRepo(db *sql.DB) *OsmUserRepo { return &OsmUserRepo{db: db} }

const osmUserColumns = "id, tags, created_at, updated_at, deleted_at"

func scanOsmUser(row interface{ Scan(...any) error }) (*types.OsmUser, error) {
	var u types.OsmUser
	if err := row.Scan(&u.ID, &u.Tags, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Upsert inserts a new mirrored identity or refreshes its tags if id
// already exists, since upstream ids are assigned externally.
func (r *OsmUserRepo) Upsert(ctx context.Context, id int64, tags string) (*types.OsmUser, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO osm_user (id, tags) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET tags = excluded.tags, updated_at = CURRENT_TIMESTAMP, deleted_at = NULL`,
		id, tags)
	if err != nil {
		return nil, apperr.Internal(err, "upserting osm_user %d", id)
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one mirrored identity by its upstream id.
func (r *OsmUserRepo) SelectByID(ctx context.Context, id int64) (*types.OsmUser, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+osmUserColumns+` FROM osm_user WHERE id = ?`, id)
	u, err := scanOsmUser(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("osm_user %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting osm_user %d", id)
	}
	return u, nil
}

// SelectAllLive returns every non-tombstoned mirrored identity, used by
// the periodic user-sync job to pick which upstream ids to refresh.
func (r *OsmUserRepo) SelectAllLive(ctx context.Context) ([]*types.OsmUser, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+osmUserColumns+` FROM osm_user WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, apperr.Internal(err, "selecting live osm_users")
	}
	defer rows.Close()
	var out []*types.OsmUser
	for rows.Next() {
		u, err := scanOsmUser(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning osm_user")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SelectUpdatedSince implements the sync-feed protocol for osm_user.
func (r *OsmUserRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.OsmUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+osmUserColumns+` FROM osm_user WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`, since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting osm_users updated since %s", since)
	}
	defer rows.Close()
	var out []*types.OsmUser
	for rows.Next() {
		u, err := scanOsmUser(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning osm_user")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetDeletedAt tombstones or resurrects a mirrored identity.
func (r *OsmUserRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE osm_user SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	if err != nil {
		return apperr.Internal(err, "updating osm_user %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for osm_user %d", id)
	}
	if n == 0 {
		return apperr.NotFound("osm_user %d not found", id)
	}
	return nil
}
