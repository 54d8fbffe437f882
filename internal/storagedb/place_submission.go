package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// PlaceSubmissionRepo is the typed repository for third-party-sourced
// candidate places awaiting review.
type PlaceSubmissionRepo struct{ db *sql.DB }

// NewPlaceSubmissionRepo builds a PlaceSubmissionRepo backed by db.
func NewPlaceSubmissionRepo(db *sql.DB) *PlaceSubmissionRepo { return &PlaceSubmissionRepo{db: db} }

const placeSubmissionColumns = "id, origin, external_id, lat, lon, category, name, extra, ticket_url, revoked, closed_at, created_at, updated_at, deleted_at"

func scanPlaceSubmission(row interface{ Scan(...any) error }) (*types.PlaceSubmission, error) {
	var p types.PlaceSubmission
	if err := row.Scan(&p.ID, &p.Origin, &p.ExternalID, &p.Lat, &p.Lon, &p.Category, &p.Name,
		&p.Extra, &p.TicketURL, &p.Revoked, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Insert records a new candidate submission. (origin, external_id) is
// globally unique, so a duplicate webhook delivery is rejected as Conflict.
func (r *PlaceSubmissionRepo) Insert(ctx context.Context, origin, externalID string, lat, lon float64, category, name, extra string) (*types.PlaceSubmission, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO place_submission (origin, external_id, lat, lon, category, name, extra)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		origin, externalID, lat, lon, category, name, extra)
	if err != nil {
		return nil, apperr.Wrap(classifyUnique(err), "inserting place_submission %s/%s", origin, externalID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted place_submission id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one submission by id.
func (r *PlaceSubmissionRepo) SelectByID(ctx context.Context, id int64) (*types.PlaceSubmission, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+placeSubmissionColumns+` FROM place_submission WHERE id = ?`, id)
	p, err := scanPlaceSubmission(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("place_submission %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting place_submission %d", id)
	}
	return p, nil
}

// SelectOpen returns every non-revoked, non-closed submission awaiting
// review, oldest first.
func (r *PlaceSubmissionRepo) SelectOpen(ctx context.Context) ([]*types.PlaceSubmission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+placeSubmissionColumns+` FROM place_submission
		 WHERE deleted_at IS NULL AND revoked = 0 AND closed_at IS NULL
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperr.Internal(err, "selecting open place_submissions")
	}
	defer rows.Close()
	var out []*types.PlaceSubmission
	for rows.Next() {
		p, err := scanPlaceSubmission(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning place_submission")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SelectUpdatedSince implements the sync-feed protocol for place_submission.
func (r *PlaceSubmissionRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.PlaceSubmission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+placeSubmissionColumns+` FROM place_submission WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting place_submissions updated since %s", since)
	}
	defer rows.Close()
	var out []*types.PlaceSubmission
	for rows.Next() {
		p, err := scanPlaceSubmission(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning place_submission")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetTicketURL attaches a tracking ticket once a submission is triaged.
func (r *PlaceSubmissionRepo) SetTicketURL(ctx context.Context, id int64, ticketURL string) error {
	return r.execUpdate(ctx, id, `UPDATE place_submission SET ticket_url = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, ticketURL, id)
}

// SetRevoked marks a submission as withdrawn by its origin.
func (r *PlaceSubmissionRepo) SetRevoked(ctx context.Context, id int64, revoked bool) error {
	return r.execUpdate(ctx, id, `UPDATE place_submission SET revoked = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, revoked, id)
}

// SetClosedAt marks a submission resolved, whether accepted or rejected.
func (r *PlaceSubmissionRepo) SetClosedAt(ctx context.Context, id int64, at *time.Time) error {
	return r.execUpdate(ctx, id, `UPDATE place_submission SET closed_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
}

// SetDeletedAt tombstones or resurrects a submission.
func (r *PlaceSubmissionRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	return r.execUpdate(ctx, id, `UPDATE place_submission SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
}

func (r *PlaceSubmissionRepo) execUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Internal(err, "updating place_submission %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for place_submission %d", id)
	}
	if n == 0 {
		return apperr.NotFound("place_submission %d not found", id)
	}
	return nil
}
