package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// ReportRepo is the typed repository for daily per-area aggregate snapshots
// (spec §4.11).
type ReportRepo struct{ db *sql.DB }

// NewReportRepo builds a ReportRepo backed by db.
func NewReportRepo(db *sql.DB) *ReportRepo { return &ReportRepo{db: db} }

const reportColumns = "id, area_id, date, tags, created_at, updated_at, deleted_at"

func scanReport(row interface{ Scan(...any) error }) (*types.Report, error) {
	var r types.Report
	if err := row.Scan(&r.ID, &r.AreaID, &r.Date, &r.Tags, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// Insert creates today's report row for an area. (area_id, date) is unique
// among live rows; callers generating a second report for the same day
// should use Upsert instead. A lock or unique-constraint conflict is
// retried up to 10 times, 10ms apart, before it is reported.
func (r *ReportRepo) Insert(ctx context.Context, areaID int64, date, tags string) (*types.Report, error) {
	var res sql.Result
	err := RetryOnBusy(ctx, 10, 10*time.Millisecond, func() error {
		var execErr error
		res, execErr = r.db.ExecContext(ctx,
			`INSERT INTO report (area_id, date, tags) VALUES (?, ?, ?)`, areaID, date, tags)
		return execErr
	})
	if err != nil {
		return nil, apperr.Wrap(classifyUnique(err), "inserting report %d/%s", areaID, date)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted report id")
	}
	return r.SelectByID(ctx, id)
}

// Upsert writes tags for (areaID, date), replacing any existing live row's
// tags rather than erroring, since the reporting job re-runs idempotently.
func (r *ReportRepo) Upsert(ctx context.Context, areaID int64, date, tags string) (*types.Report, error) {
	existing, err := r.SelectByAreaAndDate(ctx, areaID, date)
	if apperr.Is(err, apperr.KindNotFound) {
		return r.Insert(ctx, areaID, date, tags)
	}
	if err != nil {
		return nil, err
	}
	if err := r.SetTags(ctx, existing.ID, tags); err != nil {
		return nil, err
	}
	return r.SelectByID(ctx, existing.ID)
}

// SelectByID fetches one report by id.
func (r *ReportRepo) SelectByID(ctx context.Context, id int64) (*types.Report, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM report WHERE id = ?`, id)
	rp, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("report %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting report %d", id)
	}
	return rp, nil
}

// SelectByAreaAndDate fetches the live report for one area/day.
func (r *ReportRepo) SelectByAreaAndDate(ctx context.Context, areaID int64, date string) (*types.Report, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM report WHERE area_id = ? AND date = ? AND deleted_at IS NULL`, areaID, date)
	rp, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("report %d/%s not found", areaID, date)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting report %d/%s", areaID, date)
	}
	return rp, nil
}

// SelectUpdatedSince implements the sync-feed protocol for report.
func (r *ReportRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.Report, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM report WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`, since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting reports updated since %s", since)
	}
	defer rows.Close()
	var out []*types.Report
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning report")
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

// SetTags overwrites the report's aggregate tags, bumping updated_at.
func (r *ReportRepo) SetTags(ctx context.Context, id int64, tags string) error {
	return r.execUpdate(ctx, id, `UPDATE report SET tags = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, tags, id)
}

// SetDeletedAt tombstones or resurrects a report.
func (r *ReportRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	return r.execUpdate(ctx, id, `UPDATE report SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
}

func (r *ReportRepo) execUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Internal(err, "updating report %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for report %d", id)
	}
	if n == 0 {
		return apperr.NotFound("report %d not found", id)
	}
	return nil
}
