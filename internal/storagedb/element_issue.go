package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// ElementIssueRepo is the typed repository for structured quality issues
// (spec §4.8), upserted by the table-driven issue generator.
type ElementIssueRepo struct{ db *sql.DB }

// NewElementIssueRepo builds an ElementIssueRepo backed by db.
func NewElementIssueRepo(db *sql.DB) *ElementIssueRepo { return &ElementIssueRepo{db: db} }

const elementIssueColumns = "id, element_id, code, severity, created_at, updated_at, deleted_at"

func scanElementIssue(row interface{ Scan(...any) error }) (*types.ElementIssue, error) {
	var i types.ElementIssue
	if err := row.Scan(&i.ID, &i.ElementID, &i.Code, &i.Severity, &i.CreatedAt, &i.UpdatedAt, &i.DeletedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

// SelectLiveByElementID returns the current, non-tombstoned issue set for
// one element, keyed by code via idx_element_issue_live.
func (r *ElementIssueRepo) SelectLiveByElementID(ctx context.Context, elementID int64) ([]*types.ElementIssue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+elementIssueColumns+` FROM element_issue WHERE element_id = ? AND deleted_at IS NULL`, elementID)
	if err != nil {
		return nil, apperr.Internal(err, "selecting element_issues for element %d", elementID)
	}
	defer rows.Close()
	var out []*types.ElementIssue
	for rows.Next() {
		i, err := scanElementIssue(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning element_issue")
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// SelectByID fetches one issue by id, used by the sync-feed's by-id route.
func (r *ElementIssueRepo) SelectByID(ctx context.Context, id int64) (*types.ElementIssue, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+elementIssueColumns+` FROM element_issue WHERE id = ?`, id)
	i, err := scanElementIssue(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("element_issue %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting element_issue %d", id)
	}
	return i, nil
}

// SelectByElementAndCode fetches the (possibly tombstoned) row for one
// (element, code) pair, so the generator can decide between insert,
// reinstate, and no-op.
func (r *ElementIssueRepo) SelectByElementAndCode(ctx context.Context, elementID int64, code string) (*types.ElementIssue, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+elementIssueColumns+` FROM element_issue WHERE element_id = ? AND code = ? ORDER BY id DESC LIMIT 1`,
		elementID, code)
	i, err := scanElementIssue(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("element_issue %d/%s not found", elementID, code)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting element_issue %d/%s", elementID, code)
	}
	return i, nil
}

// Insert creates a new issue row for (elementID, code).
func (r *ElementIssueRepo) Insert(ctx context.Context, elementID int64, code string, severity int) (*types.ElementIssue, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO element_issue (element_id, code, severity) VALUES (?, ?, ?)`, elementID, code, severity)
	if err != nil {
		return nil, apperr.Wrap(classifyUnique(err), "inserting element_issue %d/%s", elementID, code)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted element_issue id")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+elementIssueColumns+` FROM element_issue WHERE id = ?`, id)
	return scanElementIssue(row)
}

// Reinstate clears deleted_at on a previously tombstoned issue, used when
// a condition that was fixed recurs.
func (r *ElementIssueRepo) Reinstate(ctx context.Context, id int64) error {
	return r.execUpdate(ctx, id, `UPDATE element_issue SET deleted_at = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
}

// SelectUpdatedSince implements the sync-feed protocol for element_issue.
func (r *ElementIssueRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.ElementIssue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+elementIssueColumns+` FROM element_issue WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting element_issues updated since %s", since)
	}
	defer rows.Close()
	var out []*types.ElementIssue
	for rows.Next() {
		i, err := scanElementIssue(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning element_issue")
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// SetDeletedAt tombstones an issue whose underlying condition cleared.
func (r *ElementIssueRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	return r.execUpdate(ctx, id, `UPDATE element_issue SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
}

func (r *ElementIssueRepo) execUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Internal(err, "updating element_issue %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for element_issue %d", id)
	}
	if n == 0 {
		return apperr.NotFound("element_issue %d not found", id)
	}
	return nil
}
