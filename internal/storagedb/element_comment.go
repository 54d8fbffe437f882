package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// ElementCommentRepo is the typed repository for element comments (spec §3
// ElementComment, produced by the invoice comment-publish effect in §4.9).
type ElementCommentRepo struct{ db *sql.DB }

// NewElementCommentRepo builds an ElementCommentRepo backed by db.
func NewElementCommentRepo(db *sql.DB) *ElementCommentRepo { return &ElementCommentRepo{db: db} }

const elementCommentColumns = "id, element_id, comment, created_at, updated_at, deleted_at"

func scanElementComment(row interface{ Scan(...any) error }) (*types.ElementComment, error) {
	var c types.ElementComment
	if err := row.Scan(&c.ID, &c.ElementID, &c.Comment, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert creates a new comment against an element.
func (r *ElementCommentRepo) Insert(ctx context.Context, elementID int64, comment string) (*types.ElementComment, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO element_comment (element_id, comment) VALUES (?, ?)`, elementID, comment)
	if err != nil {
		return nil, apperr.Internal(err, "inserting element_comment for element %d", elementID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted element_comment id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one comment by id.
func (r *ElementCommentRepo) SelectByID(ctx context.Context, id int64) (*types.ElementComment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+elementCommentColumns+` FROM element_comment WHERE id = ?`, id)
	c, err := scanElementComment(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("element_comment %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting element_comment %d", id)
	}
	return c, nil
}

// CountLiveByElementID counts non-tombstoned comments for an element, used
// by the comment-count annotator (spec §4.10) to keep comment_count in sync.
func (r *ElementCommentRepo) CountLiveByElementID(ctx context.Context, elementID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM element_comment WHERE element_id = ? AND deleted_at IS NULL`, elementID).Scan(&n)
	if err != nil {
		return 0, apperr.Internal(err, "counting comments for element %d", elementID)
	}
	return n, nil
}

// SelectUpdatedSince implements the sync-feed protocol for element_comment.
func (r *ElementCommentRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.ElementComment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+elementCommentColumns+` FROM element_comment WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting element_comments updated since %s", since)
	}
	defer rows.Close()
	var out []*types.ElementComment
	for rows.Next() {
		c, err := scanElementComment(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning element_comment")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetDeletedAt tombstones or resurrects a comment.
func (r *ElementCommentRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE element_comment SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	if err != nil {
		return apperr.Internal(err, "updating element_comment %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for element_comment %d", id)
	}
	if n == 0 {
		return apperr.NotFound("element_comment %d not found", id)
	}
	return nil
}
