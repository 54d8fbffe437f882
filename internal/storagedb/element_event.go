package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// ElementEventRepo is the typed repository for the element audit trail
// (spec §3 ElementEvent, written atomically alongside every element
// mutation in the upstream merge engine, §4.5).
type ElementEventRepo struct{ db *sql.DB }

// NewElementEventRepo builds an ElementEventRepo backed by db.
func NewElementEventRepo(db *sql.DB) *ElementEventRepo { return &ElementEventRepo{db: db} }

const elementEventColumns = "id, user_id, element_id, type, tags, created_at, updated_at, deleted_at"

func scanElementEvent(row interface{ Scan(...any) error }) (*types.ElementEvent, error) {
	var e types.ElementEvent
	if err := row.Scan(&e.ID, &e.UserID, &e.ElementID, &e.Type, &e.Tags, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert records one audit event. InsertElementEventTx is preferred by callers already
// holding a transaction, since an event must commit atomically with the
// element mutation it describes.
func (r *ElementEventRepo) Insert(ctx context.Context, userID *int64, elementID int64, typ types.ElementEventType, tags string) (*types.ElementEvent, error) {
	id, err := insertElementEvent(ctx, r.db, userID, elementID, typ, tags)
	if err != nil {
		return nil, err
	}
	return r.SelectByID(ctx, id)
}

// InsertElementEventTx is the transactional variant, used inside the merge engine's
// per-element write so the event and its mutation share one commit.
func InsertElementEventTx(ctx context.Context, tx *sql.Tx, userID *int64, elementID int64, typ types.ElementEventType, tags string) error {
	_, err := insertElementEvent(ctx, tx, userID, elementID, typ, tags)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertElementEvent(ctx context.Context, e execer, userID *int64, elementID int64, typ types.ElementEventType, tags string) (int64, error) {
	res, err := e.ExecContext(ctx,
		`INSERT INTO element_event (user_id, element_id, type, tags) VALUES (?, ?, ?, ?)`,
		userID, elementID, string(typ), tags)
	if err != nil {
		return 0, apperr.Internal(err, "inserting element_event for element %d", elementID)
	}
	return res.LastInsertId()
}

// SelectByID fetches one event by id.
func (r *ElementEventRepo) SelectByID(ctx context.Context, id int64) (*types.ElementEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+elementEventColumns+` FROM element_event WHERE id = ?`, id)
	e, err := scanElementEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("element_event %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting element_event %d", id)
	}
	return e, nil
}

// SelectByElementID returns the audit trail for one element, newest last.
func (r *ElementEventRepo) SelectByElementID(ctx context.Context, elementID int64) ([]*types.ElementEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+elementEventColumns+` FROM element_event WHERE element_id = ? ORDER BY id ASC`, elementID)
	if err != nil {
		return nil, apperr.Internal(err, "selecting element_events for element %d", elementID)
	}
	defer rows.Close()
	var out []*types.ElementEvent
	for rows.Next() {
		e, err := scanElementEvent(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning element_event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SelectUpdatedSince implements the sync-feed protocol for element_event.
func (r *ElementEventRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.ElementEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+elementEventColumns+` FROM element_event WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting element_events updated since %s", since)
	}
	defer rows.Close()
	var out []*types.ElementEvent
	for rows.Next() {
		e, err := scanElementEvent(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning element_event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
