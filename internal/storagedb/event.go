package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// EventRepo is the typed repository for calendar events.
type EventRepo struct{ db *sql.DB }

// NewEventRepo builds an EventRepo backed by db.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = "id, lat, lon, name, website, starts_at, ends_at, created_at, updated_at, deleted_at"

func scanEvent(row interface{ Scan(...any) error }) (*types.Event, error) {
	var e types.Event
	if err := row.Scan(&e.ID, &e.Lat, &e.Lon, &e.Name, &e.Website, &e.StartsAt, &e.EndsAt, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert creates a new calendar event.
func (r *EventRepo) Insert(ctx context.Context, lat, lon float64, name, website string, startsAt time.Time, endsAt *time.Time) (*types.Event, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO event (lat, lon, name, website, starts_at, ends_at) VALUES (?, ?, ?, ?, ?, ?)`,
		lat, lon, name, website, startsAt, endsAt)
	if err != nil {
		return nil, apperr.Internal(err, "inserting event %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted event id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one event by id.
func (r *EventRepo) SelectByID(ctx context.Context, id int64) (*types.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM event WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("event %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting event %d", id)
	}
	return e, nil
}

// SelectUpdatedSince implements the sync-feed protocol for event.
func (r *EventRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM event WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`, since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting events updated since %s", since)
	}
	defer rows.Close()
	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetDeletedAt tombstones or resurrects an event.
func (r *EventRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE event SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	if err != nil {
		return apperr.Internal(err, "updating event %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for event %d", id)
	}
	if n == 0 {
		return apperr.NotFound("event %d not found", id)
	}
	return nil
}
