package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// BanRepo is the typed repository for IP bans.
type BanRepo struct{ db *sql.DB }

// NewBanRepo builds a BanRepo backed by db.
func NewBanRepo(db *sql.DB) *BanRepo { return &BanRepo{db: db} }

const banColumns = "id, ip, reason, start_at, end_at, created_at, updated_at, deleted_at"

func scanBan(row interface{ Scan(...any) error }) (*types.Ban, error) {
	var b types.Ban
	if err := row.Scan(&b.ID, &b.IP, &b.Reason, &b.StartAt, &b.EndAt, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// Insert creates a new ban window for an IP.
func (r *BanRepo) Insert(ctx context.Context, ip, reason string, startAt, endAt time.Time) (*types.Ban, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO ban (ip, reason, start_at, end_at) VALUES (?, ?, ?, ?)`, ip, reason, startAt, endAt)
	if err != nil {
		return nil, apperr.Internal(err, "inserting ban for %s", ip)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted ban id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one ban by id.
func (r *BanRepo) SelectByID(ctx context.Context, id int64) (*types.Ban, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+banColumns+` FROM ban WHERE id = ?`, id)
	b, err := scanBan(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("ban %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting ban %d", id)
	}
	return b, nil
}

// SelectActiveByIP returns every non-tombstoned ban window registered
// against ip, for the access middleware to test against the request time.
func (r *BanRepo) SelectActiveByIP(ctx context.Context, ip string) ([]*types.Ban, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+banColumns+` FROM ban WHERE ip = ? AND deleted_at IS NULL`, ip)
	if err != nil {
		return nil, apperr.Internal(err, "selecting bans for %s", ip)
	}
	defer rows.Close()
	var out []*types.Ban
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning ban")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetDeletedAt lifts or reinstates a ban.
func (r *BanRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ban SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	if err != nil {
		return apperr.Internal(err, "updating ban %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for ban %d", id)
	}
	if n == 0 {
		return apperr.NotFound("ban %d not found", id)
	}
	return nil
}
