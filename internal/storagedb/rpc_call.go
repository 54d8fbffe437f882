package storagedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// RpcCallRepo is the typed repository for the per-call audit log. It is
// always constructed over Engine.Log, never Engine.Primary, so audit
// writes never contend with primary-table writes (spec §4.2).
type RpcCallRepo struct{ db *sql.DB }

// NewRpcCallRepo builds an RpcCallRepo backed by the log database.
func NewRpcCallRepo(db *sql.DB) *RpcCallRepo { return &RpcCallRepo{db: db} }

const rpcCallColumns = "id, method, params, user_id, ip, created_at, processed_at, duration_ms"

func scanRpcCall(row interface{ Scan(...any) error }) (*types.RpcCall, error) {
	var c types.RpcCall
	if err := row.Scan(&c.ID, &c.Method, &c.Params, &c.UserID, &c.IP, &c.CreatedAt, &c.ProcessedAt, &c.DurationMS); err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert records the inbound call before dispatch, returning its id so the
// dispatcher can fill in duration/processed_at once the handler returns.
func (r *RpcCallRepo) Insert(ctx context.Context, method, params string, userID *int64, ip string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO rpc_call (method, params, user_id, ip) VALUES (?, ?, ?, ?)`, method, params, userID, ip)
	if err != nil {
		return 0, apperr.Internal(err, "inserting rpc_call")
	}
	return res.LastInsertId()
}

// MarkProcessed records how long a call took once its handler returns.
func (r *RpcCallRepo) MarkProcessed(ctx context.Context, id int64, durationMS int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rpc_call SET processed_at = CURRENT_TIMESTAMP, duration_ms = ? WHERE id = ?`, durationMS, id)
	if err != nil {
		return apperr.Internal(err, "marking rpc_call %d processed", id)
	}
	return nil
}

// SelectByID fetches one audit row by id.
func (r *RpcCallRepo) SelectByID(ctx context.Context, id int64) (*types.RpcCall, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+rpcCallColumns+` FROM rpc_call WHERE id = ?`, id)
	c, err := scanRpcCall(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("rpc_call %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting rpc_call %d", id)
	}
	return c, nil
}

// SelectRecentByIP returns the most recent calls from one IP, newest
// first, used by ban-worthiness heuristics and rate-limit diagnostics.
func (r *RpcCallRepo) SelectRecentByIP(ctx context.Context, ip string, since time.Time, limit int) ([]*types.RpcCall, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+rpcCallColumns+` FROM rpc_call WHERE ip = ? AND created_at > ? ORDER BY created_at DESC LIMIT ?`,
		ip, since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting rpc_calls for %s", ip)
	}
	defer rows.Close()
	var out []*types.RpcCall
	for rows.Next() {
		c, err := scanRpcCall(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning rpc_call")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
