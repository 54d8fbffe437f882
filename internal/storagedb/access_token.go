package storagedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// AccessTokenRepo is the typed repository for RPC bearer credentials.
type AccessTokenRepo struct{ db *sql.DB }

// NewAccessTokenRepo builds an AccessTokenRepo backed by db.
func NewAccessTokenRepo(db *sql.DB) *AccessTokenRepo { return &AccessTokenRepo{db: db} }

const accessTokenColumns = "id, secret, user_id, allowed_methods, created_at, updated_at, deleted_at"

func scanAccessToken(row interface{ Scan(...any) error }) (*types.AccessToken, error) {
	var t types.AccessToken
	var methods string
	if err := row.Scan(&t.ID, &t.Secret, &t.UserID, &methods, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(methods), &t.AllowedMethods); err != nil {
		return nil, apperr.Internal(err, "decoding allowed_methods for access_token %d", t.ID)
	}
	return &t, nil
}

// Insert mints a new bearer token. secret must be unique among live rows.
func (r *AccessTokenRepo) Insert(ctx context.Context, secret string, userID int64, allowedMethods []string) (*types.AccessToken, error) {
	encoded, err := json.Marshal(allowedMethods)
	if err != nil {
		return nil, apperr.Internal(err, "encoding allowed_methods")
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO access_token (secret, user_id, allowed_methods) VALUES (?, ?, ?)`, secret, userID, string(encoded))
	if err != nil {
		return nil, apperr.Wrap(classifyUnique(err), "inserting access_token for user %d", userID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted access_token id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one token by id.
func (r *AccessTokenRepo) SelectByID(ctx context.Context, id int64) (*types.AccessToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accessTokenColumns+` FROM access_token WHERE id = ?`, id)
	t, err := scanAccessToken(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("access_token %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting access_token %d", id)
	}
	return t, nil
}

// SelectBySecret resolves a live token by its bearer secret, the hot path
// of every RPC call's authentication step (spec §6).
func (r *AccessTokenRepo) SelectBySecret(ctx context.Context, secret string) (*types.AccessToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accessTokenColumns+` FROM access_token WHERE secret = ? AND deleted_at IS NULL`, secret)
	t, err := scanAccessToken(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Unauthorized("unknown access token")
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting access_token by secret")
	}
	return t, nil
}

// SelectAllLive loads every live token into memory, used by callers that
// must do a constant-time scan across secrets rather than a direct lookup.
func (r *AccessTokenRepo) SelectAllLive(ctx context.Context) ([]*types.AccessToken, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accessTokenColumns+` FROM access_token WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, apperr.Internal(err, "selecting live access_tokens")
	}
	defer rows.Close()
	var out []*types.AccessToken
	for rows.Next() {
		t, err := scanAccessToken(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning access_token")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetDeletedAt revokes or restores a token.
func (r *AccessTokenRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE access_token SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	if err != nil {
		return apperr.Internal(err, "updating access_token %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for access_token %d", id)
	}
	if n == 0 {
		return apperr.NotFound("access_token %d not found", id)
	}
	return nil
}
