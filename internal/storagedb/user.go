package storagedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// UserRepo is the typed repository for operator credentials.
type UserRepo struct{ db *sql.DB }

// NewUserRepo builds a UserRepo backed by db.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = "id, name, password_hash, roles, created_at, updated_at, deleted_at"

func scanUser(row interface{ Scan(...any) error }) (*types.User, error) {
	var u types.User
	var roles string
	if err := row.Scan(&u.ID, &u.Name, &u.PasswordHash, &roles, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return nil, apperr.Internal(err, "decoding roles for user %d", u.ID)
	}
	return &u, nil
}

// Insert creates a new operator account. name must be unique among live rows.
func (r *UserRepo) Insert(ctx context.Context, name, passwordHash string, roles []types.Role) (*types.User, error) {
	encodedRoles, err := json.Marshal(roles)
	if err != nil {
		return nil, apperr.Internal(err, "encoding roles for user %q", name)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO user (name, password_hash, roles) VALUES (?, ?, ?)`, name, passwordHash, string(encodedRoles))
	if err != nil {
		return nil, apperr.Wrap(classifyUnique(err), "inserting user %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted user id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one user by id.
func (r *UserRepo) SelectByID(ctx context.Context, id int64) (*types.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting user %d", id)
	}
	return u, nil
}

// SelectByName fetches one live user by its unique name.
func (r *UserRepo) SelectByName(ctx context.Context, name string) (*types.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user WHERE name = ? AND deleted_at IS NULL`, name)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user %q not found", name)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting user %q", name)
	}
	return u, nil
}

// SelectUpdatedSince implements the sync-feed protocol for user.
func (r *UserRepo) SelectUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*types.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE updated_at > ? ORDER BY updated_at ASC, id ASC LIMIT ?`, since, limit)
	if err != nil {
		return nil, apperr.Internal(err, "selecting users updated since %s", since)
	}
	defer rows.Close()
	var out []*types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning user")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetPasswordHash overwrites the stored argon2 hash.
func (r *UserRepo) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return r.execUpdate(ctx, id, `UPDATE user SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, hash, id)
}

// SetRoles overwrites a user's role set.
func (r *UserRepo) SetRoles(ctx context.Context, id int64, roles []types.Role) error {
	encoded, err := json.Marshal(roles)
	if err != nil {
		return apperr.Internal(err, "encoding roles for user %d", id)
	}
	return r.execUpdate(ctx, id, `UPDATE user SET roles = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(encoded), id)
}

// SetDeletedAt tombstones or resurrects a user.
func (r *UserRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	return r.execUpdate(ctx, id, `UPDATE user SET deleted_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
}

func (r *UserRepo) execUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Internal(err, "updating user %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "checking rows affected for user %d", id)
	}
	if n == 0 {
		return apperr.NotFound("user %d not found", id)
	}
	return nil
}
