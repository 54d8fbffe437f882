package access

import (
	"context"
	"crypto/subtle"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// AccessTokenRepo is the subset of AccessTokenRepo token resolution needs.
type AccessTokenRepo interface {
	SelectAllLive(ctx context.Context) ([]*types.AccessToken, error)
}

// UserRepo is the subset of UserRepo token resolution needs.
type UserRepo interface {
	SelectByID(ctx context.Context, id int64) (*types.User, error)
}

// ResolveSecret looks up the live AccessToken whose Secret matches secret
// using a constant-time comparison per-candidate (bearer secrets are
// compared directly, never hashed, so timing must not leak a prefix
// match). Returns apperr.Unauthorized if no live token matches.
func ResolveSecret(ctx context.Context, tokens AccessTokenRepo, secret string) (*types.AccessToken, error) {
	if secret == "" {
		return nil, apperr.Unauthorized("missing bearer secret")
	}

	all, err := tokens.SelectAllLive(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "loading access tokens")
	}

	for _, tok := range all {
		if subtle.ConstantTimeCompare([]byte(tok.Secret), []byte(secret)) == 1 {
			return tok, nil
		}
	}
	return nil, apperr.Unauthorized("unknown bearer secret")
}

// ResolveUser loads the User a resolved AccessToken belongs to.
func ResolveUser(ctx context.Context, users UserRepo, tok *types.AccessToken) (*types.User, error) {
	u, err := users.SelectByID(ctx, tok.UserID)
	if err != nil {
		return nil, apperr.Wrap(err, "loading user %d for access token", tok.UserID)
	}
	return u, nil
}
