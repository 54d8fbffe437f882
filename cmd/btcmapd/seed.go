package main

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/btcmap/btcmap-api/internal/access"
	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/storagedb"
	"github.com/btcmap/btcmap-api/internal/types"
)

// seedAdminFile is the shape of the TOML file the seed-admin-file setting points at,
// letting an operator stand up the first admin account without going
// through the RPC API (which itself requires an existing admin token).
type seedAdminFile struct {
	Admins []seedAdmin `toml:"admin"`
}

type seedAdmin struct {
	Name     string   `toml:"name"`
	Password string   `toml:"password"`
	Secret   string   `toml:"secret"`
	Roles    []string `toml:"roles"`
}

// seedAdmins reads path and idempotently ensures each listed admin's user
// and access token exist. A blank path is a no-op. Already-present
// users/tokens are left untouched, so reapplying the same seed file after
// the admin changed their password does not clobber it.
func seedAdmins(ctx context.Context, path string, repos *storagedb.Repos, log logging.Logger) error {
	if path == "" {
		return nil
	}

	var seed seedAdminFile
	if _, err := toml.DecodeFile(path, &seed); err != nil {
		return fmt.Errorf("decoding seed admin file %s: %w", path, err)
	}

	for _, a := range seed.Admins {
		if err := seedOneAdmin(ctx, a, repos, log); err != nil {
			return fmt.Errorf("seeding admin %q: %w", a.Name, err)
		}
	}
	return nil
}

func seedOneAdmin(ctx context.Context, a seedAdmin, repos *storagedb.Repos, log logging.Logger) error {
	roles := make([]types.Role, len(a.Roles))
	for i, r := range a.Roles {
		roles[i] = types.Role(r)
	}
	if len(roles) == 0 {
		roles = []types.Role{types.RoleAdmin}
	}

	user, err := repos.Users.SelectByName(ctx, a.Name)
	if apperr.KindOf(err) == apperr.KindNotFound {
		hash, hashErr := access.HashPassword(a.Password)
		if hashErr != nil {
			return fmt.Errorf("hashing password: %w", hashErr)
		}
		user, err = repos.Users.Insert(ctx, a.Name, hash, roles)
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
		log.Info("seeded admin user", "name", a.Name)
	} else if err != nil {
		return err
	}

	if a.Secret == "" {
		return nil
	}
	if _, err := repos.AccessTokens.SelectBySecret(ctx, a.Secret); err == nil {
		return nil
	} else if apperr.KindOf(err) != apperr.KindUnauthorized {
		return err
	}

	if _, err := repos.AccessTokens.Insert(ctx, a.Secret, user.ID, []string{"all"}); err != nil {
		return fmt.Errorf("creating access token: %w", err)
	}
	log.Info("seeded admin access token", "name", a.Name)
	return nil
}
