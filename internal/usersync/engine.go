// Package usersync keeps the local OsmUser mirror (spec §3 "mirror of a
// remote identity") current against the upstream OSM user API, the
// periodic-job counterpart to internal/ingest's element merge.
package usersync

import (
	"context"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/types"
)

// OsmUserRepo is the subset of OsmUserRepo the engine needs.
type OsmUserRepo interface {
	Upsert(ctx context.Context, id int64, tags string) (*types.OsmUser, error)
}

// Provider fetches fresh upstream profile data for a batch of OSM user
// ids. Like internal/ingest's Provider, this is an external collaborator
// (spec §6) this repo does not implement a concrete vendor for.
type Provider interface {
	FetchProfiles(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Engine upserts OsmUser rows from whatever a Provider returns.
type Engine struct {
	users    OsmUserRepo
	provider Provider
	log      logging.Logger
}

// NewEngine builds a user-sync Engine.
func NewEngine(users OsmUserRepo, provider Provider, log logging.Logger) *Engine {
	return &Engine{users: users, provider: provider, log: log}
}

// SyncIDs refreshes the given OSM user ids against the provider and
// upserts each returned profile. One failed id does not abort the rest.
func (e *Engine) SyncIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	profiles, err := e.provider.FetchProfiles(ctx, ids)
	if err != nil {
		return apperr.UpstreamUnavailable("fetching osm user profiles: %v", err)
	}
	for id, tags := range profiles {
		if _, err := e.users.Upsert(ctx, id, tags); err != nil {
			e.log.Error("upserting osm user failed", "user_id", id, "error", err)
		}
	}
	return nil
}
