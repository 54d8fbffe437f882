package usersync

import (
	"context"
	"testing"

	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/types"
)

type fakeOsmUserRepo struct {
	upserted map[int64]string
}

func (f *fakeOsmUserRepo) Upsert(ctx context.Context, id int64, tags string) (*types.OsmUser, error) {
	if f.upserted == nil {
		f.upserted = map[int64]string{}
	}
	f.upserted[id] = tags
	return &types.OsmUser{ID: id, Tags: tags}, nil
}

type fakeProvider struct {
	profiles map[int64]string
}

func (f *fakeProvider) FetchProfiles(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if tags, ok := f.profiles[id]; ok {
			out[id] = tags
		}
	}
	return out, nil
}

func TestSyncIDsUpsertsEveryReturnedProfile(t *testing.T) {
	repo := &fakeOsmUserRepo{}
	provider := &fakeProvider{profiles: map[int64]string{1: `{"name":"alice"}`, 2: `{"name":"bob"}`}}
	eng := NewEngine(repo, provider, logging.Nop())

	if err := eng.SyncIDs(context.Background(), []int64{1, 2, 3}); err != nil {
		t.Fatalf("SyncIDs: %v", err)
	}
	if repo.upserted[1] != `{"name":"alice"}` || repo.upserted[2] != `{"name":"bob"}` {
		t.Fatalf("unexpected upserts: %+v", repo.upserted)
	}
	if _, ok := repo.upserted[3]; ok {
		t.Fatalf("id 3 should not have been upserted, provider returned no profile for it")
	}
}

func TestSyncIDsNoopOnEmptyInput(t *testing.T) {
	repo := &fakeOsmUserRepo{}
	provider := &fakeProvider{}
	eng := NewEngine(repo, provider, logging.Nop())

	if err := eng.SyncIDs(context.Background(), nil); err != nil {
		t.Fatalf("SyncIDs: %v", err)
	}
	if len(repo.upserted) != 0 {
		t.Fatalf("expected no upserts, got %+v", repo.upserted)
	}
}
