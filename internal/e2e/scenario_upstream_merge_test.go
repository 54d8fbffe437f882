package e2e

import (
	"context"
	"testing"

	"github.com/btcmap/btcmap-api/internal/ingest"
	"github.com/btcmap/btcmap-api/internal/types"
)

type fixedSnapshotProvider struct {
	snapshot []types.OverpassElement
}

func (p *fixedSnapshotProvider) FetchSnapshot(ctx context.Context) ([]types.OverpassElement, error) {
	return p.snapshot, nil
}

func overpassNode(id int64, lat, lon float64) types.OverpassElement {
	return types.OverpassElement{Type: "node", ID: id, Lat: &lat, Lon: &lon, Tags: map[string]string{}}
}

// S3 — upstream merge lifecycle: one element appears, a second is added,
// then the first disappears from the upstream snapshot and is
// soft-deleted locally, each transition emitting exactly one ElementEvent.
func TestScenarioUpstreamMergeLifecycle(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	repos := eng.NewRepos()

	if err := repos.Conf.Set(ctx, "upstream_snapshot_floor", "0"); err != nil {
		t.Fatalf("lowering snapshot floor: %v", err)
	}

	provider := &fixedSnapshotProvider{}
	merger := ingest.NewEngine(eng.Primary, repos.Elements, repos.Conf, provider, testLogger(), 16)

	provider.snapshot = []types.OverpassElement{overpassNode(100, 0, 0)}
	created, updated, deleted, err := merger.MergeAll(ctx)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if created != 1 || updated != 0 || deleted != 0 {
		t.Fatalf("first merge got (c=%d u=%d d=%d), want (1,0,0)", created, updated, deleted)
	}
	live, err := repos.Elements.SelectAllLive(ctx)
	if err != nil {
		t.Fatalf("loading live elements: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("got %d live elements, want 1", len(live))
	}
	elementA := live[0]
	eventsA, err := repos.ElementEvents.SelectByElementID(ctx, elementA.ID)
	if err != nil {
		t.Fatalf("loading events for A: %v", err)
	}
	if len(eventsA) != 1 || eventsA[0].Type != types.ElementEventCreate {
		t.Fatalf("got %+v, want one create event", eventsA)
	}

	provider.snapshot = []types.OverpassElement{overpassNode(100, 0, 0), overpassNode(200, 1, 1)}
	created, updated, deleted, err = merger.MergeAll(ctx)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if created != 1 || updated != 0 || deleted != 0 {
		t.Fatalf("second merge got (c=%d u=%d d=%d), want (1,0,0)", created, updated, deleted)
	}
	live, err = repos.Elements.SelectAllLive(ctx)
	if err != nil {
		t.Fatalf("loading live elements: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("got %d live elements, want 2", len(live))
	}

	provider.snapshot = []types.OverpassElement{overpassNode(200, 1, 1)}
	created, updated, deleted, err = merger.MergeAll(ctx)
	if err != nil {
		t.Fatalf("third merge: %v", err)
	}
	if created != 0 || updated != 0 || deleted != 1 {
		t.Fatalf("third merge got (c=%d u=%d d=%d), want (0,0,1)", created, updated, deleted)
	}
	live, err = repos.Elements.SelectAllLive(ctx)
	if err != nil {
		t.Fatalf("loading live elements: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("got %d live elements after A dropped, want 1", len(live))
	}
	eventsA, err = repos.ElementEvents.SelectByElementID(ctx, elementA.ID)
	if err != nil {
		t.Fatalf("loading events for A after delete: %v", err)
	}
	if len(eventsA) != 2 || eventsA[1].Type != types.ElementEventDelete {
		t.Fatalf("got %+v, want create then delete event", eventsA)
	}
}
