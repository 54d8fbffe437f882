package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/storagedb"
	"github.com/btcmap/btcmap-api/internal/types"
)

type fakeProvider struct {
	snapshot []types.OverpassElement
}

func (f *fakeProvider) FetchSnapshot(ctx context.Context) ([]types.OverpassElement, error) {
	return f.snapshot, nil
}

func newTestEngine(t *testing.T, provider *fakeProvider) (*Engine, *storagedb.Repos, func()) {
	t.Helper()
	dir := t.TempDir()
	eng, err := storagedb.Open(filepath.Join(dir, "primary.db"), filepath.Join(dir, "log.db"), storagedb.Options{})
	if err != nil {
		t.Fatalf("opening test databases: %v", err)
	}
	if err := eng.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test databases: %v", err)
	}
	repos := eng.NewRepos()
	if err := repos.Conf.Set(context.Background(), "upstream_snapshot_floor", "1"); err != nil {
		t.Fatalf("setting test floor: %v", err)
	}
	ing := NewEngine(eng.Primary, repos.Elements, repos.Conf, provider, logging.Nop(), 0)
	return ing, repos, func() { _ = eng.Close() }
}

func node(id int64, name string) types.OverpassElement {
	return types.OverpassElement{Type: "node", ID: id, Tags: map[string]string{"name": name}}
}

func TestMergeAllCreatesNewElements(t *testing.T) {
	provider := &fakeProvider{snapshot: []types.OverpassElement{node(1, "Shop A")}}
	ing, repos, cleanup := newTestEngine(t, provider)
	defer cleanup()

	created, updated, deleted, err := ing.MergeAll(context.Background())
	if err != nil {
		t.Fatalf("MergeAll: %v", err)
	}
	if created != 1 || updated != 0 || deleted != 0 {
		t.Fatalf("got (%d,%d,%d), want (1,0,0)", created, updated, deleted)
	}

	live, err := repos.Elements.SelectAllLive(context.Background())
	if err != nil {
		t.Fatalf("SelectAllLive: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("got %d live elements, want 1", len(live))
	}
}

func TestMergeAllUpdatesChangedElement(t *testing.T) {
	provider := &fakeProvider{snapshot: []types.OverpassElement{node(1, "Shop A")}}
	ing, _, cleanup := newTestEngine(t, provider)
	defer cleanup()

	if _, _, _, err := ing.MergeAll(context.Background()); err != nil {
		t.Fatalf("first MergeAll: %v", err)
	}

	provider.snapshot = []types.OverpassElement{node(1, "Shop A Renamed")}
	created, updated, deleted, err := ing.MergeAll(context.Background())
	if err != nil {
		t.Fatalf("second MergeAll: %v", err)
	}
	if created != 0 || updated != 1 || deleted != 0 {
		t.Fatalf("got (%d,%d,%d), want (0,1,0)", created, updated, deleted)
	}
}

func TestMergeAllDeletesDroppedElement(t *testing.T) {
	provider := &fakeProvider{snapshot: []types.OverpassElement{node(1, "Shop A"), node(2, "Shop B")}}
	ing, repos, cleanup := newTestEngine(t, provider)
	defer cleanup()

	if _, _, _, err := ing.MergeAll(context.Background()); err != nil {
		t.Fatalf("first MergeAll: %v", err)
	}

	provider.snapshot = []types.OverpassElement{node(2, "Shop B")}
	created, updated, deleted, err := ing.MergeAll(context.Background())
	if err != nil {
		t.Fatalf("second MergeAll: %v", err)
	}
	if created != 0 || updated != 0 || deleted != 1 {
		t.Fatalf("got (%d,%d,%d), want (0,0,1)", created, updated, deleted)
	}

	live, err := repos.Elements.SelectAllLive(context.Background())
	if err != nil {
		t.Fatalf("SelectAllLive: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("got %d live elements after delete, want 1", len(live))
	}
}

func TestMergeAllIsIdempotent(t *testing.T) {
	provider := &fakeProvider{snapshot: []types.OverpassElement{node(1, "Shop A"), node(2, "Shop B")}}
	ing, _, cleanup := newTestEngine(t, provider)
	defer cleanup()

	if _, _, _, err := ing.MergeAll(context.Background()); err != nil {
		t.Fatalf("first MergeAll: %v", err)
	}

	created, updated, deleted, err := ing.MergeAll(context.Background())
	if err != nil {
		t.Fatalf("second MergeAll: %v", err)
	}
	if created != 0 || updated != 0 || deleted != 0 {
		t.Fatalf("got (%d,%d,%d) on repeat merge, want (0,0,0)", created, updated, deleted)
	}
}

func TestMergeAllRejectsSuspiciouslySmallSnapshot(t *testing.T) {
	provider := &fakeProvider{snapshot: nil}
	ing, repos, cleanup := newTestEngine(t, provider)
	defer cleanup()

	if err := repos.Conf.Set(context.Background(), "upstream_snapshot_floor", "5000"); err != nil {
		t.Fatalf("setting floor: %v", err)
	}

	_, _, _, err := ing.MergeAll(context.Background())
	if !apperr.Is(err, apperr.KindUpstreamUnavailable) {
		t.Fatalf("got %v, want KindUpstreamUnavailable", err)
	}
}

func TestMergeAllEmitsChangeNotifications(t *testing.T) {
	provider := &fakeProvider{snapshot: []types.OverpassElement{node(1, "Shop A")}}
	ing, _, cleanup := newTestEngine(t, provider)
	defer cleanup()

	if _, _, _, err := ing.MergeAll(context.Background()); err != nil {
		t.Fatalf("MergeAll: %v", err)
	}

	select {
	case change := <-ing.Changes():
		if change.Kind != ChangeCreate {
			t.Fatalf("got kind %q, want create", change.Kind)
		}
	default:
		t.Fatal("expected a change notification, got none")
	}
}
