package spatial

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/btcmap/btcmap-api/internal/types"
)

type fakeAreaRepo struct{ areas []*types.Area }

func (f *fakeAreaRepo) SelectAllLive(ctx context.Context) ([]*types.Area, error) { return f.areas, nil }

type fakeElementRepo struct {
	elements []*types.Element
	tags     map[int64]string
}

func (f *fakeElementRepo) SelectAllLive(ctx context.Context) ([]*types.Element, error) {
	return f.elements, nil
}
func (f *fakeElementRepo) SetTags(ctx context.Context, id int64, tags string) error {
	f.tags[id] = tags
	return nil
}

type fakeAreaElementRepo struct {
	nextID int64
	rows   map[int64]*types.AreaElement // id -> row
}

func newFakeAreaElementRepo() *fakeAreaElementRepo {
	return &fakeAreaElementRepo{rows: make(map[int64]*types.AreaElement)}
}

func (f *fakeAreaElementRepo) SelectLiveAreaIDsForElement(ctx context.Context, elementID int64) ([]int64, error) {
	var out []int64
	for _, row := range f.rows {
		if row.ElementID == elementID && row.DeletedAt == nil {
			out = append(out, row.AreaID)
		}
	}
	return out, nil
}

func (f *fakeAreaElementRepo) Insert(ctx context.Context, areaID, elementID int64) (*types.AreaElement, error) {
	f.nextID++
	row := &types.AreaElement{ID: f.nextID, AreaID: areaID, ElementID: elementID}
	f.rows[row.ID] = row
	return row, nil
}

func (f *fakeAreaElementRepo) SelectLiveRowForPair(ctx context.Context, areaID, elementID int64) (*types.AreaElement, error) {
	for _, row := range f.rows {
		if row.AreaID == areaID && row.ElementID == elementID && row.DeletedAt == nil {
			return row, nil
		}
	}
	return nil, nil
}

func (f *fakeAreaElementRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	f.rows[id].DeletedAt = at
	return nil
}

func squareAreaTags() string {
	return `{"url_alias":"square-land","geo_json":{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}}`
}

func TestRecomputeAddsMembership(t *testing.T) {
	areas := &fakeAreaRepo{areas: []*types.Area{{ID: 1, Tags: squareAreaTags()}}}
	lat, lon := 5.0, 5.0
	el := &types.Element{ID: 42, OverpassData: mustOverpassNodeJSON(lat, lon)}
	elements := &fakeElementRepo{elements: []*types.Element{el}, tags: map[int64]string{}}
	areaElements := newFakeAreaElementRepo()

	diff, err := Recompute(context.Background(), areas, elements, areaElements)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(diff.Elements) != 1 || len(diff.Elements[0].Added) != 1 || diff.Elements[0].Added[0] != 1 {
		t.Fatalf("expected element 42 added to area 1, got %+v", diff)
	}
	if elements.tags[42] == "" {
		t.Fatalf("expected areas tag written")
	}
}

func TestRecomputeExcludesEarth(t *testing.T) {
	tags := `{"url_alias":"earth","geo_json":{"type":"Polygon","coordinates":[[[-180,-90],[180,-90],[180,90],[-180,90],[-180,-90]]]}}`
	areas := &fakeAreaRepo{areas: []*types.Area{{ID: 1, Tags: tags}}}
	el := &types.Element{ID: 1, OverpassData: mustOverpassNodeJSON(0, 0)}
	elements := &fakeElementRepo{elements: []*types.Element{el}, tags: map[int64]string{}}
	areaElements := newFakeAreaElementRepo()

	diff, err := Recompute(context.Background(), areas, elements, areaElements)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(diff.Elements) != 0 {
		t.Fatalf("expected no membership against earth area, got %+v", diff)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	areas := &fakeAreaRepo{areas: []*types.Area{{ID: 1, Tags: squareAreaTags()}}}
	el := &types.Element{ID: 1, OverpassData: mustOverpassNodeJSON(5, 5)}
	elements := &fakeElementRepo{elements: []*types.Element{el}, tags: map[int64]string{}}
	areaElements := newFakeAreaElementRepo()

	if _, err := Recompute(context.Background(), areas, elements, areaElements); err != nil {
		t.Fatalf("first Recompute: %v", err)
	}
	el.Tags = elements.tags[1]
	diff, err := Recompute(context.Background(), areas, elements, areaElements)
	if err != nil {
		t.Fatalf("second Recompute: %v", err)
	}
	if len(diff.Elements) != 0 {
		t.Fatalf("expected no-op second pass, got %+v", diff)
	}
}

func mustOverpassNodeJSON(lat, lon float64) string {
	return `{"type":"node","id":1,"lat":` + strconv.FormatFloat(lat, 'f', -1, 64) +
		`,"lon":` + strconv.FormatFloat(lon, 'f', -1, 64) + `,"tags":{}}`
}
