// Package spatial recomputes area<->element membership (spec §4.7) by
// testing each live element's coordinate against every live area's
// geo_json geometries.
package spatial

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/btcmap/btcmap-api/internal/geojson"
	"github.com/btcmap/btcmap-api/internal/tagpatch"
	"github.com/btcmap/btcmap-api/internal/types"
)

// earthAlias is the sentinel "whole planet" area, always excluded from
// membership testing.
const earthAlias = "earth"

// AreaRepo is the subset of AreaRepo the membership engine needs.
type AreaRepo interface {
	SelectAllLive(ctx context.Context) ([]*types.Area, error)
}

// ElementRepo is the subset of ElementRepo the membership engine needs.
type ElementRepo interface {
	SelectAllLive(ctx context.Context) ([]*types.Element, error)
	SetTags(ctx context.Context, id int64, tags string) error
}

// AreaElementRepo is the subset of AreaElementRepo the membership engine
// needs.
type AreaElementRepo interface {
	SelectLiveAreaIDsForElement(ctx context.Context, elementID int64) ([]int64, error)
	Insert(ctx context.Context, areaID, elementID int64) (*types.AreaElement, error)
	SelectLiveRowForPair(ctx context.Context, areaID, elementID int64) (*types.AreaElement, error)
	SetDeletedAt(ctx context.Context, id int64, at *time.Time) error
}

// ElementDiff reports a membership change for one element.
type ElementDiff struct {
	ElementID int64
	Added     []int64
	Removed   []int64
}

// Diff is the result of one Recompute pass.
type Diff struct {
	Elements []ElementDiff
}

type areaTag struct {
	ID  int64  `json:"id"`
	Alias string `json:"url_alias"`
}

type areaMeta struct {
	id       int64
	urlAlias string
	geoms    []geojson.Geometry
}

// Recompute tests every live element's coordinate against every live,
// non-earth area's parsed geo_json geometries, reconciling AreaElement rows
// and each element's reverse-index tags.areas tag to match.
func Recompute(ctx context.Context, areas AreaRepo, elements ElementRepo, areaElements AreaElementRepo) (Diff, error) {
	liveAreas, err := areas.SelectAllLive(ctx)
	if err != nil {
		return Diff{}, fmt.Errorf("loading live areas: %w", err)
	}

	candidates := make([]areaMeta, 0, len(liveAreas))
	for _, a := range liveAreas {
		urlAlias := gjsonTagString(a.Tags, "url_alias")
		if urlAlias == earthAlias {
			continue
		}
		raw := gjsonTagRaw(a.Tags, "geo_json")
		geoms := geojson.ParseGeometries(raw)
		if len(geoms) == 0 {
			continue
		}
		candidates = append(candidates, areaMeta{id: a.ID, urlAlias: urlAlias, geoms: geoms})
	}

	liveElements, err := elements.SelectAllLive(ctx)
	if err != nil {
		return Diff{}, fmt.Errorf("loading live elements: %w", err)
	}

	var diff Diff
	for _, el := range liveElements {
		lon, lat, ok := elementCoordinate(el.OverpassData)
		if !ok {
			continue
		}

		newAreas := matchingAreaIDs(candidates, lon, lat)
		oldAreas, err := areaElements.SelectLiveAreaIDsForElement(ctx, el.ID)
		if err != nil {
			return Diff{}, fmt.Errorf("loading existing membership for element %d: %w", el.ID, err)
		}

		added, removed := diffSets(oldAreas, newAreas)
		if len(added) == 0 && len(removed) == 0 {
			continue
		}

		for _, areaID := range removed {
			row, err := areaElements.SelectLiveRowForPair(ctx, areaID, el.ID)
			if err != nil {
				return Diff{}, fmt.Errorf("loading membership row (%d,%d): %w", areaID, el.ID, err)
			}
			if err := areaElements.SetDeletedAt(ctx, row.ID, timePtr()); err != nil {
				return Diff{}, fmt.Errorf("tombstoning membership (%d,%d): %w", areaID, el.ID, err)
			}
		}
		for _, areaID := range added {
			if _, err := areaElements.Insert(ctx, areaID, el.ID); err != nil {
				return Diff{}, fmt.Errorf("inserting membership (%d,%d): %w", areaID, el.ID, err)
			}
		}

		if err := refreshAreasTag(ctx, elements, el, candidates, newAreas); err != nil {
			return Diff{}, err
		}

		diff.Elements = append(diff.Elements, ElementDiff{ElementID: el.ID, Added: added, Removed: removed})
	}

	return diff, nil
}

func refreshAreasTag(ctx context.Context, elements ElementRepo, el *types.Element, candidates []areaMeta, newAreaIDs []int64) error {
	byID := make(map[int64]string, len(candidates))
	for _, c := range candidates {
		byID[c.id] = c.urlAlias
	}

	entries := make([]areaTag, 0, len(newAreaIDs))
	for _, id := range newAreaIDs {
		entries = append(entries, areaTag{ID: id, Alias: byID[id]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	encoded, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding areas tag for element %d: %w", el.ID, err)
	}

	current, ok := tagpatch.GetKey(el.Tags, "areas")
	if ok && current == string(encoded) {
		return nil
	}

	newTags, err := tagpatch.SetKey(el.Tags, "areas", entries)
	if err != nil {
		return fmt.Errorf("patching areas tag for element %d: %w", el.ID, err)
	}
	if err := elements.SetTags(ctx, el.ID, newTags); err != nil {
		return fmt.Errorf("writing areas tag for element %d: %w", el.ID, err)
	}
	return nil
}

func matchingAreaIDs(candidates []areaMeta, lon, lat float64) []int64 {
	var out []int64
	for _, c := range candidates {
		for _, g := range c.geoms {
			if geojson.Contains(g, lon, lat) {
				out = append(out, c.id)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// diffSets returns (added, removed) such that old+added-removed == new.
func diffSets(old, new []int64) (added, removed []int64) {
	oldSet := make(map[int64]bool, len(old))
	for _, id := range old {
		oldSet[id] = true
	}
	newSet := make(map[int64]bool, len(new))
	for _, id := range new {
		newSet[id] = true
	}
	for _, id := range new {
		if !oldSet[id] {
			added = append(added, id)
		}
	}
	for _, id := range old {
		if !newSet[id] {
			removed = append(removed, id)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return added, removed
}
