package spatial

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"github.com/btcmap/btcmap-api/internal/types"
)

func gjsonTagString(tagsJSON, key string) string {
	return gjson.Get(tagsJSON, key).String()
}

func gjsonTagRaw(tagsJSON, key string) string {
	result := gjson.Get(tagsJSON, key)
	if !result.Exists() {
		return ""
	}
	return result.Raw
}

func timePtr() *time.Time {
	now := time.Now().UTC()
	return &now
}

// elementCoordinate decodes an element's overpass_data payload and returns
// its representative (lon, lat): the direct coordinate for a node, or the
// bounding-box centroid for a way/relation. ok is false when neither is
// present.
func elementCoordinate(overpassDataJSON string) (lon, lat float64, ok bool) {
	var oe types.OverpassElement
	if err := json.Unmarshal([]byte(overpassDataJSON), &oe); err != nil {
		return 0, 0, false
	}
	if oe.Lat != nil && oe.Lon != nil {
		return *oe.Lon, *oe.Lat, true
	}
	if oe.Bounds != nil {
		lon := (oe.Bounds.MinLon + oe.Bounds.MaxLon) / 2
		lat := (oe.Bounds.MinLat + oe.Bounds.MaxLat) / 2
		return lon, lat, true
	}
	return 0, 0, false
}
