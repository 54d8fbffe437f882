package geojson

import "math"

// pointOnSegmentEpsilon is the floating-point tolerance used when testing
// whether a point lies on a LineString segment.
const pointOnSegmentEpsilon = 1e-9

// Contains reports whether g contains the point at (lon, lat), per the
// standard even-odd ray-casting rule for Polygon/MultiPolygon, and exact
// (within epsilon) on-segment testing for LineString. Other geometry types
// never contain a point.
func Contains(g Geometry, lon, lat float64) bool {
	switch g.Type {
	case TypePolygon:
		return polygonContains(g.Polygon(), lon, lat)
	case TypeMultiPolygon:
		for _, poly := range g.MultiPolygon() {
			if polygonContains(poly, lon, lat) {
				return true
			}
		}
		return false
	case TypeLineString:
		return lineStringContains(g.LineString(), lon, lat)
	default:
		return false
	}
}

// polygonContains tests ring[0] (exterior) with the even-odd rule, then
// excludes the point if it falls inside any hole ring[1:].
func polygonContains(rings [][]Position, lon, lat float64) bool {
	if len(rings) == 0 {
		return false
	}
	if !ringContains(rings[0], lon, lat) {
		return false
	}
	for _, hole := range rings[1:] {
		if ringContains(hole, lon, lat) {
			return false
		}
	}
	return true
}

// ringContains implements the even-odd ray-casting algorithm: cast a ray
// from the point toward +X and count edge crossings.
func ringContains(ring []Position, lon, lat float64) bool {
	inside := false
	n := len(ring)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon(), ring[i].Lat()
		xj, yj := ring[j].Lon(), ring[j].Lat()

		intersects := (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi
		if intersects {
			inside = !inside
		}
	}
	return inside
}

// lineStringContains reports whether (lon, lat) lies on any segment of the
// line within pointOnSegmentEpsilon.
func lineStringContains(points []Position, lon, lat float64) bool {
	for i := 0; i+1 < len(points); i++ {
		if pointOnSegment(points[i], points[i+1], lon, lat) {
			return true
		}
	}
	return false
}

func pointOnSegment(a, b Position, lon, lat float64) bool {
	ax, ay := a.Lon(), a.Lat()
	bx, by := b.Lon(), b.Lat()

	crossProduct := (lat-ay)*(bx-ax) - (lon-ax)*(by-ay)
	if math.Abs(crossProduct) > pointOnSegmentEpsilon {
		return false
	}

	dotProduct := (lon-ax)*(bx-ax) + (lat-ay)*(by-ay)
	if dotProduct < 0 {
		return false
	}

	squaredLength := (bx-ax)*(bx-ax) + (by-ay)*(by-ay)
	if dotProduct > squaredLength {
		return false
	}

	return true
}
