// Package geometry holds the planar geometry of shapes and stops,
// and the distance queries trip statistics need.
package geometry

import (
	"sort"
	"sync/atomic"

	"github.com/paulmach/orb"

	"tidbyt.dev/gtfsstats/model"
)

// lazy is a fill-once cell. Concurrent first calls may each build
// the value; the first one stored wins.
type lazy[T any] struct {
	p atomic.Pointer[T]
}

func (l *lazy[T]) get(build func() T) T {
	if v := l.p.Load(); v != nil {
		return *v
	}
	v := build()
	l.p.CompareAndSwap(nil, &v)
	return *l.p.Load()
}

// Index builds shape linestrings and stop points, in lon/lat or
// projected to the UTM zone of the data's centroid. Results are
// memoized per projection. Safe for concurrent use.
type Index struct {
	utm    UTM
	points map[string][]model.ShapePoint
	raw    map[string]orb.Point

	shapes [2]lazy[map[string]orb.LineString]
	stops  [2]lazy[map[string]orb.Point]
	simple lazy[map[string]bool]
}

func NewIndex(shapePoints []model.ShapePoint, stops []model.Stop) *Index {
	idx := &Index{
		points: map[string][]model.ShapePoint{},
		raw:    make(map[string]orb.Point, len(stops)),
	}

	for _, sp := range shapePoints {
		idx.points[sp.ShapeID] = append(idx.points[sp.ShapeID], sp)
	}
	for _, pts := range idx.points {
		sort.SliceStable(pts, func(i, j int) bool {
			return pts[i].Sequence < pts[j].Sequence
		})
	}

	var sumLon, sumLat float64
	n := 0
	for _, s := range stops {
		p := orb.Point{s.Lon, s.Lat}
		idx.raw[s.ID] = p
		if s.Lat == 0 && s.Lon == 0 {
			continue
		}
		sumLon += s.Lon
		sumLat += s.Lat
		n++
	}
	if n == 0 {
		for _, sp := range shapePoints {
			sumLon += sp.Lon
			sumLat += sp.Lat
			n++
		}
	}

	centroid := orb.Point{}
	if n > 0 {
		centroid = orb.Point{sumLon / float64(n), sumLat / float64(n)}
	}
	idx.utm = UTMForPoint(centroid)

	return idx
}

// UTM is the projection used for projected geometries.
func (idx *Index) UTM() UTM {
	return idx.utm
}

func slot(projected bool) int {
	if projected {
		return 1
	}
	return 0
}

// Shapes maps shape_id to its linestring, points in shape sequence
// order.
func (idx *Index) Shapes(projected bool) map[string]orb.LineString {
	return idx.shapes[slot(projected)].get(func() map[string]orb.LineString {
		out := make(map[string]orb.LineString, len(idx.points))
		for id, pts := range idx.points {
			ls := make(orb.LineString, len(pts))
			for i, p := range pts {
				ls[i] = orb.Point{p.Lon, p.Lat}
			}
			if projected {
				ls = idx.utm.ForwardLine(ls)
			}
			out[id] = ls
		}
		return out
	})
}

// Shape returns a single linestring.
func (idx *Index) Shape(shapeID string, projected bool) (orb.LineString, bool) {
	ls, ok := idx.Shapes(projected)[shapeID]
	return ls, ok
}

// ShapePoints returns the raw points of a shape, in sequence order.
func (idx *Index) ShapePoints(shapeID string) []model.ShapePoint {
	return idx.points[shapeID]
}

// Stops maps stop_id to its point. A non-nil subset restricts the
// result to the given stops.
func (idx *Index) Stops(projected bool, subset []string) map[string]orb.Point {
	all := idx.stops[slot(projected)].get(func() map[string]orb.Point {
		out := make(map[string]orb.Point, len(idx.raw))
		for id, p := range idx.raw {
			if projected {
				p = idx.utm.Forward(p)
			}
			out[id] = p
		}
		return out
	})

	if subset == nil {
		return all
	}

	out := make(map[string]orb.Point, len(subset))
	for _, id := range subset {
		if p, ok := all[id]; ok {
			out[id] = p
		}
	}
	return out
}

// Stop returns a single stop point.
func (idx *Index) Stop(stopID string, projected bool) (orb.Point, bool) {
	p, ok := idx.Stops(projected, nil)[stopID]
	return p, ok
}

// IsSimple reports whether the projected shape is free of self
// intersections. Unknown shapes report false.
func (idx *Index) IsSimple(shapeID string) bool {
	simple := idx.simple.get(func() map[string]bool {
		shapes := idx.Shapes(true)
		out := make(map[string]bool, len(shapes))
		for id, ls := range shapes {
			out[id] = IsSimple(ls)
		}
		return out
	})
	return simple[shapeID]
}

// TravelDistance is TravelDistance for a projected shape, in meters.
// ok is false if the shape is unknown.
func (idx *Index) TravelDistance(shapeID string, start, end orb.Point, slack float64) (float64, bool) {
	ls, ok := idx.Shape(shapeID, true)
	if !ok || len(ls) == 0 {
		return 0, false
	}
	return travelDistance(ls, idx.IsSimple(shapeID), start, end, slack), true
}
