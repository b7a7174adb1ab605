package geometry

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Project returns the distance along ls to the point on ls nearest
// p. Ties go to the earliest segment.
func Project(ls orb.LineString, p orb.Point) float64 {
	if len(ls) == 0 {
		return 0
	}

	best := math.Inf(1)
	bestAlong := 0.0
	along := 0.0
	for i := 0; i+1 < len(ls); i++ {
		a, b := ls[i], ls[i+1]
		segLen := planar.Distance(a, b)
		t := 0.0
		if segLen > 0 {
			t = ((p[0]-a[0])*(b[0]-a[0]) + (p[1]-a[1])*(b[1]-a[1])) / (segLen * segLen)
			t = math.Max(0, math.Min(1, t))
		}
		closest := orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
		if d := planar.Distance(closest, p); d < best {
			best = d
			bestAlong = along + t*segLen
		}
		along += segLen
	}

	if len(ls) == 1 {
		return 0
	}
	return bestAlong
}

// SegmentLength is the distance along ls between the projections of
// p and q. With q nil, the distance from the start of ls to p.
func SegmentLength(ls orb.LineString, p orb.Point, q *orb.Point) float64 {
	dp := Project(ls, p)
	if q == nil {
		return dp
	}
	return math.Abs(dp - Project(ls, *q))
}

// TravelDistance is the signed distance along ls from start to end.
// When ls intersects itself, or the result is not in (0, length +
// slack), the full length of ls is returned.
func TravelDistance(ls orb.LineString, start, end orb.Point, slack float64) float64 {
	return travelDistance(ls, IsSimple(ls), start, end, slack)
}

func travelDistance(ls orb.LineString, simple bool, start, end orb.Point, slack float64) float64 {
	length := planar.Length(ls)
	if !simple {
		return length
	}
	d := Project(ls, end) - Project(ls, start)
	if d > 0 && d < length+slack {
		return d
	}
	return length
}

// Interpolate returns the point at distance d along ls, clamped to
// its ends.
func Interpolate(ls orb.LineString, d float64) orb.Point {
	if len(ls) == 0 {
		return orb.Point{}
	}
	if d <= 0 {
		return ls[0]
	}
	along := 0.0
	for i := 0; i+1 < len(ls); i++ {
		a, b := ls[i], ls[i+1]
		segLen := planar.Distance(a, b)
		if along+segLen >= d && segLen > 0 {
			t := (d - along) / segLen
			return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
		}
		along += segLen
	}
	return ls[len(ls)-1]
}

type segment struct {
	idx        int
	a, b       orb.Point
	minX, maxX float64
	minY, maxY float64
}

// IsSimple reports whether ls has no self intersections. A closed
// line may touch itself at its shared start and end point.
func IsSimple(ls orb.LineString) bool {
	// Repeated consecutive points don't count as intersections.
	deduped := make(orb.LineString, 0, len(ls))
	for i, p := range ls {
		if i > 0 && p == ls[i-1] {
			continue
		}
		deduped = append(deduped, p)
	}
	ls = deduped

	segs := make([]segment, 0, len(ls))
	for i := 0; i+1 < len(ls); i++ {
		a, b := ls[i], ls[i+1]
		segs = append(segs, segment{
			idx:  i,
			a:    a,
			b:    b,
			minX: math.Min(a[0], b[0]),
			maxX: math.Max(a[0], b[0]),
			minY: math.Min(a[1], b[1]),
			maxY: math.Max(a[1], b[1]),
		})
	}
	if len(segs) < 2 {
		return true
	}

	closed := ls[0] == ls[len(ls)-1]
	last := len(segs) - 1

	// Sweep along x so only segments with overlapping extents are
	// compared.
	sorted := append([]segment{}, segs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].minX < sorted[j].minX
	})

	for i := range sorted {
		s := sorted[i]
		for j := i + 1; j < len(sorted) && sorted[j].minX <= s.maxX; j++ {
			o := sorted[j]
			if o.minY > s.maxY || o.maxY < s.minY {
				continue
			}

			lo, hi := s, o
			if lo.idx > hi.idx {
				lo, hi = hi, lo
			}

			switch {
			case hi.idx == lo.idx+1:
				if overlapsBeyondJoint(lo.a, lo.b, hi.b) {
					return false
				}
			case closed && lo.idx == 0 && hi.idx == last:
				if overlapsBeyondJoint(lo.b, lo.a, hi.a) {
					return false
				}
			default:
				if segmentsIntersect(lo.a, lo.b, hi.a, hi.b) {
					return false
				}
			}
		}
	}

	return true
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func withinBox(a, b, p orb.Point) bool {
	return p[0] >= math.Min(a[0], b[0]) && p[0] <= math.Max(a[0], b[0]) &&
		p[1] >= math.Min(a[1], b[1]) && p[1] <= math.Max(a[1], b[1])
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if d1 == 0 && withinBox(q1, q2, p1) {
		return true
	}
	if d2 == 0 && withinBox(q1, q2, p2) {
		return true
	}
	if d3 == 0 && withinBox(p1, p2, q1) {
		return true
	}
	if d4 == 0 && withinBox(p1, p2, q2) {
		return true
	}
	return false
}

// Segments a->joint and joint->c share joint. They overlap beyond it
// when collinear and c doubles back over a->joint.
func overlapsBeyondJoint(a, joint, c orb.Point) bool {
	if orientation(a, joint, c) != 0 {
		return false
	}
	return (a[0]-joint[0])*(c[0]-joint[0])+(a[1]-joint[1])*(c[1]-joint[1]) > 0
}
