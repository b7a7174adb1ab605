package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// UTM is a transverse Mercator projection for a single UTM zone.
type UTM struct {
	Zone  int
	South bool
}

// UTMForPoint picks the zone holding a lon/lat point.
func UTMForPoint(p orb.Point) UTM {
	lon, lat := p[0], p[1]
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	return UTM{Zone: zone, South: lat < 0}
}

// Points outside the zone are projected onto it all the same, so a
// feed spanning a zone boundary stays in one planar frame.
func (u UTM) transform() wgs84.Func {
	return wgs84.LonLat().To(wgs84.UTM(float64(u.Zone), !u.South))
}

// Forward maps a lon/lat point to easting/northing in meters.
func (u UTM) Forward(p orb.Point) orb.Point {
	x, y, _ := u.transform()(p[0], p[1], 0)
	return orb.Point{x, y}
}

func (u UTM) ForwardLine(ls orb.LineString) orb.LineString {
	forward := u.transform()
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		x, y, _ := forward(p[0], p[1], 0)
		out[i] = orb.Point{x, y}
	}
	return out
}
