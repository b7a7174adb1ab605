package geometry

import (
	"github.com/paulmach/orb"
	"github.com/twpayne/go-polyline"
)

// EncodePolyline encodes a lon/lat line as a Google encoded
// polyline. Consecutive duplicate points are dropped.
func EncodePolyline(ls orb.LineString) string {
	coords := make([][]float64, 0, len(ls))
	for i, p := range ls {
		if i > 0 && p == ls[i-1] {
			continue
		}
		coords = append(coords, []float64{p[1], p[0]})
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePolyline is the inverse of EncodePolyline.
func DecodePolyline(s string) (orb.LineString, error) {
	coords, _, err := polyline.DecodeCoords([]byte(s))
	if err != nil {
		return nil, err
	}
	ls := make(orb.LineString, len(coords))
	for i, c := range coords {
		ls[i] = orb.Point{c[1], c[0]}
	}
	return ls, nil
}
