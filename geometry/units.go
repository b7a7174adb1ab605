package geometry

import (
	"fmt"
)

// Unit is a distance unit for reported distances.
type Unit string

const (
	Meters     Unit = "m"
	Kilometers Unit = "km"
	Miles      Unit = "mi"
	Feet       Unit = "ft"
)

var metersPerUnit = map[Unit]float64{
	Meters:     1,
	Kilometers: 1000,
	Miles:      1609.344,
	Feet:       0.3048,
}

func ParseUnit(s string) (Unit, error) {
	u := Unit(s)
	if _, ok := metersPerUnit[u]; !ok {
		return "", fmt.Errorf("unknown distance unit '%s'", s)
	}
	return u, nil
}

func (u Unit) FromMeters(m float64) float64 {
	return m / metersPerUnit[u]
}

func (u Unit) ToMeters(v float64) float64 {
	return v * metersPerUnit[u]
}

// Convert converts v from one unit to another.
func Convert(v float64, from, to Unit) float64 {
	return to.FromMeters(from.ToMeters(v))
}
