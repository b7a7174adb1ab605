package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

type TripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	Headsign    string `csv:"trip_headsign"`
	ShortName   string `csv:"trip_short_name"`
	DirectionID string `csv:"direction_id"`
	ShapeID     string `csv:"shape_id"`
	// BlockID              string `csv:"block_id"`
	// WheelchairAccessible int8   `csv:"wheelchair_accessible"`
	// BikesAllowed         int8   `csv:"bikes_allowed"`
}

func parseDirectionID(s string) (*int8, error) {
	switch s {
	case "":
		return nil, nil
	case "0":
		return model.Int8(0), nil
	case "1":
		return model.Int8(1), nil
	}
	return nil, fmt.Errorf("invalid direction_id '%s'", s)
}

// Returns the set of trip IDs and the set of referenced shape IDs.
//
// A shape_id need not resolve to a shape. Trips on missing shapes
// simply lack geometry.
func ParseTrips(
	writer storage.FeedWriter,
	data io.Reader,
	routes map[string]bool,
	services map[string]bool,
) (map[string]bool, map[string]bool, error) {
	tripCsv := []*TripCSV{}
	if err := gocsv.Unmarshal(data, &tripCsv); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling trips csv: %w", err)
	}

	trips := map[string]bool{}
	shapes := map[string]bool{}
	for _, t := range tripCsv {
		if trips[t.ID] {
			return nil, nil, fmt.Errorf("repeated trip_id '%s'", t.ID)
		}
		trips[t.ID] = true

		if t.ID == "" {
			return nil, nil, fmt.Errorf("empty trip_id")
		}
		if t.RouteID == "" {
			return nil, nil, fmt.Errorf("empty route_id")
		}

		if !routes[t.RouteID] {
			return nil, nil, fmt.Errorf("unknown route_id '%s'", t.RouteID)
		}
		if !services[t.ServiceID] {
			return nil, nil, fmt.Errorf("unknown service_id '%s'", t.ServiceID)
		}

		directionID, err := parseDirectionID(t.DirectionID)
		if err != nil {
			return nil, nil, fmt.Errorf("trip_id '%s': %w", t.ID, err)
		}

		if t.ShapeID != "" {
			shapes[t.ShapeID] = true
		}

		err = writer.WriteTrip(model.Trip{
			ID:          t.ID,
			RouteID:     t.RouteID,
			ServiceID:   t.ServiceID,
			Headsign:    t.Headsign,
			ShortName:   t.ShortName,
			DirectionID: directionID,
			ShapeID:     t.ShapeID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("writing trip: %w", err)
		}
	}

	return trips, shapes, nil
}
