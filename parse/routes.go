package parse

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

type RouteCSV struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Desc      string `csv:"route_desc"`
	Type      string `csv:"route_type"`
	URL       string `csv:"route_url"`
	Color     string `csv:"route_color"`
	TextColor string `csv:"route_text_color"`
}

// Basic GTFS route types, plus the extended (Hierarchical Vehicle
// Type) range used by many European feeds.
func legalRouteType(t model.RouteType) bool {
	switch {
	case t >= model.RouteTypeTram && t <= model.RouteTypeFunicular:
		return true
	case t == model.RouteTypeTrolleybus || t == model.RouteTypeMonorail:
		return true
	case t >= 100 && t < 1800:
		return true
	}
	return false
}

// Colors default to white on black text, per the GTFS reference.
func parseRouteColor(color string, def string) (string, error) {
	if color == "" {
		return def, nil
	}
	if len(color) != 6 {
		return "", fmt.Errorf("'%s' is not 6 hex digits", color)
	}
	if _, err := hex.DecodeString(color); err != nil {
		return "", fmt.Errorf("'%s' is not 6 hex digits", color)
	}
	return color, nil
}

func (r *RouteCSV) validate(agencies *Agencies) (model.RouteType, error) {
	if r.ID == "" {
		return 0, fmt.Errorf("route has no route_id")
	}

	// If multiple agencies, agency_id is required
	if len(agencies.IDs) > 1 && r.AgencyID == "" {
		return 0, fmt.Errorf("route_id '%s' has no agency_id", r.ID)
	}
	if r.AgencyID != "" && !agencies.IDs[r.AgencyID] {
		return 0, fmt.Errorf("unknown agency_id: '%s'", r.AgencyID)
	}

	if r.ShortName == "" && r.LongName == "" {
		return 0, fmt.Errorf("route_id '%s' has no short_name or long_name", r.ID)
	}

	if r.Type == "" {
		return 0, fmt.Errorf("route_id '%s' has no route_type", r.ID)
	}
	n, err := strconv.Atoi(r.Type)
	if err != nil {
		return 0, errors.Wrapf(err, "route_id '%s' has invalid route_type", r.ID)
	}
	routeType := model.RouteType(n)
	if !legalRouteType(routeType) {
		return 0, fmt.Errorf("route_id '%s' has invalid route_type: %d", r.ID, n)
	}

	return routeType, nil
}

func ParseRoutes(writer storage.FeedWriter, data io.Reader, agencies *Agencies) (map[string]bool, error) {
	routes := map[string]bool{}

	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(r *RouteCSV) error {
		row++

		if routes[r.ID] {
			return fmt.Errorf("repeated route_id: '%s'", r.ID)
		}
		routes[r.ID] = true

		routeType, err := r.validate(agencies)
		if err != nil {
			return errors.Wrapf(err, "row %d", row)
		}

		color, err := parseRouteColor(r.Color, "FFFFFF")
		if err != nil {
			return errors.Wrapf(err, "route_id '%s' has invalid route_color", r.ID)
		}
		textColor, err := parseRouteColor(r.TextColor, "000000")
		if err != nil {
			return errors.Wrapf(err, "route_id '%s' has invalid route_text_color", r.ID)
		}

		err = writer.WriteRoute(model.Route{
			ID:        r.ID,
			AgencyID:  r.AgencyID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Desc:      r.Desc,
			Type:      routeType,
			URL:       r.URL,
			Color:     color,
			TextColor: textColor,
		})
		if err != nil {
			return errors.Wrapf(err, "writing route '%s'", r.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return routes, nil
}
