package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

type StopCSV struct {
	ID            string  `csv:"stop_id"`
	Code          string  `csv:"stop_code"`
	Name          string  `csv:"stop_name"`
	Desc          string  `csv:"stop_desc"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	URL           string  `csv:"stop_url"`
	LocationType  int8    `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
	PlatformCode  string  `csv:"platform_code"`
}

// Name and position are optional for generic nodes and boarding
// areas, and required for everything else.
func (st *StopCSV) validate() error {
	if st.ID == "" {
		return fmt.Errorf("empty stop_id")
	}

	locationType := model.LocationType(st.LocationType)
	if locationType < model.LocationTypeStop || locationType > model.LocationTypeBoardingArea {
		return fmt.Errorf("invalid location_type %d for stop_id '%s'", st.LocationType, st.ID)
	}
	if locationType == model.LocationTypeGenericNode || locationType == model.LocationTypeBoardingArea {
		return nil
	}

	if st.Name == "" {
		return fmt.Errorf("empty stop_name for stop_id '%s'", st.ID)
	}
	if st.Lat == 0 || st.Lon == 0 {
		return fmt.Errorf("empty stop_lat or stop_lon for stop_id '%s'", st.ID)
	}
	if st.Lat < -90 || st.Lat > 90 || st.Lon < -180 || st.Lon > 180 {
		return fmt.Errorf("stop_id '%s' is out of bounds (%f, %f)", st.ID, st.Lat, st.Lon)
	}

	return nil
}

func ParseStops(writer storage.FeedWriter, data io.Reader) (map[string]bool, error) {
	stopIDs := map[string]bool{}
	parentRef := map[string]string{}

	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(st *StopCSV) error {
		row++

		if stopIDs[st.ID] {
			return fmt.Errorf("repeated stop_id '%s'", st.ID)
		}
		stopIDs[st.ID] = true

		if err := st.validate(); err != nil {
			return errors.Wrapf(err, "row %d", row)
		}

		if st.ParentStation != "" {
			parentRef[st.ID] = st.ParentStation
		}

		err := writer.WriteStop(model.Stop{
			ID:            st.ID,
			Code:          st.Code,
			Name:          st.Name,
			Desc:          st.Desc,
			Lat:           st.Lat,
			Lon:           st.Lon,
			URL:           st.URL,
			LocationType:  model.LocationType(st.LocationType),
			ParentStation: st.ParentStation,
			PlatformCode:  st.PlatformCode,
		})
		if err != nil {
			return errors.Wrapf(err, "writing stop '%s'", st.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Parents may come after their children in the file.
	for stopID, parentID := range parentRef {
		if !stopIDs[parentID] {
			return nil, fmt.Errorf("stop '%s' references unknown parent_station '%s'", stopID, parentID)
		}
	}

	return stopIDs, nil
}
