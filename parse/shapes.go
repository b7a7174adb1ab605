package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

type ShapeCSV struct {
	ID           string  `csv:"shape_id"`
	Lat          float64 `csv:"shape_pt_lat"`
	Lon          float64 `csv:"shape_pt_lon"`
	Sequence     uint32  `csv:"shape_pt_sequence"`
	DistTraveled string  `csv:"shape_dist_traveled"`
}

// Returns the set of shape IDs.
func ParseShapes(writer storage.FeedWriter, data io.Reader) (map[string]bool, error) {
	shapes := map[string]bool{}
	seqs := map[string]map[uint32]bool{}

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(s *ShapeCSV) error {
		i += 1
		if s.ID == "" {
			return fmt.Errorf("empty shape_id (row %d)", i+1)
		}
		if s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
			return fmt.Errorf("shape_id '%s' has invalid coordinates (row %d)", s.ID, i+1)
		}

		seen, found := seqs[s.ID]
		if !found {
			seen = map[uint32]bool{}
			seqs[s.ID] = seen
		}
		if seen[s.Sequence] {
			return fmt.Errorf("duplicate shape_pt_sequence %d for shape_id '%s'", s.Sequence, s.ID)
		}
		seen[s.Sequence] = true
		shapes[s.ID] = true

		dist, err := parseOptionalFloat(s.DistTraveled)
		if err != nil {
			return errors.Wrapf(err, "parsing shape_dist_traveled (row %d)", i+1)
		}

		err = writer.WriteShapePoint(model.ShapePoint{
			ShapeID:      s.ID,
			Lat:          s.Lat,
			Lon:          s.Lon,
			Sequence:     s.Sequence,
			DistTraveled: dist,
		})
		if err != nil {
			return errors.Wrapf(err, "writing shape point (row %d)", i+1)
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling shapes csv")
	}

	return shapes, nil
}
