package parse

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/gtfsstats/model"
	"tidbyt.dev/gtfsstats/storage"
)

type AgencyCSV struct {
	ID       string `csv:"agency_id"`
	Name     string `csv:"agency_name"`
	URL      string `csv:"agency_url"`
	Timezone string `csv:"agency_timezone"`
}

// Agencies is what later files need to know about agency.txt.
type Agencies struct {
	IDs      map[string]bool
	Timezone string
}

func ParseAgency(writer storage.FeedWriter, data io.Reader) (*Agencies, error) {
	agencies := &Agencies{IDs: map[string]bool{}}

	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(a *AgencyCSV) error {
		row++

		if agencies.IDs[a.ID] {
			return fmt.Errorf("duplicated agency_id: '%s'", a.ID)
		}
		agencies.IDs[a.ID] = true

		if a.Name == "" {
			return errors.Errorf("missing agency_name (row %d)", row)
		}
		if a.URL == "" {
			return errors.Errorf("missing agency_url (row %d)", row)
		}

		// "If multiple agencies are specified in the dataset,
		// each must have the same agency_timezone."
		if a.Timezone == "" {
			return errors.Errorf("missing agency_timezone (row %d)", row)
		}
		if row == 1 {
			if _, err := time.LoadLocation(a.Timezone); err != nil {
				return errors.Wrapf(err, "agency_timezone '%s' is invalid", a.Timezone)
			}
			agencies.Timezone = a.Timezone
		} else if a.Timezone != agencies.Timezone {
			return fmt.Errorf("multiple agency_timezone")
		}

		err := writer.WriteAgency(model.Agency{
			ID:       a.ID,
			Name:     a.Name,
			URL:      a.URL,
			Timezone: a.Timezone,
		})
		if err != nil {
			return errors.Wrapf(err, "writing agency (row %d)", row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if row == 0 {
		return nil, fmt.Errorf("no agency record found")
	}

	return agencies, nil
}
