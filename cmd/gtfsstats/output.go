package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

// writeRows writes a slice of csv tagged structs in the selected
// format.
func writeRows(rows any) error {
	w, closeOutput, err := openOutput()
	if err != nil {
		return err
	}

	switch format {
	case "csv":
		err = gocsv.Marshal(rows, w)
	case "json":
		err = writeJSON(w, rows)
	default:
		err = fmt.Errorf("unknown format '%s'", format)
	}
	if err != nil {
		closeOutput()
		return err
	}
	return closeOutput()
}

// writeTable writes rows whose columns are only known at runtime. In
// JSON mode v is encoded instead of the records.
func writeTable(header []string, records [][]string, v any) error {
	w, closeOutput, err := openOutput()
	if err != nil {
		return err
	}

	switch format {
	case "csv":
		err = writeRecords(w, header, records)
	case "json":
		err = writeJSON(w, v)
	default:
		err = fmt.Errorf("unknown format '%s'", format)
	}
	if err != nil {
		closeOutput()
		return err
	}
	return closeOutput()
}

func writeRecords(w io.Writer, header []string, records [][]string) error {
	csvWriter := gocsv.DefaultCSVWriter(w)
	if err := csvWriter.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		if err := csvWriter.Write(rec); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
