// Package feeder supplies per-iteration data rows loaded from CSV or JSON
// files and expands {{field}} placeholders with them.
package feeder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// Record is one dataset row keyed by column name.
type Record map[string]string

// ErrExhausted is returned by a one-pass dataset once every row is used.
var ErrExhausted = errors.New("feeder exhausted: every row has been used")

// Dataset is an immutable list of rows. Rows are picked by iteration ID,
// so concurrent iterations share no cursor.
type Dataset struct {
	records []Record
	once    bool
}

// New wraps records. With once set, Row fails after len(records) IDs
// instead of wrapping around.
func New(records []Record, once bool) (*Dataset, error) {
	if len(records) == 0 {
		return nil, errors.New("feeder dataset has no rows")
	}
	return &Dataset{records: records, once: once}, nil
}

// Load reads a CSV or JSON file.
func Load(path, fileType string, once bool) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feeder file: %w", err)
	}
	defer f.Close()

	var records []Record
	switch strings.ToLower(fileType) {
	case "csv":
		records, err = ReadCSV(f)
	case "json":
		records, err = ReadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported feeder type %q", fileType)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(records, once)
}

// Len is the number of rows.
func (d *Dataset) Len() int { return len(d.records) }

// Row returns the record for the iteration with the given ID. IDs start
// at 1.
func (d *Dataset) Row(id int64) (Record, error) {
	idx := id - 1
	if idx < 0 {
		idx = 0
	}
	n := int64(len(d.records))
	if d.once && idx >= n {
		return nil, ErrExhausted
	}
	return d.records[idx%n], nil
}

// ReadCSV treats the first row as the header.
func ReadCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("CSV must have a header row and at least one data row")
	}

	header := rows[0]
	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i+2, len(row), len(header))
		}
		record := make(Record, len(header))
		for j, field := range header {
			record[strings.TrimSpace(field)] = row[j]
		}
		records = append(records, record)
	}
	return records, nil
}

// ReadJSON expects an array of objects. Scalar values keep their JSON text
// (numbers are not reformatted); nested values are kept as raw JSON.
func ReadJSON(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read JSON: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, errors.New("JSON feeder must be an array of objects")
	}

	var records []Record
	var rowErr error
	root.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			rowErr = fmt.Errorf("record %d is not an object", len(records))
			return false
		}
		record := Record{}
		item.ForEach(func(key, value gjson.Result) bool {
			record[key.String()] = value.String()
			return true
		})
		if len(record) == 0 {
			rowErr = fmt.Errorf("record %d is empty", len(records))
			return false
		}
		records = append(records, record)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	if len(records) == 0 {
		return nil, errors.New("JSON feeder contains an empty array")
	}
	return records, nil
}
