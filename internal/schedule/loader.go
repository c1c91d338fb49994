package schedule

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"mhw-backend/internal/models"
)

// DefaultColumns is the value column order of the event profile files
var DefaultColumns = []string{"severe", "extreme", "chill"}

// LoadOptions controls how a profile file is interpreted
type LoadOptions struct {
	// Columns names the value columns after the datetime column, in file order
	Columns []string

	// Shift moves every timestamp, e.g. to replay a historical year
	Shift time.Duration

	// Location is used for timestamps without a zone (default time.Local)
	Location *time.Location
}

// ShiftDays converts a possibly fractional number of days into a Duration
func ShiftDays(days float64) time.Duration {
	return time.Duration(days * float64(24*time.Hour))
}

// timestamp layouts accepted in profile files
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"2006-01-02",
}

// LoadProfile reads a profile from a .csv or .xlsx file
func LoadProfile(path string, opts LoadOptions) (*Profile, error) {
	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path)
	default:
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, &models.ProfileLookupFailure{Source: path, Reason: "failed to open profile", Err: err}
		}
		defer f.Close()
		rows, err = readCSV(f)
	}
	if err != nil {
		return nil, &models.ProfileLookupFailure{Source: path, Reason: "failed to read profile", Err: err}
	}

	return parseRows(path, rows, opts)
}

// ParseProfileCSV reads a CSV profile from r
func ParseProfileCSV(source string, r io.Reader, opts LoadOptions) (*Profile, error) {
	rows, err := readCSV(r)
	if err != nil {
		return nil, &models.ProfileLookupFailure{Source: source, Reason: "failed to read profile", Err: err}
	}
	return parseRows(source, rows, opts)
}

// readCSV returns all records of a CSV stream
func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader.ReadAll()
}

// readXLSX returns the rows of the first sheet of a workbook
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// parseRows skips the header row and converts the remaining rows to entries
func parseRows(source string, rows [][]string, opts LoadOptions) (*Profile, error) {
	columns := opts.Columns
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	if len(rows) > 0 {
		rows = rows[1:]
	}

	entries := make([]Entry, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		if isBlank(row) {
			continue
		}
		if len(row) < len(columns)+1 {
			return nil, &models.ProfileLookupFailure{
				Source: source,
				Reason: fmt.Sprintf("line %d: expected %d columns, got %d", line, len(columns)+1, len(row)),
			}
		}

		ts, err := ParseTimestamp(row[0], loc)
		if err != nil {
			return nil, &models.ProfileLookupFailure{Source: source, Reason: fmt.Sprintf("line %d", line), Err: err}
		}

		entry := Entry{Timestamp: ts.Add(opts.Shift), Values: make(map[string]float64, len(columns))}
		for c, name := range columns {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[c+1]), 64)
			if err != nil {
				return nil, &models.ProfileLookupFailure{
					Source: source,
					Reason: fmt.Sprintf("line %d: column %s", line, name),
					Err:    err,
				}
			}
			entry.Values[name] = v
		}
		entries = append(entries, entry)
	}

	return NewProfile(source, columns, entries)
}

// ParseTimestamp parses a profile timestamp and keeps its wall clock in loc.
// Zone information in the file is dropped.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
