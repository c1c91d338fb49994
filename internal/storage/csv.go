package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mhw-backend/internal/models"
)

// CSVSink appends one row per tick to a CSV file with a fixed column order
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	layout models.RecordLayout
	places int32
}

// NewCSVSink creates (or appends to) path; the header is written only to a new file
func NewCSVSink(path string, layout models.RecordLayout, places int32) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat csv file: %w", err)
	}

	s := &CSVSink{file: f, writer: csv.NewWriter(f), layout: layout, places: places}
	if info.Size() == 0 {
		if err := s.writer.Write(Header(layout)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write csv header: %w", err)
		}
		s.writer.Flush()
	}

	log.Printf("CSV: Writing tick records to %s", path)
	return s, nil
}

// RunFileName names the data file of a run after its start time
func RunFileName(start time.Time) string {
	return start.Format("2006-01-02_15-04-05") + ".csv"
}

// Header returns the column names for a layout
func Header(layout models.RecordLayout) []string {
	header := []string{"timestamp", "run_id", "phase"}
	for _, g := range layout.Groups {
		header = append(header, g+"_set")
	}
	for _, g := range layout.Groups {
		header = append(header, g+"_heater")
	}
	for _, g := range layout.Groups {
		header = append(header, g+"_pid")
	}
	header = append(header, layout.Channels...)
	return header
}

// Row renders a record in layout order; missing values become Missing
func Row(layout models.RecordLayout, rec *models.TickRecord, places int32) []string {
	row := []string{rec.Timestamp.Format(time.DateTime), rec.RunID, rec.Phase}
	for _, g := range layout.Groups {
		row = append(row, lookup(rec.Targets, g, places))
	}
	for _, g := range layout.Groups {
		status, ok := rec.Statuses[g]
		if !ok {
			status = Missing
		}
		row = append(row, status)
	}
	for _, g := range layout.Groups {
		row = append(row, lookup(rec.Outputs, g, places))
	}
	for _, ch := range layout.Channels {
		row = append(row, lookup(rec.ChannelTemps, ch, places))
	}
	return row
}

// Append writes one record and flushes it to disk
func (s *CSVSink) Append(ctx context.Context, rec *models.TickRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Write(Row(s.layout, rec, s.places)); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv row: %w", err)
	}
	return nil
}

// Close flushes and closes the file
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Flush()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close csv file: %w", err)
	}
	return nil
}

func lookup(values map[string]float64, key string, places int32) string {
	v, ok := values[key]
	if !ok {
		return Missing
	}
	return FormatValue(v, places)
}
