package rvr

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/yanet-platform/rvr/iperf"
)

// SummaryFile is the name of the summary table inside the result location.
const SummaryFile = "summary.csv"

var summaryHeader = []string{"repetition", "direction", "client", "server"}

// Row is one line of the summary table. Missing summaries are left blank.
type Row struct {
	Repetition int
	Direction  iperf.Direction
	Client     *float64
	Server     *float64
}

func (m Row) record() []string {
	return []string{
		strconv.Itoa(m.Repetition),
		string(m.Direction),
		cell(m.Client),
		cell(m.Server),
	}
}

func cell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// SummaryTable appends rows to a CSV file, writing the header when the file
// is new.
type SummaryTable struct {
	file   *os.File
	writer *csv.Writer
}

// OpenSummaryTable opens the table at path for appending.
func OpenSummaryTable(path string) (*SummaryTable, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %q: %w", filepath.Dir(path), err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open summary table: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat summary table: %w", err)
	}

	m := &SummaryTable{
		file:   f,
		writer: csv.NewWriter(f),
	}
	if stat.Size() == 0 {
		if err := m.write(summaryHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return m, nil
}

// Append writes the row and flushes it to disk.
func (m *SummaryTable) Append(row Row) error {
	return m.write(row.record())
}

func (m *SummaryTable) write(record []string) error {
	if err := m.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write summary row: %w", err)
	}
	m.writer.Flush()
	if err := m.writer.Error(); err != nil {
		return fmt.Errorf("failed to write summary row: %w", err)
	}
	return nil
}

// Close closes the table.
func (m *SummaryTable) Close() error {
	m.writer.Flush()
	return m.file.Close()
}
