// Package export writes a run's observations and diagnostics to CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
)

// Output file names inside Writer.Dir.
const (
	ObservationsFile = "observations.csv"
	DiagnosticsFile  = "diagnostics.csv"
	SummaryFile      = "summary.json"
)

var observationHeader = []string{
	"seconds_after_start", "timestamp", "status",
	"reported_m", "calculated_m", "signed_error_m", "absolute_error_m",
	"boat_index", "boat_lat", "boat_lon",
	"buoy_index", "buoy_lat", "buoy_lon",
}

var diagnosticHeader = []string{
	"source", "kind", "line", "field", "index", "length", "seconds", "detail", "raw",
}

// WriteObservations writes one row per aligned attempt, failures included.
// Error columns are empty for failed attempts.
func WriteObservations(w io.Writer, res *analysis.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(observationHeader); err != nil {
		return err
	}
	for _, o := range res.Observations {
		if err := cw.Write(observationRow(o)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDiagnostics writes one row per diagnostic event in report order.
func WriteDiagnostics(w io.Writer, events []diag.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(diagnosticHeader); err != nil {
		return err
	}
	for _, e := range events {
		row := make([]string, len(diagnosticHeader))
		row[0] = e.Source
		row[1] = string(e.Kind)
		row[2] = optionalInt(e.Line, e.Line > 0)
		row[3] = e.Field
		alignment := e.Kind == diag.AlignmentOutOfRange
		row[4] = optionalInt(e.Index, alignment)
		row[5] = optionalInt(e.Length, alignment)
		if alignment {
			row[6] = formatFloat(e.Seconds, 3)
		}
		row[7] = e.Detail
		row[8] = e.Raw
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func observationRow(o analysis.Observation) []string {
	row := make([]string, len(observationHeader))

	row[0] = formatFloat(o.SecondsAfterStart, 3)
	row[1] = o.Timestamp
	row[2] = "ok"
	if o.Failed() {
		row[2] = "no_response"
	}
	if signed, ok := o.SignedError(); ok {
		row[3] = formatFloat(*o.Distance, 3)
		row[5] = formatFloat(signed, 3)
		row[6] = formatFloat(math.Abs(signed), 3)
	}
	row[4] = formatFloat(o.CalculatedDistance, 3)
	row[7] = strconv.Itoa(o.BoatIndex)
	row[8] = formatFloat(o.Boat.Latitude, 6)
	row[9] = formatFloat(o.Boat.Longitude, 6)
	row[10] = strconv.Itoa(o.BuoyIndex)
	row[11] = formatFloat(o.Buoy.Latitude, 6)
	row[12] = formatFloat(o.Buoy.Longitude, 6)

	return row
}

func formatFloat(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }

func optionalInt(v int, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.Itoa(v)
}

// Writer writes a run's files into Dir.
type Writer struct {
	Dir string
}

// WriteRun writes the observation and diagnostic CSVs and, when the run
// has successful comparisons, a JSON summary. It returns the paths written.
func (w Writer) WriteRun(res *analysis.Result, events []diag.Event) ([]string, error) {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return nil, fmt.Errorf("export: mkdir %s: %w", w.Dir, err)
	}

	var written []string
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{ObservationsFile, func(f io.Writer) error { return WriteObservations(f, res) }},
		{DiagnosticsFile, func(f io.Writer) error { return WriteDiagnostics(f, events) }},
	}
	for _, file := range files {
		path, err := w.create(file.name, file.write)
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}

	summary, err := res.Summary()
	if errors.Is(err, analysis.ErrEmptyAggregate) {
		return written, nil
	}
	if err != nil {
		return written, err
	}
	path, err := w.create(SummaryFile, func(f io.Writer) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Rates   analysis.Rates   `json:"rates"`
			Summary analysis.Summary `json:"summary"`
		}{res.Rates, summary})
	})
	if err != nil {
		return written, err
	}
	return append(written, path), nil
}

func (w Writer) create(name string, write func(io.Writer) error) (string, error) {
	path := filepath.Join(w.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return "", fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("export: close %s: %w", path, err)
	}
	return path, nil
}
