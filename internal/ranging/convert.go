package ranging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
)

// Device log lines, e.g.
//
//	September 15, 2024 > 12:35:19 | SER_IN | Range 0 to 1 : 812.4 m
//	September 15, 2024 > 12:35:49 | SER_IN | Response Not Received
var (
	rangeLine      = regexp.MustCompile(`^(\w+ \d{1,2}, \d{4}) > (\d{2}:\d{2}:\d{2}) \| SER_IN \| Range 0 to 1 : ([\d\.]+) m`)
	noResponseLine = regexp.MustCompile(`^(\w+ \d{1,2}, \d{4}) > (\d{2}:\d{2}:\d{2}) \| SER_IN \| Response Not Received`)
)

const (
	deviceLayout = "January 2, 2006 15:04:05"
	outputLayout = "2006-01-02T15:04:05"
)

// Entry is one ranging line read from a device log.
type Entry struct {
	Time     time.Time
	Distance *float64
	File     string
	Line     int
}

// ParseDeviceLog extracts range and no-response lines from a raw device
// log. Lines matching neither form are ignored.
func ParseDeviceLog(r io.Reader, name string, sink diag.Sink) ([]Entry, error) {
	sink = diag.OrDiscard(sink)
	var entries []Entry
	err := diag.ReadLines(r, name, sink, func(raw []byte, n int) {
		line := string(raw)

		var date, clock, meters string
		if m := rangeLine.FindStringSubmatch(line); m != nil {
			date, clock, meters = m[1], m[2], m[3]
		} else if m := noResponseLine.FindStringSubmatch(line); m != nil {
			date, clock = m[1], m[2]
		} else {
			return
		}

		ts, err := time.Parse(deviceLayout, date+" "+clock)
		if err != nil {
			sink.Report(diag.Event{Kind: diag.InvalidValue, Source: name, Line: n, Raw: line, Field: "timestamp", Detail: err.Error()})
			return
		}
		e := Entry{Time: ts, File: name, Line: n}
		if meters != "" {
			d, err := strconv.ParseFloat(meters, 64)
			if err != nil {
				sink.Report(diag.Event{Kind: diag.InvalidValue, Source: name, Line: n, Raw: line, Field: "distance", Detail: err.Error()})
				return
			}
			e.Distance = &d
		}
		entries = append(entries, e)
	})
	if err != nil {
		return entries, fmt.Errorf("ranging: read %s: %w", name, err)
	}
	return entries, nil
}

// Convert turns device log entries into attempts. The earliest entry marks
// the start of the experiment.
func Convert(entries []Entry) []Attempt {
	if len(entries) == 0 {
		return []Attempt{}
	}

	start := entries[0].Time
	for _, e := range entries[1:] {
		if e.Time.Before(start) {
			start = e.Time
		}
	}

	attempts := make([]Attempt, 0, len(entries))
	for _, e := range entries {
		attempts = append(attempts, Attempt{
			SecondsAfterStart: e.Time.Sub(start).Seconds(),
			Distance:          e.Distance,
			Timestamp:         e.Time.Format(outputLayout),
		})
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].SecondsAfterStart < attempts[j].SecondsAfterStart
	})
	return attempts
}

// ConvertDir parses every *.log file in dir and converts the combined
// entries. Files are read in name order.
func ConvertDir(dir string, sink diag.Sink) ([]Attempt, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil, fmt.Errorf("ranging: %w", err)
	}
	sort.Strings(paths)

	var all []Entry
	for _, path := range paths {
		entries, err := parseDeviceFile(path, sink)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return Convert(all), nil
}

func parseDeviceFile(path string, sink diag.Sink) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ranging: %w", err)
	}
	defer f.Close()
	return ParseDeviceLog(f, filepath.Base(path), sink)
}

// WriteJSON writes attempts as an indented JSON array. Failed attempts are
// written with a null distance.
func WriteJSON(w io.Writer, attempts []Attempt) error {
	if attempts == nil {
		attempts = []Attempt{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(attempts); err != nil {
		return fmt.Errorf("ranging: encode: %w", err)
	}
	return nil
}
