// Package ranging loads the acoustic ranging device's attempt log.
//
// Each attempt carries its elapsed time from the start of the experiment
// and, when the counterpart answered, the distance the device measured.
// A failed attempt has no distance at all; it is never stored as zero.
package ranging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
)

// Source is the diagnostic source name for ranging records.
const Source = "ranging"

// NoTimestamp is stored when a record carries no timestamp.
const NoTimestamp = "N/A"

// ErrNoAttempts is returned by LoadFile when a log yields no usable attempts.
var ErrNoAttempts = errors.New("ranging: no usable attempts")

// Attempt is one ranging request.
type Attempt struct {
	SecondsAfterStart float64  `json:"seconds_after_start"`
	Distance          *float64 `json:"distance"` // nil when no response was received
	Timestamp         string   `json:"timestamp"`
}

// Succeeded reports whether the device returned a distance.
func (a Attempt) Succeeded() bool { return a.Distance != nil }

// Meters returns a pointer suitable for Attempt.Distance.
func Meters(v float64) *float64 { return &v }

type record struct {
	SecondsAfterStart *float64        `json:"seconds_after_start"`
	Distance          *float64        `json:"distance"`
	Timestamp         json.RawMessage `json:"timestamp"`
}

// Load reads attempts from r, either as a JSON array or as one JSON object
// per line. Each record is parsed on its own; bad records are reported to
// sink and skipped. The result is ordered by SecondsAfterStart.
func Load(r io.Reader, sink diag.Sink) ([]Attempt, error) {
	sink = diag.OrDiscard(sink)
	br := bufio.NewReader(r)

	first, err := firstByte(br)
	if err == io.EOF {
		return []Attempt{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ranging: %w", err)
	}

	var attempts []Attempt
	if first == '[' {
		attempts, err = loadArray(br, sink)
	} else {
		attempts, err = loadLines(br, sink)
	}
	if err != nil {
		return attempts, err
	}
	return ordered(attempts, sink), nil
}

// LoadFile opens path and loads it with Load. A log that yields no attempts
// returns ErrNoAttempts.
func LoadFile(path string, sink diag.Sink) ([]Attempt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ranging: %w", err)
	}
	defer f.Close()

	attempts, err := Load(f, sink)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("ranging (%s): %w", path, ErrNoAttempts)
	}
	return attempts, nil
}

func firstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !isSpace(b) {
			return b, br.UnreadByte()
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func loadArray(r io.Reader, sink diag.Sink) ([]Attempt, error) {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("ranging: %w", err)
	}

	attempts := []Attempt{}
	for n := 1; dec.More(); n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// The stream cannot be resynchronised after a syntax error.
			sink.Report(diag.Event{
				Kind:   diag.MalformedRecord,
				Source: Source,
				Line:   n,
				Detail: "array stream broken, remaining records dropped: " + err.Error(),
			})
			return attempts, nil
		}
		if a, ok := parseRecord(raw, n, sink); ok {
			attempts = append(attempts, a)
		}
	}
	if _, err := dec.Token(); err != nil {
		sink.Report(diag.Event{
			Kind:   diag.MalformedRecord,
			Source: Source,
			Detail: "array not terminated: " + err.Error(),
		})
		return attempts, nil
	}
	if trailing(dec, r) {
		sink.Report(diag.Event{
			Kind:   diag.MalformedRecord,
			Source: Source,
			Detail: "content after the closing bracket ignored",
		})
	}
	return attempts, nil
}

// trailing reports whether anything but whitespace follows the value dec
// just finished reading from r.
func trailing(dec *json.Decoder, r io.Reader) bool {
	_, err := firstByte(bufio.NewReader(io.MultiReader(dec.Buffered(), r)))
	return err == nil
}

func loadLines(r io.Reader, sink diag.Sink) ([]Attempt, error) {
	attempts := []Attempt{}
	err := diag.ReadLines(r, Source, sink, func(line []byte, n int) {
		if a, ok := parseRecord(line, n, sink); ok {
			attempts = append(attempts, a)
		}
	})
	if err != nil {
		return attempts, fmt.Errorf("ranging: %w", err)
	}
	return attempts, nil
}

// parseRecord decodes one attempt. n is the record's 1-based position, the
// array element number or the line number.
func parseRecord(raw []byte, n int, sink diag.Sink) (Attempt, bool) {
	reject := func(kind diag.Kind, field, detail string) (Attempt, bool) {
		sink.Report(diag.Event{
			Kind:   kind,
			Source: Source,
			Line:   n,
			Raw:    string(raw),
			Field:  field,
			Detail: detail,
		})
		return Attempt{}, false
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return reject(diag.MalformedRecord, "", err.Error())
	}
	if rec.SecondsAfterStart == nil {
		return reject(diag.MissingField, "seconds_after_start", "required")
	}
	secs := *rec.SecondsAfterStart
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return reject(diag.InvalidValue, "seconds_after_start", fmt.Sprintf("%g is not a non-negative elapsed time", secs))
	}
	if rec.Distance != nil && (*rec.Distance < 0 || math.IsNaN(*rec.Distance) || math.IsInf(*rec.Distance, 0)) {
		return reject(diag.InvalidValue, "distance", fmt.Sprintf("%g is not a distance", *rec.Distance))
	}

	return Attempt{
		SecondsAfterStart: secs,
		Distance:          rec.Distance,
		Timestamp:         timestamp(rec.Timestamp),
	}, true
}

func timestamp(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return NoTimestamp
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// ordered returns attempts sorted by SecondsAfterStart, reporting once if
// the input was not already in that order.
func ordered(attempts []Attempt, sink diag.Sink) []Attempt {
	less := func(i, j int) bool { return attempts[i].SecondsAfterStart < attempts[j].SecondsAfterStart }
	if sort.SliceIsSorted(attempts, less) {
		return attempts
	}
	sink.Report(diag.Event{
		Kind:   diag.Unordered,
		Source: Source,
		Detail: fmt.Sprintf("%d attempts not sorted by seconds_after_start", len(attempts)),
	})
	sort.SliceStable(attempts, less)
	return attempts
}
