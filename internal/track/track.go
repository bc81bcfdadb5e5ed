// Package track loads GPS position tracks for the boat and the buoy.
//
// A track is an ordered list of accepted samples: index 0 is the first
// accepted fix of the experiment and every later index is one sampling
// interval further on. Rejected lines are reported to a diag.Sink and
// never stored, so a track index always refers to a valid coordinate.
package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
)

// ErrNoSamples is returned by LoadFile when a source yields no usable samples.
var ErrNoSamples = errors.New("track: no usable samples")

// NoTimestamp is stored when a record carries no timestamp field.
const NoTimestamp = "N/A"

// Sample is a single accepted GPS fix.
type Sample struct {
	Latitude  float64 `json:"lat"`       // Decimal degrees, WGS84
	Longitude float64 `json:"lon"`       // Decimal degrees, WGS84
	Timestamp string  `json:"timestamp"` // As logged by the source
}

// Track is an ordered sequence of samples for one platform.
type Track []Sample

// Format selects how a source encodes its records.
type Format string

const (
	FormatJSONLines Format = "jsonl"
	FormatNMEA      Format = "nmea"
)

// Source describes one track input. Field names only apply to JSON lines;
// the GPS logger and the phone use different names for the same values.
type Source struct {
	Name           string `yaml:"name" json:"name"`
	Format         Format `yaml:"format" json:"format"`
	LatitudeField  string `yaml:"latitude_field" json:"latitudeField"`
	LongitudeField string `yaml:"longitude_field" json:"longitudeField"`
	TimestampField string `yaml:"timestamp_field" json:"timestampField"`
}

func (s Source) withDefaults() Source {
	if s.Name == "" {
		s.Name = "track"
	}
	if s.Format == "" {
		s.Format = FormatJSONLines
	}
	if s.LatitudeField == "" {
		s.LatitudeField = "latitude"
	}
	if s.LongitudeField == "" {
		s.LongitudeField = "longitude"
	}
	if s.TimestampField == "" {
		s.TimestampField = "timestamp"
	}
	return s
}

// ValidCoordinate reports whether lat and lon are both present and form a
// WGS84 coordinate. Zero is a valid value for either.
func ValidCoordinate(lat, lon *float64) bool {
	if lat == nil || lon == nil {
		return false
	}
	return inRange(*lat, 90) && inRange(*lon, 180)
}

func inRange(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -limit && v <= limit
}

// Load reads a track from r. Malformed or invalid lines are reported to sink
// and skipped. Empty input yields an empty track and a nil error; the only
// error returned is a read failure on r.
func Load(r io.Reader, src Source, sink diag.Sink) (Track, error) {
	src = src.withDefaults()
	sink = diag.OrDiscard(sink)

	var parse func(line []byte, lineNo int) (Sample, bool)
	switch src.Format {
	case FormatJSONLines:
		parse = func(line []byte, lineNo int) (Sample, bool) {
			return parseJSONLine(line, lineNo, src, sink)
		}
	case FormatNMEA:
		parse = func(line []byte, lineNo int) (Sample, bool) {
			return parseNMEALine(string(line), lineNo, src.Name, sink)
		}
	default:
		return nil, fmt.Errorf("track %s: unknown format %q", src.Name, src.Format)
	}

	t := Track{}
	err := diag.ReadLines(r, src.Name, sink, func(line []byte, lineNo int) {
		if s, ok := parse(line, lineNo); ok {
			t = append(t, s)
		}
	})
	if err != nil {
		return t, fmt.Errorf("track %s: %w", src.Name, err)
	}
	return t, nil
}

// LoadFile opens path and loads it with Load. A file that yields no samples
// returns ErrNoSamples.
func LoadFile(path string, src Source, sink diag.Sink) (Track, error) {
	src = src.withDefaults()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", src.Name, err)
	}
	defer f.Close()

	t, err := Load(f, src, sink)
	if err != nil {
		return nil, err
	}
	if len(t) == 0 {
		return nil, fmt.Errorf("track %s (%s): %w", src.Name, path, ErrNoSamples)
	}
	return t, nil
}

func parseJSONLine(line []byte, lineNo int, src Source, sink diag.Sink) (Sample, bool) {
	reject := func(kind diag.Kind, field, detail string) (Sample, bool) {
		sink.Report(diag.Event{
			Kind:   kind,
			Source: src.Name,
			Line:   lineNo,
			Raw:    string(line),
			Field:  field,
			Detail: detail,
		})
		return Sample{}, false
	}

	var rec map[string]json.RawMessage
	if err := json.Unmarshal(line, &rec); err != nil {
		return reject(diag.MalformedRecord, "", err.Error())
	}

	lat, err := numberField(rec, src.LatitudeField)
	if err != nil {
		return reject(kindOf(err), src.LatitudeField, err.Error())
	}
	lon, err := numberField(rec, src.LongitudeField)
	if err != nil {
		return reject(kindOf(err), src.LongitudeField, err.Error())
	}
	if !ValidCoordinate(lat, lon) {
		return reject(diag.InvalidCoordinate, "", "latitude/longitude null or outside WGS84 range")
	}

	return Sample{
		Latitude:  *lat,
		Longitude: *lon,
		Timestamp: timestampField(rec, src.TimestampField),
	}, true
}

var errMissing = errors.New("field absent")

func kindOf(err error) diag.Kind {
	if errors.Is(err, errMissing) {
		return diag.MissingField
	}
	return diag.InvalidCoordinate
}

// numberField decodes rec[key]. JSON null yields a nil pointer without error,
// so the caller can tell null apart from a missing key and from zero.
func numberField(rec map[string]json.RawMessage, key string) (*float64, error) {
	raw, ok := rec[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, errMissing)
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: not a number: %s", key, raw)
	}
	return v, nil
}

func timestampField(rec map[string]json.RawMessage, key string) string {
	raw, ok := rec[key]
	if !ok || string(raw) == "null" {
		return NoTimestamp
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
