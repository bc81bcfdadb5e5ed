package track

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
)

// parseNMEALine turns a recommended-minimum ($GPRMC/$GNRMC) sentence from a
// GPS logger into a sample. Other sentence types are ignored without a
// diagnostic since a logger interleaves GGA, GSA, GSV and friends.
func parseNMEALine(line string, lineNo int, source string, sink diag.Sink) (Sample, bool) {
	reject := func(kind diag.Kind, detail string) (Sample, bool) {
		sink.Report(diag.Event{Kind: kind, Source: source, Line: lineNo, Raw: line, Detail: detail})
		return Sample{}, false
	}

	if !strings.HasPrefix(line, "$") {
		return reject(diag.MalformedRecord, "not an NMEA sentence")
	}
	if !strings.HasPrefix(line, "$GPRMC") && !strings.HasPrefix(line, "$GNRMC") {
		return Sample{}, false
	}
	if !validateNMEAChecksum(line) {
		return reject(diag.MalformedRecord, "bad checksum")
	}

	// $GPRMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a*hh
	parts := splitNMEA(line)
	if len(parts) < 10 {
		return reject(diag.MissingField, fmt.Sprintf("RMC has %d fields", len(parts)))
	}
	if parts[2] != "A" {
		return reject(diag.InvalidCoordinate, "void fix")
	}

	lat, err := parseNMEACoord(parts[3], parts[4])
	if err != nil {
		return reject(diag.InvalidCoordinate, err.Error())
	}
	lon, err := parseNMEACoord(parts[5], parts[6])
	if err != nil {
		return reject(diag.InvalidCoordinate, err.Error())
	}
	if !ValidCoordinate(&lat, &lon) {
		return reject(diag.InvalidCoordinate, "outside WGS84 range")
	}

	return Sample{Latitude: lat, Longitude: lon, Timestamp: rmcTimestamp(parts[9], parts[1])}, true
}

// splitNMEA splits a sentence and strips the checksum suffix.
func splitNMEA(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimPrefix(line, "$")
	return strings.Split(line, ",")
}

// parseNMEACoord converts NMEA ddmm.mmmm format to decimal degrees.
func parseNMEACoord(raw, dir string) (float64, error) {
	if raw == "" || dir == "" {
		return 0, fmt.Errorf("empty coordinate")
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("coordinate %q: %w", raw, err)
	}
	deg := math.Floor(val / 100)
	minutes := val - deg*100
	result := deg + minutes/60

	switch dir {
	case "N", "E":
	case "S", "W":
		result = -result
	default:
		return 0, fmt.Errorf("hemisphere %q", dir)
	}
	return result, nil
}

// validateNMEAChecksum checks the XOR checksum after *.
func validateNMEAChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	body := line[1:idx] // Between $ and *
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(expected) == calc
}

// rmcTimestamp combines the RMC date and time fields into RFC 3339. The raw
// time is kept when the pair does not parse.
func rmcTimestamp(date, clock string) string {
	ts, err := time.Parse("020106 150405", date+" "+clock)
	if err != nil {
		return clock
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
