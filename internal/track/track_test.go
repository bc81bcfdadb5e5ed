package track

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
)

var buoySource = Source{Name: "buoy", LatitudeField: "Latitude", LongitudeField: "Longitude"}

var boatSource = Source{Name: "boat", LatitudeField: "phone_latitude", LongitudeField: "phone_longitude"}

func TestLoadJSONLines(t *testing.T) {
	input := strings.Join([]string{
		`{"Latitude": 32.900, "Longitude": -117.300, "timestamp": "t0"}`,
		`{"Latitude": 32.901, "Longitude": -117.299, "timestamp": "t1"}`,
		``,
		`{"Latitude": 32.902, "Longitude": -117.298}`,
	}, "\n")

	c := diag.NewCollector(nil)
	tr, err := Load(strings.NewReader(input), buoySource, c)
	require.NoError(t, err)
	require.Len(t, tr, 3)
	assert.Equal(t, Sample{Latitude: 32.900, Longitude: -117.300, Timestamp: "t0"}, tr[0])
	assert.Equal(t, "t1", tr[1].Timestamp)
	assert.Equal(t, NoTimestamp, tr[2].Timestamp)
	assert.Zero(t, c.Len())
}

func TestLoadRejectsAndReports(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		kind  diag.Kind
		field string
	}{
		{"malformed json", `{"phone_latitude": 32.9,`, diag.MalformedRecord, ""},
		{"missing latitude", `{"phone_longitude": -117.3}`, diag.MissingField, "phone_latitude"},
		{"missing longitude", `{"phone_latitude": 32.9}`, diag.MissingField, "phone_longitude"},
		{"null latitude", `{"phone_latitude": null, "phone_longitude": -117.3}`, diag.InvalidCoordinate, ""},
		{"null longitude", `{"phone_latitude": 32.9, "phone_longitude": null}`, diag.InvalidCoordinate, ""},
		{"latitude out of range", `{"phone_latitude": 91, "phone_longitude": -117.3}`, diag.InvalidCoordinate, ""},
		{"longitude out of range", `{"phone_latitude": 32.9, "phone_longitude": -181}`, diag.InvalidCoordinate, ""},
		{"string coordinate", `{"phone_latitude": "32.9", "phone_longitude": -117.3}`, diag.InvalidCoordinate, "phone_latitude"},
		{"other source naming", `{"Latitude": 32.9, "Longitude": -117.3}`, diag.MissingField, "phone_latitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := diag.NewCollector(nil)
			tr, err := Load(strings.NewReader(tt.line), boatSource, c)
			require.NoError(t, err)
			assert.Empty(t, tr)

			events := c.Events()
			require.Len(t, events, 1)
			assert.Equal(t, tt.kind, events[0].Kind)
			assert.Equal(t, "boat", events[0].Source)
			assert.Equal(t, 1, events[0].Line)
			assert.Equal(t, tt.line, events[0].Raw)
			assert.Equal(t, tt.field, events[0].Field)
		})
	}
}

func TestLoadChecksLongitudeNotLatitudeTwice(t *testing.T) {
	// A predicate that tested the longitude against itself would accept this.
	line := `{"phone_latitude": null, "phone_longitude": -117.3}`
	tr, err := Load(strings.NewReader(line), boatSource, nil)
	require.NoError(t, err)
	assert.Empty(t, tr)
}

func TestLoadAcceptsZeroCoordinates(t *testing.T) {
	tr, err := Load(strings.NewReader(`{"latitude": 0, "longitude": 0, "timestamp": "origin"}`), Source{}, nil)
	require.NoError(t, err)
	require.Len(t, tr, 1)
	assert.Equal(t, Sample{Latitude: 0, Longitude: 0, Timestamp: "origin"}, tr[0])
}

func TestLoadEmptyInput(t *testing.T) {
	tr, err := Load(strings.NewReader(""), buoySource, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr)
	assert.Empty(t, tr)
}

func TestLoadUnknownFormat(t *testing.T) {
	_, err := Load(strings.NewReader(""), Source{Name: "x", Format: "gpx"}, nil)
	assert.ErrorContains(t, err, "unknown format")
}

func TestValidCoordinate(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	assert.True(t, ValidCoordinate(f(0), f(0)))
	assert.True(t, ValidCoordinate(f(-90), f(180)))
	assert.False(t, ValidCoordinate(nil, f(0)))
	assert.False(t, ValidCoordinate(f(0), nil))
	assert.False(t, ValidCoordinate(f(90.0001), f(0)))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "buoy.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"Latitude": 1, "Longitude": 2}`+"\n"), 0o644))
	tr, err := LoadFile(good, buoySource, nil)
	require.NoError(t, err)
	assert.Len(t, tr, 1)

	bad := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json\n{}\n"), 0o644))
	c := diag.NewCollector(nil)
	_, err = LoadFile(bad, buoySource, c)
	assert.ErrorIs(t, err, ErrNoSamples)
	assert.Equal(t, 2, c.Len())

	_, err = LoadFile(filepath.Join(dir, "missing.json"), buoySource, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadNMEA(t *testing.T) {
	input := strings.Join([]string{
		"$GPGGA,123519.00,3251.0000,N,11715.3900,W,1,08,0.9,5.0,M,,M,,*65",
		"$GPRMC,123519.00,A,3251.0000,N,11715.3900,W,0.5,54.7,150924,,,A*75",
		"$GPRMC,123520.00,V,,,,,,,150924,,,N*71",
		"$GPRMC,123519.00,A,3251.0000,N,11715.3900,W,0.5,54.7,150924,,,A*00",
		"$GPRMC,123521.00,A,0000.0000,N,00000.0000,E,0.0,0.0,150924,,,A*53",
		"garbage",
	}, "\n")

	c := diag.NewCollector(nil)
	tr, err := Load(strings.NewReader(input), Source{Name: "logger", Format: FormatNMEA}, c)
	require.NoError(t, err)
	require.Len(t, tr, 2)

	assert.InDelta(t, 32.85, tr[0].Latitude, 1e-9)
	assert.InDelta(t, -117.2565, tr[0].Longitude, 1e-9)
	assert.Equal(t, "2024-09-15T12:35:19Z", tr[0].Timestamp)
	assert.Equal(t, Sample{Latitude: 0, Longitude: 0, Timestamp: "2024-09-15T12:35:21Z"}, tr[1])

	assert.Equal(t, 1, c.Count("logger", diag.InvalidCoordinate))
	assert.Equal(t, 2, c.Count("logger", diag.MalformedRecord))
}

func TestParseNMEACoord(t *testing.T) {
	v, err := parseNMEACoord("4807.038", "N")
	require.NoError(t, err)
	assert.InDelta(t, 48.1173, v, 1e-4)

	v, err = parseNMEACoord("01131.000", "W")
	require.NoError(t, err)
	assert.InDelta(t, -11.516667, v, 1e-6)

	_, err = parseNMEACoord("", "N")
	assert.Error(t, err)
	_, err = parseNMEACoord("4807.038", "Q")
	assert.Error(t, err)
}

func TestLoadSkipsOversizedLine(t *testing.T) {
	huge := `{"phone_latitude": 1, "phone_longitude": 2, "timestamp": "` + strings.Repeat("x", diag.MaxLineBytes) + `"}`
	input := strings.Join([]string{
		`{"phone_latitude": 32.9, "phone_longitude": -117.3}`,
		huge,
		`{"phone_latitude": 32.8, "phone_longitude": -117.2}`,
	}, "\n")

	c := diag.NewCollector(nil)
	tr, err := Load(strings.NewReader(input), boatSource, c)
	require.NoError(t, err)
	require.Len(t, tr, 2)
	assert.Equal(t, 32.8, tr[1].Latitude)

	events := c.Events()
	require.Len(t, events, 1)
	assert.Equal(t, diag.MalformedRecord, events[0].Kind)
	assert.Equal(t, "boat", events[0].Source)
	assert.Equal(t, 2, events[0].Line)
}
