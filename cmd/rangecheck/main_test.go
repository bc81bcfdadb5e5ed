package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
	"github.com/SIOJaffeLab/LogProcessor/internal/export"
	"github.com/SIOJaffeLab/LogProcessor/internal/plotting"
	"github.com/SIOJaffeLab/LogProcessor/internal/ranging"
)

const deviceLog = `September 15, 2024 > 12:00:00 | SER_IN | Range 0 to 1 : 1110.0 m
September 15, 2024 > 12:00:02 | SER_IN | Response Not Received
September 15, 2024 > 12:00:04 | SER_IN | Range 0 to 1 : 1065.5 m
`

// fixture writes boat and buoy tracks, a device log directory and a run
// config into a temp dir and returns the dir.
func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var boat, buoy bytes.Buffer
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&boat, `{"phone_latitude": %.6f, "phone_longitude": -117.25, "timestamp": "b%d"}`+"\n", 32.85+float64(i)*0.0001, i)
		fmt.Fprintf(&buoy, `{"Latitude": 32.86, "Longitude": -117.25, "timestamp": "u%d"}`+"\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boat.json"), boat.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "buoy.json"), buoy.Bytes(), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pi_runs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pi_runs", "run1.log"), []byte(deviceLog), 0o644))

	cfg := fmt.Sprintf(`
boat: {path: %[1]s/boat.json}
buoy: {path: %[1]s/buoy.json}
ranging: {path: %[1]s/pi_runs.json}
alignment: {boat_rate: 1.0, buoy_rate: 1.0}
output: {dir: %[1]s/out}
logging: {format: json}
`, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.yaml"), []byte(cfg), 0o644))
	return dir
}

func TestConvertThenAnalyze(t *testing.T) {
	dir := fixture(t)
	var out bytes.Buffer

	err := run(context.Background(), []string{"convert",
		"-logs", filepath.Join(dir, "pi_runs"),
		"-out", filepath.Join(dir, "pi_runs.json"),
	}, &out)
	require.NoError(t, err)

	attempts, err := ranging.LoadFile(filepath.Join(dir, "pi_runs.json"), nil)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, 4.0, attempts[2].SecondsAfterStart)

	err = run(context.Background(), []string{"analyze", "-config", filepath.Join(dir, "run.yaml")}, &out)
	require.NoError(t, err, out.String())

	for _, name := range []string{export.ObservationsFile, export.DiagnosticsFile, export.SummaryFile, plotting.ComparisonFile} {
		_, err := os.Stat(filepath.Join(dir, "out", name))
		assert.NoError(t, err, name)
	}
	assert.Contains(t, out.String(), `"msg":"summary"`)
}

func TestAnalyzeEmptyAggregate(t *testing.T) {
	dir := fixture(t)
	only := `[{"seconds_after_start": 0, "distance": null, "timestamp": "t0"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pi_runs.json"), []byte(only), 0o644))

	var out bytes.Buffer
	err := run(context.Background(), []string{"analyze", "-config", filepath.Join(dir, "run.yaml")}, &out)
	assert.ErrorIs(t, err, analysis.ErrEmptyAggregate)

	_, statErr := os.Stat(filepath.Join(dir, "out", export.ObservationsFile))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(dir, "out", plotting.ComparisonFile))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestAnalyzeMissingInput(t *testing.T) {
	dir := fixture(t)
	var out bytes.Buffer
	err := run(context.Background(), []string{"analyze", "-config", filepath.Join(dir, "run.yaml")}, &out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), []string{"plot"}, &out))
	assert.Error(t, run(context.Background(), nil, &out))
	assert.Contains(t, out.String(), "usage: rangecheck")
}
