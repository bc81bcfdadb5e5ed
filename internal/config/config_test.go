package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
	"github.com/SIOJaffeLab/LogProcessor/internal/track"
)

const runYAML = `
boat:
  path: logs/resampled_boat_gps_data.json
buoy:
  path: logs/resampled_buoy_gps_data.json
ranging:
  path: logs/pi_runs.json
alignment:
  boat_rate: 2.0
  buoy_rate: 1.6
output:
  dir: out
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, runYAML), nil)
	require.NoError(t, err)

	assert.Equal(t, "logs/resampled_boat_gps_data.json", cfg.Boat.Path)
	assert.Equal(t, "phone_latitude", cfg.Boat.LatitudeField)
	assert.Equal(t, "Longitude", cfg.Buoy.LongitudeField)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.True(t, cfg.Output.Plots)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, analysis.Rates{Boat: 2.0, Buoy: 1.6}, cfg.Rates())
}

func TestLoadRequiresRates(t *testing.T) {
	body := `
boat: {path: boat.json}
buoy: {path: buoy.json}
ranging: {path: pi_runs.json}
`
	_, err := Load(writeConfig(t, body), nil)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "BoatRate")
	assert.Contains(t, err.Error(), "BuoyRate")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		field string
	}{
		{"negative rate", "alignment: {boat_rate: -2, buoy_rate: 1.6}", "BoatRate"},
		{"unknown format", "alignment: {boat_rate: 2, buoy_rate: 1.6}\nbuoy: {path: b.json, format: csv}", "Format"},
		{"log level", "alignment: {boat_rate: 2, buoy_rate: 1.6}\nlogging: {level: loud}", "Level"},
	}
	base := "boat: {path: boat.json}\nranging: {path: pi_runs.json}\n"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := base + tt.extra
			if tt.field != "Format" {
				body += "\nbuoy: {path: buoy.json}"
			}
			_, err := Load(writeConfig(t, body), nil)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("BOAT_TRACK", "/data/boat.json")
	t.Setenv("BUOY_TRACK", "/data/buoy.json")
	t.Setenv("RANGING_LOG", "/data/pi_runs.json")
	t.Setenv("BOAT_RATE", "2.1")
	t.Setenv("BUOY_RATE", "1.8")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, "/data/boat.json", cfg.Boat.Path)
	assert.Equal(t, "/data/pi_runs.json", cfg.Ranging.Path)
	assert.Equal(t, analysis.Rates{Boat: 2.1, Buoy: 1.8}, cfg.Rates())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("BOAT_RATE", "2.5")
	t.Setenv("BUOY_RATE", "not-a-number")

	cfg, err := Load(writeConfig(t, runYAML), nil)
	require.NoError(t, err)
	assert.Equal(t, analysis.Rates{Boat: 2.5, Buoy: 1.6}, cfg.Rates())
}

func TestDotEnvBesideConfig(t *testing.T) {
	path := writeConfig(t, runYAML)
	dotenv := "# deployment\nOUTPUT_DIR=\"/srv/out\"\nBROKEN LINE\n"
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte(dotenv), 0o644))
	// Registered so the value set by the .env loader is cleared afterwards.
	t.Setenv("OUTPUT_DIR", "")
	require.NoError(t, os.Unsetenv("OUTPUT_DIR"))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/srv/out", cfg.Output.Dir)
}

func TestParseError(t *testing.T) {
	_, err := Load(writeConfig(t, "boat: [unclosed"), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestTrackSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buoy.Format = track.FormatNMEA
	src := cfg.Buoy.Source("buoy")
	assert.Equal(t, track.Source{
		Name:           "buoy",
		Format:         track.FormatNMEA,
		LatitudeField:  "Latitude",
		LongitudeField: "Longitude",
		TimestampField: "timestamp",
	}, src)
}

func TestUpdateFromJSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, runYAML), nil)
	require.NoError(t, err)

	require.NoError(t, cfg.UpdateFromJSON([]byte(`{"alignment": {"boatRate": 2.1}}`)))
	assert.Equal(t, analysis.Rates{Boat: 2.1, Buoy: 1.6}, cfg.Rates())
	// untouched sections survive the merge
	assert.Equal(t, "logs/pi_runs.json", cfg.Ranging.Path)
	assert.Equal(t, "phone_latitude", cfg.Boat.LatitudeField)
}

func TestUpdateFromJSONRejectsInvalid(t *testing.T) {
	cfg, err := Load(writeConfig(t, runYAML), nil)
	require.NoError(t, err)

	err = cfg.UpdateFromJSON([]byte(`{"alignment": {"boatRate": 0}}`))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 2.0, cfg.Rates().Boat)

	assert.Error(t, cfg.UpdateFromJSON([]byte(`{not json`)))
}

func TestSaveAndReload(t *testing.T) {
	path := writeConfig(t, runYAML)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.UpdateFromJSON([]byte(`{"alignment": {"buoyRate": 1.75}}`)))
	require.NoError(t, cfg.Save())

	again, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, analysis.Rates{Boat: 2.0, Buoy: 1.75}, again.Rates())
}

func TestToJSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, runYAML), nil)
	require.NoError(t, err)
	data, err := cfg.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"boatRate":2`)
	assert.Contains(t, string(data), `"listenAddr":":8080"`)
}
