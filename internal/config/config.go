// Package config holds the settings for one reconciliation run.
//
// Settings are layered: DefaultConfig, then the YAML file, then .env files,
// then environment variables. The result is validated before use. The
// alignment rates have no default and must be set for every deployment.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
	"github.com/SIOJaffeLab/LogProcessor/internal/logging"
	"github.com/SIOJaffeLab/LogProcessor/internal/track"
)

const defaultPath = "rangecheck.yaml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

var structValidator = validator.New()

// Config holds all run configuration.
type Config struct {
	mu sync.RWMutex

	// GPS tracks
	Boat TrackConfig `yaml:"boat" json:"boat"`
	Buoy TrackConfig `yaml:"buoy" json:"buoy"`

	// Acoustic ranging log
	Ranging RangingConfig `yaml:"ranging" json:"ranging"`

	// Sample rates used to align attempts to the tracks
	Alignment AlignmentConfig `yaml:"alignment" json:"alignment"`

	Output  OutputConfig  `yaml:"output" json:"output"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Server  ServerConfig  `yaml:"server" json:"server"`

	path string // file path for save/load
}

type TrackConfig struct {
	Path           string       `yaml:"path" json:"path" validate:"required"`
	Format         track.Format `yaml:"format" json:"format" validate:"omitempty,oneof=jsonl nmea"`
	LatitudeField  string       `yaml:"latitude_field" json:"latitudeField"`
	LongitudeField string       `yaml:"longitude_field" json:"longitudeField"`
	TimestampField string       `yaml:"timestamp_field" json:"timestampField"`
}

// Source describes the track file for the loader.
func (t TrackConfig) Source(name string) track.Source {
	return track.Source{
		Name:           name,
		Format:         t.Format,
		LatitudeField:  t.LatitudeField,
		LongitudeField: t.LongitudeField,
		TimestampField: t.TimestampField,
	}
}

type RangingConfig struct {
	Path string `yaml:"path" json:"path" validate:"required"`
}

// AlignmentConfig rates are samples per second of each track.
type AlignmentConfig struct {
	BoatRate float64 `yaml:"boat_rate" json:"boatRate" validate:"required,gt=0"`
	BuoyRate float64 `yaml:"buoy_rate" json:"buoyRate" validate:"required,gt=0"`
}

type OutputConfig struct {
	Dir        string  `yaml:"dir" json:"dir" validate:"required"`
	Plots      bool    `yaml:"plots" json:"plots"`
	CSV        bool    `yaml:"csv" json:"csv"`
	PlotWidth  float64 `yaml:"plot_width_in" json:"plotWidthIn" validate:"gt=0"`  // inches
	PlotHeight float64 `yaml:"plot_height_in" json:"plotHeightIn" validate:"gt=0"` // inches
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
}

// Options converts the section for logging.New.
func (l LoggingConfig) Options() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format}
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr" validate:"required"`
}

// DefaultConfig returns a config with sensible defaults. Track paths and
// alignment rates are left empty.
func DefaultConfig() *Config {
	return &Config{
		Boat: TrackConfig{
			Format:         track.FormatJSONLines,
			LatitudeField:  "phone_latitude",
			LongitudeField: "phone_longitude",
			TimestampField: "timestamp",
		},
		Buoy: TrackConfig{
			Format:         track.FormatJSONLines,
			LatitudeField:  "Latitude",
			LongitudeField: "Longitude",
			TimestampField: "timestamp",
		},
		Output: OutputConfig{
			Dir:        "output",
			Plots:      true,
			CSV:        true,
			PlotWidth:  10,
			PlotHeight: 6,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides, then validates. A missing file is not an error; the
// defaults and environment are used instead.
func Load(path string, logger logging.Logger) (*Config, error) {
	if logger == nil {
		logger = logging.Noop()
	}
	logger = logger.With(logging.Component("config"))
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Info(ctx, "no config file, using defaults", logging.String("path", path))
		case err != nil:
			return nil, fmt.Errorf("config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			logger.Info(ctx, "loaded", logging.String("path", path))
		}
	}

	// .env beside the config, then in CWD
	envPaths := []string{".env"}
	if path != "" {
		envPaths = []string{filepath.Join(filepath.Dir(path), ".env"), ".env"}
	}
	for _, ep := range envPaths {
		if loadEnvFile(ep) {
			logger.Debug(ctx, "loaded .env", logging.String("path", ep))
		}
	}

	cfg.applyEnvOverrides(ctx, logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// Variables already present in the environment win.
func loadEnvFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
	return true
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: BOAT_TRACK, BUOY_TRACK, RANGING_LOG, BOAT_RATE, BUOY_RATE,
// OUTPUT_DIR, LISTEN_ADDR, LOG_LEVEL, LOG_FORMAT
func (c *Config) applyEnvOverrides(ctx context.Context, logger logging.Logger) {
	if v := os.Getenv("BOAT_TRACK"); v != "" {
		c.Boat.Path = v
	}
	if v := os.Getenv("BUOY_TRACK"); v != "" {
		c.Buoy.Path = v
	}
	if v := os.Getenv("RANGING_LOG"); v != "" {
		c.Ranging.Path = v
	}
	rate := func(key string, dst *float64) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			logger.Warn(ctx, "ignoring override", logging.String("key", key), logging.Err(err))
			return
		}
		*dst = n
	}
	rate("BOAT_RATE", &c.Alignment.BoatRate)
	rate("BUOY_RATE", &c.Alignment.BuoyRate)
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		msgs := make([]string, 0, len(fields))
		for _, fe := range fields {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	if err := c.rates().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Rates returns the single rate pair for this run.
func (c *Config) Rates() analysis.Rates {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rates()
}

func (c *Config) rates() analysis.Rates {
	return analysis.Rates{Boat: c.Alignment.BoatRate, Buoy: c.Alignment.BuoyRate}
}

// Inputs returns the three input file settings.
func (c *Config) Inputs() (boat, buoy TrackConfig, ranging RangingConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Boat, c.Buoy, c.Ranging
}

func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.ListenAddr
}

// Path is the file the config was loaded from.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = defaultPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved. An update that fails validation leaves the
// config unchanged.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	next := &Config{}
	if err := json.Unmarshal(merged, next); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	if err := next.validate(); err != nil {
		return err
	}

	c.Boat = next.Boat
	c.Buoy = next.Buoy
	c.Ranging = next.Ranging
	c.Alignment = next.Alignment
	c.Output = next.Output
	c.Logging = next.Logging
	c.Server = next.Server
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
