// Package pipeline runs ingestion and analysis for one configured run.
package pipeline

import (
	"context"
	"fmt"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
	"github.com/SIOJaffeLab/LogProcessor/internal/config"
	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
	"github.com/SIOJaffeLab/LogProcessor/internal/logging"
	"github.com/SIOJaffeLab/LogProcessor/internal/ranging"
	"github.com/SIOJaffeLab/LogProcessor/internal/track"
)

// Inputs are the ingested tracks and ranging attempts. They are not
// modified after Load and may be analyzed any number of times.
type Inputs struct {
	Boat     track.Track
	Buoy     track.Track
	Attempts []ranging.Attempt

	// Diagnostics are the events reported while loading, in order.
	Diagnostics []diag.Event
}

// Load reads the boat track, the buoy track and the ranging log named by
// cfg. The first input that yields nothing usable stops the load.
func Load(ctx context.Context, cfg *config.Config, sink diag.Sink, logger logging.Logger) (*Inputs, error) {
	if logger == nil {
		logger = logging.Noop()
	}
	logger = logger.With(logging.Component("pipeline"))
	boatCfg, buoyCfg, rangingCfg := cfg.Inputs()
	loaded := diag.NewCollector(nil)
	sink = diag.Multi(loaded, sink)

	boat, err := loadTrack(ctx, boatCfg.Path, boatCfg.Source(analysis.BoatTrack), sink, logger)
	if err != nil {
		return nil, err
	}
	buoy, err := loadTrack(ctx, buoyCfg.Path, buoyCfg.Source(analysis.BuoyTrack), sink, logger)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	attempts, err := ranging.LoadFile(rangingCfg.Path, sink)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "loaded ranging log",
		logging.String("path", rangingCfg.Path),
		logging.Int("attempts", len(attempts)))

	return &Inputs{Boat: boat, Buoy: buoy, Attempts: attempts, Diagnostics: loaded.Events()}, nil
}

func loadTrack(ctx context.Context, path string, src track.Source, sink diag.Sink, logger logging.Logger) (track.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr, err := track.LoadFile(path, src, sink)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "loaded track",
		logging.String("track", src.Name),
		logging.String("path", path),
		logging.Int("samples", len(tr)))
	return tr, nil
}

// Analyze runs the analysis over in with a single rate pair.
func Analyze(ctx context.Context, in *Inputs, rates analysis.Rates, sink diag.Sink, logger logging.Logger) (*analysis.Result, error) {
	if logger == nil {
		logger = logging.Noop()
	}
	logger = logger.With(logging.Component("pipeline"))

	res, err := analysis.Run(ctx, in.Boat, in.Buoy, in.Attempts, rates, sink)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	logger.Info(ctx, "analysis complete",
		logging.Float("boat_rate", rates.Boat),
		logging.Float("buoy_rate", rates.Buoy),
		logging.Int("aligned", len(res.Observations)),
		logging.Int("successful", len(res.Comparison)),
		logging.Int("skipped", res.Skipped))
	return res, nil
}

// Run loads the inputs named by cfg and analyzes them with cfg's rates.
func Run(ctx context.Context, cfg *config.Config, sink diag.Sink, logger logging.Logger) (*Inputs, *analysis.Result, error) {
	in, err := Load(ctx, cfg, sink, logger)
	if err != nil {
		return nil, nil, err
	}
	res, err := Analyze(ctx, in, cfg.Rates(), sink, logger)
	if err != nil {
		return in, nil, err
	}
	return in, res, nil
}
