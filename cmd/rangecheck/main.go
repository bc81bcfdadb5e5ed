// Command rangecheck compares acoustic ranging attempts against the boat and
// buoy GPS tracks recorded during a field trial.
//
//	rangecheck analyze -config run.yaml [-out dir] [-no-plots]
//	rangecheck serve   -config run.yaml [-listen :8080]
//	rangecheck convert -logs logs/pi_runs -out logs/pi_runs.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"gonum.org/v1/plot/vg"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
	"github.com/SIOJaffeLab/LogProcessor/internal/config"
	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
	"github.com/SIOJaffeLab/LogProcessor/internal/export"
	"github.com/SIOJaffeLab/LogProcessor/internal/logging"
	"github.com/SIOJaffeLab/LogProcessor/internal/metrics"
	"github.com/SIOJaffeLab/LogProcessor/internal/pipeline"
	"github.com/SIOJaffeLab/LogProcessor/internal/plotting"
	"github.com/SIOJaffeLab/LogProcessor/internal/ranging"
	"github.com/SIOJaffeLab/LogProcessor/internal/server"
	"github.com/SIOJaffeLab/LogProcessor/web"
)

const usage = `usage: rangecheck <command> [flags]

commands:
  analyze   align ranging attempts to the GPS tracks, write CSV and plots
  serve     serve the interactive map
  convert   turn raw ranging device logs into a JSON attempt log
`

func main() {
	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "rangecheck:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return flag.ErrHelp
	}
	switch args[0] {
	case "analyze":
		return analyze(ctx, args[1:], stdout)
	case "serve":
		return serve(ctx, args[1:], stdout)
	case "convert":
		return convert(ctx, args[1:], stdout)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return flag.ErrHelp
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// setup loads the config and builds the run logger from it.
func setup(path string, stdout io.Writer) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(path, logging.NewWithWriter(stdout, logging.Config{Level: os.Getenv("LOG_LEVEL")}))
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewWithWriter(stdout, cfg.Logging.Options())
	return cfg, logger, nil
}

func analyze(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	configPath := fs.String("config", "rangecheck.yaml", "Path to config file")
	outDir := fs.String("out", "", "Override output directory")
	noPlots := fs.Bool("no-plots", false, "Skip PNG figures")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath, stdout)
	if err != nil {
		return err
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	logger = logger.With(logging.Component("main"))

	collector := diag.NewCollector(nil)
	_, res, err := pipeline.Run(ctx, cfg, collector, logger)
	if err != nil {
		collector.LogSummary(ctx, logger)
		return err
	}
	collector.LogSummary(ctx, logger)

	if cfg.Output.CSV {
		paths, err := export.Writer{Dir: cfg.Output.Dir}.WriteRun(res, collector.Events())
		if err != nil {
			return err
		}
		for _, p := range paths {
			logger.Info(ctx, "wrote", logging.String("path", p))
		}
	}

	summary, err := res.Summary()
	if errors.Is(err, analysis.ErrEmptyAggregate) {
		logger.Error(ctx, "no successful ranging attempt aligned to both tracks; statistics and plots skipped",
			logging.Int("aligned", len(res.Observations)),
			logging.Int("skipped", res.Skipped))
		return err
	}
	if err != nil {
		return err
	}
	logger.Info(ctx, "summary",
		logging.Int("successful", summary.Count),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Float("mean_error_m", summary.MeanError),
		logging.Float("mean_absolute_error_m", summary.MeanAbsoluteError),
		logging.Float("rmse_m", summary.RMSE),
		logging.Float("correlation", summary.Correlation))

	if cfg.Output.Plots && !*noPlots {
		r := plotting.Renderer{
			Dir:    cfg.Output.Dir,
			Width:  vg.Length(cfg.Output.PlotWidth) * vg.Inch,
			Height: vg.Length(cfg.Output.PlotHeight) * vg.Inch,
		}
		paths, err := r.Render(res)
		if err != nil {
			return err
		}
		for _, p := range paths {
			logger.Info(ctx, "wrote", logging.String("path", p))
		}
	}
	return nil
}

func serve(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "rangecheck.yaml", "Path to config file")
	listenAddr := fs.String("listen", "", "Override listen address (e.g. :8080)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath, stdout)
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	m, err := metrics.NewCollector(nil)
	if err != nil {
		return err
	}
	collector := diag.NewCollector(nil)
	in, err := pipeline.Load(ctx, cfg, diag.Multi(collector, m), logger)
	collector.LogSummary(ctx, logger)
	if err != nil {
		return err
	}

	return server.New(cfg, in, web.FS, logger, m).Run(ctx)
}

func convert(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	logDir := fs.String("logs", "logs/pi_runs", "Directory of raw ranging device .log files")
	outPath := fs.String("out", "logs/pi_runs.json", "JSON attempt log to write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := logging.NewWithWriter(stdout, logging.Config{Level: os.Getenv("LOG_LEVEL")}).
		With(logging.Component("convert"))
	collector := diag.NewCollector(nil)

	attempts, err := ranging.ConvertDir(*logDir, collector)
	collector.LogSummary(ctx, logger)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return fmt.Errorf("%s: %w", *logDir, ranging.ErrNoAttempts)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	if err := ranging.WriteJSON(f, attempts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info(ctx, "converted device logs",
		logging.String("dir", *logDir),
		logging.String("out", *outPath),
		logging.Int("attempts", len(attempts)))
	return nil
}
