// Package plotting renders a run's comparison series as PNG figures.
package plotting

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
)

// Figure file names inside Renderer.Dir.
const (
	ComparisonFile        = "distance_comparison.png"
	AbsoluteErrorFile     = "absolute_error.png"
	ErrorOverTimeFile     = "error_vs_seconds.png"
	DistancesOverTimeFile = "distances_over_time.png"
	BoatDisplacementFile  = "boat_displacement.png"
)

const timeLabel = "Time (seconds after start)"

var (
	blue   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	green  = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	red    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	purple = color.RGBA{R: 148, G: 103, B: 189, A: 255}
	orange = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	gray   = color.RGBA{R: 127, G: 127, B: 127, A: 255}
)

// Renderer writes figures into Dir. Zero sizes default to 10x6 inches.
type Renderer struct {
	Dir    string
	Width  vg.Length
	Height vg.Length
}

type figure struct {
	name  string
	build func(*analysis.Result, analysis.Summary) (*plot.Plot, error)
}

var figures = []figure{
	{ComparisonFile, comparison},
	{AbsoluteErrorFile, absoluteError},
	{ErrorOverTimeFile, errorOverTime},
	{DistancesOverTimeFile, distancesOverTime},
	{BoatDisplacementFile, boatDisplacement},
}

// Render writes every figure and returns the paths written. A run without
// a successful comparison returns analysis.ErrEmptyAggregate and writes
// nothing.
func (r Renderer) Render(res *analysis.Result) ([]string, error) {
	summary, err := res.Summary()
	if err != nil {
		return nil, fmt.Errorf("plotting: %w", err)
	}
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return nil, fmt.Errorf("plotting: mkdir %s: %w", r.Dir, err)
	}

	w, h := r.Width, r.Height
	if w <= 0 {
		w = 10 * vg.Inch
	}
	if h <= 0 {
		h = 6 * vg.Inch
	}

	paths := make([]string, 0, len(figures))
	for _, f := range figures {
		p, err := f.build(res, summary)
		if err != nil {
			return paths, fmt.Errorf("plotting: %s: %w", f.name, err)
		}
		path := filepath.Join(r.Dir, f.name)
		if err := p.Save(w, h, path); err != nil {
			return paths, fmt.Errorf("plotting: save %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func newPlot(title, x, y string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = x
	p.Y.Label.Text = y
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	return p
}

func comparison(res *analysis.Result, s analysis.Summary) (*plot.Plot, error) {
	p := newPlot("Comparison of Reported and Calculated Distances",
		"Reported distance (meters)", "Calculated distance (meters)")

	pts := make(plotter.XYs, len(res.Comparison))
	for i, c := range res.Comparison {
		pts[i].X = c.Reported
		pts[i].Y = c.Calculated
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Color = blue
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(scatter)
	p.Legend.Add("Distance comparison", scatter)

	ideal, err := plotter.NewLine(plotter.XYs{{X: s.MinReported, Y: s.MinReported}, {X: s.MaxReported, Y: s.MaxReported}})
	if err != nil {
		return nil, err
	}
	ideal.LineStyle.Color = red
	ideal.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	p.Add(ideal)
	p.Legend.Add("Ideal correlation", ideal)

	if !math.IsNaN(s.Slope) && s.Slope != 0 {
		// invert reported = slope*calculated + intercept onto these axes
		at := func(reported float64) float64 { return (reported - s.Intercept) / s.Slope }
		fit, err := plotter.NewLine(plotter.XYs{
			{X: s.MinReported, Y: at(s.MinReported)},
			{X: s.MaxReported, Y: at(s.MaxReported)},
		})
		if err != nil {
			return nil, err
		}
		fit.LineStyle.Color = gray
		p.Add(fit)
		p.Legend.Add(fmt.Sprintf("Least squares (slope %.3f)", s.Slope), fit)
	}
	return p, nil
}

func absoluteError(res *analysis.Result, _ analysis.Summary) (*plot.Plot, error) {
	p := newPlot("Absolute Error Between Reported and Calculated Distances",
		"Reported distance (meters)", "Absolute error (meters)")

	pts := make(plotter.XYs, len(res.Comparison))
	for i, c := range res.Comparison {
		pts[i].X = c.Reported
		pts[i].Y = res.AbsoluteErrors[i].Value
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Color = green
	p.Add(scatter)
	p.Legend.Add("Absolute error", scatter)
	return p, nil
}

func errorOverTime(res *analysis.Result, _ analysis.Summary) (*plot.Plot, error) {
	p := newPlot("Error vs. Seconds After Start", timeLabel, "Error (meters)")
	if err := addLinePoints(p, "Reported minus calculated", series(res.SignedErrors), purple); err != nil {
		return nil, err
	}
	return p, nil
}

func distancesOverTime(res *analysis.Result, _ analysis.Summary) (*plot.Plot, error) {
	p := newPlot("Reported and Calculated Distances Over Time", timeLabel, "Distance (meters)")

	reported := make(plotter.XYs, len(res.Comparison))
	calculated := make(plotter.XYs, len(res.Comparison))
	for i, c := range res.Comparison {
		reported[i] = plotter.XY{X: c.Seconds, Y: c.Reported}
		calculated[i] = plotter.XY{X: c.Seconds, Y: c.Calculated}
	}

	if err := addLinePoints(p, "Reported", reported, blue); err != nil {
		return nil, err
	}
	if err := addLinePoints(p, "Calculated", calculated, green); err != nil {
		return nil, err
	}

	all, err := plotter.NewScatter(series(res.CalculatedDistances))
	if err != nil {
		return nil, err
	}
	all.GlyphStyle.Color = gray
	all.GlyphStyle.Shape = draw.CrossGlyph{}
	p.Add(all)
	p.Legend.Add("Calculated, all attempts", all)
	return p, nil
}

func boatDisplacement(res *analysis.Result, _ analysis.Summary) (*plot.Plot, error) {
	p := newPlot("Boat Distance From Start Over Time", timeLabel, "Distance (meters)")
	if err := addLinePoints(p, "Boat displacement", series(res.BoatDisplacement), orange); err != nil {
		return nil, err
	}
	return p, nil
}

func addLinePoints(p *plot.Plot, name string, pts plotter.XYs, c color.Color) error {
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Color = c
	points.GlyphStyle.Color = c
	p.Add(line, points)
	p.Legend.Add(name, line, points)
	return nil
}

func series(sp []analysis.SeriesPoint) plotter.XYs {
	pts := make(plotter.XYs, len(sp))
	for i, v := range sp {
		pts[i] = plotter.XY{X: v.Seconds, Y: v.Value}
	}
	return pts
}
