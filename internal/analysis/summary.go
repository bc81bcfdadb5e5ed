package analysis

import (
	"encoding/json"
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrEmptyAggregate is returned when a run has no successful comparison to
// summarise or plot.
var ErrEmptyAggregate = errors.New("analysis: no successful ranging attempts aligned")

// Summary holds error statistics over the successful comparisons of a run.
// StdDevError, Correlation and the calibration line are NaN when they are
// undefined for the data.
type Summary struct {
	Count             int     `json:"count"`
	Failed            int     `json:"failed"`
	Skipped           int     `json:"skipped"`
	MeanError         float64 `json:"mean_error"`
	StdDevError       float64 `json:"stddev_error"`
	MeanAbsoluteError float64 `json:"mean_absolute_error"`
	RMSE              float64 `json:"rmse"`
	MaxAbsoluteError  float64 `json:"max_absolute_error"`
	Correlation       float64 `json:"correlation"`
	MinReported       float64 `json:"min_reported"`
	MaxReported       float64 `json:"max_reported"`

	// Least-squares line reported = Slope*calculated + Intercept.
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// Summary computes statistics over r.Comparison.
func (r *Result) Summary() (Summary, error) {
	n := len(r.Comparison)
	if n == 0 {
		return Summary{}, ErrEmptyAggregate
	}

	reported := make([]float64, n)
	calculated := make([]float64, n)
	signed := make([]float64, n)
	abs := make([]float64, n)
	for i, p := range r.Comparison {
		reported[i] = p.Reported
		calculated[i] = p.Calculated
		signed[i] = p.Reported - p.Calculated
		abs[i] = math.Abs(signed[i])
	}

	s := Summary{
		Count:             n,
		Failed:            len(r.Failed()),
		Skipped:           r.Skipped,
		MeanError:         stat.Mean(signed, nil),
		StdDevError:       math.NaN(),
		MeanAbsoluteError: stat.Mean(abs, nil),
		RMSE:              math.Sqrt(floats.Dot(signed, signed) / float64(n)),
		MaxAbsoluteError:  floats.Max(abs),
		Correlation:       math.NaN(),
		MinReported:       floats.Min(reported),
		MaxReported:       floats.Max(reported),
	}
	s.Slope, s.Intercept = calibration(calculated, reported)
	if n > 1 {
		s.StdDevError = stat.StdDev(signed, nil)
		s.Correlation = stat.Correlation(reported, calculated, nil)
	}
	return s, nil
}

// calibration fits y = slope*x + intercept by least squares.
func calibration(x, y []float64) (slope, intercept float64) {
	n := len(x)
	if n < 2 {
		return math.NaN(), math.NaN()
	}
	a := mat.NewDense(n, 2, nil)
	for i, v := range x {
		a.Set(i, 0, v)
		a.Set(i, 1, 1)
	}
	var coef mat.VecDense
	if err := coef.SolveVec(a, mat.NewVecDense(n, y)); err != nil {
		// rank deficient: every calculated distance is the same
		return math.NaN(), math.NaN()
	}
	return coef.AtVec(0), coef.AtVec(1)
}

// MarshalJSON writes undefined statistics as null.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	return json.Marshal(struct {
		plain
		StdDevError *float64 `json:"stddev_error"`
		Correlation *float64 `json:"correlation"`
		Slope       *float64 `json:"slope"`
		Intercept   *float64 `json:"intercept"`
	}{
		plain:       plain(s),
		StdDevError: finite(s.StdDevError),
		Correlation: finite(s.Correlation),
		Slope:       finite(s.Slope),
		Intercept:   finite(s.Intercept),
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
