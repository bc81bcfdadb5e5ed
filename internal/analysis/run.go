package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
	"github.com/SIOJaffeLab/LogProcessor/internal/ranging"
	"github.com/SIOJaffeLab/LogProcessor/internal/track"
)

// Observation is an attempt that aligned to both tracks.
type Observation struct {
	ranging.Attempt
	Alignment
	CalculatedDistance float64 `json:"calculated_distance"`
}

// Failed reports whether the device got no response for this attempt.
func (o Observation) Failed() bool { return !o.Succeeded() }

// SignedError is reported minus calculated distance. ok is false for a
// failed attempt.
func (o Observation) SignedError() (float64, bool) {
	if o.Distance == nil {
		return 0, false
	}
	return *o.Distance - o.CalculatedDistance, true
}

// ComparisonPoint pairs a reported range with the GPS distance at the same time.
type ComparisonPoint struct {
	Seconds    float64 `json:"seconds"`
	Reported   float64 `json:"reported"`
	Calculated float64 `json:"calculated"`
}

// SeriesPoint is one value on the elapsed-time axis.
type SeriesPoint struct {
	Seconds float64 `json:"seconds"`
	Value   float64 `json:"value"`
}

// Result is the outcome of one run. Every series is ordered by elapsed
// time. Comparison and the error series hold successful attempts only.
type Result struct {
	Rates        Rates         `json:"rates"`
	Observations []Observation `json:"observations"`
	Skipped      int           `json:"skipped"`

	Comparison     []ComparisonPoint `json:"comparison"`
	SignedErrors   []SeriesPoint     `json:"signed_errors"`
	AbsoluteErrors []SeriesPoint     `json:"absolute_errors"`

	// All aligned attempts, failures included.
	CalculatedDistances []SeriesPoint `json:"calculated_distances"`
	BoatDisplacement    []SeriesPoint `json:"boat_displacement"`
}

// Good returns the observations with a reported distance.
func (r *Result) Good() []Observation { return r.partition(false) }

// Failed returns the observations where the device got no response.
func (r *Result) Failed() []Observation { return r.partition(true) }

func (r *Result) partition(failed bool) []Observation {
	out := []Observation{}
	for _, o := range r.Observations {
		if o.Failed() == failed {
			out = append(out, o)
		}
	}
	return out
}

// Run aligns every attempt against boat and buoy using rates and computes
// the comparison series. Attempts that do not align are reported to sink
// and counted in Skipped. The only errors are invalid rates and a
// cancelled context.
func Run(ctx context.Context, boat, buoy track.Track, attempts []ranging.Attempt, rates Rates, sink diag.Sink) (*Result, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	sink = diag.OrDiscard(sink)

	ordered := make([]ranging.Attempt, len(attempts))
	copy(ordered, attempts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SecondsAfterStart < ordered[j].SecondsAfterStart
	})

	acc := newResult(rates)
	for _, a := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("analysis: %w", err)
		}

		al, misses := align(a, boat, buoy, rates)
		if len(misses) > 0 {
			for _, m := range misses {
				sink.Report(diag.Event{
					Kind:    diag.AlignmentOutOfRange,
					Source:  m.Track,
					Index:   m.Index,
					Length:  m.Length,
					Seconds: m.SecondsAfterStart,
				})
			}
			acc = acc.skip()
			continue
		}

		acc = acc.add(Observation{
			Attempt:            a,
			Alignment:          al,
			CalculatedDistance: Distance(al.Boat, al.Buoy),
		}, boat[0])
	}
	return &acc, nil
}

func newResult(rates Rates) Result {
	return Result{
		Rates:               rates,
		Observations:        []Observation{},
		Comparison:          []ComparisonPoint{},
		SignedErrors:        []SeriesPoint{},
		AbsoluteErrors:      []SeriesPoint{},
		CalculatedDistances: []SeriesPoint{},
		BoatDisplacement:    []SeriesPoint{},
	}
}

func (r Result) skip() Result {
	r.Skipped++
	return r
}

// add folds one aligned observation into the result. origin is the first
// boat sample, the experiment's starting point.
func (r Result) add(o Observation, origin track.Sample) Result {
	t := o.SecondsAfterStart
	r.Observations = append(r.Observations, o)
	r.CalculatedDistances = append(r.CalculatedDistances, SeriesPoint{Seconds: t, Value: o.CalculatedDistance})
	r.BoatDisplacement = append(r.BoatDisplacement, SeriesPoint{Seconds: t, Value: Distance(origin, o.Boat)})

	signed, ok := o.SignedError()
	if !ok {
		return r
	}
	r.Comparison = append(r.Comparison, ComparisonPoint{Seconds: t, Reported: *o.Distance, Calculated: o.CalculatedDistance})
	r.SignedErrors = append(r.SignedErrors, SeriesPoint{Seconds: t, Value: signed})
	r.AbsoluteErrors = append(r.AbsoluteErrors, SeriesPoint{Seconds: t, Value: math.Abs(signed)})
	return r
}
