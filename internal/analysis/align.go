// Package analysis aligns ranging attempts to the boat and buoy tracks and
// compares each reported range with the GPS-derived geodesic distance.
//
// A run uses exactly one Rates value for every attempt. Alignment is
// index = floor(seconds_after_start * rate), and an index outside
// [0, len(track)) excludes the attempt from every result series.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/SIOJaffeLab/LogProcessor/internal/ranging"
	"github.com/SIOJaffeLab/LogProcessor/internal/track"
)

// Track names used in alignment errors and diagnostics.
const (
	BoatTrack = "boat"
	BuoyTrack = "buoy"
)

var (
	ErrInvalidRate         = errors.New("analysis: sample rate must be positive and finite")
	ErrAlignmentOutOfRange = errors.New("analysis: alignment index out of range")
)

// Rates are the sampling rates, in samples per second, of the boat and
// buoy tracks for one experiment run.
type Rates struct {
	Boat float64 `json:"boat_rate"`
	Buoy float64 `json:"buoy_rate"`
}

// Validate checks that both rates are usable.
func (r Rates) Validate() error {
	if !validRate(r.Boat) {
		return fmt.Errorf("boat rate %g: %w", r.Boat, ErrInvalidRate)
	}
	if !validRate(r.Buoy) {
		return fmt.Errorf("buoy rate %g: %w", r.Buoy, ErrInvalidRate)
	}
	return nil
}

func validRate(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Index returns the track index for an elapsed time. It is -1 for a
// time that cannot be placed on the track at all, and saturates at
// math.MaxInt beyond the int range.
func Index(seconds, rate float64) int {
	f := math.Floor(seconds * rate)
	switch {
	case math.IsNaN(f) || f < 0:
		return -1
	case f >= math.MaxInt:
		return math.MaxInt
	}
	return int(f)
}

// Alignment is the pair of track samples an attempt maps to.
type Alignment struct {
	BoatIndex int          `json:"boat_index"`
	BuoyIndex int          `json:"buoy_index"`
	Boat      track.Sample `json:"boat"`
	Buoy      track.Sample `json:"buoy"`
}

// OutOfRangeError reports an alignment index that falls outside a track.
type OutOfRangeError struct {
	Track             string
	Index             int
	Length            int
	SecondsAfterStart float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("analysis: %s index %d out of range [0, %d) at %gs",
		e.Track, e.Index, e.Length, e.SecondsAfterStart)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrAlignmentOutOfRange }

// Align maps an attempt onto both tracks. When either index is out of range
// the returned error wraps one *OutOfRangeError per offending track.
func Align(a ranging.Attempt, boat, buoy track.Track, rates Rates) (Alignment, error) {
	al, misses := align(a, boat, buoy, rates)
	if len(misses) == 0 {
		return al, nil
	}
	errs := make([]error, len(misses))
	for i, m := range misses {
		errs[i] = m
	}
	return Alignment{}, errors.Join(errs...)
}

func align(a ranging.Attempt, boat, buoy track.Track, rates Rates) (Alignment, []*OutOfRangeError) {
	al := Alignment{
		BoatIndex: Index(a.SecondsAfterStart, rates.Boat),
		BuoyIndex: Index(a.SecondsAfterStart, rates.Buoy),
	}

	var misses []*OutOfRangeError
	if al.BoatIndex < 0 || al.BoatIndex >= len(boat) {
		misses = append(misses, &OutOfRangeError{Track: BoatTrack, Index: al.BoatIndex, Length: len(boat), SecondsAfterStart: a.SecondsAfterStart})
	}
	if al.BuoyIndex < 0 || al.BuoyIndex >= len(buoy) {
		misses = append(misses, &OutOfRangeError{Track: BuoyTrack, Index: al.BuoyIndex, Length: len(buoy), SecondsAfterStart: a.SecondsAfterStart})
	}
	if len(misses) > 0 {
		return Alignment{}, misses
	}

	al.Boat = boat[al.BoatIndex]
	al.Buoy = buoy[al.BuoyIndex]
	return al, nil
}
