// Package diag carries the per-record skip and rejection events produced while
// ingesting tracks and ranging logs and while aligning attempts to tracks.
//
// None of these events abort a run. They are reported to a Sink so the
// operator can see exactly which raw records or indices were dropped.
package diag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/SIOJaffeLab/LogProcessor/internal/logging"
)

// Kind names a class of recoverable data-shape failure.
type Kind string

const (
	MalformedRecord     Kind = "malformed_record"
	MissingField        Kind = "missing_field"
	InvalidCoordinate   Kind = "invalid_coordinate"
	InvalidValue        Kind = "invalid_value"
	Unordered           Kind = "unordered"
	AlignmentOutOfRange Kind = "alignment_out_of_range"
)

const maxExamplesPerKind = 3

// Event is a single diagnostic. Line is 1-based and zero when not applicable.
// Index and Length are only meaningful for AlignmentOutOfRange.
type Event struct {
	Kind    Kind    `json:"kind"`
	Source  string  `json:"source"`
	Line    int     `json:"line,omitempty"`
	Raw     string  `json:"raw,omitempty"`
	Field   string  `json:"field,omitempty"`
	Index   int     `json:"index,omitempty"`
	Length  int     `json:"length,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
	Detail  string  `json:"detail,omitempty"`
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Source, e.Kind)
	if e.Line > 0 {
		fmt.Fprintf(&b, " line=%d", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	if e.Kind == AlignmentOutOfRange {
		fmt.Fprintf(&b, " index=%d length=%d seconds=%g", e.Index, e.Length, e.Seconds)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// Sink receives diagnostics.
type Sink interface {
	Report(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Report(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans each event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Report(e)
			}
		}
	})
}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

type kindInfo struct {
	count    int
	examples []string
}

// Collector records events in arrival order and aggregates them per
// (source, kind) for a consolidated summary.
type Collector struct {
	mu     sync.Mutex
	logger logging.Logger
	events []Event
	byKey  map[string]*kindInfo
}

// NewCollector returns a Collector. Each event is logged at warn level when
// logger is non-nil.
func NewCollector(logger logging.Logger) *Collector {
	return &Collector{
		logger: logger,
		byKey:  make(map[string]*kindInfo),
	}
}

// Report records e.
func (c *Collector) Report(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	key := e.Source + "/" + string(e.Kind)
	info := c.byKey[key]
	if info == nil {
		info = &kindInfo{examples: make([]string, 0, maxExamplesPerKind)}
		c.byKey[key] = info
	}
	info.count++
	if len(info.examples) < maxExamplesPerKind {
		info.examples = append(info.examples, example(e))
	}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Warn(context.Background(), "record skipped", fields(e)...)
	}
}

// Events returns a copy of every recorded event in arrival order.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many events of kind k were reported. An empty source
// matches all sources.
func (c *Collector) Count(source string, k Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, info := range c.byKey {
		src, kind, _ := strings.Cut(key, "/")
		if Kind(kind) == k && (source == "" || src == source) {
			n += info.count
		}
	}
	return n
}

// Len returns the total number of recorded events.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Summary returns one line per (source, kind), sorted for stable output.
func (c *Collector) Summary() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		src, kind, _ := strings.Cut(key, "/")
		info := c.byKey[key]
		lines = append(lines, fmt.Sprintf("%s: %d %s (%s). Examples: %s",
			src, info.count, describe(Kind(kind)), action(Kind(kind)), strings.Join(info.examples, "; ")))
	}
	return lines
}

// LogSummary writes the consolidated summary through logger.
func (c *Collector) LogSummary(ctx context.Context, logger logging.Logger) {
	for _, line := range c.Summary() {
		logger.Warn(ctx, line, logging.Component("diag"))
	}
}

func describe(k Kind) string {
	switch k {
	case MalformedRecord:
		return "records that could not be parsed"
	case MissingField:
		return "records missing a required field"
	case InvalidCoordinate:
		return "records with a null or out-of-range coordinate"
	case InvalidValue:
		return "records with an invalid field value"
	case Unordered:
		return "out-of-order elapsed times"
	case AlignmentOutOfRange:
		return "attempts whose track index fell outside the track"
	default:
		return "unclassified issues"
	}
}

func action(k Kind) string {
	switch k {
	case Unordered:
		return "sorted by seconds_after_start"
	case AlignmentOutOfRange:
		return "excluded from all series"
	default:
		return "skipped"
	}
}

func example(e Event) string {
	switch {
	case e.Kind == AlignmentOutOfRange:
		return fmt.Sprintf("index %d of %d at %gs", e.Index, e.Length, e.Seconds)
	case e.Line > 0:
		return fmt.Sprintf("line %d", e.Line)
	default:
		return e.Detail
	}
}

func fields(e Event) []logging.Field {
	fs := []logging.Field{
		logging.Component("diag"),
		logging.String("kind", string(e.Kind)),
		logging.String("source", e.Source),
	}
	if e.Line > 0 {
		fs = append(fs, logging.Int("line", e.Line))
	}
	if e.Field != "" {
		fs = append(fs, logging.String("field", e.Field))
	}
	if e.Kind == AlignmentOutOfRange {
		fs = append(fs,
			logging.Int("index", e.Index),
			logging.Int("length", e.Length),
			logging.Float("seconds_after_start", e.Seconds))
	}
	if e.Raw != "" {
		fs = append(fs, logging.String("raw", e.Raw))
	}
	if e.Detail != "" {
		fs = append(fs, logging.String("detail", e.Detail))
	}
	return fs
}
