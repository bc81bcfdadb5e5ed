package metrics

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
	"github.com/SIOJaffeLab/LogProcessor/internal/ranging"
	"github.com/SIOJaffeLab/LogProcessor/internal/track"
)

func TestCollectorCountsDiagnostics(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	var sink diag.Sink = c
	sink.Report(diag.Event{Kind: diag.MissingField, Source: "buoy"})
	sink.Report(diag.Event{Kind: diag.MissingField, Source: "buoy"})
	sink.Report(diag.Event{Kind: diag.AlignmentOutOfRange, Source: "boat"})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Diagnostics.WithLabelValues("missing_field", "buoy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Diagnostics.WithLabelValues("alignment_out_of_range", "boat")))
}

func TestObserveRun(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	boat := track.Track{{Latitude: 32.8495, Longitude: -117.2565}, {Latitude: 32.8496, Longitude: -117.2566}}
	buoy := track.Track{{Latitude: 32.8505, Longitude: -117.2575}, {Latitude: 32.8505, Longitude: -117.2575}}
	res, err := analysis.Run(context.Background(), boat, buoy, []ranging.Attempt{
		{SecondsAfterStart: 0, Distance: ranging.Meters(150)},
		{SecondsAfterStart: 1},
		{SecondsAfterStart: 8, Distance: ranging.Meters(150)},
	}, analysis.Rates{Boat: 1, Buoy: 1}, c)
	require.NoError(t, err)

	c.ObserveRun(res, 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Runs))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Observations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Observations.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Observations.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BoatRate))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Diagnostics.WithLabelValues("alignment_out_of_range", "boat"))+
		testutil.ToFloat64(c.Diagnostics.WithLabelValues("alignment_out_of_range", "buoy")))

	s, err := res.Summary()
	require.NoError(t, err)
	assert.Equal(t, s.MeanAbsoluteError, testutil.ToFloat64(c.MeanAbsoluteError))
}

func TestObserveRunWithoutSuccesses(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	res, err := analysis.Run(context.Background(), track.Track{{}}, track.Track{{}},
		[]ranging.Attempt{{SecondsAfterStart: 0}}, analysis.Rates{Boat: 1, Buoy: 1}, nil)
	require.NoError(t, err)
	c.ObserveRun(res, time.Millisecond)
	assert.True(t, math.IsNaN(testutil.ToFloat64(c.MeanAbsoluteError)))
}

func TestNewCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	second.Runs.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.Runs))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	c.Report(diag.Event{Kind: diag.Unordered, Source: "ranging"})

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `rangecheck_diagnostics_total{kind="unordered",source="ranging"} 1`)
	assert.Contains(t, rr.Body.String(), "rangecheck_runs_total 0")
}
