package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Fetch("events", OutcomeSuccess, 0.1)
		m.Lookup("events", LookupHit)
		m.InFlight("events", 1)
		m.Evicted("events", "sweep", 3)
		m.Normalized("internal", 9, 1)
		m.Superseded()
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.Normalized("eventbrite", 9, 1)
	m.Normalized("eventbrite", 3, 2)
	m.Superseded()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.DroppedCounter("eventbrite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SupersededCounter()))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Fetch("events", OutcomeError, 0.2)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `eventscope_fetch_total{cache="events",outcome="error"} 1`))
}
