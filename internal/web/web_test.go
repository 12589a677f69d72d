package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscope/internal/cache"
	"eventscope/internal/client"
	"eventscope/internal/config"
	"eventscope/internal/engine"
	"eventscope/internal/log"
	"eventscope/internal/metrics"
)

func init() {
	log.SetOutput(io.Discard)
}

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func iso(d time.Duration) string { return now.Add(d).Format(time.RFC3339) }

// upstream fakes the events API.
type upstream struct {
	down      atomic.Bool
	interacts atomic.Int32
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if u.down.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error": "maintenance"}`)
		return
	}
	switch r.URL.Path {
	case "/events":
		events := []string{
			fmt.Sprintf(`{"id": 1, "name": "Indie Night", "category": "music", "price_range_min": 30, "start_date": %q}`, iso(72*time.Hour)),
			fmt.Sprintf(`{"id": 2, "name": "Symphony", "category": "music", "price_range_min": 80, "start_date": %q}`, iso(48*time.Hour)),
			fmt.Sprintf(`{"id": 3, "name": "Hockey", "category": "sports", "price_range_min": 20, "start_date": %q}`, iso(72*time.Hour)),
		}
		if r.URL.RawQuery == "category=music&priceRange=under-50&timeframe=week" {
			events = events[:1]
		}
		_, _ = io.WriteString(w, "["+strings.Join(events, ",")+"]")
	case "/events/1":
		_, _ = io.WriteString(w, `{"event": {"id": 1, "name": "Indie Night"}}`)
	case "/events/1/interact":
		u.interacts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	case "/recommendations":
		_, _ = io.WriteString(w, `{"recommendations": [{"id": 50, "name": "Steakhouse", "category": "Food", "price_range_max": 75}]}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *upstream) {
	t.Helper()
	up := &upstream{}
	upSrv := httptest.NewServer(up)
	t.Cleanup(upSrv.Close)

	c, err := client.New(upSrv.URL, upSrv.Client(), nil)
	require.NoError(t, err)
	m := metrics.New()
	eng, err := engine.New(engine.Options{
		Client:   c,
		Location: time.UTC,
		Now:      func() time.Time { return now },
		Metrics:  m,
		Cache:    cache.Options{Retries: -1},
	})
	require.NoError(t, err)

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	srv := httptest.NewServer(NewServer(cfg, eng, m).Handler())
	t.Cleanup(srv.Close)
	return srv, up
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = uuid.Parse(resp.Header.Get(requestIDHeader))
	assert.NoError(t, err)
}

func TestEventsBothModes(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, mode := range []string{"remote", "local"} {
		var body listResponse
		resp := getJSON(t, srv.URL+"/api/events?category=music&priceRange=under-50&timeframe=week&mode="+mode, &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode, mode)
		require.Len(t, body.Events, 1, mode)
		assert.Equal(t, int64(1), body.Events[0].ID)
		assert.Equal(t, engine.Mode(mode), body.Mode)
		assert.Equal(t, cache.StatusSuccess, body.Status)
		assert.NotNil(t, body.FetchedAt)
	}
}

func TestEventsNoWaitIsAccepted(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	var body listResponse
	resp := getJSON(t, srv.URL+"/api/events?category=sports&nowait=1", &body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, cache.StatusPending, body.Status)
	assert.Empty(t, body.Events)
	assert.Equal(t, "/events?category=sports", body.Key)
}

func TestEventsFailureWithoutDataIsBadGateway(t *testing.T) {
	srv, up := newTestServer(t, nil)
	up.down.Store(true)

	var body listResponse
	resp := getJSON(t, srv.URL+"/api/events", &body)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.True(t, body.Retry)
	assert.Contains(t, body.Error, "maintenance")
}

func TestEventsBadFilter(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, q := range []string{"category=opera", "latitude=40", "mode=hybrid", "rating=9"} {
		var p problem
		resp := getJSON(t, srv.URL+"/api/events?"+q, &p)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
		assert.NotEmpty(t, p.RequestID)
	}
}

func TestEventDetail(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var ev struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	resp := getJSON(t, srv.URL+"/api/events/1", &ev)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Indie Night", ev.Name)

	resp = getJSON(t, srv.URL+"/api/events/7", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/api/events/abc", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInteract(t *testing.T) {
	srv, up := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/events/1/interact", "application/json", strings.NewReader(`{"type": "like"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(1), up.interacts.Load())

	resp, err = http.Post(srv.URL+"/api/events/1/interact", "application/json", strings.NewReader(`{"type": "poke"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/events/1/interact", "text/plain", strings.NewReader(`like`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, int32(1), up.interacts.Load())
}

func TestRefetch(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Post(srv.URL+"/api/events/refetch?category=music", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body listResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, cache.StatusPending, body.Status)
	assert.Equal(t, "/events?category=music", body.Key)
}

func TestRecommendations(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var body listResponse
	resp := getJSON(t, srv.URL+"/api/recommendations?user_id=u1&interests=Shows&duration=week", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "Dining", body.Events[0].Category)
	assert.Equal(t, "$$$", body.Events[0].PriceLevel)

	resp = getJSON(t, srv.URL+"/api/recommendations?duration=year", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHighlightsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	var h engine.Highlights
	resp := getJSON(t, srv.URL+"/api/highlights?limit=3", &h)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, h.Curated)
	assert.Empty(t, h.Popular)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	getJSON(t, srv.URL+"/api/events", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "eventscope_fetch_total")
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	srv, _ := newTestServer(t, cfg)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
