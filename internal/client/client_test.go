package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscope/internal/log"
	"eventscope/internal/model"
	"eventscope/internal/recommend"
)

func init() {
	log.SetOutput(io.Discard)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestEventsSendsQueryAndNormalizes(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"events": [
			{"id": 1, "name": "Indie Night", "category": "music", "price_range_min": 30},
			{"id": 2},
			{"id": 3, "name": "Hockey", "category": "sports"}
		]}`)
	}))

	events, err := c.Events(context.Background(), "category=music&priceRange=under-50")
	require.NoError(t, err)
	assert.Equal(t, "category=music&priceRange=under-50", gotQuery)
	require.Len(t, events, 2)
	assert.Equal(t, "Indie Night", events[0].Name)
	assert.Equal(t, model.SourceInternal, events[0].Source)
	assert.Equal(t, int64(3), events[1].ID)
}

func TestEventsErrorStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error": "database unavailable"}`)
	}))

	_, err := c.Events(context.Background(), "")
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, http.StatusServiceUnavailable, qe.Status)
	assert.Equal(t, "events", qe.Op)
	assert.Contains(t, qe.Error(), "database unavailable")
	assert.True(t, IsRetryable(err))
}

func TestUndecodableBodyIsQueryError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>oops</html>`)
	}))
	_, err := c.Events(context.Background(), "")
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 0, qe.Status)
}

func TestTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	origin := srv.URL
	srv.Close()

	c, err := New(origin, nil, nil)
	require.NoError(t, err)
	_, err = c.Events(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestCancelledContextIsNotQueryError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Events(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestEventDetail(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events/7":
			_, _ = io.WriteString(w, `{"id": 7, "name": "Cirque", "venue": {"name": "Bellagio"}}`)
		default:
			http.NotFound(w, r)
		}
	}))

	ev, err := c.Event(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Bellagio", ev.VenueName())

	_, err = c.Event(context.Background(), 8)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsRetryable(err))
}

func TestInteract(t *testing.T) {
	var body map[string]string
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/events/5/interact", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
	}))

	require.NoError(t, c.Interact(context.Background(), 5, model.InteractionBookmark))
	assert.Equal(t, "bookmark", body["type"])

	err := c.Interact(context.Background(), 5, model.InteractionType("poke"))
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRecommendationsAreMapped(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recommendations", r.URL.Path)
		assert.Equal(t, []string{"Fine Dining", "Live Music"}, r.URL.Query()["interests"])
		_, _ = io.WriteString(w, `{"recommendations": [{"id": 1, "name": "Steakhouse", "category": "Food", "price_range_max": 120}]}`)
	}))

	q := RecommendationQuery{UserID: "u1", Interests: []string{"Live Music", "Fine Dining", "Live Music"}, Duration: DurationWeek}
	events, err := c.Recommendations(context.Background(), q.Encode())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, recommend.Dining, events[0].Category)
	assert.Equal(t, recommend.PriceLevelLuxury, events[0].PriceLevel)
	assert.Equal(t, recommend.SourceRecommendations, events[0].Source)
}

func TestRecommendationQueryRoundTrip(t *testing.T) {
	q := RecommendationQuery{UserID: "u 1", Interests: []string{" Shows", "Gambling", ""}, Duration: DurationDay}
	assert.Equal(t, "user_id=u+1&interests=Gambling&interests=Shows&duration=day", q.Encode())

	v, err := url.ParseQuery(q.Encode())
	require.NoError(t, err)
	back, err := ParseRecommendationQuery(v)
	require.NoError(t, err)
	assert.Equal(t, q.Encode(), back.Encode())

	_, err = ParseRecommendationQuery(url.Values{"duration": {"year"}})
	assert.Error(t, err)
}

func TestNewRejectsBadOrigin(t *testing.T) {
	_, err := New("ftp://example.com", nil, nil)
	assert.Error(t, err)
	_, err = New("localhost:8080", nil, nil)
	assert.Error(t, err)
}

func TestEndpointKeepsOriginPath(t *testing.T) {
	c, err := New("https://api.example.com/v1/", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/events?q=x", c.endpoint(PathEvents, "q=x"))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...(redacted)", redactURL("https://cal.example.com/private/abc.ics?token=1"))
	assert.Equal(t, "https://cal.example.com", redactURL("https://cal.example.com"))
	assert.Equal(t, "feed://...(redacted)", redactURL("not a url"))
}
