package normalize

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscope/internal/log"
	"eventscope/internal/metrics"
	"eventscope/internal/recommend"
)

func init() {
	log.SetOutput(io.Discard)
}

func TestNormalizeInternalRecord(t *testing.T) {
	n := New(Options{})
	ev, err := n.Normalize("internal", Record{
		"id":              float64(42),
		"name":            "  Jazz Night ",
		"description":     "Live jazz",
		"category":        "music",
		"price_range_min": float64(25),
		"price_range_max": "60",
		"start_date":      "2025-03-01T20:00:00Z",
		"venue":           "Blue Room",
		"latitude":        36.1147,
		"lon":             -115.1728,
		"tags":            []any{"jazz", "live"},
		"rating":          4.7,
		"review_count":    float64(120),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), ev.ID)
	assert.Equal(t, "Jazz Night", ev.Name)
	assert.Equal(t, "music", ev.Category)
	assert.Equal(t, 25.0, *ev.PriceMin)
	assert.Equal(t, 60.0, *ev.PriceMax)
	assert.Equal(t, time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC), *ev.StartDate)
	assert.Equal(t, "Blue Room", ev.VenueName())
	assert.Equal(t, -115.1728, *ev.Longitude)
	assert.Equal(t, []string{"jazz", "live"}, ev.Tags)
	assert.Equal(t, "internal", ev.Source)
	assert.Equal(t, DefaultPlaceholderImage, ev.ImageURL)
	assert.Empty(t, ev.PriceLevel)
}

func TestMissingPricesStayUnknown(t *testing.T) {
	ev, err := New(Options{}).Normalize("internal", Record{"id": "7", "name": "Walk"})
	require.NoError(t, err)
	assert.Nil(t, ev.PriceMin)
	assert.Nil(t, ev.PriceMax)
	assert.False(t, ev.IsFree())
	assert.Nil(t, ev.StartDate)
}

func TestRequiredFields(t *testing.T) {
	n := New(Options{})

	_, err := n.Normalize("internal", Record{"name": "no id"})
	var nerr *NormalizationError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "id", nerr.Field)
	assert.Equal(t, -1, nerr.Index)

	_, err = n.Normalize("internal", Record{"id": 1, "name": "   "})
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "name", nerr.Field)

	_, err = n.Normalize("internal", Record{"id": 1.5, "name": "x"})
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "id", nerr.Field)

	_, err = n.Normalize("internal", nil)
	require.Error(t, err)
}

func TestBatchDropsBadRecords(t *testing.T) {
	m := metrics.New()
	n := New(Options{Metrics: m})

	records := make([]Record, 0, 10)
	for i := 1; i <= 10; i++ {
		r := Record{"id": float64(i), "name": fmt.Sprintf("event %d", i)}
		if i == 4 {
			delete(r, "name")
		}
		records = append(records, r)
	}

	b := n.NormalizeBatch("internal", records)
	assert.Len(t, b.Events, 9)
	assert.Equal(t, 1, b.Dropped)
	require.Len(t, b.Errors, 1)

	var nerr *NormalizationError
	require.True(t, errors.As(b.Errors[0], &nerr))
	assert.Equal(t, 3, nerr.Index)
	assert.Equal(t, "name", nerr.Field)
	assert.Equal(t, int64(5), b.Events[3].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedCounter("internal")))
}

func TestDeterministic(t *testing.T) {
	n := New(Options{})
	r := Record{"id": 3, "name": "Show", "category": "Music", "tags": "a, b", "price_range_min": 10}
	a, err := n.Normalize("recommendations", r)
	require.NoError(t, err)
	b, err := n.Normalize("recommendations", r)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReversedPriceIsSwapped(t *testing.T) {
	ev, err := New(Options{}).Normalize("internal", Record{
		"id": 1, "name": "x", "price_range_min": 80, "price_range_max": 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, *ev.PriceMin)
	assert.Equal(t, 80.0, *ev.PriceMax)
}

func TestClampsAndCoordinates(t *testing.T) {
	ev, err := New(Options{}).Normalize("internal", Record{
		"id": 1, "name": "x", "rating": 9, "review_count": -4,
		"latitude": 120, "longitude": 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, ev.Rating)
	assert.Equal(t, 0, ev.ReviewCount)
	assert.False(t, ev.HasCoordinates())
	assert.Nil(t, ev.Longitude)
}

func TestRecommendationsGoThroughMapper(t *testing.T) {
	ev, err := New(Options{}).Normalize("recommendations", Record{
		"id": 9, "name": "Steakhouse", "category": "Food", "price_range_max": 75,
	})
	require.NoError(t, err)
	assert.Equal(t, recommend.Dining, ev.Category)
	assert.Equal(t, recommend.PriceLevelExpensive, ev.PriceLevel)
	assert.Equal(t, []string{recommend.InterestFineDining}, ev.Interests)
}

func TestConfiguredTableOverridesDefault(t *testing.T) {
	n := New(Options{Tables: map[string]recommend.Table{
		"ics": {Categories: map[string]string{"gig": "music"}, Fallback: "other"},
	}})
	ev, err := n.Normalize("ics:venue", Record{"id": 1, "name": "x", "category": "Gig"})
	require.NoError(t, err)
	assert.Equal(t, "music", ev.Category)
	assert.Equal(t, "ics:venue", ev.Source)
}

func TestVenueObjectAndGallery(t *testing.T) {
	ev, err := New(Options{PlaceholderImage: "/p.png"}).Normalize("internal", Record{
		"id":   1,
		"name": "x",
		"venue": map[string]any{
			"name": "The Sphere", "address": "255 Sands Ave", "city": "Las Vegas", "state": "NV", "zip": "89169",
		},
		"images": []any{map[string]any{"url": "https://img/1.jpg"}, "https://img/2.jpg"},
		"reviews": []any{
			map[string]any{"author": "sam", "rating": 4, "text": "good"},
			"junk",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "The Sphere", ev.VenueName())
	assert.Equal(t, "255 Sands Ave", ev.Address)
	assert.Equal(t, []string{"https://img/1.jpg", "https://img/2.jpg"}, ev.Gallery)
	assert.Equal(t, "https://img/1.jpg", ev.ImageURL)
	require.Len(t, ev.Reviews, 1)
	assert.Equal(t, 4.0, ev.Reviews[0].Rating)
}

func TestEventbriteShape(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	n := New(Options{Location: loc})

	ev, err := n.Normalize("eventbrite", Record{
		"id":          "123456789",
		"name":        map[string]any{"text": "Comedy Hour"},
		"description": map[string]any{"text": "Stand-up"},
		"start":       map[string]any{"local": "2025-03-01T19:30:00"},
		"logo":        map[string]any{"url": "https://eb/logo.png"},
		"category":    map[string]any{"name": "Comedy"},
		"venue": map[string]any{
			"name": "Laugh Factory",
			"address": map[string]any{
				"address_1": "3475 S Las Vegas Blvd", "city": "Las Vegas", "region": "NV",
				"postal_code": "89109", "latitude": "36.1162", "longitude": "-115.1745",
			},
		},
		"ticket_availability": map[string]any{
			"minimum_ticket_price": map[string]any{"major_value": "35.00"},
			"maximum_ticket_price": map[string]any{"major_value": "55.00"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(123456789), ev.ID)
	assert.Equal(t, "Comedy Hour", ev.Name)
	assert.Equal(t, "comedy", ev.Category)
	assert.Equal(t, time.Date(2025, 3, 2, 3, 30, 0, 0, time.UTC), *ev.StartDate)
	assert.Equal(t, 35.0, *ev.PriceMin)
	assert.Equal(t, 55.0, *ev.PriceMax)
	assert.Equal(t, 36.1162, *ev.Latitude)
	assert.Equal(t, "Laugh Factory", ev.VenueName())
	assert.Equal(t, "3475 S Las Vegas Blvd, Las Vegas, NV 89109", ev.Address)
	assert.Equal(t, "https://eb/logo.png", ev.ImageURL)
	assert.Equal(t, "eventbrite", ev.Source)
}

func TestEventbriteFreeAndUnknownCategory(t *testing.T) {
	ev, err := New(Options{}).Normalize("eventbrite", Record{
		"id": "1", "name": map[string]any{"text": "Meetup"}, "is_free": true,
		"category": map[string]any{"name": "Science & Technology"},
	})
	require.NoError(t, err)
	assert.True(t, ev.IsFree())
	assert.Equal(t, "other", ev.Category)
}

func TestDecodeList(t *testing.T) {
	for _, body := range []string{
		`[{"id": 1, "name": "a"}]`,
		`{"events": [{"id": 1, "name": "a"}]}`,
		`{"results": [{"id": 1, "name": "a"}], "count": 1}`,
		`{"data": [{"id": 1, "name": "a"}]}`,
	} {
		recs, err := DecodeList([]byte(body))
		require.NoError(t, err, body)
		require.Len(t, recs, 1, body)
		assert.Equal(t, "a", recs[0]["name"])
	}

	_, err := DecodeList([]byte(`{"foo": 1}`))
	assert.Error(t, err)
	_, err = DecodeList([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeKeepsLargeIDs(t *testing.T) {
	recs, err := DecodeList([]byte(`[{"id": 9007199254740993, "name": "big"}, 5]`))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Nil(t, recs[1])

	b := New(Options{}).NormalizeBatch("internal", recs)
	require.Len(t, b.Events, 1)
	assert.Equal(t, int64(9007199254740993), b.Events[0].ID)
	assert.Equal(t, 1, b.Dropped)
}

func TestDecodeOne(t *testing.T) {
	r, err := DecodeOne([]byte(`{"event": {"id": 2, "name": "wrapped"}}`))
	require.NoError(t, err)
	assert.Equal(t, "wrapped", r["name"])

	r, err = DecodeOne([]byte(`{"id": 3, "name": "bare", "data": {"x": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, "bare", r["name"])

	_, err = DecodeOne([]byte(`[1]`))
	assert.Error(t, err)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ics", Kind("ICS:Venue Calendar"))
	assert.Equal(t, "internal", Kind("internal"))
}
