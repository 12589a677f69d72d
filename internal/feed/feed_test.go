package feed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscope/internal/client"
	"eventscope/internal/log"
	"eventscope/internal/model"
	"eventscope/internal/normalize"
)

func init() {
	log.SetOutput(io.Discard)
}

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func ics(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//eventscope//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return []byte(strings.Join(all, "\r\n"))
}

var venueCalendar = ics(
	"BEGIN:VEVENT",
	"UID:1001",
	"SUMMARY:Jazz Brunch",
	"DTSTART:20250315T180000Z",
	"DTEND:20250315T200000Z",
	`LOCATION:Blue Room\, 123 Main St`,
	"CATEGORIES:Music,Food",
	"GEO:36.1147;-115.1728",
	"X-PRICE-MIN:25",
	"X-PRICE-MAX:40",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:weekly-trivia@venue",
	"SUMMARY:Trivia Night",
	"DTSTART:20250303T030000Z",
	"DTEND:20250303T050000Z",
	"RRULE:FREQ=WEEKLY;COUNT=10",
	"EXDATE:20250310T030000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:weekly-trivia@venue",
	"RECURRENCE-ID:20250317T030000Z",
	"SUMMARY:Trivia Night (Special)",
	"DTSTART:20250317T040000Z",
	"DTEND:20250317T060000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"SUMMARY:No UID",
	"DTSTART:20250315T180000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:no-summary",
	"DTSTART;VALUE=DATE:20250320",
	"END:VEVENT",
)

func TestParseICS(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	entries, err := ParseICS("venue", venueCalendar, loc)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	jazz := entries[0]
	assert.Equal(t, "Jazz Brunch", jazz.Summary)
	assert.Equal(t, "Blue Room, 123 Main St", jazz.Location)
	assert.Equal(t, []string{"Music", "Food"}, jazz.Categories)
	require.NotNil(t, jazz.Lat)
	assert.Equal(t, 36.1147, *jazz.Lat)
	assert.True(t, jazz.Start.Equal(time.Date(2025, 3, 15, 18, 0, 0, 0, time.UTC)))

	assert.True(t, entries[2].IsOverride)
	assert.Len(t, entries[1].ExDates, 1)

	allDay := entries[3]
	assert.True(t, allDay.AllDay)
	assert.True(t, allDay.Start.Equal(time.Date(2025, 3, 20, 0, 0, 0, 0, loc)))
	assert.True(t, allDay.End.Equal(time.Date(2025, 3, 21, 0, 0, 0, 0, loc)))
}

func TestParseICSRejectsGarbage(t *testing.T) {
	_, err := ParseICS("x", nil, time.UTC)
	assert.Error(t, err)
}

func TestRecordsResolveRecurrence(t *testing.T) {
	entries, err := ParseICS("venue", venueCalendar, time.UTC)
	require.NoError(t, err)

	records := Records("venue", entries, now)
	require.Len(t, records, 3)

	trivia := records[1]
	// 3/10 is excluded, 3/17 is overridden.
	assert.Equal(t, "Trivia Night (Special)", trivia["name"])
	assert.Equal(t, "2025-03-17T04:00:00Z", trivia["start_date"])
	assert.Equal(t, eventID("venue", "weekly-trivia@venue", ""), trivia["id"])
}

func TestEndedSeriesUsesLastOccurrence(t *testing.T) {
	entries, err := ParseICS("venue", ics(
		"BEGIN:VEVENT",
		"UID:old-series",
		"SUMMARY:Winter Market",
		"DTSTART:20250101T170000Z",
		"RRULE:FREQ=WEEKLY;COUNT=2",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)

	records := Records("venue", entries, now)
	require.Len(t, records, 1)
	assert.Equal(t, "2025-01-08T17:00:00Z", records[0]["start_date"])
}

func TestEventIDs(t *testing.T) {
	assert.Equal(t, int64(77), eventID("f", "abc", "77"))
	assert.Equal(t, int64(1001), eventID("f", "1001", ""))

	a := eventID("f", "uid@host", "")
	assert.Equal(t, a, eventID("f", "uid@host", ""))
	assert.NotEqual(t, a, eventID("g", "uid@host", ""))
	assert.Less(t, a, int64(1)<<53)
	assert.GreaterOrEqual(t, a, int64(0))
}

func TestLoaderDecodesBothKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/venue.ics":
			_, _ = w.Write(venueCalendar)
		case "/eventbrite.json":
			_, _ = io.WriteString(w, `{"events": [{
				"id": "555", "name": {"text": "Comedy Hour"},
				"start": {"utc": "2025-03-12T03:00:00Z"},
				"category": {"name": "Comedy"}, "is_free": true
			}], "pagination": {"has_more_items": false}}`)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	norm := normalize.New(normalize.Options{})
	l := NewLoader(client.NewFetcher(srv.Client(), ""), norm, []Source{
		{ID: "venue", URL: srv.URL + "/venue.ics"},
		{ID: "vegas", URL: srv.URL + "/eventbrite.json", Kind: "eventbrite"},
		{ID: "down", URL: srv.URL + "/down.ics"},
	}, time.UTC)

	events, err := l.Load(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, events, 3)

	byName := map[string]model.Event{}
	for _, ev := range events {
		byName[ev.Name] = ev
	}
	jazz := byName["Jazz Brunch"]
	assert.Equal(t, int64(1001), jazz.ID)
	assert.Equal(t, "music", jazz.Category)
	assert.Equal(t, "ics:venue", jazz.Source)
	assert.Equal(t, "Blue Room", jazz.VenueName())
	assert.Equal(t, []string{"music", "food"}, jazz.Tags)
	assert.Equal(t, 25.0, *jazz.PriceMin)

	assert.Equal(t, "other", byName["Trivia Night (Special)"].Category)

	comedy := byName["Comedy Hour"]
	assert.Equal(t, "eventbrite:vegas", comedy.Source)
	assert.Equal(t, "comedy", comedy.Category)
	assert.True(t, comedy.IsFree())
}

func TestLoaderFailsWhenEveryFeedFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := NewLoader(client.NewFetcher(srv.Client(), ""), normalize.New(normalize.Options{}),
		[]Source{{ID: "a", URL: srv.URL + "/a.ics"}}, time.UTC)
	_, err := l.Load(context.Background(), now)
	assert.Error(t, err)
}

func TestLoaderToleratesOneFailedFeedBesideAnEmptyOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down.ics" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(ics())
	}))
	defer srv.Close()

	l := NewLoader(client.NewFetcher(srv.Client(), ""), normalize.New(normalize.Options{}), []Source{
		{ID: "down", URL: srv.URL + "/down.ics"},
		{ID: "quiet", URL: srv.URL + "/quiet.ics"},
	}, time.UTC)
	events, err := l.Load(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "ics:venue", Source{ID: "venue"}.Name())
	assert.Equal(t, "eventbrite:lv", Source{ID: "lv", Kind: "Eventbrite"}.Name())
}
