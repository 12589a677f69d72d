package feed

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "eventscope/internal/log"
	"eventscope/internal/normalize"
)

// Entry is one VEVENT as read from a calendar feed, before recurrence is
// resolved.
type Entry struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Categories  []string
	URL         string
	Image       string

	Start  time.Time
	End    time.Time
	AllDay bool

	Lat, Lon *float64

	// Non-standard properties some venue calendars publish.
	EventID  string // X-EVENT-ID
	PriceMin string // X-PRICE-MIN
	PriceMax string // X-PRICE-MAX

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID
	IsOverride bool
}

// ParseICS reads every VEVENT in body. Bad VEVENTs are logged and skipped.
// Floating and all-day times are interpreted in loc.
func ParseICS(feedID string, body []byte, loc *time.Location) ([]Entry, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics %s: %w", feedID, err)
	}

	entries := make([]Entry, 0)
	for _, ve := range cal.Events() {
		e, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "feed", feedID)
			continue
		}
		entries = append(entries, e)
	}
	appLog.Debug("ics parse completed", "feed", feedID, "entries", len(entries))
	return entries, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (Entry, error) {
	var out Entry

	out.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if out.UID == "" {
		return out, errors.New("missing UID")
	}
	if n, err := strconv.Atoi(propValue(ve, ical.ComponentPropertySequence)); err == nil {
		out.Seq = n
	}

	out.Summary = unescape(propValue(ve, ical.ComponentPropertySummary))
	out.Description = unescape(propValue(ve, ical.ComponentPropertyDescription))
	out.Location = unescape(propValue(ve, ical.ComponentPropertyLocation))
	out.URL = propValue(ve, "URL")
	out.Image = firstNonEmpty(propValue(ve, "IMAGE"), propValue(ve, "ATTACH"))
	out.EventID = propValue(ve, "X-EVENT-ID")
	out.PriceMin = propValue(ve, "X-PRICE-MIN")
	out.PriceMax = propValue(ve, "X-PRICE-MAX")

	for _, p := range ve.GetProperties("CATEGORIES") {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(unescape(c)); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	if geo := propValue(ve, "GEO"); geo != "" {
		latS, lonS, ok := strings.Cut(geo, ";")
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(latS), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
		if ok && err1 == nil && err2 == nil {
			out.Lat, out.Lon = &lat, &lon
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	start, err := eventTime(dtStart, out.AllDay, loc, ve.GetStartAt)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		if end, err := eventTime(dtEnd, isDateValue(dtEnd), loc, ve.GetEndAt); err == nil {
			out.End = end
		}
	}
	if out.End.IsZero() || out.End.Before(out.Start) {
		if out.AllDay {
			out.End = out.Start.AddDate(0, 0, 1)
		} else {
			out.End = out.Start
		}
	}

	out.RawRRule = propValue(ve, ical.ComponentPropertyRrule)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, tzOf(p, loc)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		if t, err := parseICSTime(rid.Value, tzOf(rid, loc)); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}
	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzOf(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			return l
		}
	}
	return fallback
}

// eventTime prefers the library's timezone handling and falls back to a
// plain parse of the raw value. All-day dates become midnight in loc.
func eventTime(p *ical.IANAProperty, allDay bool, loc *time.Location, get func() (time.Time, error)) (time.Time, error) {
	if allDay {
		t, err := parseICSTime(p.Value, loc)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
	}
	tzLoc := tzOf(p, loc)
	if _, hasTZ := p.ICalParameters["TZID"]; !hasTZ && !strings.HasSuffix(p.Value, "Z") {
		// Floating time: the library would use time.Local.
		return parseICSTime(p.Value, loc)
	}
	if t, err := get(); err == nil && !t.IsZero() {
		return t, nil
	}
	return parseICSTime(p.Value, tzLoc)
}

// parseICSTime parses DATE, DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

func unescape(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Records resolves recurrence and converts entries into normalizer records.
// A recurring entry contributes its next occurrence at or after now (its
// last one if the series has ended); a matching RECURRENCE-ID override
// replaces that occurrence. Overrides are never emitted on their own.
func Records(feedID string, entries []Entry, now time.Time) []normalize.Record {
	overrides := make(map[string][]Entry)
	for _, e := range entries {
		if e.IsOverride {
			overrides[e.UID] = append(overrides[e.UID], e)
		}
	}

	out := make([]normalize.Record, 0, len(entries))
	for _, e := range entries {
		if e.IsOverride {
			continue
		}
		inst := e
		if e.RawRRule != "" {
			start, ok := nextOccurrence(e, now)
			if !ok {
				continue
			}
			inst.End = start.Add(e.End.Sub(e.Start))
			inst.Start = start
			if o, ok := findOverride(overrides[e.UID], start); ok {
				inst = o
			}
		}
		out = append(out, toRecord(feedID, e.UID, inst))
	}
	return out
}

func nextOccurrence(e Entry, now time.Time) (time.Time, bool) {
	r, err := rrule.StrToRRule(e.RawRRule)
	if err != nil {
		appLog.Error("ics rrule parse failed", err, "uid", e.UID, "rrule", e.RawRRule)
		return time.Time{}, false
	}
	r.DTStart(e.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	// An occurrence still running counts as upcoming.
	from := now.Add(-e.End.Sub(e.Start)).In(e.Start.Location())
	if next := set.After(from, true); !next.IsZero() {
		return next, true
	}
	if last := set.Before(now.In(e.Start.Location()), true); !last.IsZero() {
		return last, true
	}
	return time.Time{}, false
}

func findOverride(overrides []Entry, start time.Time) (Entry, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return Entry{}, false
}

func toRecord(feedID, uid string, e Entry) normalize.Record {
	r := normalize.Record{
		"id":          eventID(feedID, uid, e.EventID),
		"name":        e.Summary,
		"description": e.Description,
		"start_date":  e.Start.Format(time.RFC3339),
		"end_date":    e.End.Format(time.RFC3339),
	}
	if e.Location != "" {
		r["address"] = e.Location
		name, _, _ := strings.Cut(e.Location, ",")
		r["venue"] = strings.TrimSpace(name)
	}
	if len(e.Categories) > 0 {
		r["category"] = e.Categories[0]
		tags := make([]any, len(e.Categories))
		for i, c := range e.Categories {
			tags[i] = strings.ToLower(c)
		}
		r["tags"] = tags
	}
	if e.Lat != nil && e.Lon != nil {
		r["latitude"], r["longitude"] = *e.Lat, *e.Lon
	}
	if e.Image != "" {
		r["image_url"] = e.Image
	}
	if e.PriceMin != "" {
		r["price_range_min"] = e.PriceMin
	}
	if e.PriceMax != "" {
		r["price_range_max"] = e.PriceMax
	}
	return r
}

// eventID prefers an explicit X-EVENT-ID, then a numeric UID, and otherwise
// derives a stable id from the feed and UID. Derived ids stay below 2^53 so
// they survive JSON clients.
func eventID(feedID, uid, explicit string) int64 {
	for _, s := range []string{explicit, uid} {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && n > 0 {
			return n
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(feedID + "|" + uid))
	return int64(h.Sum64() & (1<<53 - 1))
}
