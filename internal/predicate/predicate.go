// Package predicate evaluates a filter.Filter against already-fetched events.
// It must agree with the events API: for any filter and catalog, Apply over
// the catalog yields the same set the server returns for query.Translate(f).
package predicate

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"eventscope/internal/filter"
	"eventscope/internal/model"
)

// Match builds the membership predicate for f. now and loc anchor the
// relative timeframes.
func Match(f filter.Filter, now time.Time, loc *time.Location) func(model.Event) bool {
	category := f.Category()
	band := f.PriceBand()
	timeframe := f.Timeframe()
	geo, hasGeo := f.Geo()
	floor, hasFloor := f.RatingFloor()
	dates, hasDates := f.DateRange()
	tags := f.Tags()
	venue := f.Venue()
	search := strings.ToLower(f.Search())

	return func(ev model.Event) bool {
		if !category.Matches(ev.Category) {
			return false
		}
		if !band.Contains(ev.PriceMin) {
			return false
		}
		if !timeframe.Contains(ev.StartDate, now, loc) {
			return false
		}
		if hasDates && !dates.Contains(ev.StartDate) {
			return false
		}
		if hasGeo && !geo.Contains(ev.Latitude, ev.Longitude) {
			return false
		}
		if hasFloor && ev.Rating < floor {
			return false
		}
		for _, t := range tags {
			if !ev.HasTag(t) {
				return false
			}
		}
		if venue != "" && !strings.EqualFold(ev.VenueName(), venue) {
			return false
		}
		if search != "" && !matchesText(ev, search) {
			return false
		}
		return true
	}
}

func matchesText(ev model.Event, needle string) bool {
	for _, hay := range []string{ev.Name, ev.Description, ev.VenueName(), ev.Address} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// Compare orders events by f's sort key. Unknown values (nil start, nil
// price, missing coordinates) sort last regardless of direction; ties break
// on id ascending.
func Compare(f filter.Filter) func(a, b model.Event) int {
	geo, hasGeo := f.Geo()
	key := f.Sort()
	if key == filter.SortDistance && !hasGeo {
		key = filter.SortDate
	}

	byKey := func(a, b model.Event) int {
		switch key {
		case filter.SortPriceLow:
			return nilsLast(a.PriceMin, b.PriceMin, func(x, y float64) int { return cmp.Compare(x, y) })
		case filter.SortPriceHigh:
			return nilsLast(a.PriceMin, b.PriceMin, func(x, y float64) int { return cmp.Compare(y, x) })
		case filter.SortRating:
			return cmp.Compare(b.Rating, a.Rating)
		case filter.SortPopularity:
			return cmp.Compare(b.ReviewCount, a.ReviewCount)
		case filter.SortDistance:
			return nilsLast(distance(geo, a), distance(geo, b), func(x, y float64) int { return cmp.Compare(x, y) })
		default:
			return nilsLast(a.StartDate, b.StartDate, func(x, y time.Time) int { return x.Compare(y) })
		}
	}
	return func(a, b model.Event) int {
		if c := byKey(a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
}

// Less reports whether a sorts before b under f.
func Less(f filter.Filter) func(a, b model.Event) bool {
	c := Compare(f)
	return func(a, b model.Event) bool { return c(a, b) < 0 }
}

func nilsLast[T any](a, b *T, c func(x, y T) int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return c(*a, *b)
}

func distance(g filter.Geo, ev model.Event) *float64 {
	if !ev.HasCoordinates() {
		return nil
	}
	d := g.DistanceKm(*ev.Latitude, *ev.Longitude)
	return &d
}

// Apply returns the events matching f in f's order. The input slice is left
// untouched.
func Apply(f filter.Filter, events []model.Event, now time.Time, loc *time.Location) []model.Event {
	match := Match(f, now, loc)
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if match(ev) {
			out = append(out, ev)
		}
	}
	slices.SortStableFunc(out, Compare(f))
	return out
}

// Highlight thresholds.
const (
	CuratedMinRating  = 4.5
	PopularMinReviews = 1000
)

// Curated returns top-rated events, best first.
func Curated(events []model.Event, limit int) []model.Event {
	return highlight(events, limit,
		func(ev model.Event) bool { return ev.Rating >= CuratedMinRating },
		func(a, b model.Event) int { return cmp.Compare(b.Rating, a.Rating) })
}

// Popular returns heavily reviewed events, most reviewed first.
func Popular(events []model.Event, limit int) []model.Event {
	return highlight(events, limit,
		func(ev model.Event) bool { return ev.ReviewCount > PopularMinReviews },
		func(a, b model.Event) int { return cmp.Compare(b.ReviewCount, a.ReviewCount) })
}

func highlight(events []model.Event, limit int, keep func(model.Event) bool, order func(a, b model.Event) int) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Event) int {
		if c := order(a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
