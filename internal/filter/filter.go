package filter

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Filter is one point in filter space. It is immutable: options build a new
// value and getters hand out copies. The zero value is not valid; use New.
type Filter struct {
	category  Category
	price     PriceBand
	timeframe Timeframe
	sort      SortKey
	geo       *Geo
	rating    *float64
	dates     *DateRange
	tags      []string
	venue     string
	search    string
}

// Option sets one field on a Filter under construction.
type Option func(*Filter) error

// New returns a Filter with every field at its sentinel, then applies opts.
func New(opts ...Option) (Filter, error) {
	f := Filter{
		category:  CategoryAll,
		price:     PriceAll,
		timeframe: TimeAll,
		sort:      SortDate,
	}
	return f.With(opts...)
}

// Must is New for literals in code and tests; it panics on error.
func Must(opts ...Option) Filter {
	f, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// With returns a copy of f with opts applied. f itself is unchanged.
func (f Filter) With(opts ...Option) (Filter, error) {
	out := f.clone()
	for _, opt := range opts {
		if err := opt(&out); err != nil {
			return Filter{}, err
		}
	}
	return out, nil
}

func (f Filter) clone() Filter {
	out := f
	if f.geo != nil {
		g := *f.geo
		if f.geo.Radius != nil {
			r := *f.geo.Radius
			g.Radius = &r
		}
		out.geo = &g
	}
	if f.rating != nil {
		r := *f.rating
		out.rating = &r
	}
	if f.dates != nil {
		d := DateRange{}
		if f.dates.From != nil {
			t := *f.dates.From
			d.From = &t
		}
		if f.dates.To != nil {
			t := *f.dates.To
			d.To = &t
		}
		out.dates = &d
	}
	out.tags = slices.Clone(f.tags)
	return out
}

func WithCategory(c Category) Option {
	return func(f *Filter) error {
		parsed, err := ParseCategory(string(c))
		if err != nil {
			return err
		}
		f.category = parsed
		return nil
	}
}

func WithPriceBand(b PriceBand) Option {
	return func(f *Filter) error {
		parsed, err := ParsePriceBand(string(b))
		if err != nil {
			return err
		}
		f.price = parsed
		return nil
	}
}

func WithTimeframe(t Timeframe) Option {
	return func(f *Filter) error {
		parsed, err := ParseTimeframe(string(t))
		if err != nil {
			return err
		}
		f.timeframe = parsed
		return nil
	}
}

func WithSort(k SortKey) Option {
	return func(f *Filter) error {
		parsed, err := ParseSortKey(string(k))
		if err != nil {
			return err
		}
		f.sort = parsed
		return nil
	}
}

// WithLocation sets the search origin. radius may be nil. Coordinates are
// rounded to 6 decimals and the radius to 2 so they survive a query round trip.
func WithLocation(lat, lon float64, radius *float64) Option {
	return func(f *Filter) error {
		if math.IsNaN(lat) || lat < -90 || lat > 90 {
			return fmt.Errorf("filter: latitude %v out of range", lat)
		}
		if math.IsNaN(lon) || lon < -180 || lon > 180 {
			return fmt.Errorf("filter: longitude %v out of range", lon)
		}
		g := Geo{Lat: round(lat, 6), Lon: round(lon, 6)}
		if radius != nil {
			if math.IsNaN(*radius) || *radius <= 0 {
				return fmt.Errorf("filter: radius must be positive, got %v", *radius)
			}
			r := round(*radius, 2)
			g.Radius = &r
		}
		f.geo = &g
		return nil
	}
}

// WithoutLocation clears the search origin.
func WithoutLocation() Option {
	return func(f *Filter) error {
		f.geo = nil
		return nil
	}
}

// WithRatingFloor sets the minimum rating. 0 is the same as no floor and is
// stored as unset.
func WithRatingFloor(min float64) Option {
	return func(f *Filter) error {
		if math.IsNaN(min) || min < 0 || min > 5 {
			return fmt.Errorf("filter: rating floor %v outside [0,5]", min)
		}
		r := round(min, 2)
		if r == 0 {
			f.rating = nil
			return nil
		}
		f.rating = &r
		return nil
	}
}

// WithDateRange bounds start_date. Both nil clears the range. Bounds are kept
// in UTC at second precision.
func WithDateRange(from, to *time.Time) Option {
	return func(f *Filter) error {
		if from == nil && to == nil {
			f.dates = nil
			return nil
		}
		d := DateRange{}
		if from != nil {
			t := from.UTC().Truncate(time.Second)
			d.From = &t
		}
		if to != nil {
			t := to.UTC().Truncate(time.Second)
			d.To = &t
		}
		if d.From != nil && d.To != nil && d.From.After(*d.To) {
			return errors.New("filter: date range start is after end")
		}
		f.dates = &d
		return nil
	}
}

// WithTags replaces the tag list. Tags are trimmed and lower-cased; empties
// and repeats are dropped, first-seen order is kept. An empty result is unset.
func WithTags(tags ...string) Option {
	return func(f *Filter) error {
		var out []string
		for _, t := range tags {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || slices.Contains(out, t) {
				continue
			}
			out = append(out, t)
		}
		f.tags = out
		return nil
	}
}

func WithVenue(name string) Option {
	return func(f *Filter) error {
		f.venue = strings.TrimSpace(name)
		return nil
	}
}

// WithSearch sets the free-text query. Runs of whitespace collapse to one space.
func WithSearch(q string) Option {
	return func(f *Filter) error {
		f.search = strings.Join(strings.Fields(q), " ")
		return nil
	}
}

func (f Filter) Category() Category   { return f.category }
func (f Filter) PriceBand() PriceBand { return f.price }
func (f Filter) Timeframe() Timeframe { return f.timeframe }
func (f Filter) Sort() SortKey        { return f.sort }
func (f Filter) Venue() string        { return f.venue }
func (f Filter) Search() string       { return f.search }

// Tags returns a copy of the tag list.
func (f Filter) Tags() []string { return slices.Clone(f.tags) }

// Geo returns the search origin, if set.
func (f Filter) Geo() (Geo, bool) {
	if f.geo == nil {
		return Geo{}, false
	}
	return *f.clone().geo, true
}

// RatingFloor returns the minimum rating, if set.
func (f Filter) RatingFloor() (float64, bool) {
	if f.rating == nil {
		return 0, false
	}
	return *f.rating, true
}

// DateRange returns the start_date bounds, if set.
func (f Filter) DateRange() (DateRange, bool) {
	if f.dates == nil {
		return DateRange{}, false
	}
	return *f.clone().dates, true
}

// IsZero reports whether every field is at its sentinel.
func (f Filter) IsZero() bool {
	return f.Equal(Must())
}

// Equal compares two filters field by field.
func (f Filter) Equal(g Filter) bool {
	if f.category != g.category || f.price != g.price || f.timeframe != g.timeframe ||
		f.sort != g.sort || f.venue != g.venue || f.search != g.search {
		return false
	}
	if !slices.Equal(f.tags, g.tags) {
		return false
	}
	if !equalFloatPtr(f.rating, g.rating) {
		return false
	}
	if (f.geo == nil) != (g.geo == nil) {
		return false
	}
	if f.geo != nil {
		if f.geo.Lat != g.geo.Lat || f.geo.Lon != g.geo.Lon || !equalFloatPtr(f.geo.Radius, g.geo.Radius) {
			return false
		}
	}
	if (f.dates == nil) != (g.dates == nil) {
		return false
	}
	if f.dates != nil {
		if !equalTimePtr(f.dates.From, g.dates.From) || !equalTimePtr(f.dates.To, g.dates.To) {
			return false
		}
	}
	return true
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
