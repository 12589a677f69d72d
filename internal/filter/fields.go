package filter

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Category is the event category enum. CategoryAll is the only encoding of
// "no category filter".
type Category string

const (
	CategoryAll           Category = "all"
	CategoryMusic         Category = "music"
	CategorySports        Category = "sports"
	CategoryComedy        Category = "comedy"
	CategoryTheatre       Category = "theatre"
	CategoryOther         Category = "other"
	CategoryEntertainment Category = "entertainment"
	CategoryDining        Category = "dining"
	CategoryNightlife     Category = "nightlife"
	CategoryShopping      Category = "shopping"
	CategoryAdventure     Category = "adventure"
)

var categories = map[Category]struct{}{
	CategoryAll: {}, CategoryMusic: {}, CategorySports: {}, CategoryComedy: {},
	CategoryTheatre: {}, CategoryOther: {}, CategoryEntertainment: {},
	CategoryDining: {}, CategoryNightlife: {}, CategoryShopping: {}, CategoryAdventure: {},
}

// ParseCategory folds case and maps "" onto CategoryAll.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return CategoryAll, nil
	}
	if _, ok := categories[c]; !ok {
		return "", fmt.Errorf("filter: unknown category %q", s)
	}
	return c, nil
}

// Matches reports whether an event category satisfies c. Events without a
// category only match CategoryAll.
func (c Category) Matches(eventCategory string) bool {
	if c == CategoryAll {
		return true
	}
	return eventCategory != "" && strings.EqualFold(eventCategory, string(c))
}

// PriceBand is the price filter enum, evaluated against price_range_min.
type PriceBand string

const (
	PriceAll      PriceBand = "all"
	PriceFree     PriceBand = "free"
	PricePaid     PriceBand = "paid"
	PriceUnder50  PriceBand = "under-50"
	Price50To100  PriceBand = "50-100"
	Price100To200 PriceBand = "100-200"
	PriceOver200  PriceBand = "over-200"
)

// ParsePriceBand maps "" onto PriceAll.
func ParsePriceBand(s string) (PriceBand, error) {
	b := PriceBand(strings.ToLower(strings.TrimSpace(s)))
	switch b {
	case "":
		return PriceAll, nil
	case PriceAll, PriceFree, PricePaid, PriceUnder50, Price50To100, Price100To200, PriceOver200:
		return b, nil
	}
	return "", fmt.Errorf("filter: unknown price range %q", s)
}

// Contains reports whether a minimum price falls in the band.
//
// Buckets: under-50 [0,50), 50-100 [50,100], 100-200 (100,200],
// over-200 (200,inf). A nil minimum is unknown and only matches PriceAll.
func (b PriceBand) Contains(min *float64) bool {
	if b == PriceAll {
		return true
	}
	if min == nil || math.IsNaN(*min) {
		return false
	}
	m := *min
	switch b {
	case PriceFree:
		return m == 0
	case PricePaid:
		return m > 0
	case PriceUnder50:
		return m < 50
	case Price50To100:
		return m >= 50 && m <= 100
	case Price100To200:
		return m > 100 && m <= 200
	case PriceOver200:
		return m > 200
	}
	return false
}

// Timeframe is the relative date window enum.
type Timeframe string

const (
	TimeAll   Timeframe = "all"
	TimeToday Timeframe = "today"
	TimeWeek  Timeframe = "week"
	TimeMonth Timeframe = "month"
)

// ParseTimeframe maps "" onto TimeAll.
func ParseTimeframe(s string) (Timeframe, error) {
	t := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "":
		return TimeAll, nil
	case TimeAll, TimeToday, TimeWeek, TimeMonth:
		return t, nil
	}
	return "", fmt.Errorf("filter: unknown timeframe %q", s)
}

// Contains reports whether start falls in the window relative to now.
//
// today compares calendar days in loc; week is now <= start <= now+7d;
// month is now <= start <= now+1 month. Unscheduled events only match TimeAll.
func (t Timeframe) Contains(start *time.Time, now time.Time, loc *time.Location) bool {
	if t == TimeAll {
		return true
	}
	if start == nil {
		return false
	}
	if loc == nil {
		loc = time.Local
	}
	switch t {
	case TimeToday:
		sy, sm, sd := start.In(loc).Date()
		ny, nm, nd := now.In(loc).Date()
		return sy == ny && sm == nm && sd == nd
	case TimeWeek:
		return !start.Before(now) && !start.After(now.AddDate(0, 0, 7))
	case TimeMonth:
		return !start.Before(now) && !start.After(now.AddDate(0, 1, 0))
	}
	return false
}

// SortKey selects result ordering. SortDate is the default and is never
// emitted as a query parameter.
type SortKey string

const (
	SortDate       SortKey = "date"
	SortPriceLow   SortKey = "price-low"
	SortPriceHigh  SortKey = "price-high"
	SortRating     SortKey = "rating"
	SortPopularity SortKey = "popularity"
	SortDistance   SortKey = "distance"
)

// ParseSortKey maps "" onto SortDate.
func ParseSortKey(s string) (SortKey, error) {
	k := SortKey(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case "":
		return SortDate, nil
	case SortDate, SortPriceLow, SortPriceHigh, SortRating, SortPopularity, SortDistance:
		return k, nil
	}
	return "", fmt.Errorf("filter: unknown sort key %q", s)
}

const earthRadiusKm = 6371.0

// Geo is a search origin with an optional radius in kilometres. Without a
// radius the origin only drives distance sorting.
type Geo struct {
	Lat    float64
	Lon    float64
	Radius *float64
}

// DistanceKm returns the great-circle distance from the origin.
func (g Geo) DistanceKm(lat, lon float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat - g.Lat)
	dLon := toRad(lon - g.Lon)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(g.Lat))*math.Cos(toRad(lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Contains reports whether a point lies inside the radius. Points with
// unknown coordinates never match a radius filter.
func (g Geo) Contains(lat, lon *float64) bool {
	if g.Radius == nil {
		return true
	}
	if lat == nil || lon == nil {
		return false
	}
	return g.DistanceKm(*lat, *lon) <= *g.Radius
}

// DateRange bounds start_date inclusively on both ends. Either bound may be nil.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether start lies within the range.
func (r DateRange) Contains(start *time.Time) bool {
	if start == nil {
		return false
	}
	if r.From != nil && start.Before(*r.From) {
		return false
	}
	if r.To != nil && start.After(*r.To) {
		return false
	}
	return true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
