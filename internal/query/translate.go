package query

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"eventscope/internal/filter"
)

// Parameter names on the events endpoint.
const (
	ParamCategory  = "category"
	ParamPrice     = "priceRange"
	ParamTimeframe = "timeframe"
	ParamSort      = "sortBy"
	ParamLatitude  = "latitude"
	ParamLongitude = "longitude"
	ParamRadius    = "radius"
	ParamRating    = "rating"
	ParamStartDate = "startDate"
	ParamEndDate   = "endDate"
	ParamTags      = "tags"
	ParamVenue     = "venue"
	ParamSearch    = "q"
)

// Param is one key/value pair. Order matters; see Params.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter list. Unlike url.Values it keeps the
// insertion order, so the encoded string is stable.
type Params []Param

// Encode renders p as a query string without a leading '?'. An empty list
// encodes to "".
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// Values converts p to url.Values for callers that need them.
func (p Params) Values() url.Values {
	v := url.Values{}
	for _, kv := range p {
		v.Add(kv.Key, kv.Value)
	}
	return v
}

// Translate maps a Filter onto remote query parameters. Fields at their
// sentinel are omitted, so the zero Filter yields no parameters. The output
// order is fixed: the same Filter always encodes to the same bytes.
func Translate(f filter.Filter) Params {
	var p Params
	add := func(k, v string) { p = append(p, Param{Key: k, Value: v}) }

	if c := f.Category(); c != filter.CategoryAll {
		add(ParamCategory, string(c))
	}
	if b := f.PriceBand(); b != filter.PriceAll {
		add(ParamPrice, string(b))
	}
	if t := f.Timeframe(); t != filter.TimeAll {
		add(ParamTimeframe, string(t))
	}
	if s := f.Sort(); s != filter.SortDate {
		add(ParamSort, string(s))
	}
	if g, ok := f.Geo(); ok {
		add(ParamLatitude, formatFloat(g.Lat, 6))
		add(ParamLongitude, formatFloat(g.Lon, 6))
		if g.Radius != nil {
			add(ParamRadius, formatFloat(*g.Radius, 2))
		}
	}
	if r, ok := f.RatingFloor(); ok {
		add(ParamRating, formatFloat(r, 2))
	}
	if d, ok := f.DateRange(); ok {
		if d.From != nil {
			add(ParamStartDate, d.From.UTC().Format(time.RFC3339))
		}
		if d.To != nil {
			add(ParamEndDate, d.To.UTC().Format(time.RFC3339))
		}
	}
	for _, tag := range f.Tags() {
		add(ParamTags, tag)
	}
	if v := f.Venue(); v != "" {
		add(ParamVenue, v)
	}
	if q := f.Search(); q != "" {
		add(ParamSearch, q)
	}
	return p
}

// Encode is Translate followed by Params.Encode.
func Encode(f filter.Filter) string {
	return Translate(f).Encode()
}

func formatFloat(v float64, places int) string {
	return strconv.FormatFloat(v, 'f', places, 64)
}
