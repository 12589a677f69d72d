package query

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"eventscope/internal/filter"
)

// Parse is the inverse of Translate: it rebuilds a Filter from query values.
// Unknown keys are ignored. For any Filter f, Parse(Translate(f).Values())
// equals f.
func Parse(v url.Values) (filter.Filter, error) {
	opts := []filter.Option{
		filter.WithCategory(filter.Category(v.Get(ParamCategory))),
		filter.WithPriceBand(filter.PriceBand(v.Get(ParamPrice))),
		filter.WithTimeframe(filter.Timeframe(v.Get(ParamTimeframe))),
		filter.WithSort(filter.SortKey(v.Get(ParamSort))),
		filter.WithTags(v[ParamTags]...),
		filter.WithVenue(v.Get(ParamVenue)),
		filter.WithSearch(v.Get(ParamSearch)),
	}

	latStr, lonStr := v.Get(ParamLatitude), v.Get(ParamLongitude)
	if latStr != "" || lonStr != "" {
		if latStr == "" || lonStr == "" {
			return filter.Filter{}, fmt.Errorf("query: %s and %s must be given together", ParamLatitude, ParamLongitude)
		}
		lat, err := parseFloat(ParamLatitude, latStr)
		if err != nil {
			return filter.Filter{}, err
		}
		lon, err := parseFloat(ParamLongitude, lonStr)
		if err != nil {
			return filter.Filter{}, err
		}
		var radius *float64
		if s := v.Get(ParamRadius); s != "" {
			r, err := parseFloat(ParamRadius, s)
			if err != nil {
				return filter.Filter{}, err
			}
			radius = &r
		}
		opts = append(opts, filter.WithLocation(lat, lon, radius))
	}

	if s := v.Get(ParamRating); s != "" {
		r, err := parseFloat(ParamRating, s)
		if err != nil {
			return filter.Filter{}, err
		}
		opts = append(opts, filter.WithRatingFloor(r))
	}

	from, err := parseTime(ParamStartDate, v.Get(ParamStartDate))
	if err != nil {
		return filter.Filter{}, err
	}
	to, err := parseTime(ParamEndDate, v.Get(ParamEndDate))
	if err != nil {
		return filter.Filter{}, err
	}
	opts = append(opts, filter.WithDateRange(from, to))

	return filter.New(opts...)
}

func parseFloat(name, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("query: %s: %w", name, err)
	}
	return f, nil
}

// parseTime accepts RFC 3339 or a bare YYYY-MM-DD date (UTC midnight).
func parseTime(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("query: %s: unsupported time %q", name, s)
	}
	return &t, nil
}
