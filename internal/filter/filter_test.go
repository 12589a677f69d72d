package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToSentinels(t *testing.T) {
	f, err := New()
	require.NoError(t, err)

	assert.Equal(t, CategoryAll, f.Category())
	assert.Equal(t, PriceAll, f.PriceBand())
	assert.Equal(t, TimeAll, f.Timeframe())
	assert.Equal(t, SortDate, f.Sort())
	assert.True(t, f.IsZero())

	_, ok := f.Geo()
	assert.False(t, ok)
	_, ok = f.RatingFloor()
	assert.False(t, ok)
	assert.Nil(t, f.Tags())
}

func TestUnsetHasOneEncoding(t *testing.T) {
	spelled := Must(
		WithCategory(""),
		WithPriceBand("ALL"),
		WithTimeframe(" all "),
		WithSort(""),
		WithRatingFloor(0),
		WithTags("", "  "),
		WithSearch("   "),
		WithDateRange(nil, nil),
	)
	assert.True(t, spelled.IsZero())
	assert.True(t, spelled.Equal(Must()))
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	base := Must(WithTags("jazz"), WithLocation(36.1, -115.1, floatPtr(10)))
	next, err := base.With(WithTags("blues"), WithLocation(40, -70, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"jazz"}, base.Tags())
	g, _ := base.Geo()
	require.NotNil(t, g.Radius)
	assert.Equal(t, 10.0, *g.Radius)

	assert.Equal(t, []string{"blues"}, next.Tags())
	g2, _ := next.Geo()
	assert.Nil(t, g2.Radius)
}

func TestGettersReturnCopies(t *testing.T) {
	f := Must(WithTags("a", "b"))
	tags := f.Tags()
	tags[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, f.Tags())
}

func TestTagsNormalized(t *testing.T) {
	f := Must(WithTags(" Jazz", "blues", "JAZZ", "", "Rock"))
	assert.Equal(t, []string{"jazz", "blues", "rock"}, f.Tags())
}

func TestLocationRounding(t *testing.T) {
	f := Must(WithLocation(36.12345678, -115.17654321, floatPtr(12.3456)))
	g, ok := f.Geo()
	require.True(t, ok)
	assert.Equal(t, 36.123457, g.Lat)
	assert.Equal(t, -115.176543, g.Lon)
	assert.Equal(t, 12.35, *g.Radius)
}

func TestInvalidOptions(t *testing.T) {
	cases := map[string]Option{
		"category":  WithCategory("polka"),
		"price":     WithPriceBand("cheap"),
		"timeframe": WithTimeframe("year"),
		"sort":      WithSort("random"),
		"latitude":  WithLocation(91, 0, nil),
		"longitude": WithLocation(0, 181, nil),
		"radius":    WithLocation(0, 0, floatPtr(-1)),
		"rating":    WithRatingFloor(5.5),
		"dates":     WithDateRange(timePtr(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)), timePtr(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))),
	}
	for name, opt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(opt)
			assert.Error(t, err)
		})
	}
}

func TestEqual(t *testing.T) {
	a := Must(WithCategory(CategoryMusic), WithTags("x"), WithLocation(1, 2, floatPtr(3)))
	b := Must(WithCategory("MUSIC"), WithTags("X"), WithLocation(1, 2, floatPtr(3)))
	c := Must(WithCategory(CategoryMusic), WithTags("x"), WithLocation(1, 2, nil))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func floatPtr(v float64) *float64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }
