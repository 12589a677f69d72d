package normalize

import (
	"fmt"
	"strings"
	"time"

	"eventscope/internal/log"
	"eventscope/internal/metrics"
	"eventscope/internal/model"
	"eventscope/internal/recommend"
)

// DefaultPlaceholderImage is used when neither the record nor the config
// supplies an image.
const DefaultPlaceholderImage = "/static/placeholder-event.png"

// NormalizationError reports a record that could not become an Event.
type NormalizationError struct {
	Source string
	Index  int // position in the batch, -1 for single records
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("normalize %s[%d]: %s: %s", e.Source, e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("normalize %s: %s: %s", e.Source, e.Field, e.Reason)
}

// Options configures a Normalizer. Zero values are usable.
type Options struct {
	PlaceholderImage string
	// Tables maps a source kind (the part before ":" in a source name) to
	// its vocabulary table. Missing kinds get recommend.DefaultTables.
	Tables   map[string]recommend.Table
	Location *time.Location
	Metrics  *metrics.Metrics
}

// Normalizer turns raw upstream records into canonical events.
type Normalizer struct {
	placeholder string
	mappers     map[string]*recommend.Mapper
	loc         *time.Location
	metrics     *metrics.Metrics
}

func New(opts Options) *Normalizer {
	n := &Normalizer{
		placeholder: strings.TrimSpace(opts.PlaceholderImage),
		mappers:     make(map[string]*recommend.Mapper),
		loc:         opts.Location,
		metrics:     opts.Metrics,
	}
	if n.placeholder == "" {
		n.placeholder = DefaultPlaceholderImage
	}
	if n.loc == nil {
		n.loc = time.UTC
	}
	for kind, t := range recommend.DefaultTables() {
		n.mappers[kind] = recommend.NewMapper(t)
	}
	for kind, t := range opts.Tables {
		n.mappers[strings.ToLower(kind)] = recommend.NewMapper(t)
	}
	return n
}

// Kind returns the source kind: "ics:venues" -> "ics".
func Kind(source string) string {
	kind, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(source)), ":")
	return kind
}

// Mapper returns the vocabulary mapper used for source, or nil for the
// internal API.
func (n *Normalizer) Mapper(source string) *recommend.Mapper {
	kind := Kind(source)
	if kind == model.SourceInternal || kind == "" {
		return nil
	}
	if m, ok := n.mappers[kind]; ok {
		return m
	}
	// Unknown non-internal sources still go through a total mapping.
	return n.mappers[recommend.SourceRecommendations]
}

// Normalize converts one record.
func (n *Normalizer) Normalize(source string, r Record) (model.Event, error) {
	return n.normalize(source, -1, r)
}

// Batch is the result of NormalizeBatch.
type Batch struct {
	Events  []model.Event
	Dropped int
	Errors  []error
}

// NormalizeBatch converts every record, dropping (and logging) the ones that
// fail. Order of the surviving events follows the input.
func (n *Normalizer) NormalizeBatch(source string, records []Record) Batch {
	b := Batch{Events: make([]model.Event, 0, len(records))}
	for i, r := range records {
		ev, err := n.normalize(source, i, r)
		if err != nil {
			log.Error("dropping record", err, "source", source, "index", i)
			b.Dropped++
			b.Errors = append(b.Errors, err)
			continue
		}
		b.Events = append(b.Events, ev)
	}
	n.metrics.Normalized(Kind(source), len(b.Events), b.Dropped)
	if b.Dropped > 0 {
		log.Info("normalized batch", "source", source, "kept", len(b.Events), "dropped", b.Dropped)
	}
	return b
}

func (n *Normalizer) normalize(source string, idx int, r Record) (model.Event, error) {
	fail := func(field, reason string) (model.Event, error) {
		return model.Event{}, &NormalizationError{Source: source, Index: idx, Field: field, Reason: reason}
	}
	if r == nil {
		return fail("record", "null record")
	}

	var ev model.Event
	switch Kind(source) {
	case recommend.SourceEventbrite:
		ev = n.fromEventbrite(r)
	default:
		ev = n.fromFlat(r)
	}

	rawID, ok := r["id"]
	if !ok || rawID == nil {
		return fail("id", "missing")
	}
	id, err := toID(rawID)
	if err != nil {
		return fail("id", err.Error())
	}
	ev.ID = id
	if ev.Name == "" {
		return fail("name", "missing")
	}

	n.finish(source, &ev)
	return ev, nil
}

// fromFlat reads the internal API shape, also used by the recommendation
// feed and by ICS feeds after conversion.
func (n *Normalizer) fromFlat(r Record) model.Event {
	ev := model.Event{
		Name:            pickStr(r, "name", "title"),
		Description:     pickStr(r, "description", "summary"),
		LongDescription: pickStr(r, "long_description", "longDescription"),
		Category:        pickStr(r, "category"),
		Subcategory:     pickStr(r, "subcategory"),
		Tags:            pickStrings(r, []string{"tags"}, "name", "display_name"),
		PriceMin:        pickFloat(r, "price_range_min", "priceRangeMin", "price_min", "min_price"),
		PriceMax:        pickFloat(r, "price_range_max", "priceRangeMax", "price_max", "max_price"),
		StartDate:       pickTime(r, n.loc, "start_date", "startDate", "start"),
		EndDate:         pickTime(r, n.loc, "end_date", "endDate", "end"),
		Address:         pickStr(r, "address", "location"),
		Latitude:        pickFloat(r, "latitude", "lat"),
		Longitude:       pickFloat(r, "longitude", "lon", "lng"),
		ImageURL:        pickStr(r, "image_url", "imageUrl", "image"),
		Gallery:         pickStrings(r, []string{"gallery", "images"}, "url", "image_url"),
		Source:          pickStr(r, "source"),
	}
	if v := pickFloat(r, "price"); v != nil && ev.PriceMin == nil && ev.PriceMax == nil {
		ev.PriceMin, ev.PriceMax = v, model.Float(*v)
	}
	if rating := pickFloat(r, "rating"); rating != nil {
		ev.Rating = *rating
	}
	if rc := pickFloat(r, "review_count", "reviewCount"); rc != nil {
		ev.ReviewCount = int(*rc)
	}

	switch v := r["venue"].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			ev.Venue = &model.Venue{Name: s}
		}
	case map[string]any:
		ev.Venue = venueFrom(Record(v))
	}
	if ev.Venue == nil {
		if s := pickStr(r, "venue_name"); s != "" {
			ev.Venue = &model.Venue{Name: s}
		}
	}
	if ev.Address == "" && ev.Venue != nil {
		ev.Address = ev.Venue.Address
	}

	if list, ok := r["reviews"].([]any); ok {
		for _, item := range list {
			m, ok := asMap(item)
			if !ok {
				continue
			}
			rv := Record(m)
			review := model.Review{
				Author:    pickStr(rv, "author", "user", "user_name"),
				Text:      pickStr(rv, "text", "comment", "body"),
				CreatedAt: pickTime(rv, n.loc, "created_at", "createdAt", "date"),
			}
			if f := pickFloat(rv, "rating"); f != nil {
				review.Rating = clamp(*f, 0, 5)
			}
			ev.Reviews = append(ev.Reviews, review)
		}
	}
	return ev
}

func venueFrom(v Record) *model.Venue {
	out := &model.Venue{
		Name:    pickStr(v, "name"),
		Address: pickStr(v, "address", "address_1"),
		City:    pickStr(v, "city"),
		State:   pickStr(v, "state", "region"),
		Zip:     pickStr(v, "zip", "postal_code", "zipcode"),
	}
	if *out == (model.Venue{}) {
		return nil
	}
	return out
}

// finish applies the invariants every source shares.
func (n *Normalizer) finish(source string, ev *model.Event) {
	if ev.Source == "" {
		ev.Source = source
	}

	if ev.PriceMin != nil && *ev.PriceMin < 0 {
		ev.PriceMin = nil
	}
	if ev.PriceMax != nil && *ev.PriceMax < 0 {
		ev.PriceMax = nil
	}
	if ev.PriceMin != nil && ev.PriceMax != nil && *ev.PriceMax < *ev.PriceMin {
		log.Debug("swapping reversed price range", "source", source, "id", ev.ID, "min", *ev.PriceMin, "max", *ev.PriceMax)
		ev.PriceMin, ev.PriceMax = ev.PriceMax, ev.PriceMin
	}

	if !validCoord(ev.Latitude, 90) || !validCoord(ev.Longitude, 180) || (ev.Latitude == nil) != (ev.Longitude == nil) {
		ev.Latitude, ev.Longitude = nil, nil
	}

	ev.Rating = clamp(ev.Rating, 0, 5)
	if ev.ReviewCount < 0 {
		ev.ReviewCount = 0
	}
	if ev.ImageURL == "" {
		if len(ev.Gallery) > 0 {
			ev.ImageURL = ev.Gallery[0]
		} else {
			ev.ImageURL = n.placeholder
		}
	}
	if ev.StartDate != nil {
		t := ev.StartDate.UTC()
		ev.StartDate = &t
	}
	if ev.EndDate != nil {
		t := ev.EndDate.UTC()
		ev.EndDate = &t
	}

	mapper := n.Mapper(source)
	if mapper == nil {
		return
	}
	if Kind(source) == recommend.SourceRecommendations {
		m := mapper.Map(ev.Category, ev.Subcategory, ev.PriceMax)
		ev.Category, ev.Interests, ev.PriceLevel = m.Category, m.Interests, m.PriceLevel
		return
	}
	ev.Category = mapper.Category(ev.Category, ev.Subcategory)
}

func validCoord(v *float64, limit float64) bool {
	return v == nil || (*v >= -limit && *v <= limit)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
