package model

import (
	"strings"
	"time"
)

// SourceInternal marks records produced by our own events API. Every other
// source has its category run through a vocabulary mapper.
const SourceInternal = "internal"

// Event is the canonical, normalized event regardless of upstream source.
// Events are values: a new filter produces a new fetch and a new slice, the
// elements of a cached slice are never mutated in place.
type Event struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	LongDescription string   `json:"long_description,omitempty"`
	Category        string   `json:"category"`
	Subcategory     string   `json:"subcategory,omitempty"`
	Tags            []string `json:"tags,omitempty"`

	// PriceMin / PriceMax are nil when the upstream did not say. nil is
	// "unknown", not zero. min == max == 0 is a free event.
	PriceMin *float64 `json:"price_range_min"`
	PriceMax *float64 `json:"price_range_max"`

	// StartDate nil means unscheduled.
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Venue     *Venue   `json:"venue,omitempty"`

	ImageURL string   `json:"image_url"`
	Gallery  []string `json:"gallery,omitempty"`

	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
	Reviews     []Review `json:"reviews,omitempty"`

	Source string `json:"source"`

	// Set only for records that went through a recommendation mapper.
	PriceLevel string   `json:"price_level,omitempty"`
	Interests  []string `json:"interests,omitempty"`
}

// Venue is the optional structured location of an event.
type Venue struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
}

// Review is an embedded user review.
type Review struct {
	Author    string     `json:"author,omitempty"`
	Rating    float64    `json:"rating"`
	Text      string     `json:"text,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// IsFree reports whether the event is known to be free. A nil minimum is
// unknown and never free; PriceMax is not consulted.
func (e Event) IsFree() bool {
	return e.PriceMin != nil && *e.PriceMin == 0
}

// IsPaid reports whether the event is known to cost something.
func (e Event) IsPaid() bool {
	return e.PriceMin != nil && *e.PriceMin > 0
}

// VenueName returns the structured venue name, if any.
func (e Event) VenueName() string {
	if e.Venue == nil {
		return ""
	}
	return e.Venue.Name
}

// HasCoordinates reports whether both latitude and longitude are known.
func (e Event) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// HasTag reports whether the event carries tag (case-insensitive).
func (e Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// InteractionType is one of the user interactions the events API records.
type InteractionType string

const (
	InteractionView     InteractionType = "view"
	InteractionLike     InteractionType = "like"
	InteractionDislike  InteractionType = "dislike"
	InteractionBookmark InteractionType = "bookmark"
	InteractionShare    InteractionType = "share"
)

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionView, InteractionLike, InteractionDislike, InteractionBookmark, InteractionShare:
		return true
	}
	return false
}

// Float returns a pointer to v. Handy for building events in code and tests.
func Float(v float64) *float64 { return &v }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }
