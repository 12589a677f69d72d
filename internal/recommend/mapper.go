package recommend

import (
	"math"
	"strings"
)

// Attraction categories for the recommendation surface.
const (
	Entertainment = "Entertainment"
	Dining        = "Dining"
	Nightlife     = "Nightlife"
	Shopping      = "Shopping"
	Adventure     = "Adventure"
)

// Interests a category can feed.
const (
	InterestGambling       = "Gambling"
	InterestLiveMusic      = "Live Music"
	InterestOutdoors       = "Outdoors"
	InterestFineDining     = "Fine Dining"
	InterestShows          = "Shows"
	InterestShopping       = "Shopping"
	InterestNightlife      = "Nightlife"
	InterestFamilyFriendly = "Family Friendly"
	InterestSports         = "Sports"
)

// Price levels.
const (
	PriceLevelModerate  = "$$"
	PriceLevelExpensive = "$$$"
	PriceLevelLuxury    = "$$$$"
)

// Mapping is the result of mapping one upstream record.
type Mapping struct {
	Category   string
	Interests  []string
	PriceLevel string
}

// Table is the lookup data for one upstream source. Keys are compared
// case-insensitively. Pairs are keyed "category/subcategory" and win over
// Categories; Fallback is used when neither matches.
type Table struct {
	Pairs      map[string]string   `yaml:"pairs,omitempty"`
	Categories map[string]string   `yaml:"categories"`
	Interests  map[string][]string `yaml:"interests,omitempty"`
	Fallback   string              `yaml:"fallback"`
}

// Mapper translates an upstream taxonomy into the internal vocabulary. It is
// total: every input maps to something, nothing returns an error.
type Mapper struct {
	pairs      map[string]string
	categories map[string]string
	interests  map[string][]string
	fallback   string
}

// NewMapper builds a Mapper from t. An empty Fallback becomes Entertainment.
func NewMapper(t Table) *Mapper {
	m := &Mapper{
		pairs:      make(map[string]string, len(t.Pairs)),
		categories: make(map[string]string, len(t.Categories)),
		interests:  make(map[string][]string, len(t.Interests)),
		fallback:   strings.TrimSpace(t.Fallback),
	}
	if m.fallback == "" {
		m.fallback = Entertainment
	}
	for k, v := range t.Pairs {
		m.pairs[fold(k)] = v
	}
	for k, v := range t.Categories {
		m.categories[fold(k)] = v
	}
	for k, v := range t.Interests {
		m.interests[fold(k)] = append([]string(nil), v...)
	}
	return m
}

// Category maps an upstream category/subcategory pair.
func (m *Mapper) Category(category, subcategory string) string {
	if m == nil {
		return Entertainment
	}
	c, s := fold(category), fold(subcategory)
	if s != "" {
		if v, ok := m.pairs[c+"/"+s]; ok {
			return v
		}
	}
	if v, ok := m.categories[c]; ok {
		return v
	}
	return m.fallback
}

// Interests returns the interests for an upstream category, looking at the
// subcategory first. Unknown categories have none.
func (m *Mapper) Interests(category, subcategory string) []string {
	if m == nil {
		return nil
	}
	if v, ok := m.interests[fold(subcategory)]; ok && subcategory != "" {
		return append([]string(nil), v...)
	}
	if v, ok := m.interests[fold(category)]; ok {
		return append([]string(nil), v...)
	}
	return nil
}

// Map combines Category, Interests and PriceLevel.
func (m *Mapper) Map(category, subcategory string, maxPrice *float64) Mapping {
	return Mapping{
		Category:   m.Category(category, subcategory),
		Interests:  m.Interests(category, subcategory),
		PriceLevel: PriceLevel(maxPrice),
	}
}

// PriceLevel buckets a maximum price: under 50 is "$$", [50,100) is "$$$",
// 100 and up is "$$$$". Absent or unusable prices default to "$$".
func PriceLevel(maxPrice *float64) string {
	if maxPrice == nil || math.IsNaN(*maxPrice) || *maxPrice < 0 {
		return PriceLevelModerate
	}
	switch p := *maxPrice; {
	case p < 50:
		return PriceLevelModerate
	case p < 100:
		return PriceLevelExpensive
	default:
		return PriceLevelLuxury
	}
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
