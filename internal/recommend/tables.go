package recommend

// Upstream source names with built-in tables.
const (
	SourceRecommendations = "recommendations"
	SourceEventbrite      = "eventbrite"
	SourceICS             = "ics"
)

// RecommendationTable maps the recommendation feed onto attraction categories.
func RecommendationTable() Table {
	return Table{
		Pairs: map[string]string{
			"music/nightclub":  Nightlife,
			"music/dj":         Nightlife,
			"sports/golf":      Adventure,
			"food/food truck":  Dining,
			"outdoor/shopping": Shopping,
		},
		Categories: map[string]string{
			"music":      Entertainment,
			"comedy":     Entertainment,
			"theatre":    Entertainment,
			"theater":    Entertainment,
			"shows":      Entertainment,
			"sports":     Entertainment,
			"casino":     Entertainment,
			"food":       Dining,
			"dining":     Dining,
			"restaurant": Dining,
			"nightlife":  Nightlife,
			"bar":        Nightlife,
			"club":       Nightlife,
			"shopping":   Shopping,
			"outdoor":    Adventure,
			"adventure":  Adventure,
			"nature":     Adventure,
		},
		Interests: defaultInterests(),
		Fallback:  Entertainment,
	}
}

// EventbriteTable maps Eventbrite category names onto the internal event
// categories used by the filter model.
func EventbriteTable() Table {
	return Table{
		Categories: map[string]string{
			"music":                       "music",
			"sports & fitness":            "sports",
			"performing & visual arts":    "theatre",
			"comedy":                      "comedy",
			"food & drink":                "dining",
			"nightlife":                   "nightlife",
			"travel & outdoor":            "adventure",
			"film, media & entertainment": "entertainment",
		},
		Pairs: map[string]string{
			"performing & visual arts/comedy": "comedy",
		},
		Interests: defaultInterests(),
		Fallback:  "other",
	}
}

// ICSTable maps free-form iCalendar CATEGORIES values.
func ICSTable() Table {
	return Table{
		Categories: map[string]string{
			"music":     "music",
			"concert":   "music",
			"sports":    "sports",
			"game":      "sports",
			"comedy":    "comedy",
			"theatre":   "theatre",
			"theater":   "theatre",
			"show":      "entertainment",
			"food":      "dining",
			"nightlife": "nightlife",
			"outdoor":   "adventure",
		},
		Interests: defaultInterests(),
		Fallback:  "other",
	}
}

// DefaultTables returns the built-in table for every known upstream source.
func DefaultTables() map[string]Table {
	return map[string]Table{
		SourceRecommendations: RecommendationTable(),
		SourceEventbrite:      EventbriteTable(),
		SourceICS:             ICSTable(),
	}
}

func defaultInterests() map[string][]string {
	return map[string][]string{
		"music":     {InterestLiveMusic, InterestShows},
		"concert":   {InterestLiveMusic, InterestShows},
		"comedy":    {InterestShows},
		"theatre":   {InterestShows},
		"theater":   {InterestShows},
		"shows":     {InterestShows},
		"sports":    {InterestSports},
		"golf":      {InterestSports, InterestOutdoors},
		"casino":    {InterestGambling, InterestNightlife},
		"gambling":  {InterestGambling},
		"food":      {InterestFineDining},
		"dining":    {InterestFineDining},
		"nightlife": {InterestNightlife},
		"bar":       {InterestNightlife},
		"club":      {InterestNightlife},
		"shopping":  {InterestShopping},
		"outdoor":   {InterestOutdoors},
		"nature":    {InterestOutdoors, InterestFamilyFriendly},
		"family":    {InterestFamilyFriendly},
	}
}
