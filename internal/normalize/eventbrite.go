package normalize

import (
	"strings"

	"eventscope/internal/model"
)

// fromEventbrite reads Eventbrite's nested event objects (with the venue,
// category and ticket_availability expansions).
func (n *Normalizer) fromEventbrite(r Record) model.Event {
	ev := model.Event{
		Name:        firstNonEmpty(pathStr(r, "name", "text"), pickStr(r, "name")),
		Description: firstNonEmpty(pathStr(r, "description", "text"), pickStr(r, "summary")),
		Category:    firstNonEmpty(pathStr(r, "category", "name"), pickStr(r, "category_name")),
		Subcategory: firstNonEmpty(pathStr(r, "subcategory", "name"), pickStr(r, "subcategory_name")),
		ImageURL:    firstNonEmpty(pathStr(r, "logo", "url"), pathStr(r, "logo", "original", "url")),
	}
	if html := pathStr(r, "description", "html"); html != "" && html != ev.Description {
		ev.LongDescription = html
	}

	// utc carries a zone, local is wall time in the configured location.
	ev.StartDate = pathTime(r, n.loc, "start", "utc")
	if ev.StartDate == nil {
		ev.StartDate = pathTime(r, n.loc, "start", "local")
	}
	ev.EndDate = pathTime(r, n.loc, "end", "utc")
	if ev.EndDate == nil {
		ev.EndDate = pathTime(r, n.loc, "end", "local")
	}

	if free, ok := r["is_free"].(bool); ok && free {
		ev.PriceMin, ev.PriceMax = model.Float(0), model.Float(0)
	} else {
		ev.PriceMin = pathFloat(r, "ticket_availability", "minimum_ticket_price", "major_value")
		ev.PriceMax = pathFloat(r, "ticket_availability", "maximum_ticket_price", "major_value")
	}

	if v, ok := lookup(r, "venue"); ok {
		if m, ok := asMap(v); ok {
			vr := Record(m)
			venue := &model.Venue{
				Name:    pickStr(vr, "name"),
				Address: pathStr(vr, "address", "address_1"),
				City:    pathStr(vr, "address", "city"),
				State:   pathStr(vr, "address", "region"),
				Zip:     pathStr(vr, "address", "postal_code"),
			}
			if *venue != (model.Venue{}) {
				ev.Venue = venue
			}
			ev.Address = firstNonEmpty(pathStr(vr, "address", "localized_address_display"), joinAddress(venue))
			ev.Latitude = firstFloat(pathFloat(vr, "address", "latitude"), pickFloat(vr, "latitude"))
			ev.Longitude = firstFloat(pathFloat(vr, "address", "longitude"), pickFloat(vr, "longitude"))
		}
	}

	ev.Tags = pickStrings(r, []string{"tags"}, "display_name", "text")
	return ev
}

func joinAddress(v *model.Venue) string {
	var parts []string
	for _, p := range []string{v.Address, v.City, strings.TrimSpace(v.State + " " + v.Zip)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
