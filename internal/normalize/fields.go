package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one raw upstream payload object, as decoded from JSON.
type Record map[string]any

// lookup walks nested objects: lookup(r, "name", "text") is r["name"]["text"].
func lookup(r Record, path ...string) (any, bool) {
	var cur any = map[string]any(r)
	for _, p := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return m, true
	}
	return nil, false
}

// pickStr returns the first non-empty string among keys.
func pickStr(r Record, keys ...string) string {
	for _, k := range keys {
		if v, ok := r[k]; ok {
			if s := toString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func pathStr(r Record, path ...string) string {
	v, ok := lookup(r, path...)
	if !ok {
		return ""
	}
	return toString(v)
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	}
	return ""
}

// toFloat accepts JSON numbers, numeric strings and Go numeric types. NaN
// and infinities are treated as absent.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		p, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func pickFloat(r Record, keys ...string) *float64 {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			if f, ok := toFloat(v); ok {
				return &f
			}
		}
	}
	return nil
}

func pathFloat(r Record, path ...string) *float64 {
	v, ok := lookup(r, path...)
	if !ok {
		return nil
	}
	if f, ok := toFloat(v); ok {
		return &f
	}
	return nil
}

// toID accepts integral numbers or numeric strings.
func toID(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, nil
		}
		return 0, fmt.Errorf("not an integer: %q", n)
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("not an integer: %v", v)
	}
	return int64(f), nil
}

// parseTimeFlexible parses RFC 3339, zone-less ISO-8601 date-times (in loc),
// bare dates (midnight in loc) and epoch seconds.
func parseTimeFlexible(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 9 {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time: %s", s)
}

func toTime(v any, loc *time.Location) *time.Time {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatInt(int64(t), 10)
	default:
		return nil
	}
	parsed, err := parseTimeFlexible(s, loc)
	if err != nil {
		return nil
	}
	return &parsed
}

func pickTime(r Record, loc *time.Location, keys ...string) *time.Time {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			if t := toTime(v, loc); t != nil {
				return t
			}
		}
	}
	return nil
}

func pathTime(r Record, loc *time.Location, path ...string) *time.Time {
	v, ok := lookup(r, path...)
	if !ok {
		return nil
	}
	return toTime(v, loc)
}

// pickStrings reads a list of strings or a comma-separated string. Objects
// in the list contribute their first matching objKeys value.
func pickStrings(r Record, keys []string, objKeys ...string) []string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		var out []string
		switch list := v.(type) {
		case []any:
			for _, item := range list {
				if s := toString(item); s != "" {
					out = append(out, s)
					continue
				}
				if m, ok := asMap(item); ok {
					if s := pickStr(Record(m), objKeys...); s != "" {
						out = append(out, s)
					}
				}
			}
		case []string:
			for _, s := range list {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		case string:
			for _, s := range strings.Split(list, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
