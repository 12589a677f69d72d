package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelopeKeys are the object keys a list payload may be wrapped in.
var envelopeKeys = []string{"events", "results", "data", "recommendations"}

// DecodeList parses a list payload: a bare array, or an object wrapping the
// array under one of the envelope keys. Numbers are kept as json.Number so
// large ids survive. Non-object elements become nil records, which the
// batch normalizer drops.
func DecodeList(body []byte) ([]Record, error) {
	v, err := decodeAny(body)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []any:
		return toRecords(t), nil
	case map[string]any:
		for _, k := range envelopeKeys {
			if list, ok := t[k].([]any); ok {
				return toRecords(list), nil
			}
		}
		return nil, fmt.Errorf("decode list: object without %v array", envelopeKeys)
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("decode list: unexpected %T payload", v)
}

// DecodeOne parses a single-record payload, unwrapping {"event": {...}} or
// {"data": {...}}.
func DecodeOne(body []byte) (Record, error) {
	v, err := decodeAny(body)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode record: unexpected %T payload", v)
	}
	for _, k := range []string{"event", "data"} {
		if inner, ok := m[k].(map[string]any); ok {
			if _, hasID := m["id"]; !hasID {
				return Record(inner), nil
			}
		}
	}
	return Record(m), nil
}

func decodeAny(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

func toRecords(list []any) []Record {
	out := make([]Record, len(list))
	for i, item := range list {
		if m, ok := item.(map[string]any); ok {
			out[i] = Record(m)
		}
	}
	return out
}
