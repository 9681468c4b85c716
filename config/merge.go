package config

import (
	"encoding/json"
	"fmt"
)

// Merge returns defaults overlaid with overrides. Nested objects merge key
// by key; any other override value replaces the default. Neither input is
// modified.
func Merge(defaults, overrides map[string]any) map[string]any {
	out := Clone(defaults)
	if out == nil {
		out = make(map[string]any, len(overrides))
	}
	for k, v := range overrides {
		if src, ok := asMap(v); ok {
			if dst, ok := asMap(out[k]); ok {
				out[k] = Merge(dst, src)
				continue
			}
			out[k] = Clone(src)
			continue
		}
		out[k] = v
	}
	return out
}

// Clone deep-copies nested maps and slices.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	}
	return v
}

// Decode fills out from a generic config map via a JSON round trip.
func Decode(m map[string]any, out any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// Encode turns a typed config into a generic map.
func Encode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// yaml.v3 decodes nested objects as map[string]any, but older documents and
// hand-built values may carry map[any]any.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = e
		}
		return out, true
	}
	return nil, false
}
