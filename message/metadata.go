package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Metadata keys sent by the capture scripts.
const (
	KeySocket          = "s"
	KeyProtocol        = "p"
	KeyConnectionID    = "ci"
	KeySourceIP        = "csi"
	KeySourcePort      = "csp"
	KeySourcePath      = "cspa"
	KeyDestinationIP   = "cdi"
	KeyDestinationPort = "cdp"
	KeyDestinationPath = "cdpa"
	KeyModule          = "m"
)

// Metadata is an insertion-ordered mapping of short keys to scalar values.
// Values are string, int64, float64, bool or nil.
type Metadata struct {
	keys []string
	vals map[string]any
}

// NewMetadata builds metadata from alternating key/value pairs.
func NewMetadata(pairs ...any) Metadata {
	var m Metadata
	for i := 0; i+1 < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			continue
		}
		m.Set(k, pairs[i+1])
	}
	return m
}

// Set inserts or replaces key. Replacing keeps the original position.
func (m *Metadata) Set(key string, value any) {
	if m.vals == nil {
		m.vals = make(map[string]any)
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = normalize(value)
}

func (m *Metadata) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m Metadata) Get(key string) (any, bool) {
	v, ok := m.vals[key]
	return v, ok
}

func (m Metadata) Has(key string) bool {
	_, ok := m.vals[key]
	return ok
}

func (m Metadata) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m Metadata) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Text returns key rendered as a string. Numbers render in decimal; nil and
// absent keys report false.
func (m Metadata) Text(key string) (string, bool) {
	switch v := m.vals[key].(type) {
	case string:
		return v, true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

// Int returns key as an integer. Whole floats and numeric strings convert.
func (m Metadata) Int(key string) (int64, bool) {
	switch v := m.vals[key].(type) {
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func (m Metadata) Clone() Metadata {
	c := Metadata{keys: append([]string(nil), m.keys...)}
	if m.vals != nil {
		c.vals = make(map[string]any, len(m.vals))
		for k, v := range m.vals {
			c.vals[k] = v
		}
	}
	return c
}

// Map returns a plain copy of the values.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m.vals))
	for k, v := range m.vals {
		out[k] = v
	}
	return out
}

func (m Metadata) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, m.vals[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.vals[k])
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = Metadata{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}

	var out Metadata
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("metadata: unexpected key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

func (m Metadata) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(m.Map())
}

// UnmarshalCBOR decodes a CBOR map. CBOR maps carry no order, so keys are
// inserted sorted.
func (m *Metadata) UnmarshalCBOR(data []byte) error {
	var raw map[string]any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return err
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out Metadata
	for _, k := range keys {
		out.Set(k, raw[k])
	}
	*m = out
	return nil
}

func normalize(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}
