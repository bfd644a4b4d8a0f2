package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// MetadataProperty is a single extracted metadata key/value pair.
type MetadataProperty struct {
	Key   string
	Value any
}

// Metadata is the ordered set of properties extracted from a processed file.
// Order matters: it is the column order of the aggregated text form, so the
// codecs below keep keys in wire order instead of going through a map.
type Metadata []MetadataProperty

// Keys returns the keys in order.
func (m Metadata) Keys() []string {
	keys := make([]string, len(m))
	for i, p := range m {
		keys[i] = p.Key
	}
	return keys
}

// Values returns the values in key order.
func (m Metadata) Values() []any {
	values := make([]any, len(m))
	for i, p := range m {
		values[i] = p.Value
	}
	return values
}

// Get returns the value stored under key.
func (m Metadata) Get(key string) (any, bool) {
	for _, p := range m {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// UnmarshalJSON decodes a JSON object keeping its key order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("metadata: invalid JSON")
	}
	res := gjson.ParseBytes(data)
	if res.Type == gjson.Null {
		*m = nil
		return nil
	}
	if !res.IsObject() {
		return fmt.Errorf("metadata: expected an object, got %s", res.Type)
	}
	out := Metadata{}
	res.ForEach(func(key, value gjson.Result) bool {
		out = append(out, MetadataProperty{Key: key.String(), Value: wireValue(value)})
		return true
	})
	*m = out
	return nil
}

// wireValue keeps numbers, objects and arrays as they were written so that
// large integers survive and nested values render as JSON.
func wireValue(v gjson.Result) any {
	switch {
	case v.Type == gjson.Number:
		return json.Number(v.Raw)
	case v.IsObject(), v.IsArray():
		return json.RawMessage(v.Raw)
	default:
		return v.Value()
	}
}

// MarshalJSON encodes the metadata as a JSON object in key order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", p.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML mapping keeping its key order.
func (m *Metadata) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("metadata: expected a mapping at line %d", node.Line)
	}
	out := make(Metadata, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("metadata %q: %w", node.Content[i].Value, err)
		}
		out = append(out, MetadataProperty{Key: node.Content[i].Value, Value: value})
	}
	*m = out
	return nil
}
