package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Payload is an opaque, schema-agnostic record body. The engine never
// interprets business fields; it only stores, snapshots and merges them.
type Payload map[string]any

// Clone returns a copy of the payload that is safe to mutate independently.
// Nested maps and slices are copied recursively.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}

	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, nested := range t {
			m[k] = cloneValue(nested)
		}
		return m
	case Payload:
		return map[string]any(t.Clone())
	case []any:
		s := make([]any, len(t))
		for i, nested := range t {
			s[i] = cloneValue(nested)
		}
		return s
	default:
		return v
	}
}

// Value implements driver.Valuer so payloads can be bound directly as a JSON
// text column parameter.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner for reading a payload back from its JSON text
// column.
func (p *Payload) Scan(src any) error {
	var raw []byte

	switch t := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return fmt.Errorf("unsupported payload column type %T", src)
	}

	if len(raw) == 0 {
		*p = Payload{}
		return nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	*p = decoded
	return nil
}
