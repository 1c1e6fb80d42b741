package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ─── Response Payloads ──────────────────────────────────────────────────────
// A provider's answer is one of three shapes, decided once at ingestion:
// a scalar measurement (carbon intensity), a flat mapping (energy mix,
// certificate record), or a categorical label. Aggregation dispatches on
// the kind instead of inspecting raw JSON.

// PayloadKind discriminates the shape of a response payload.
type PayloadKind int

const (
	KindScalar PayloadKind = iota
	KindMapping
	KindCategorical
)

// String returns the wire name of the kind.
func (k PayloadKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindMapping:
		return "mapping"
	case KindCategorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// FieldKind discriminates a single mapping field.
type FieldKind int

const (
	FieldNumber FieldKind = iota
	FieldText
)

// Field is one entry in a mapping payload: a number or a text label.
// Numeric fields are averaged during structural merge; text fields take
// the most frequent value.
type Field struct {
	Kind   FieldKind
	Number float64
	Text   string
}

// NumberField builds a numeric mapping field.
func NumberField(v float64) Field { return Field{Kind: FieldNumber, Number: v} }

// TextField builds a text mapping field.
func TextField(s string) Field { return Field{Kind: FieldText, Text: s} }

// MarshalJSON encodes the field as its bare value.
func (f Field) MarshalJSON() ([]byte, error) {
	if f.Kind == FieldText {
		return json.Marshal(f.Text)
	}
	return json.Marshal(f.Number)
}

// UnmarshalJSON decodes a bare number or string into a field.
func (f *Field) UnmarshalJSON(raw []byte) error {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		*f = NumberField(num)
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		*f = TextField(text)
		return nil
	}
	return fmt.Errorf("%w: field must be a number or a string", ErrUnsupportedPayload)
}

// Payload is the tagged union of supported response data shapes.
type Payload struct {
	Kind        PayloadKind
	Scalar      float64
	Mapping     map[string]Field
	Categorical string
}

// ScalarPayload builds a scalar payload.
func ScalarPayload(v float64) Payload { return Payload{Kind: KindScalar, Scalar: v} }

// MappingPayload builds a mapping payload.
func MappingPayload(m map[string]Field) Payload { return Payload{Kind: KindMapping, Mapping: m} }

// CategoricalPayload builds a categorical payload.
func CategoricalPayload(s string) Payload { return Payload{Kind: KindCategorical, Categorical: s} }

// NumberMapping builds a mapping payload from a plain numeric map.
func NumberMapping(m map[string]float64) Payload {
	fields := make(map[string]Field, len(m))
	for k, v := range m {
		fields[k] = NumberField(v)
	}
	return MappingPayload(fields)
}

// PayloadFromJSON classifies raw JSON into a payload. JSON numbers become
// scalars, strings become categorical labels, and flat objects of numbers
// and strings become mappings. Anything else (arrays, nested objects,
// booleans, null) is rejected with ErrUnsupportedPayload.
func PayloadFromJSON(raw json.RawMessage) (Payload, error) {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return ScalarPayload(num), nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return CategoricalPayload(text), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		fields := make(map[string]Field, len(obj))
		for key, val := range obj {
			var f Field
			if err := f.UnmarshalJSON(val); err != nil {
				return Payload{}, fmt.Errorf("key %q: %w", key, ErrUnsupportedPayload)
			}
			fields[key] = f
		}
		return MappingPayload(fields), nil
	}
	return Payload{}, ErrUnsupportedPayload
}

// MarshalJSON encodes the payload as its natural JSON shape.
func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindScalar:
		return json.Marshal(p.Scalar)
	case KindCategorical:
		return json.Marshal(p.Categorical)
	case KindMapping:
		return json.Marshal(p.Mapping)
	default:
		return nil, ErrUnsupportedPayload
	}
}

// UnmarshalJSON decodes a payload via PayloadFromJSON.
func (p *Payload) UnmarshalJSON(raw []byte) error {
	decoded, err := PayloadFromJSON(raw)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// Canonical returns a deterministic string form of the payload, used by
// the signing hook. Mapping keys are emitted in sorted order.
func (p Payload) Canonical() string {
	switch p.Kind {
	case KindScalar:
		return fmt.Sprintf("scalar:%g", p.Scalar)
	case KindCategorical:
		return "categorical:" + p.Categorical
	case KindMapping:
		keys := make([]string, 0, len(p.Mapping))
		for k := range p.Mapping {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s := "mapping:"
		for _, k := range keys {
			f := p.Mapping[k]
			if f.Kind == FieldText {
				s += fmt.Sprintf("%s=%s;", k, f.Text)
			} else {
				s += fmt.Sprintf("%s=%g;", k, f.Number)
			}
		}
		return s
	default:
		return "unknown"
	}
}
