package animation

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ayusman/glimmer/internal/light"
)

// ParameterType names the kind of a tunable parameter.
type ParameterType string

// Parameter types.
const (
	TypeNumber     ParameterType = "number"
	TypePercentage ParameterType = "percentage"
	TypeSpeed      ParameterType = "speed"
	TypeColor      ParameterType = "color"
	TypeEnum       ParameterType = "enum"
)

// ParameterKind is the declared shape of a parameter. Min, Max and Step
// apply to numbers; Values lists the options of an enum.
type ParameterKind struct {
	Type   ParameterType `json:"type"`
	Min    float64       `json:"min,omitempty"`
	Max    float64       `json:"max,omitempty"`
	Step   float64       `json:"step,omitempty"`
	Values []string      `json:"values,omitempty"`
}

// Parameter is one entry of a schema.
type Parameter struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Kind        ParameterKind `json:"value"`
}

// ParameterSchema lists the parameters an animation accepts, in display order.
type ParameterSchema struct {
	Parameters []Parameter `json:"parameters"`
}

// Lookup returns the parameter with the given id.
func (s ParameterSchema) Lookup(id string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.ID == id {
			return p, true
		}
	}
	return Parameter{}, false
}

// With returns a copy of the schema with p placed first. An existing
// parameter with the same id is replaced.
func (s ParameterSchema) With(p Parameter) ParameterSchema {
	params := make([]Parameter, 0, len(s.Parameters)+1)
	params = append(params, p)
	for _, existing := range s.Parameters {
		if existing.ID != p.ID {
			params = append(params, existing)
		}
	}
	return ParameterSchema{Parameters: params}
}

// Validate checks values against the schema. Unknown keys, type mismatches,
// enum values outside the declared options and numbers outside [min, max]
// are rejected with ErrInvalidParameter.
func (s ParameterSchema) Validate(values ParameterValues) error {
	for key, v := range values {
		p, ok := s.Lookup(key)
		if !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrInvalidParameter, key)
		}
		if err := p.Kind.check(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidParameter, key, err)
		}
	}
	return nil
}

func (k ParameterKind) check(v ParameterValue) error {
	if v.Type != k.Type {
		return fmt.Errorf("expected %s value, got %s", k.Type, v.Type)
	}
	switch k.Type {
	case TypeNumber:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return fmt.Errorf("number must be finite")
		}
		if k.Max > k.Min && (v.Number < k.Min || v.Number > k.Max) {
			return fmt.Errorf("%g outside [%g, %g]", v.Number, k.Min, k.Max)
		}
	case TypePercentage:
		if v.Number < 0 || v.Number > 1 || math.IsNaN(v.Number) {
			return fmt.Errorf("percentage %g outside [0, 1]", v.Number)
		}
	case TypeSpeed:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return fmt.Errorf("speed must be finite")
		}
	case TypeEnum:
		for _, option := range k.Values {
			if option == v.Enum {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %v", v.Enum, k.Values)
	}
	return nil
}

// ParameterValue is the current value of one parameter.
type ParameterValue struct {
	Type   ParameterType
	Number float64
	Color  light.Pixel
	Enum   string
}

// Number returns a number value.
func Number(v float64) ParameterValue {
	return ParameterValue{Type: TypeNumber, Number: v}
}

// Percentage returns a percentage value; 1 means 100%.
func Percentage(v float64) ParameterValue {
	return ParameterValue{Type: TypePercentage, Number: v}
}

// Speed returns a speed multiplier value.
func Speed(v float64) ParameterValue {
	return ParameterValue{Type: TypeSpeed, Number: v}
}

// Color returns a color value.
func Color(p light.Pixel) ParameterValue {
	return ParameterValue{Type: TypeColor, Color: p}
}

// Enum returns an enum value.
func Enum(option string) ParameterValue {
	return ParameterValue{Type: TypeEnum, Enum: option}
}

type wireValue struct {
	Type  ParameterType   `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}.
func (v ParameterValue) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch v.Type {
	case TypeColor:
		raw, err = json.Marshal(v.Color)
	case TypeEnum:
		raw, err = json.Marshal(v.Enum)
	case TypeNumber, TypePercentage, TypeSpeed:
		raw, err = json.Marshal(v.Number)
	default:
		return nil, fmt.Errorf("unknown parameter type %q", v.Type)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Type, Value: raw})
}

// UnmarshalJSON decodes {"type": ..., "value": ...}. Colors may be given
// either as an {"r","g","b"} object or as a "#rrggbb" string.
func (v *ParameterValue) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := ParameterValue{Type: w.Type}
	switch w.Type {
	case TypeColor:
		var hex string
		if err := json.Unmarshal(w.Value, &hex); err == nil {
			c, err := colorful.Hex(hex)
			if err != nil {
				return fmt.Errorf("color %q: %w", hex, err)
			}
			r, g, b := c.RGB255()
			out.Color = light.Pixel{R: r, G: g, B: b}
		} else if err := json.Unmarshal(w.Value, &out.Color); err != nil {
			return fmt.Errorf("color value: %w", err)
		}
	case TypeEnum:
		if err := json.Unmarshal(w.Value, &out.Enum); err != nil {
			return fmt.Errorf("enum value: %w", err)
		}
	case TypeNumber, TypePercentage, TypeSpeed:
		if err := json.Unmarshal(w.Value, &out.Number); err != nil {
			return fmt.Errorf("%s value: %w", w.Type, err)
		}
	default:
		return fmt.Errorf("unknown parameter type %q", w.Type)
	}
	*v = out
	return nil
}

// ParameterValues maps parameter ids to values.
type ParameterValues map[string]ParameterValue

// Clone returns a shallow copy that is safe to modify.
func (vs ParameterValues) Clone() ParameterValues {
	out := make(ParameterValues, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

// Without returns a copy of vs with the given keys removed.
func (vs ParameterValues) Without(keys ...string) ParameterValues {
	out := vs.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
