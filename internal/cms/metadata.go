package cms

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MetadataKind is the inferred primitive type of a metadata value.
type MetadataKind int

const (
	MetaString MetadataKind = iota
	MetaBool
	MetaInt
	MetaFloat
)

// MetadataValue is a typed primitive taken from an unrecognized front-matter key.
type MetadataValue struct {
	Kind  MetadataKind
	Str   string
	Bool  bool
	Int   int64
	Float float64
}

// InferMetadataValue types raw in order: boolean, integer, floating-point, else string.
func InferMetadataValue(raw string) MetadataValue {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "true":
		return MetadataValue{Kind: MetaBool, Bool: true}
	case "false":
		return MetadataValue{Kind: MetaBool, Bool: false}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return MetadataValue{Kind: MetaInt, Int: i}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return MetadataValue{Kind: MetaFloat, Float: f}
	}
	return MetadataValue{Kind: MetaString, Str: raw}
}

// StringValue wraps s as a string metadata value without inference.
func StringValue(s string) MetadataValue {
	return MetadataValue{Kind: MetaString, Str: s}
}

// Value returns the underlying primitive.
func (v MetadataValue) Value() any {
	switch v.Kind {
	case MetaBool:
		return v.Bool
	case MetaInt:
		return v.Int
	case MetaFloat:
		return v.Float
	default:
		return v.Str
	}
}

// String renders the value the way it would appear in front matter.
func (v MetadataValue) String() string {
	switch v.Kind {
	case MetaBool:
		return strconv.FormatBool(v.Bool)
	case MetaInt:
		return strconv.FormatInt(v.Int, 10)
	case MetaFloat:
		s := strconv.FormatFloat(v.Float, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	default:
		return v.Str
	}
}

func (v MetadataValue) MarshalJSON() ([]byte, error) {
	if v.Kind == MetaFloat {
		return []byte(v.String()), nil
	}
	return json.Marshal(v.Value())
}

func (v *MetadataValue) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decoding metadata value: %w", err)
	}
	switch x := raw.(type) {
	case bool:
		*v = MetadataValue{Kind: MetaBool, Bool: x}
	case json.Number:
		*v = InferMetadataValue(x.String())
	case string:
		*v = StringValue(x)
	case nil:
		*v = StringValue("")
	default:
		return fmt.Errorf("%w: metadata value must be a primitive", ErrDecode)
	}
	return nil
}
