package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind is the closed set of variable types carried across the wire. It doubles
// as the valueType field in setValue/variableUpdate messages.
type Kind string

const (
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
)

// ParseKind validates a wire valueType.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBool, KindInt, KindFloat, KindString:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown value type %q", s)
}

// Value is the tagged union holding exactly one of the four supported kinds.
// The zero Value has no kind and is invalid.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
}

func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// DecodeValue interprets raw JSON as a value of the declared kind. Integers
// tolerate the float form JSON forces on them, as long as there is no
// fractional part.
func DecodeValue(raw json.RawMessage, kind Kind) (Value, error) {
	switch kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, fmt.Errorf("decode bool: %w", err)
		}
		return BoolValue(b), nil
	case KindInt:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return Value{}, fmt.Errorf("decode int: %w", err)
		}
		if i, err := n.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return Value{}, fmt.Errorf("decode int: %q is not integral", n.String())
		}
		return IntValue(int64(f)), nil
	case KindFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, fmt.Errorf("decode float: %w", err)
		}
		return FloatValue(f), nil
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("decode string: %w", err)
		}
		return StringValue(s), nil
	}
	return Value{}, fmt.Errorf("decode value: unknown kind %q", kind)
}

// JSON renders the value in its native JSON form (true, 42, 1.5, "x").
func (v Value) JSON() (json.RawMessage, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	}
	return nil, fmt.Errorf("encode value: unknown kind %q", v.Kind)
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return v.Str
	}
	return "<invalid>"
}
