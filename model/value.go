package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a dynamically typed field value or condition operand as submitted
// by clients. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// StringValue returns a string value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue returns a numeric value.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue returns a list value holding a copy of items.
func ListValue(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value{}, items...)}
}

// StringList is shorthand for a list of string values.
func StringList(items ...string) Value {
	vs := make([]Value, len(items))
	for i, s := range items {
		vs[i] = StringValue(s)
	}
	return Value{kind: KindList, list: vs}
}

// ObjectValue returns an object value holding a copy of m.
func ObjectValue(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

// ValueOf converts a plain Go value as produced by encoding/json or yaml into a
// Value. Unsupported types are formatted with fmt and kept as strings.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		return StringValue(x)
	case bool:
		return BoolValue(x)
	case float64:
		return NumberValue(x)
	case float32:
		return NumberValue(float64(x))
	case int:
		return NumberValue(float64(x))
	case int32:
		return NumberValue(float64(x))
	case int64:
		return NumberValue(float64(x))
	case uint64:
		return NumberValue(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return StringValue(x.String())
		}
		return NumberValue(f)
	case []string:
		return StringList(x...)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = ValueOf(item)
		}
		return Value{kind: KindList, list: items}
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = ValueOf(item)
		}
		return Value{kind: KindObject, obj: m}
	default:
		return StringValue(fmt.Sprint(x))
	}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// List returns the list items and whether v is a list.
func (v Value) List() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Field returns the named attribute of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[name]
	return f, ok
}

// Number returns the numeric payload and whether v is a number.
func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// String renders v the way loose comparisons see it. Null is the empty
// string, numbers use their shortest form, booleans are "True"/"False", lists
// join their items with "," and objects become canonical JSON.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return strings.Join(parts, ",")
	case KindObject:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return ""
	}
}

// IsBlank reports whether v is null or its string form is only whitespace.
func (v Value) IsBlank() bool {
	return v.kind == KindNull || strings.TrimSpace(v.String()) == ""
}

// Float parses the string form of v as a float64.
func (v Value) Float() (float64, bool) {
	if v.kind == KindNumber {
		return v.num, true
	}
	if v.kind == KindNull {
		return 0, false
	}
	return ParseNumber(v.String())
}

// ParseNumber parses a decimal number written the way form input carries
// it. Go literal syntax such as digit separators and hexadecimal mantissas is
// rejected, and so is NaN.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.ContainsRune(s, '_') {
		return 0, false
	}
	digits := strings.TrimLeft(s, "+-")
	if len(digits) > 1 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// LooseEqual compares two values by their string forms. Two nulls are equal;
// null never equals a non-null value.
func LooseEqual(a, b Value) bool {
	if a.IsNull() && b.IsNull() {
		return true
	}
	if a.IsNull() || b.IsNull() {
		return false
	}
	return a.String() == b.String()
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, list: items}
	case KindObject:
		m := make(map[string]Value, len(v.obj))
		for k, item := range v.obj {
			m[k] = item.Clone()
		}
		return Value{kind: KindObject, obj: m}
	default:
		return v
	}
}

// Interface converts v back into plain Go values.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v as the matching JSON type. Object keys are sorted.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if math.IsInf(v.num, 0) || math.IsNaN(v.num) {
			return nil, fmt.Errorf("value: cannot encode %v", v.num)
		}
		return []byte(formatNumber(v.num)), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}

// UnmarshalYAML lets seed files carry dynamic values.
func (v *Value) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*v = fromYAML(raw)
	return nil
}

func fromYAML(raw any) Value {
	switch x := raw.(type) {
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = fromYAML(item)
		}
		return Value{kind: KindObject, obj: m}
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = fromYAML(item)
		}
		return Value{kind: KindList, list: items}
	default:
		return ValueOf(x)
	}
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
