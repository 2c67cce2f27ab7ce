// Package table flattens classifier output into the two-column rows shared by
// every moderation category.
package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindScalar Kind = iota
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Value is a decoded JSON value. A scalar holds nil, bool, string,
// json.Number or float64. Mapping fields keep their source order.
type Value struct {
	Kind   Kind
	Scalar any
	Items  []Value
	Fields []Field
}

// Field is one key of a mapping.
type Field struct {
	Key   string
	Value Value
}

func Null() Value {
	return Value{Kind: KindScalar}
}

func Bool(b bool) Value {
	return Value{Kind: KindScalar, Scalar: b}
}

func String(s string) Value {
	return Value{Kind: KindScalar, Scalar: s}
}

func Float(f float64) Value {
	return Value{Kind: KindScalar, Scalar: f}
}

func List(items ...Value) Value {
	return Value{Kind: KindSequence, Items: items}
}

func Map(fields ...Field) Value {
	return Value{Kind: KindMapping, Fields: fields}
}

func Int(n int) Value {
	return Value{Kind: KindScalar, Scalar: json.Number(strconv.Itoa(n))}
}

// Get returns the field named key of a mapping.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindMapping {
		return Value{}, false
	}
	for _, f := range v.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// AsBool reports the boolean held by a scalar.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindScalar {
		return false, false
	}
	b, ok := v.Scalar.(bool)
	return b, ok
}

// With returns a copy of the mapping with key set to val as its last field.
// An existing field of the same name is dropped.
func (v Value) With(key string, val Value) Value {
	fields := make([]Field, 0, len(v.Fields)+1)
	for _, f := range v.Fields {
		if f.Key != key {
			fields = append(fields, f)
		}
	}
	return Map(append(fields, Field{Key: key, Value: val})...)
}

var errTrailingData = errors.New("unexpected data after top-level value")

// Decode parses a JSON document into a Value, keeping object key order.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, errTrailingData
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return Value{}, io.ErrUnexpectedEOF
		}
		return Value{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return Value{}, fmt.Errorf("unexpected delimiter %q", t)
		}
	case nil, bool, string, json.Number:
		return Value{Kind: KindScalar, Scalar: t}, nil
	default:
		return Value{}, fmt.Errorf("unexpected token %v", tok)
	}
}

func decodeObject(dec *json.Decoder) (Value, error) {
	var fields []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("object key must be a string, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		// a repeated key keeps its first position and takes the last value
		if i := slices.IndexFunc(fields, func(f Field) bool { return f.Key == key }); i >= 0 {
			fields[i].Value = val
			continue
		}
		fields = append(fields, Field{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}
	return Map(fields...), nil
}

func decodeArray(dec *json.Decoder) (Value, error) {
	var items []Value
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		items = append(items, val)
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}
	return List(items...), nil
}
