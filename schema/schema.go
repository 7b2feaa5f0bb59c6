package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Type is the classified type of a JSON value, or a declared parameter type.
type Type string

const (
	String  Type = "string"
	Number  Type = "number"
	Boolean Type = "boolean"
	Array   Type = "array"
	Object  Type = "object"
	Null    Type = "null"

	// Any is only meaningful as a declared parameter type; it accepts a
	// value of every classified type.
	Any Type = "any"
)

// Param declares one parameter.
type Param struct {
	Type     Type
	Required bool
	Default  any
}

// Schema declares the parameters of a method. The two implementations are
// Named and Positional; a nil Schema declares that the method takes none.
type Schema interface {
	// Shape is the top-level type supplied params must classify as.
	Shape() Type

	normalize(params any) (any, []Issue)
}

// Named is an object-style schema keyed by parameter name.
type Named map[string]Param

// Shape implements Schema.
func (Named) Shape() Type { return Object }

// Positional is an array-style schema indexed by position.
type Positional []Param

// Shape implements Schema.
func (Positional) Shape() Type { return Array }

// Issue describes why one parameter failed validation.
type Issue struct {
	Param  string
	Reason string
}

// ValidationError is returned by Validate when params do not satisfy the schema.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Param == "" {
			parts = append(parts, is.Reason)
			continue
		}
		parts = append(parts, is.Param+": "+is.Reason)
	}
	return "invalid params: " + strings.Join(parts, "; ")
}

// ShapeOf returns the shape declared by s, Null for a nil schema.
func ShapeOf(s Schema) Type {
	if s == nil {
		return Null
	}
	return s.Shape()
}

// Validate checks params against s and returns the normalized parameters the
// handler should receive: map[string]any for a Named schema, []any for a
// Positional schema, nil when s is nil.
func Validate(s Schema, params any) (any, error) {
	shape := ShapeOf(s)
	if got := Classify(params); got != shape {
		return nil, &ValidationError{Issues: []Issue{{Reason: fmt.Sprintf("expected %s params, got %s", shape, got)}}}
	}
	if shape == Null {
		return nil, nil
	}
	out, issues := s.normalize(params)
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return out, nil
}

func (n Named) normalize(params any) (any, []Issue) {
	supplied, ok := asMap(params)
	if !ok {
		return nil, []Issue{{Reason: "params are not an object"}}
	}

	names := make([]string, 0, len(n))
	for name := range n {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(n))
	var issues []Issue
	for _, name := range names {
		v, present := supplied[name]
		val, issue, keep := resolve(n[name], v, present)
		if issue != "" {
			issues = append(issues, Issue{Param: name, Reason: issue})
			continue
		}
		if keep {
			out[name] = val
		}
	}
	return out, issues
}

func (p Positional) normalize(params any) (any, []Issue) {
	supplied, ok := asSlice(params)
	if !ok {
		return nil, []Issue{{Reason: "params are not an array"}}
	}

	out := make([]any, len(p))
	var issues []Issue
	for i, decl := range p {
		var v any
		present := i < len(supplied)
		if present {
			v = supplied[i]
		}
		val, issue, _ := resolve(decl, v, present)
		if issue != "" {
			issues = append(issues, Issue{Param: strconv.Itoa(i), Reason: issue})
			continue
		}
		out[i] = val
	}
	return out, issues
}

// resolve applies one declaration to one supplied value. keep is false when
// the parameter was omitted and no default exists, so named results do not
// grow keys the caller never sent.
func resolve(decl Param, v any, present bool) (val any, issue string, keep bool) {
	if present {
		if decl.Type != Any && Classify(v) != decl.Type {
			return nil, fmt.Sprintf("expected %s, got %s", decl.Type, Classify(v)), false
		}
		return v, "", true
	}
	if decl.Required {
		return nil, "required", false
	}
	if decl.Default == nil {
		return nil, "", false
	}
	return clone(decl.Default), "", true
}

// Classify returns the JSON type of v. nil, nil pointers and values with no
// JSON representation classify as Null. Arrays never classify as Object.
func Classify(v any) Type {
	switch t := v.(type) {
	case nil:
		return Null
	case string:
		return String
	case bool:
		return Boolean
	case json.Number, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return Number
	case []any:
		return Array
	case map[string]any:
		return Object
	case json.RawMessage:
		return classifyRaw(t)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Null
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return String
	case reflect.Bool:
		return Boolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Number
	case reflect.Slice:
		if rv.IsNil() {
			return Null
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// encoding/json renders byte slices as base64 strings
			return String
		}
		return Array
	case reflect.Array:
		return Array
	case reflect.Map:
		if rv.IsNil() {
			return Null
		}
		if rv.Type().Key().Kind() == reflect.String {
			return Object
		}
		return Null
	case reflect.Struct:
		return Object
	default:
		return Null
	}
}

func classifyRaw(raw json.RawMessage) Type {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return Null
	}
	return Classify(v)
}

// asMap returns params as a generic map, converting typed maps and structs
// through their JSON form.
func asMap(params any) (map[string]any, bool) {
	if m, ok := params.(map[string]any); ok {
		return m, true
	}
	var m map[string]any
	if !roundTrip(params, &m) || m == nil {
		return nil, false
	}
	return m, true
}

func asSlice(params any) ([]any, bool) {
	if s, ok := params.([]any); ok {
		return s, true
	}
	var s []any
	if !roundTrip(params, &s) {
		return nil, false
	}
	return s, true
}

func roundTrip(in any, out any) bool {
	b, err := json.Marshal(in)
	if err != nil {
		return false
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	return dec.Decode(out) == nil
}

// clone copies generic containers so defaults are never shared between
// requests.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = clone(e)
		}
		return out
	default:
		return v
	}
}
