package schema

import (
	"slices"

	"github.com/invopop/jsonschema"
)

// Reflect derives a Named schema from the params struct P. Field names come
// from json tags; a field is required unless its json tag has omitempty or
// its jsonschema tag says otherwise; defaults come from `jsonschema:"default=..."`.
//
//	type AddParams struct {
//	    A int `json:"a"`
//	    B int `json:"b,omitempty" jsonschema:"default=1"`
//	}
//	m := dispatcher.Method{Handler: add, Params: schema.Reflect[AddParams]()}
//
// Reflect returns an empty Named schema when P is not a struct.
func Reflect[P any]() Named {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(new(P))

	out := Named{}
	if s == nil || s.Type != "object" || s.Properties == nil {
		return out
	}
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		out[el.Key] = Param{
			Type:     fromJSONSchemaType(el.Value),
			Required: slices.Contains(s.Required, el.Key),
			Default:  el.Value.Default,
		}
	}
	return out
}

func fromJSONSchemaType(s *jsonschema.Schema) Type {
	if s == nil {
		return Any
	}
	switch s.Type {
	case "string":
		return String
	case "integer", "number":
		return Number
	case "boolean":
		return Boolean
	case "array":
		return Array
	case "object":
		return Object
	default:
		// interface fields and nullable unions
		return Any
	}
}
