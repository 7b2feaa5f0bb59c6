// Package schema validates and normalizes JSON-RPC method parameters against
// a declared schema.
//
// A schema is either named (Named), positional (Positional), or absent (nil),
// in which case the method accepts no parameters at all:
//
//	schema.Named{
//	    "foo": {Type: schema.String, Required: true},
//	    "bar": {Type: schema.Any, Default: "baz"},
//	}
//
//	schema.Positional{
//	    {Type: schema.Number, Required: true},
//	    {Type: schema.Number, Default: 1},
//	}
//
// Validate checks that the supplied parameters have the same top-level shape
// as the schema, that every declared parameter has the declared type, and
// that required parameters are present. On success it returns a new,
// normalized structure in which omitted optional parameters carry their
// declared defaults. The caller's input is never modified.
//
// Reflect derives a Named schema from a Go params struct using its json
// and jsonschema struct tags.
package schema
