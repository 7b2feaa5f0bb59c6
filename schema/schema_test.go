package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	type point struct{ X, Y int }
	var nilMap map[string]any
	var nilPtr *point

	tests := []struct {
		name string
		in   any
		want Type
	}{
		{"nil", nil, Null},
		{"string", "x", String},
		{"empty string", "", String},
		{"bool", false, Boolean},
		{"float64", 0.0, Number},
		{"int", 42, Number},
		{"uint8", uint8(1), Number},
		{"json number", json.Number("1e3"), Number},
		{"generic slice", []any{1, "a"}, Array},
		{"empty slice", []any{}, Array},
		{"typed slice", []string{"a"}, Array},
		{"fixed array", [2]int{1, 2}, Array},
		{"byte slice", []byte("abc"), String},
		{"generic map", map[string]any{"a": 1}, Object},
		{"typed map", map[string]int{"a": 1}, Object},
		{"nil map", nilMap, Null},
		{"struct", point{}, Object},
		{"struct pointer", &point{}, Object},
		{"nil pointer", nilPtr, Null},
		{"func", func() {}, Null},
		{"raw object", json.RawMessage(`{"a":1}`), Object},
		{"raw array", json.RawMessage(`[1]`), Array},
		{"raw null", json.RawMessage(`null`), Null},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestValidateShape(t *testing.T) {
	named := Named{"foo": {Type: String}}
	positional := Positional{{Type: String}}

	t.Run("nil schema accepts absent params", func(t *testing.T) {
		out, err := Validate(nil, nil)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("nil schema rejects params", func(t *testing.T) {
		_, err := Validate(nil, map[string]any{})
		require.Error(t, err)
	})

	t.Run("named schema rejects array params", func(t *testing.T) {
		_, err := Validate(named, []any{"x"})
		require.Error(t, err)
	})

	t.Run("named schema rejects absent params", func(t *testing.T) {
		_, err := Validate(named, nil)
		require.Error(t, err)
	})

	t.Run("positional schema rejects object params", func(t *testing.T) {
		_, err := Validate(positional, map[string]any{"0": "x"})
		require.Error(t, err)
	})
}

func TestValidateNamed(t *testing.T) {
	s := Named{
		"foo": {Type: String, Required: true},
		"bar": {Type: Any, Default: "baz"},
	}

	t.Run("supplied values pass through", func(t *testing.T) {
		out, err := Validate(s, map[string]any{"foo": "bar", "bar": json.Number("1")})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"foo": "bar", "bar": json.Number("1")}, out)
	})

	t.Run("default fills omitted optional", func(t *testing.T) {
		out, err := Validate(s, map[string]any{"foo": "bar"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"foo": "bar", "bar": "baz"}, out)
	})

	t.Run("missing required fails", func(t *testing.T) {
		_, err := Validate(s, map[string]any{"Foo": "bar"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Len(t, verr.Issues, 1)
		assert.Equal(t, "foo", verr.Issues[0].Param)
	})

	t.Run("wrong type fails", func(t *testing.T) {
		_, err := Validate(s, map[string]any{"foo": 123})
		require.Error(t, err)
	})

	t.Run("undeclared keys are dropped", func(t *testing.T) {
		out, err := Validate(s, map[string]any{"foo": "x", "extra": true})
		require.NoError(t, err)
		assert.NotContains(t, out, "extra")
	})

	t.Run("optional without default stays absent", func(t *testing.T) {
		out, err := Validate(Named{"opt": {Type: Number}}, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{}, out)
	})

	t.Run("typed caller map is accepted", func(t *testing.T) {
		out, err := Validate(s, map[string]string{"foo": "x"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"foo": "x", "bar": "baz"}, out)
	})

	t.Run("all failing fields are reported", func(t *testing.T) {
		s := Named{"a": {Type: String, Required: true}, "b": {Type: Boolean}}
		_, err := Validate(s, map[string]any{"b": "no"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Issues, 2)
	})
}

func TestValidatePositional(t *testing.T) {
	s := Positional{
		{Type: Number, Required: true},
		{Type: Number, Default: json.Number("1")},
		{Type: String},
	}

	t.Run("defaults fill the tail", func(t *testing.T) {
		out, err := Validate(s, []any{json.Number("5")})
		require.NoError(t, err)
		assert.Equal(t, []any{json.Number("5"), json.Number("1"), nil}, out)
	})

	t.Run("missing required fails", func(t *testing.T) {
		_, err := Validate(s, []any{})
		require.Error(t, err)
	})

	t.Run("wrong type at index fails", func(t *testing.T) {
		_, err := Validate(s, []any{1, 2, 3})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "2", verr.Issues[0].Param)
	})

	t.Run("extra positions are dropped", func(t *testing.T) {
		out, err := Validate(s, []any{1, 2, "x", "extra"})
		require.NoError(t, err)
		assert.Len(t, out, 3)
	})
}

func TestValidateDoesNotMutateInput(t *testing.T) {
	s := Named{
		"foo":  {Type: String, Required: true},
		"tags": {Type: Array, Default: []any{"a"}},
	}
	in := map[string]any{"foo": "x"}

	out, err := Validate(s, in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "x"}, in)

	// Defaults are copied, so mutating one result leaves the next intact.
	out.(map[string]any)["tags"].([]any)[0] = "mutated"
	again, err := Validate(s, map[string]any{"foo": "y"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, again.(map[string]any)["tags"])
}

func TestReflect(t *testing.T) {
	type params struct {
		Name  string   `json:"name"`
		Count int      `json:"count,omitempty" jsonschema:"default=3"`
		Tags  []string `json:"tags,omitempty"`
		Extra any      `json:"extra,omitempty"`
	}

	s := Reflect[params]()
	require.Len(t, s, 4)

	assert.Equal(t, Param{Type: String, Required: true}, s["name"])
	assert.Equal(t, Number, s["count"].Type)
	assert.False(t, s["count"].Required)
	assert.Equal(t, json.Number("3"), s["count"].Default)
	assert.Equal(t, Array, s["tags"].Type)
	assert.Equal(t, Any, s["extra"].Type)

	out, err := Validate(s, map[string]any{"name": "n"})
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), out.(map[string]any)["count"])
}
