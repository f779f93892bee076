package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

func TestObject(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		method Method
		want   string
	}{
		{
			name:   "json fence",
			text:   "Here you go:\n```json\n{\"kw\":[\"alarm\"],\"kw_lt\":[],\"terminos_semanticos\":[]}\n```\nthanks",
			method: MethodJSONFence,
			want:   `{"kw":["alarm"],"kw_lt":[],"terminos_semanticos":[]}`,
		},
		{
			name:   "json fence preferred over earlier plain fence",
			text:   "```\n{\"a\":1}\n```\n```JSON\n{\"b\":2}\n```",
			method: MethodJSONFence,
			want:   `{"b":2}`,
		},
		{
			name:   "untagged fence",
			text:   "```\n{\"a\": {\"b\": true}}\n```",
			method: MethodAnyFence,
			want:   `{"a":{"b":true}}`,
		},
		{
			name:   "bad json fence falls through",
			text:   "```json\nnot json\n```\nand then {\"ok\": 1}",
			method: MethodBraceScan,
			want:   `{"ok":1}`,
		},
		{
			name:   "brace scan ignores braces in strings",
			text:   `The result is {"note": "use } and { freely", "n": 3} done.`,
			method: MethodBraceScan,
			want:   `{"note":"use } and { freely","n":3}`,
		},
		{
			name:   "brace scan handles escaped quotes",
			text:   `x {"q": "say \"}\" now"} y`,
			method: MethodBraceScan,
			want:   `{"q":"say \"}\" now"}`,
		},
		{
			name:   "first unparseable span skipped",
			text:   `{not json} then {"k": "v"}`,
			method: MethodBraceScan,
			want:   `{"k":"v"}`,
		},
		{
			name:   "inner object of skipped span ignored",
			text:   `{bad {"x": 1}} then {"k": "v"}`,
			method: MethodBraceScan,
			want:   `{"k":"v"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, method, err := Object(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.method, method)
			got, err := Canonical(obj)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestObjectNotFound(t *testing.T) {
	for _, text := range []string{
		"",
		"no braces here",
		"[1,2,3]",
		"{ unterminated",
		"```json\n[1]\n```",
		`{"outer": {"kw":["x"],"kw_lt":[],"terminos_semanticos":[]}, oops}`,
	} {
		_, _, err := Object(text)
		require.Error(t, err, text)
		var ae *common.AppError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, common.KindExtraction, ae.Kind)
		assert.Equal(t, "no JSON object found", ae.Message)
	}
}

func TestObjectIdempotent(t *testing.T) {
	inputs := []string{
		"```json\n{\"b\": 1.50, \"a\": [\"x\", {\"y\": null}]}\n```",
		`prefix {"price": 12, "html": "<b>&</b>"} suffix`,
	}
	for _, in := range inputs {
		first, _, err := Object(in)
		require.NoError(t, err)
		ser, err := Canonical(first)
		require.NoError(t, err)

		second, _, err := Object(string(ser))
		require.NoError(t, err)
		assert.Equal(t, first, second)

		again, err := Canonical(second)
		require.NoError(t, err)
		assert.Equal(t, ser, again)
	}
}

func TestCanonicalKeepsNumbersAndHTML(t *testing.T) {
	obj, _, err := Object(`{"z": 1.50, "a": "<x>"}`)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1.50"), obj["z"])

	b, err := Canonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","z":1.50}`, string(b))
}

func TestRequireKeys(t *testing.T) {
	obj := map[string]any{"kw": []any{}, "terminos_semanticos": []any{}, "extra": 1}

	err := RequireKeys(obj, []string{"kw", "kw_lt", "terminos_semanticos"})
	require.Error(t, err)
	var ae *common.AppError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, common.KindValidation, ae.Kind)
	assert.Equal(t, common.PhaseResult, ae.Phase)
	assert.Equal(t, "kw_lt", ae.Key)
	assert.Contains(t, ae.Error(), "kw_lt")

	obj["kw_lt"] = []any{}
	assert.NoError(t, RequireKeys(obj, []string{"kw", "kw_lt", "terminos_semanticos"}))
}

func TestSchemaValidate(t *testing.T) {
	s, err := CompileSchema("seo", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kw": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	})
	require.NoError(t, err)

	ok, _, err := Object(`{"kw": ["alarm"], "other": 2}`)
	require.NoError(t, err)
	assert.NoError(t, s.Validate(ok))

	bad, _, err := Object(`{"kw": "alarm"}`)
	require.NoError(t, err)
	err = s.Validate(bad)
	require.Error(t, err)
	assert.Equal(t, 502, common.HTTPStatus(err))

	var nilSchema *Schema
	assert.NoError(t, nilSchema.Validate(bad))

	assert.NoError(t, ValidateJSONAgainstSchema(map[string]any{"type": "object"}, []byte(`{"a":1}`)))
}
