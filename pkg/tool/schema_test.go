package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileSchema() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"path":    {Type: "string"},
			"limit":   {Type: "integer"},
			"all":     {Type: "boolean", Default: false},
			"mode":    {Type: "string", Enum: []string{"fast", "full"}},
			"include": {Type: "array", Items: &PropertySchema{Type: "string"}},
		},
		Required: []string{"path"},
	}
}

func TestValidateHappyPath(t *testing.T) {
	out, err := fileSchema().Validate(map[string]any{
		"path":    "main.go",
		"limit":   float64(10),
		"include": []any{"a", "b"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "main.go", out["path"])
	assert.Equal(t, 10, out["limit"], "whole float64 coerces to int by shape")
	assert.Equal(t, false, out["all"], "default applied")
	assert.Equal(t, []any{"a", "b"}, out["include"])
}

func TestValidateRejectsUnknownInStrictMode(t *testing.T) {
	_, err := fileSchema().Validate(map[string]any{"path": "x", "bogus": 1}, true)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "bogus", verr.Param)

	out, err := fileSchema().Validate(map[string]any{"path": "x", "bogus": 1}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, out["bogus"], "lenient mode passes unknowns through")
}

func TestValidateRequired(t *testing.T) {
	_, err := fileSchema().Validate(map[string]any{"limit": float64(3)}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"path"`)
}

func TestValidateNoValueCoercion(t *testing.T) {
	// Shape coercion only: strings are never parsed into numbers or bools.
	_, err := fileSchema().Validate(map[string]any{"path": "x", "limit": "10"}, true)
	require.Error(t, err)

	_, err = fileSchema().Validate(map[string]any{"path": "x", "all": "true"}, true)
	require.Error(t, err)

	_, err = fileSchema().Validate(map[string]any{"path": "x", "limit": 1.5}, true)
	require.Error(t, err, "fractional number is not an integer")
}

func TestValidateEnum(t *testing.T) {
	_, err := fileSchema().Validate(map[string]any{"path": "x", "mode": "turbo"}, true)
	require.Error(t, err)

	out, err := fileSchema().Validate(map[string]any{"path": "x", "mode": "fast"}, true)
	require.NoError(t, err)
	assert.Equal(t, "fast", out["mode"])
}

func TestParseArguments(t *testing.T) {
	params, err := ParseArguments(`{"path":"a.go"}`)
	require.NoError(t, err)
	assert.Equal(t, "a.go", params["path"])

	params, err = ParseArguments("")
	require.NoError(t, err)
	assert.Empty(t, params)

	_, err = ParseArguments("{not json")
	require.Error(t, err)
}

func TestKindMutator(t *testing.T) {
	assert.True(t, KindEdit.IsMutator())
	assert.True(t, KindDelete.IsMutator())
	assert.True(t, KindMove.IsMutator())
	assert.True(t, KindExecute.IsMutator())
	assert.False(t, KindRead.IsMutator())
	assert.False(t, KindSearch.IsMutator())
	assert.False(t, KindFetch.IsMutator())
}
