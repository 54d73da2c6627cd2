package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name string
	kind Kind
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) DisplayName() string { return t.name }
func (t *fakeTool) Description() string { return "fake" }
func (t *fakeTool) Kind() Kind          { return t.kind }
func (t *fakeTool) Origin() Origin      { return OriginBuiltin }
func (t *fakeTool) Parameters() ParameterSchema {
	return ParameterSchema{Type: "object", Properties: map[string]PropertySchema{}}
}
func (t *fakeTool) Invocation(params map[string]any) (Invocation, error) {
	return &Run{
		Display: t.name,
		Func: func(ctx context.Context, onOutput OutputFunc) (*Result, error) {
			return Ok(nil), nil
		},
	}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "read_file", kind: KindRead})
	r.Register(&fakeTool{name: "edit_file", kind: KindEdit})

	got, err := r.Get("read_file")
	require.NoError(t, err)
	assert.Equal(t, "read_file", got.Name())

	_, err = r.Get("missing")
	require.ErrorIs(t, err, ErrToolNotFound)

	assert.Equal(t, []string{"edit_file", "read_file"}, r.AllNames())
	assert.Equal(t, 2, r.Count())
}

func TestRegistryDuplicateReplaces(t *testing.T) {
	r := NewRegistry()
	first := &fakeTool{name: "read_file", kind: KindRead}
	second := &fakeTool{name: "read_file", kind: KindSearch}
	r.Register(first)
	r.Register(second)

	got, err := r.Get("read_file")
	require.NoError(t, err)
	assert.Equal(t, KindSearch, got.Kind())
	assert.Equal(t, 1, r.Count())
}

func TestRegistryDisableFiltersDeclarations(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "read_file", kind: KindRead})
	r.Register(&fakeTool{name: "web_fetch", kind: KindFetch})

	r.Disable("web_fetch")
	assert.False(t, r.Enabled("web_fetch"))
	assert.True(t, r.Enabled("read_file"))

	decls := r.FunctionDeclarations()
	require.Len(t, decls, 1)
	fn := decls[0]["function"].(map[string]any)
	assert.Equal(t, "read_file", fn["name"])

	// Disabled tools are filtered, not removed.
	_, err := r.Get("web_fetch")
	require.NoError(t, err)

	r.Enable("web_fetch")
	assert.Len(t, r.FunctionDeclarations(), 2)
}

func TestRegistryFilteredDeclarations(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "a"})
	r.Register(&fakeTool{name: "b"})
	r.Register(&fakeTool{name: "c"})

	decls := r.FunctionDeclarationsFiltered([]string{"b", "c"})
	assert.Len(t, decls, 2)

	decls = r.FunctionDeclarationsFiltered(nil)
	assert.Len(t, decls, 3)
}

func TestFunctionDeclarationShape(t *testing.T) {
	decl := ToFunctionDeclaration(&fakeTool{name: "read_file"})
	assert.Equal(t, "function", decl["type"])
	fn := decl["function"].(map[string]any)
	assert.Equal(t, "read_file", fn["name"])
	assert.NotNil(t, fn["parameters"])
}
