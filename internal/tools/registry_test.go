package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
	desc string
}

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return s.desc }
func (s stubTool) Execute(context.Context, string) Result {
	return Result{Success: true}
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(
		stubTool{name: "run_sql", desc: "runs sql"},
		stubTool{name: "explain", desc: "explains sql"},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"explain", "run_sql"}, r.List())

	tool, ok := r.Get("run_sql")
	require.True(t, ok)
	assert.Equal(t, "runs sql", tool.Description())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []Descriptor{
		{Name: "explain", Description: "explains sql"},
		{Name: "run_sql", Description: "runs sql"},
	}, r.Descriptors())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	_, err := NewRegistry(stubTool{name: "a"}, stubTool{name: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a" already registered`)

	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(stubTool{}))
}

func TestRegistry_Nil(t *testing.T) {
	var r *Registry
	_, ok := r.Get(RunSQLName)
	assert.False(t, ok)
	assert.Zero(t, r.Count())
	assert.Empty(t, r.Descriptors())
}
