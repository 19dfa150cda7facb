package cyibot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, turn *TurnContext, args any) (*ToolResult, error) {
	return &ToolResult{}, nil
}

func newTestRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	r, err := NewToolRegistry(
		NewTool(ToolSemanticSearch, noopHandler, WithArguments(func() any { return &SemanticSearchArgs{} })),
		NewTool(ToolDirectoryLookup, noopHandler, WithArguments(func() any { return &DirectoryLookupArgs{} })),
		NewTool(ToolSummarize, nil, WithArguments(func() any { return &SummarizeArgs{} })),
	)
	require.NoError(t, err)
	return r
}

func TestToolRegistry_Register(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.Register(NewTool(ToolSummarize, nil)), ErrConfiguration)
	assert.ErrorIs(t, r.Register(NewTool("", nil)), ErrConfiguration)
	assert.ErrorIs(t, r.Register(nil), ErrConfiguration)
}

func TestToolRegistry_Specs(t *testing.T) {
	r, err := NewToolRegistry(
		NewTool("b", nil, WithDescription("second")),
		NewTool("a", nil, WithDescription("first"),
			WithParameters(ParameterSpec{Name: "query", Type: "string", Required: true})),
	)
	require.NoError(t, err)

	specs := r.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "a", specs[0].Name)
	assert.Equal(t, "first", specs[0].Description)
	assert.True(t, specs[0].Parameters[0].Required)
	assert.Equal(t, "b", specs[1].Name)
}

func TestToolRegistry_Decode(t *testing.T) {
	r := newTestRegistry(t)

	tool, args, err := r.Decode(ToolInvocation{Name: ToolSemanticSearch, Arguments: map[string]any{"query": "mentoring", "top_k": float64(3)}})
	require.NoError(t, err)
	assert.Equal(t, ToolSemanticSearch, tool.Name())
	assert.Equal(t, &SemanticSearchArgs{Query: "mentoring", TopK: 3}, args)

	_, args, err = r.Decode(ToolInvocation{Name: ToolSummarize})
	require.NoError(t, err)
	assert.Equal(t, &SummarizeArgs{}, args)

	tests := map[string]struct {
		inv  ToolInvocation
		want error
	}{
		"unknown tool":     {ToolInvocation{Name: "web_search"}, ErrToolNotFound},
		"missing query":    {ToolInvocation{Name: ToolSemanticSearch}, ErrToolValidation},
		"top_k too large":  {ToolInvocation{Name: ToolSemanticSearch, Arguments: map[string]any{"query": "x", "top_k": 500}}, ErrToolValidation},
		"wrong type":       {ToolInvocation{Name: ToolSemanticSearch, Arguments: map[string]any{"query": 12}}, ErrToolValidation},
		"missing question": {ToolInvocation{Name: ToolDirectoryLookup, Arguments: map[string]any{"q": "x"}}, ErrToolValidation},
		"fractional top_k": {ToolInvocation{Name: ToolSemanticSearch, Arguments: map[string]any{"query": "x", "top_k": 2.5}}, ErrToolValidation},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := r.Decode(tt.inv)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestToolRegistry_ValidatePlan(t *testing.T) {
	r := newTestRegistry(t)
	assert.NoError(t, r.ValidatePlan([]ToolInvocation{
		{Name: ToolDirectoryLookup, Arguments: map[string]any{"question": "Who coordinated SLI?"}},
		{Name: ToolSummarize},
	}))
	assert.ErrorIs(t, r.ValidatePlan([]ToolInvocation{
		{Name: ToolSummarize},
		{Name: "drop_tables"},
	}), ErrToolNotFound)
}

func TestTool_ExecuteWithoutHandler(t *testing.T) {
	_, err := NewTool(ToolSummarize, nil).Execute(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}
