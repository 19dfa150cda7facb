package cyibot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Names of the router's built-in tools.
const (
	ToolSemanticSearch  = "semantic_search"
	ToolDirectoryLookup = "directory_lookup"
	ToolSummarize       = "summarize"
)

// ParameterSpec describes one argument of a tool for the language model.
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolSpec describes a tool for the language model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterSpec `json:"parameters,omitempty"`
}

// SemanticSearchArgs are the arguments of the semantic_search tool.
type SemanticSearchArgs struct {
	Query string `json:"query" validate:"required,max=1000"`
	TopK  int    `json:"top_k,omitempty" validate:"omitempty,min=1,max=20"`
}

// DirectoryLookupArgs are the arguments of the directory_lookup tool.
type DirectoryLookupArgs struct {
	Question string `json:"question" validate:"required,max=1000"`
}

// SummarizeArgs are the arguments of the summarize tool.
type SummarizeArgs struct {
	Focus string `json:"focus,omitempty" validate:"max=500"`
}

// ToolResult is what a tool contributes to the turn.
type ToolResult struct {
	Evidence Evidence
	// Filter is the metadata filter the tool actually applied, if any.
	Filter MetadataFilter
	// Query is the structured query the tool executed, if any.
	Query *DirectoryQuery
}

// ToolHandler runs a tool with decoded, validated arguments.
type ToolHandler func(ctx context.Context, turn *TurnContext, args any) (*ToolResult, error)

// Tool binds a name and typed arguments to a handler.
type Tool struct {
	name        string
	description string
	parameters  []ParameterSpec
	newArgs     func() any
	handler     ToolHandler
}

// ToolOption represents an option for configuring a Tool.
type ToolOption func(*Tool)

// WithDescription sets the description shown to the language model.
func WithDescription(description string) ToolOption {
	return func(t *Tool) {
		t.description = description
	}
}

// WithParameters sets the parameter descriptions shown to the language model.
func WithParameters(params ...ParameterSpec) ToolOption {
	return func(t *Tool) {
		t.parameters = params
	}
}

// WithArguments sets the constructor of the tool's typed argument struct.
// Invocation arguments are decoded into it and validated with its
// `validate` struct tags.
func WithArguments(newArgs func() any) ToolOption {
	return func(t *Tool) {
		t.newArgs = newArgs
	}
}

// NewTool creates a tool.
func NewTool(name string, handler ToolHandler, options ...ToolOption) *Tool {
	t := &Tool{
		name:    name,
		handler: handler,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Name returns the tool's name.
func (t *Tool) Name() string {
	return t.name
}

// Spec returns the tool's description for the language model.
func (t *Tool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.name,
		Description: t.description,
		Parameters:  append([]ParameterSpec(nil), t.parameters...),
	}
}

// Execute runs the tool's handler.
func (t *Tool) Execute(ctx context.Context, turn *TurnContext, args any) (*ToolResult, error) {
	if t.handler == nil {
		return nil, NewConfigurationError(fmt.Sprintf("tool '%s' has no handler", t.name), nil)
	}
	return t.handler(ctx, turn, args)
}

// ToolRegistry is the fixed set of tools available to the router.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	validate *validator.Validate
}

// NewToolRegistry creates a registry holding the given tools.
func NewToolRegistry(tools ...*Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{
		tools:    make(map[string]*Tool, len(tools)),
		validate: validator.New(),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(t *Tool) error {
	if t == nil || t.name == "" {
		return NewConfigurationError("tool must have a name", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.name]; exists {
		return NewConfigurationError(fmt.Sprintf("tool '%s' registered twice", t.name), nil)
	}
	r.tools[t.name] = t
	return nil
}

// Lookup returns the named tool.
func (r *ToolRegistry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns every tool's spec ordered by name.
func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Decode resolves an invocation to its tool and typed, validated arguments.
func (r *ToolRegistry) Decode(inv ToolInvocation) (*Tool, any, error) {
	t, ok := r.Lookup(inv.Name)
	if !ok {
		return nil, nil, NewToolNotFoundError(inv.Name)
	}
	if t.newArgs == nil {
		return t, inv.Arguments, nil
	}

	args := t.newArgs()
	if len(inv.Arguments) > 0 {
		raw, err := json.Marshal(inv.Arguments)
		if err != nil {
			return nil, nil, NewToolValidationError(inv.Name, err)
		}
		if err := json.Unmarshal(raw, args); err != nil {
			return nil, nil, NewToolValidationError(inv.Name, err)
		}
	}
	if err := r.validate.Struct(args); err != nil {
		return nil, nil, NewToolValidationError(inv.Name, err)
	}
	return t, args, nil
}

// ValidatePlan checks every invocation of a plan, failing on the first
// unknown tool or invalid argument set.
func (r *ToolRegistry) ValidatePlan(plan []ToolInvocation) error {
	for _, inv := range plan {
		if _, _, err := r.Decode(inv); err != nil {
			return err
		}
	}
	return nil
}
