package cyibot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MetadataFilter maps a declared schema field to the exact value a document
// must carry. Values are canonical: strings for enum fields, ints for integer
// fields (see MetadataSchema.Normalize).
type MetadataFilter map[string]any

// Clone returns a shallow copy of the filter. A nil filter clones to an empty one.
func (f MetadataFilter) Clone() MetadataFilter {
	out := make(MetadataFilter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the filter's fields in sorted order.
func (f MetadataFilter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both filters constrain the same fields to the same values.
func (f MetadataFilter) Equal(other MetadataFilter) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		ov, ok := other[k]
		if !ok || !sameValue(v, ov) {
			return false
		}
	}
	return true
}

// Matches reports whether metadata satisfies every constraint of the filter.
// A field missing from metadata does not satisfy a constraint on it.
func (f MetadataFilter) Matches(metadata map[string]any) bool {
	for k, want := range f {
		got, ok := metadata[k]
		if !ok || !sameValue(want, got) {
			return false
		}
	}
	return true
}

// String renders the filter as "field=value" pairs in field order.
func (f MetadataFilter) String() string {
	parts := make([]string, 0, len(f))
	for _, k := range f.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, f[k]))
	}
	return strings.Join(parts, ",")
}

// sameValue compares two scalar metadata values, treating numeric kinds and
// numeric strings as equal when they denote the same number.
func sameValue(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Fragment is a retrieved text passage with the metadata it was indexed under.
type Fragment struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// DirectoryRecord is one row of the contact directory.
type DirectoryRecord struct {
	Program string            `json:"program,omitempty"`
	Year    int               `json:"year,omitempty"`
	Role    string            `json:"role,omitempty"`
	Name    string            `json:"name,omitempty"`
	Email   string            `json:"email,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Format renders the record as "field: value" pairs joined by ", ".
// Empty fields are omitted; extra columns follow in name order.
func (r DirectoryRecord) Format() string {
	var parts []string
	add := func(field, value string) {
		if value != "" {
			parts = append(parts, field+": "+value)
		}
	}
	add("name", r.Name)
	add("role", r.Role)
	add("program", r.Program)
	if r.Year != 0 {
		add("year", strconv.Itoa(r.Year))
	}
	add("email", r.Email)

	extras := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	for _, k := range extras {
		add(k, r.Extra[k])
	}
	return strings.Join(parts, ", ")
}

// Constraint restricts a directory column to one of the listed values.
type Constraint struct {
	Column string `json:"column"`
	Values []any  `json:"values"`
}

// DirectoryQuery is a read-only query against the contact directory.
// SQL and Args are always set; Constraints are present when the query was
// built from structured constraints rather than free-form model output.
type DirectoryQuery struct {
	SQL         string       `json:"sql"`
	Args        []any        `json:"args,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty"`
}

// Role identifies the author of a conversational message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversational message passed to the language model.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ToolInvocation is a request, usually from the language model, to run a tool.
type ToolInvocation struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ModelReply is the language model's response to a routing request: either
// an ordered list of tool invocations or a direct text answer.
type ModelReply struct {
	Text        string           `json:"text,omitempty"`
	Invocations []ToolInvocation `json:"tool_calls,omitempty"`
}

// Normalize trims the reply text and tool names.
func (r *ModelReply) Normalize() {
	r.Text = strings.TrimSpace(r.Text)
	for i := range r.Invocations {
		r.Invocations[i].Name = strings.TrimSpace(r.Invocations[i].Name)
	}
}

// Evidence accumulates everything the tools gathered during one turn.
type Evidence struct {
	Fragments []Fragment
	Records   []DirectoryRecord
}

// Empty reports whether no fragments or records were gathered.
func (e Evidence) Empty() bool {
	return len(e.Fragments) == 0 && len(e.Records) == 0
}

// ContextBlock renders the evidence for the synthesis prompt: fragment
// texts separated by blank lines, then records one per line.
func (e Evidence) ContextBlock() string {
	var sections []string
	if len(e.Fragments) > 0 {
		texts := make([]string, 0, len(e.Fragments))
		for _, f := range e.Fragments {
			if t := strings.TrimSpace(f.Text); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) > 0 {
			sections = append(sections, strings.Join(texts, "\n\n"))
		}
	}
	if len(e.Records) > 0 {
		lines := make([]string, 0, len(e.Records))
		for _, r := range e.Records {
			if line := r.Format(); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			sections = append(sections, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(sections, "\n\n")
}

// RetrievalResult is the outcome of a semantic retrieval.
type RetrievalResult struct {
	Filter    MetadataFilter
	Fragments []Fragment
}

// TranslationResult is the outcome of a question-to-query translation.
// Generated is false when no valid read-only query could be produced; in
// that case Query is nil and nothing was executed.
type TranslationResult struct {
	Query     *DirectoryQuery
	Generated bool
	Records   []DirectoryRecord
}

// Answer is what the router returns for one turn.
type Answer struct {
	TurnID    string         `json:"turn_id"`
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	State     TurnState      `json:"state"`
	Filter    MetadataFilter `json:"filter,omitempty"`
	Tools     []string       `json:"tools,omitempty"`
	Routing   RoutingSource  `json:"routing"`
	Duration  time.Duration  `json:"duration"`
}
