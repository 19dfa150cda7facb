package cyibot

import (
	"fmt"
	"regexp"
	"strings"
)

// RoutingSource records who chose the tools of a turn.
type RoutingSource string

const (
	// RoutingModel means the language model chose the tools.
	RoutingModel RoutingSource = "model"
	// RoutingHeuristic means keyword routing chose the tools because the
	// model failed or proposed an invalid plan.
	RoutingHeuristic RoutingSource = "heuristic"
	// RoutingDirect means the model answered without tools.
	RoutingDirect RoutingSource = "direct"
)

// directoryVocabulary are words that point a question at the contact
// directory rather than the document archive.
var directoryVocabulary = regexp.MustCompile(`(?i)\b(` + strings.Join([]string{
	"alumni", "alumnus", "alumna", "alum",
	"contacts?", "e-?mails?", "phone", "reach",
	"staff", "coordinators?", "directors?", "facilitators?", "mentors?",
	"people", "persons?", "participants?", "members?", "roster", "directory",
}, "|") + `)\b`)

// MentionsDirectory reports whether the question uses people, role or
// contact vocabulary.
func MentionsDirectory(question string) bool {
	return directoryVocabulary.MatchString(question)
}

// HeuristicPlan builds a plan without the language model: a directory
// lookup for people-oriented questions, a semantic search otherwise, then
// summarize. A follow-up with no vocabulary of its own keeps the tool of
// the previous turn. searchText is the text handed to the chosen tool.
func HeuristicPlan(question, searchText string, previousTools []string, followUp bool) []ToolInvocation {
	useDirectory := MentionsDirectory(question)
	if !useDirectory && followUp && MentionsDirectory(searchText) {
		for _, t := range previousTools {
			if t == ToolDirectoryLookup {
				useDirectory = true
				break
			}
		}
	}

	var first ToolInvocation
	if useDirectory {
		first = ToolInvocation{Name: ToolDirectoryLookup, Arguments: map[string]any{"question": searchText}}
	} else {
		first = ToolInvocation{Name: ToolSemanticSearch, Arguments: map[string]any{"query": searchText}}
	}
	return []ToolInvocation{first, {Name: ToolSummarize}}
}

// NormalizePlan drops everything after the first summarize, caps the number
// of data tools at maxCalls and makes sure the plan ends with summarize.
func NormalizePlan(plan []ToolInvocation, maxCalls int) []ToolInvocation {
	out := make([]ToolInvocation, 0, len(plan)+1)
	calls := 0
	for _, inv := range plan {
		if inv.Name == ToolSummarize {
			break
		}
		if maxCalls > 0 && calls >= maxCalls {
			break
		}
		out = append(out, inv)
		calls++
	}
	return append(out, ToolInvocation{Name: ToolSummarize})
}

// RoutingPrompt is the system instruction sent with every routing request.
func RoutingPrompt(schema *MetadataSchema, tools []ToolSpec) string {
	var b strings.Builder
	b.WriteString("You answer questions about CYI's programs using two sources: an archive of program documents ")
	b.WriteString("and a contact directory of staff, participants and alumni.\n")
	b.WriteString("Decide which tools to call, in order. Call summarize last.\n\n")
	b.WriteString("Tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		for _, p := range t.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	b.WriteString("\nDocument metadata fields:\n")
	b.WriteString(schema.Describe())
	b.WriteString("\nList the calls in tool_calls, each with the tool name and its arguments.\n")
	b.WriteString("If the message needs no lookup (for example a greeting), leave tool_calls empty and put your reply in text.\n")
	return b.String()
}
