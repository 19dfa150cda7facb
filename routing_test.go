package cyibot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMentionsDirectory(t *testing.T) {
	for _, q := range []string{
		"Who are the coordinators for CYI in 2023?",
		"Alumni for CYI",
		"What is Ada's email?",
		"list the staff of SLI",
		"Who were the mentors?",
	} {
		assert.True(t, MentionsDirectory(q), q)
	}
	for _, q := range []string{
		"What was the major feedback from SLI 2024?",
		"How was the budget spent?",
		"What happened at the kickoff meeting?",
	} {
		assert.False(t, MentionsDirectory(q), q)
	}
}

func TestHeuristicPlan(t *testing.T) {
	plan := HeuristicPlan("Who are the coordinators for SLI?", "Who are the coordinators for SLI?", nil, false)
	assert.Equal(t, []ToolInvocation{
		{Name: ToolDirectoryLookup, Arguments: map[string]any{"question": "Who are the coordinators for SLI?"}},
		{Name: ToolSummarize},
	}, plan)

	plan = HeuristicPlan("What was the feedback?", "What was the feedback?", nil, false)
	assert.Equal(t, ToolSemanticSearch, plan[0].Name)
	assert.Equal(t, "What was the feedback?", plan[0].Arguments["query"])
}

func TestHeuristicPlan_FollowUpKeepsDirectory(t *testing.T) {
	previous := "Who are the coordinators for SLI in 2023?"
	search := previous + " What about 2022?"

	plan := HeuristicPlan("What about 2022?", search, []string{ToolDirectoryLookup}, true)
	require.Len(t, plan, 2)
	assert.Equal(t, ToolDirectoryLookup, plan[0].Name)
	assert.Equal(t, search, plan[0].Arguments["question"])

	plan = HeuristicPlan("What about 2022?", "What was the feedback from SLI? What about 2022?", []string{ToolSemanticSearch}, true)
	assert.Equal(t, ToolSemanticSearch, plan[0].Name)

	plan = HeuristicPlan("What about 2022?", search, []string{ToolDirectoryLookup}, false)
	assert.Equal(t, ToolSemanticSearch, plan[0].Name)
}

func TestNormalizePlan(t *testing.T) {
	search := ToolInvocation{Name: ToolSemanticSearch, Arguments: map[string]any{"query": "x"}}
	lookup := ToolInvocation{Name: ToolDirectoryLookup, Arguments: map[string]any{"question": "y"}}
	summarize := ToolInvocation{Name: ToolSummarize}

	tests := map[string]struct {
		plan     []ToolInvocation
		maxCalls int
		want     []ToolInvocation
	}{
		"appends summarize":         {[]ToolInvocation{search}, 3, []ToolInvocation{search, summarize}},
		"drops after summarize":     {[]ToolInvocation{lookup, summarize, search}, 3, []ToolInvocation{lookup, summarize}},
		"caps data tools":           {[]ToolInvocation{search, lookup, search, lookup}, 2, []ToolInvocation{search, lookup, summarize}},
		"summarize only":            {[]ToolInvocation{summarize}, 3, []ToolInvocation{summarize}},
		"zero means no cap":         {[]ToolInvocation{search, lookup, search}, 0, []ToolInvocation{search, lookup, search, summarize}},
		"empty plan still finishes": {nil, 3, []ToolInvocation{summarize}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePlan(tt.plan, tt.maxCalls))
		})
	}
}

func TestModelReply_Normalize(t *testing.T) {
	reply := ModelReply{
		Text:        " Hello! ",
		Invocations: []ToolInvocation{{Name: " semantic_search "}, {Name: "summarize"}},
	}
	reply.Normalize()
	assert.Equal(t, "Hello!", reply.Text)
	assert.Equal(t, ToolSemanticSearch, reply.Invocations[0].Name)
	assert.Equal(t, ToolSummarize, reply.Invocations[1].Name)
}

func TestRoutingPrompt(t *testing.T) {
	f := newFixture()
	r, err := NewRouter(f.components())
	require.NoError(t, err)

	prompt := RoutingPrompt(DefaultMetadataSchema(), r.Tools())
	assert.Contains(t, prompt, "- directory_lookup:")
	assert.Contains(t, prompt, "- semantic_search:")
	assert.Contains(t, prompt, "query (string, required)")
	assert.Contains(t, prompt, "Allowed values: SLI, CCB, CBD, CLP")
	assert.Contains(t, prompt, "tool_calls")
	assert.NotContains(t, prompt, "JSON")
}
