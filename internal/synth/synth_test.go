package synth

import (
	"context"
	"errors"
	"testing"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	completion string
	err        error
	prompts    []string
}

func (m *fakeModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.completion, m.err
}

func (m *fakeModel) Chat(ctx context.Context, messages []cyibot.Message, tools []cyibot.ToolSpec) (*cyibot.ModelReply, error) {
	return nil, errors.New("not used")
}

func TestSynthesize_EmptyEvidenceSkipsModel(t *testing.T) {
	model := &fakeModel{completion: "should not be used"}
	s, err := New(model)
	require.NoError(t, err)

	text, err := s.Synthesize(context.Background(), "What happened at SLI 1999?", cyibot.Evidence{})
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, text)
	assert.Empty(t, model.prompts)

	text, err = s.Synthesize(context.Background(), "q", cyibot.Evidence{Fragments: []cyibot.Fragment{{Text: "   "}}})
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, text)
	assert.Empty(t, model.prompts)
}

func TestSynthesize_ReturnsCompletionVerbatim(t *testing.T) {
	model := &fakeModel{completion: "  Ada (ada@example.org) coordinated SLI in 2023.\n"}
	s, err := New(model)
	require.NoError(t, err)

	evidence := cyibot.Evidence{Records: []cyibot.DirectoryRecord{
		{Name: "Ada", Role: "Coordinator", Program: "SLI", Year: 2023, Email: "ada@example.org"},
	}}
	text, err := s.Synthesize(context.Background(), "Who coordinated SLI in 2023?", evidence)
	require.NoError(t, err)
	assert.Equal(t, model.completion, text)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "name: Ada, role: Coordinator, program: SLI, year: 2023, email: ada@example.org")
	assert.Contains(t, model.prompts[0], "Question: Who coordinated SLI in 2023?")
}

func TestSynthesize_FragmentsJoined(t *testing.T) {
	model := &fakeModel{completion: "ok"}
	s, err := New(model)
	require.NoError(t, err)

	evidence := cyibot.Evidence{Fragments: []cyibot.Fragment{{Text: "first"}, {Text: "second"}}}
	_, err = s.Synthesize(context.Background(), "q", evidence)
	require.NoError(t, err)
	assert.Contains(t, model.prompts[0], "first\n\nsecond")
}

func TestSynthesize_ModelFailure(t *testing.T) {
	s, err := New(&fakeModel{err: errors.New("503")})
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), "q", cyibot.Evidence{Fragments: []cyibot.Fragment{{Text: "x"}}})
	assert.ErrorIs(t, err, cyibot.ErrSynthesis)
}

func TestNew_Template(t *testing.T) {
	model := &fakeModel{completion: "ok"}
	s, err := New(model, WithTemplate("Q={{.Question}} C={{.Context}}"))
	require.NoError(t, err)

	prompt, err := s.Prompt("why", cyibot.Evidence{Fragments: []cyibot.Fragment{{Text: "because"}}})
	require.NoError(t, err)
	assert.Equal(t, "Q=why C=because", prompt)

	_, err = New(model, WithTemplate("{{.Broken"))
	assert.ErrorIs(t, err, cyibot.ErrConfiguration)

	_, err = New(nil)
	assert.ErrorIs(t, err, cyibot.ErrConfiguration)
}
