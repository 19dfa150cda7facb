// Package synth writes the final answer of a turn from the evidence the
// tools gathered.
package synth

import (
	"context"
	"strings"
	"text/template"

	"github.com/ZanzyTHEbar/cyibot"
	"go.uber.org/zap"
)

// NoInformationAnswer is returned without calling the model when the
// tools found nothing.
const NoInformationAnswer = "I couldn't find any relevant information about that in CYI's documents or directory. " +
	"Try naming the program or year you're interested in."

// DefaultTemplate is the synthesis prompt. It receives .Context and .Question.
const DefaultTemplate = `You are CYI's internal assistant. Answer the question using only the context below.
Be concise. When the context lists people, include their names and emails exactly as given.
If the context does not contain the answer, say so plainly.

Context:
{{.Context}}

Question: {{.Question}}
Answer:`

// Synthesizer implements cyibot.Synthesizer.
type Synthesizer struct {
	model    cyibot.LanguageModel
	template *template.Template
	logger   *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer) error

// WithTemplate replaces the prompt template.
func WithTemplate(text string) Option {
	return func(s *Synthesizer) error {
		tmpl, err := template.New("synthesis").Option("missingkey=error").Parse(text)
		if err != nil {
			return cyibot.NewConfigurationError("invalid synthesis template", err)
		}
		s.template = tmpl
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synthesizer) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// New creates a synthesizer around model.
func New(model cyibot.LanguageModel, options ...Option) (*Synthesizer, error) {
	if model == nil {
		return nil, cyibot.NewConfigurationError("synthesizer requires a language model", nil)
	}
	s := &Synthesizer{
		model:    model,
		template: template.Must(template.New("synthesis").Parse(DefaultTemplate)),
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Prompt renders the synthesis prompt for question and evidence.
func (s *Synthesizer) Prompt(question string, evidence cyibot.Evidence) (string, error) {
	var b strings.Builder
	err := s.template.Execute(&b, struct {
		Context  string
		Question string
	}{
		Context:  evidence.ContextBlock(),
		Question: question,
	})
	if err != nil {
		return "", cyibot.NewSynthesisError(err)
	}
	return b.String(), nil
}

// Synthesize returns the model's completion verbatim. Empty evidence
// yields NoInformationAnswer without a model call.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, evidence cyibot.Evidence) (string, error) {
	if strings.TrimSpace(evidence.ContextBlock()) == "" {
		s.logger.Debug("no evidence, skipping model call")
		return NoInformationAnswer, nil
	}

	prompt, err := s.Prompt(question, evidence)
	if err != nil {
		return "", err
	}

	text, err := s.model.Complete(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", cyibot.NewSynthesisError(err)
	}
	s.logger.Debug("answer synthesized",
		zap.Int("fragments", len(evidence.Fragments)),
		zap.Int("records", len(evidence.Records)),
		zap.Int("prompt_chars", len(prompt)))
	return text, nil
}
