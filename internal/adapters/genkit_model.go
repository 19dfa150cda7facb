// Package adapters connects the bot's collaborator interfaces to Genkit.
package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"go.uber.org/zap"
)

type generateFunc func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)

// GenkitModel implements cyibot.LanguageModel with a Genkit model.
type GenkitModel struct {
	generate    generateFunc
	modelName   string
	temperature float64
	logger      *zap.Logger
}

// ModelOption configures a GenkitModel.
type ModelOption func(*GenkitModel)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ModelOption {
	return func(m *GenkitModel) {
		m.temperature = t
	}
}

// WithModelLogger sets the logger.
func WithModelLogger(logger *zap.Logger) ModelOption {
	return func(m *GenkitModel) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewGenkitModel creates a language model backed by modelName, for
// example "googleai/gemini-2.5-flash".
func NewGenkitModel(g *genkit.Genkit, modelName string, options ...ModelOption) *GenkitModel {
	return newGenkitModel(func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, g, opts...)
	}, modelName, options...)
}

func newGenkitModel(generate generateFunc, modelName string, options ...ModelOption) *GenkitModel {
	m := &GenkitModel{
		generate:  generate,
		modelName: modelName,
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Complete returns the model's text for prompt.
func (m *GenkitModel) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := m.generate(ctx,
		ai.WithModelName(m.modelName),
		ai.WithConfig(&ai.GenerationCommonConfig{Temperature: m.temperature}),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generate with %s: %w", m.modelName, err)
	}
	m.logger.Debug("model completion",
		zap.String("model", m.modelName),
		zap.Duration("duration", time.Since(start)))
	return resp.Text(), nil
}

// Chat sends the conversation and asks Genkit for a cyibot.ModelReply as
// structured output. The tool specs reach the model through the routing
// system message.
func (m *GenkitModel) Chat(ctx context.Context, messages []cyibot.Message, tools []cyibot.ToolSpec) (*cyibot.ModelReply, error) {
	msgs := make([]*ai.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case cyibot.RoleSystem:
			msgs = append(msgs, ai.NewSystemTextMessage(msg.Text))
		case cyibot.RoleAssistant:
			msgs = append(msgs, ai.NewModelTextMessage(msg.Text))
		default:
			msgs = append(msgs, ai.NewUserTextMessage(msg.Text))
		}
	}

	start := time.Now()
	resp, err := m.generate(ctx,
		ai.WithModelName(m.modelName),
		ai.WithConfig(&ai.GenerationCommonConfig{Temperature: m.temperature}),
		ai.WithMessages(msgs...),
		ai.WithOutputType(cyibot.ModelReply{}),
	)
	if err != nil {
		return nil, fmt.Errorf("chat with %s: %w", m.modelName, err)
	}
	m.logger.Debug("model routing reply",
		zap.String("model", m.modelName),
		zap.Int("tools_offered", len(tools)),
		zap.Duration("duration", time.Since(start)))

	if strings.TrimSpace(resp.Text()) == "" {
		return nil, cyibot.NewRoutingError("model returned an empty routing reply", nil)
	}
	var reply cyibot.ModelReply
	if err := resp.Output(&reply); err != nil {
		m.logger.Debug("routing reply does not match the output schema", zap.String("reply", truncate(resp.Text(), 200)))
		return nil, cyibot.NewRoutingError("model returned a malformed routing reply", err)
	}
	reply.Normalize()
	return &reply, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
