// Package cyibot answers questions about an organization's programs from
// two sources: an archive of documents searched by meaning and a contact
// directory queried with structured, read-only queries. The Router decides
// per question which source to use, keeps a short memory per conversation
// and carries program and year forward between turns.
package cyibot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/cyibot/internal/eventbus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Components holds the collaborators the router drives.
type Components struct {
	Schema      *MetadataSchema
	Model       LanguageModel
	Retriever   SemanticRetriever
	Translator  QueryTranslator
	Synthesizer Synthesizer
	Sessions    SessionStore
}

// Config holds the router's tunables.
type Config struct {
	// TopK is the number of fragments semantic_search asks for when the
	// invocation does not say.
	TopK int
	// MaxTurns bounds each conversation's memory.
	MaxTurns int
	// CallTimeout bounds every collaborator call. Zero disables the bound.
	CallTimeout time.Duration
	// MaxToolCalls caps the data tools run in one turn.
	MaxToolCalls int
}

// DefaultConfig returns the router's defaults.
func DefaultConfig() Config {
	return Config{
		TopK:         6,
		MaxTurns:     DefaultMaxTurns,
		CallTimeout:  30 * time.Second,
		MaxToolCalls: 3,
	}
}

// Router is the conversational agent: it resolves filters, chooses tools,
// runs them and synthesizes answers, one turn at a time per session.
type Router struct {
	components Components
	config     Config
	tools      *ToolRegistry
	machine    *StateMachine
	eventBus   eventbus.EventBus
	logger     *zap.Logger
	locks      *sessionLocks
	newID      func() string
	now        func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithConfig replaces the router configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(r *Router) {
		def := DefaultConfig()
		if cfg.TopK <= 0 {
			cfg.TopK = def.TopK
		}
		if cfg.MaxTurns <= 0 {
			cfg.MaxTurns = def.MaxTurns
		}
		if cfg.MaxToolCalls <= 0 {
			cfg.MaxToolCalls = def.MaxToolCalls
		}
		r.config = cfg
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter validates the components and builds a router.
func NewRouter(components Components, options ...Option) (*Router, error) {
	switch {
	case components.Schema == nil:
		return nil, NewConfigurationError("router requires a metadata schema", nil)
	case components.Model == nil:
		return nil, NewConfigurationError("router requires a language model", nil)
	case components.Retriever == nil:
		return nil, NewConfigurationError("router requires a semantic retriever", nil)
	case components.Translator == nil:
		return nil, NewConfigurationError("router requires a query translator", nil)
	case components.Synthesizer == nil:
		return nil, NewConfigurationError("router requires a synthesizer", nil)
	case components.Sessions == nil:
		return nil, NewConfigurationError("router requires a session store", nil)
	}

	r := &Router{
		components: components,
		config:     DefaultConfig(),
		logger:     zap.NewNop(),
		locks:      newSessionLocks(),
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}
	for _, option := range options {
		option(r)
	}

	tools, err := NewToolRegistry(r.builtinTools()...)
	if err != nil {
		return nil, err
	}
	r.tools = tools
	r.machine = r.createStateMachine()
	return r, nil
}

// Tools returns the specs of the tools offered to the language model.
func (r *Router) Tools() []ToolSpec {
	return r.tools.Specs()
}

// Ask answers one question within a session. The returned answer always
// carries text fit for the user; when the turn failed, the error is
// returned alongside it. Failed turns are not remembered.
func (r *Router) Ask(ctx context.Context, sessionID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	turnID := r.newID()
	if question == "" {
		return &Answer{
			TurnID:    turnID,
			SessionID: sessionID,
			Text:      "Please ask me a question about CYI's programs or people.",
			State:     StateDone,
			Routing:   RoutingDirect,
		}, nil
	}

	unlock := r.locks.lock(sessionID)
	defer unlock()

	conv := r.loadConversation(ctx, sessionID)

	tc := NewTurnContext(turnID, sessionID, question)
	tc.History = conv.Messages()
	tc.Previous = conv.LastFilter()
	if last, ok := conv.Last(); ok {
		tc.PreviousQuestion = last.Question
		tc.PreviousTools = append([]string(nil), last.Tools...)
	}

	log := r.logger.With(zap.String("session_id", sessionID), zap.String("turn_id", turnID))
	log.Debug("turn started", zap.String("question", question))

	text, err := r.machine.Execute(ctx, tc)

	answer := &Answer{
		TurnID:    turnID,
		SessionID: sessionID,
		Text:      text,
		State:     tc.CurrentState,
		Filter:    tc.Filter.Clone(),
		Tools:     append([]string(nil), tc.Executed...),
		Routing:   tc.Routing,
		Duration:  tc.Duration(),
	}

	if tc.CurrentState != StateDone {
		r.publish(ctx, r.eventBus, eventbus.EventTurnFailed, tc.ErrorStage, "Router.Ask", map[string]interface{}{
			"session_id": sessionID,
			"turn_id":    turnID,
			"error":      fmt.Sprint(err),
		})
		log.Warn("turn failed",
			zap.String("stage", tc.ErrorStage),
			zap.Duration("duration", answer.Duration),
			zap.Error(err),
		)
		return answer, err
	}

	conv.Append(Turn{
		ID:       turnID,
		Question: question,
		Answer:   text,
		Filter:   tc.Filter.Clone(),
		Tools:    answer.Tools,
		At:       r.now(),
	})
	if saveErr := r.components.Sessions.Save(ctx, conv); saveErr != nil {
		log.Warn("failed to save conversation", zap.Error(saveErr))
	}

	r.publish(ctx, r.eventBus, eventbus.EventTurnCompleted, answer.Tools, "Router.Ask", map[string]interface{}{
		"session_id": sessionID,
		"turn_id":    turnID,
		"routing":    string(tc.Routing),
		"filter":     tc.Filter.String(),
	})
	log.Info("turn completed",
		zap.String("routing", string(tc.Routing)),
		zap.Strings("tools", answer.Tools),
		zap.String("filter", tc.Filter.String()),
		zap.Duration("duration", answer.Duration),
	)
	return answer, nil
}

// Reset forgets a session's conversation.
func (r *Router) Reset(ctx context.Context, sessionID string) error {
	unlock := r.locks.lock(sessionID)
	defer unlock()
	return r.components.Sessions.Reset(ctx, sessionID)
}

// loadConversation returns the session's conversation, resetting the
// session when its stored state cannot be trusted. Only the affected
// session is reset; the turn proceeds with an empty conversation.
func (r *Router) loadConversation(ctx context.Context, sessionID string) *Conversation {
	conv, err := r.components.Sessions.Load(ctx, sessionID)
	if err != nil && ctx.Err() != nil {
		return NewConversation(sessionID, r.config.MaxTurns)
	}
	if err == nil && conv != nil {
		if conv.MaxTurns <= 0 || conv.MaxTurns != r.config.MaxTurns {
			conv.MaxTurns = r.config.MaxTurns
		}
		normalized, verr := r.components.Schema.Normalize(conv.LastFilter())
		if verr == nil {
			if last, ok := conv.Last(); ok {
				last.Filter = normalized
				conv.Turns[len(conv.Turns)-1] = last
			}
			return conv
		}
		err = verr
	}
	if err == nil {
		err = NewRoutingError("session store returned no conversation", nil)
	}

	stateErr := NewSessionStateError(sessionID, err)
	r.logger.Warn("resetting session", zap.String("session_id", sessionID), zap.Error(stateErr))
	if resetErr := r.components.Sessions.Reset(ctx, sessionID); resetErr != nil {
		r.logger.Warn("failed to reset session", zap.String("session_id", sessionID), zap.Error(resetErr))
	}
	r.publish(ctx, r.eventBus, eventbus.EventSessionReset, stateErr.Error(), "Router.Session", map[string]interface{}{
		"session_id": sessionID,
	})
	return NewConversation(sessionID, r.config.MaxTurns)
}

// callContext bounds a single collaborator call.
func (r *Router) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.config.CallTimeout)
}

func (r *Router) publish(ctx context.Context, eb eventbus.EventBus, typ eventbus.EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if eb == nil {
		return
	}
	if err := eb.Publish(ctx, eventbus.NewEvent(typ, payload, source, metadata)); err != nil {
		r.logger.Debug("event not published", zap.String("event_type", string(typ)), zap.Error(err))
	}
}

// sessionLocks serializes turns per session. Entries are dropped once no
// turn holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (s *sessionLocks) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
