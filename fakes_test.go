package cyibot

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// scriptedModel replies to Chat from a queue and to Complete with a fixed
// answer. An empty queue makes Chat fail.
type scriptedModel struct {
	mu          sync.Mutex
	replies     []*ModelReply
	chatErr     error
	completion  string
	chatCalls   int
	lastHistory []Message
}

func (m *scriptedModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*ModelReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatCalls++
	m.lastHistory = append([]Message(nil), messages...)
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	if len(m.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *scriptedModel) Complete(ctx context.Context, prompt string) (string, error) {
	return m.completion, nil
}

// recordingRetriever returns fixed fragments and records the filters it saw.
type recordingRetriever struct {
	mu        sync.Mutex
	fragments []Fragment
	err       error
	queries   []string
	filters   []MetadataFilter
	block     chan struct{}
}

func (r *recordingRetriever) Retrieve(ctx context.Context, query string, hints MetadataFilter, topK int) (*RetrievalResult, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.filters = append(r.filters, hints.Clone())
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var kept []Fragment
	for _, f := range r.fragments {
		if hints.Matches(f.Metadata) {
			kept = append(kept, f)
		}
	}
	return &RetrievalResult{Filter: hints, Fragments: kept}, nil
}

func (r *recordingRetriever) lastFilter() MetadataFilter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.filters) == 0 {
		return nil
	}
	return r.filters[len(r.filters)-1]
}

// recordingTranslator returns fixed records and records its inputs.
type recordingTranslator struct {
	mu        sync.Mutex
	records   []DirectoryRecord
	err       error
	questions []string
	hints     []MetadataFilter
}

func (t *recordingTranslator) Translate(ctx context.Context, question string, hints MetadataFilter) (*TranslationResult, error) {
	t.mu.Lock()
	t.questions = append(t.questions, question)
	t.hints = append(t.hints, hints.Clone())
	t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return &TranslationResult{
		Query:     &DirectoryQuery{SQL: `SELECT name FROM "Alumni"`},
		Generated: true,
		Records:   t.records,
	}, nil
}

// echoSynthesizer joins the evidence into the answer.
type echoSynthesizer struct {
	mu        sync.Mutex
	err       error
	questions []string
}

func (s *echoSynthesizer) Synthesize(ctx context.Context, question string, evidence Evidence) (string, error) {
	s.mu.Lock()
	s.questions = append(s.questions, question)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if evidence.Empty() {
		return "nothing found", nil
	}
	return strings.ReplaceAll(evidence.ContextBlock(), "\n", " | "), nil
}

// mapSessions is a SessionStore over a map.
type mapSessions struct {
	mu       sync.Mutex
	convs    map[string]*Conversation
	loadErr  error
	resets   []string
	saves    int
	maxTurns int
}

func newMapSessions() *mapSessions {
	return &mapSessions{convs: map[string]*Conversation{}}
}

func (s *mapSessions) Load(ctx context.Context, sessionID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if c, ok := s.convs[sessionID]; ok {
		return c.Clone(), nil
	}
	return NewConversation(sessionID, s.maxTurns), nil
}

func (s *mapSessions) Save(ctx context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.convs[conv.SessionID] = conv.Clone()
	return nil
}

func (s *mapSessions) Reset(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, sessionID)
	delete(s.convs, sessionID)
	return nil
}

func (s *mapSessions) get(sessionID string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[sessionID]
}

type routerFixture struct {
	model      *scriptedModel
	retriever  *recordingRetriever
	translator *recordingTranslator
	synth      *echoSynthesizer
	sessions   *mapSessions
}

func newFixture() *routerFixture {
	return &routerFixture{
		model:      &scriptedModel{},
		retriever:  &recordingRetriever{},
		translator: &recordingTranslator{},
		synth:      &echoSynthesizer{},
		sessions:   newMapSessions(),
	}
}

func (f *routerFixture) components() Components {
	return Components{
		Schema:      DefaultMetadataSchema(),
		Model:       f.model,
		Retriever:   f.retriever,
		Translator:  f.translator,
		Synthesizer: f.synth,
		Sessions:    f.sessions,
	}
}
