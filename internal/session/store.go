// Package session keeps conversations in memory with a time-to-live and a
// bound on the number of live sessions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"go.uber.org/zap"
)

const (
	defaultTTL         = 2 * time.Hour
	defaultMaxSessions = 10000
	defaultCleanup     = 10 * time.Minute
)

// Store is a thread-safe in-memory cyibot.SessionStore. Conversations are
// copied on the way in and out so callers never share state with the store.
type Store struct {
	store       map[string]entry
	mutex       sync.RWMutex
	ttl         time.Duration
	maxSessions int
	maxTurns    int
	logger      *zap.Logger
	now         func() time.Time
	done        chan struct{}
	closeOnce   sync.Once
}

type entry struct {
	conv       *cyibot.Conversation
	expiration int64
	touched    int64
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long an idle conversation is kept.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxSessions bounds the number of live conversations. The least
// recently used conversation is evicted first.
func WithMaxSessions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithMaxTurns sets the turn bound for newly created conversations.
func WithMaxTurns(n int) Option {
	return func(s *Store) {
		s.maxTurns = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store and starts its background cleanup. Call Close to
// stop it.
func NewStore(options ...Option) *Store {
	s := &Store{
		store:       make(map[string]entry),
		ttl:         defaultTTL,
		maxSessions: defaultMaxSessions,
		maxTurns:    cyibot.DefaultMaxTurns,
		logger:      zap.NewNop(),
		now:         time.Now,
		done:        make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	go s.cleanupLoop(defaultCleanup)
	return s
}

// Get returns a copy of the stored conversation. Missing and expired
// sessions yield a not-found error.
func (s *Store) Get(ctx context.Context, sessionID string) (*cyibot.Conversation, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	e, found := s.store[sessionID]
	s.mutex.RUnlock()

	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("session not found", nil))
	}
	if s.now().UnixNano() > e.expiration {
		s.logger.Debug("session expired", zap.String("session_id", sessionID))
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("session expired", nil))
	}
	return e.conv.Clone(), nil
}

// Load returns the session's conversation or a new empty one.
func (s *Store) Load(ctx context.Context, sessionID string) (*cyibot.Conversation, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now().UnixNano()
	e, found := s.store[sessionID]
	if !found || now > e.expiration {
		if found {
			delete(s.store, sessionID)
		}
		return cyibot.NewConversation(sessionID, s.maxTurns), nil
	}
	e.touched = now
	s.store[sessionID] = e
	return e.conv.Clone(), nil
}

// Save stores a copy of conv and refreshes its expiration.
func (s *Store) Save(ctx context.Context, conv *cyibot.Conversation) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	if conv == nil || conv.SessionID == "" {
		return cyibot.NewSessionStateError("", errbuilder.GenericErr("conversation has no session id", nil))
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	if _, exists := s.store[conv.SessionID]; !exists && len(s.store) >= s.maxSessions {
		s.evictOldestLocked()
	}
	s.store[conv.SessionID] = entry{
		conv:       conv.Clone(),
		expiration: now.Add(s.ttl).UnixNano(),
		touched:    now.UnixNano(),
	}
	s.logger.Debug("session saved",
		zap.String("session_id", conv.SessionID),
		zap.Int("turns", len(conv.Turns)))
	return nil
}

// Reset forgets a session. Resetting an unknown session is not an error.
func (s *Store) Reset(ctx context.Context, sessionID string) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	s.mutex.Lock()
	delete(s.store, sessionID)
	s.mutex.Unlock()
	s.logger.Debug("session reset", zap.String("session_id", sessionID))
	return nil
}

// Len returns the number of stored sessions, expired ones included until
// the next cleanup.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.store)
}

// Close stops the background cleanup.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Store) evictOldestLocked() {
	var (
		oldestID string
		oldest   int64
		first    = true
	)
	for id, e := range s.store {
		if first || e.touched < oldest {
			oldestID, oldest, first = id, e.touched, false
		}
	}
	if !first {
		delete(s.store, oldestID)
		s.logger.Debug("session evicted", zap.String("session_id", oldestID))
	}
}

// Sweep removes expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now().UnixNano()
	removed := 0
	for id, e := range s.store {
		if now > e.expiration {
			delete(s.store, id)
			removed++
		}
	}
	return removed
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired sessions removed", zap.Int("count", n))
			}
		}
	}
}
