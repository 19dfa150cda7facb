package cyibot

import "time"

// DefaultMaxTurns is the number of turns a conversation keeps when no
// explicit bound is configured.
const DefaultMaxTurns = 6

// Turn is one completed question/answer exchange.
type Turn struct {
	ID       string         `json:"id"`
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Filter   MetadataFilter `json:"filter,omitempty"`
	Tools    []string       `json:"tools,omitempty"`
	At       time.Time      `json:"at"`
}

// Conversation is the bounded per-session memory. It is not safe for
// concurrent use; the router serializes turns within a session.
type Conversation struct {
	SessionID string    `json:"session_id"`
	Turns     []Turn    `json:"turns"`
	MaxTurns  int       `json:"max_turns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates an empty conversation bounded to maxTurns.
// Values <= 0 select DefaultMaxTurns.
func NewConversation(sessionID string, maxTurns int) *Conversation {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Conversation{
		SessionID: sessionID,
		MaxTurns:  maxTurns,
	}
}

// Append records a turn, evicting the oldest turns beyond MaxTurns.
func (c *Conversation) Append(t Turn) {
	c.Turns = append(c.Turns, t)
	limit := c.MaxTurns
	if limit <= 0 {
		limit = DefaultMaxTurns
	}
	if over := len(c.Turns) - limit; over > 0 {
		kept := make([]Turn, limit)
		copy(kept, c.Turns[over:])
		c.Turns = kept
	}
	c.UpdatedAt = t.At
}

// Last returns the most recent turn.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1], true
}

// LastFilter returns the effective filter of the most recent turn, or nil.
func (c *Conversation) LastFilter() MetadataFilter {
	last, ok := c.Last()
	if !ok {
		return nil
	}
	return last.Filter
}

// Messages renders the conversation as alternating user/assistant messages.
func (c *Conversation) Messages() []Message {
	msgs := make([]Message, 0, 2*len(c.Turns))
	for _, t := range c.Turns {
		msgs = append(msgs, Message{Role: RoleUser, Text: t.Question})
		if t.Answer != "" {
			msgs = append(msgs, Message{Role: RoleAssistant, Text: t.Answer})
		}
	}
	return msgs
}

// Clone returns a deep copy so a turn can work on its own snapshot.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		SessionID: c.SessionID,
		MaxTurns:  c.MaxTurns,
		UpdatedAt: c.UpdatedAt,
		Turns:     make([]Turn, len(c.Turns)),
	}
	for i, t := range c.Turns {
		t.Filter = t.Filter.Clone()
		t.Tools = append([]string(nil), t.Tools...)
		out.Turns[i] = t
	}
	return out
}
