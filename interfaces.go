package cyibot

import "context"

// Collaborators. Implementations live in internal/ and are injected at
// construction time.

// VectorSearcher performs similarity search over indexed document fragments.
// Only fragments whose metadata matches every field of filter are eligible.
type VectorSearcher interface {
	Search(ctx context.Context, query string, filter MetadataFilter, topK int) ([]Fragment, error)
}

// Embedder turns text into a vector embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DirectoryStore executes read-only queries against the contact directory.
type DirectoryStore interface {
	ExecuteRead(ctx context.Context, query *DirectoryQuery) ([]DirectoryRecord, error)
}

// LanguageModel is the text generation collaborator.
type LanguageModel interface {
	// Complete returns the model's completion for a single prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Chat asks the model to answer the last message of a conversation,
	// choosing among tools when it needs more information.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*ModelReply, error)
}

// SessionStore keeps conversations between turns.
type SessionStore interface {
	// Load returns the session's conversation, or an empty one if none exists.
	Load(ctx context.Context, sessionID string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
	Reset(ctx context.Context, sessionID string) error
}

// Components invoked by the router's tools.

// SemanticRetriever finds document fragments relevant to a query.
type SemanticRetriever interface {
	// Retrieve returns up to topK fragments; topK <= 0 selects the
	// retriever's default. Hints take precedence over filters inferred
	// from the query text.
	Retrieve(ctx context.Context, query string, hints MetadataFilter, topK int) (*RetrievalResult, error)
}

// QueryTranslator answers directory questions by translating them into
// read-only structured queries and executing them.
type QueryTranslator interface {
	Translate(ctx context.Context, question string, hints MetadataFilter) (*TranslationResult, error)
}

// Synthesizer produces the final answer text from gathered evidence.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, evidence Evidence) (string, error)
}
