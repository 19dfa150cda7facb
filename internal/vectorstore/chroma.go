package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"go.uber.org/zap"
)

// ChromaStore searches a Chroma collection over its REST API. Scores are
// 1 - distance, which is cosine similarity for collections created with
// the cosine space.
type ChromaStore struct {
	baseURL    string
	collection string
	embedder   cyibot.Embedder
	client     *http.Client
	logger     *zap.Logger

	mu           sync.Mutex
	collectionID string
}

// ChromaOption configures a ChromaStore.
type ChromaOption func(*ChromaStore)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) ChromaOption {
	return func(s *ChromaStore) {
		if client != nil {
			s.client = client
		}
	}
}

// WithChromaLogger sets the logger.
func WithChromaLogger(logger *zap.Logger) ChromaOption {
	return func(s *ChromaStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewChromaStore creates a client for collection at baseURL.
func NewChromaStore(baseURL, collection string, embedder cyibot.Embedder, options ...ChromaOption) *ChromaStore {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	s := &ChromaStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		embedder:   embedder,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include"`
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

type chromaAddRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Documents  []string         `json:"documents"`
	Metadatas  []map[string]any `json:"metadatas"`
}

// Search embeds query and asks Chroma for the nearest fragments matching
// filter.
func (s *ChromaStore) Search(ctx context.Context, query string, filter cyibot.MetadataFilter, topK int) ([]cyibot.Fragment, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	id, err := s.resolveCollection(ctx, false)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{vec},
		NResults:        topK,
		Where:           whereClause(filter),
		Include:         []string{"documents", "metadatas", "distances"},
	}
	var resp chromaQueryResponse
	if err := s.do(ctx, http.MethodPost, "/api/v1/collections/"+url.PathEscape(id)+"/query", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	candidates := make([]scored, 0, len(resp.IDs[0]))
	for i, docID := range resp.IDs[0] {
		d := Document{ID: docID}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			d.Text = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			d.Metadata = resp.Metadatas[0][i]
		}
		score := 0.0
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			score = 1 - resp.Distances[0][i]
		}
		candidates = append(candidates, scored{doc: d, score: score})
	}
	return rank(candidates, filter, topK), nil
}

// Add embeds and uploads docs, creating the collection if needed.
func (s *ChromaStore) Add(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := embedMissing(ctx, s.embedder, docs); err != nil {
		return err
	}
	id, err := s.resolveCollection(ctx, true)
	if err != nil {
		return err
	}

	req := chromaAddRequest{}
	for _, d := range docs {
		req.IDs = append(req.IDs, d.ID)
		req.Embeddings = append(req.Embeddings, d.Embedding)
		req.Documents = append(req.Documents, d.Text)
		meta := d.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		req.Metadatas = append(req.Metadatas, meta)
	}
	return s.do(ctx, http.MethodPost, "/api/v1/collections/"+url.PathEscape(id)+"/add", req, nil)
}

// Heartbeat checks that Chroma is reachable.
func (s *ChromaStore) Heartbeat(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil)
}

func (s *ChromaStore) resolveCollection(ctx context.Context, create bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collectionID != "" {
		return s.collectionID, nil
	}

	var c chromaCollection
	var err error
	if create {
		body := map[string]any{
			"name":          s.collection,
			"get_or_create": true,
			"metadata":      map[string]any{"hnsw:space": "cosine"},
		}
		err = s.do(ctx, http.MethodPost, "/api/v1/collections", body, &c)
	} else {
		err = s.do(ctx, http.MethodGet, "/api/v1/collections/"+url.PathEscape(s.collection), nil, &c)
	}
	if err != nil {
		return "", fmt.Errorf("resolving collection %s: %w", s.collection, err)
	}
	if c.ID == "" {
		return "", fmt.Errorf("collection %s has no id", s.collection)
	}
	s.collectionID = c.ID
	s.logger.Debug("chroma collection resolved", zap.String("collection", s.collection), zap.String("id", c.ID))
	return c.ID, nil
}

func (s *ChromaStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling chroma: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chroma returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// whereClause renders filter in Chroma's where syntax.
func whereClause(filter cyibot.MetadataFilter) map[string]any {
	keys := filter.Keys()
	switch len(keys) {
	case 0:
		return nil
	case 1:
		return map[string]any{keys[0]: map[string]any{"$eq": filter[keys[0]]}}
	}
	clauses := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, map[string]any{k: map[string]any{"$eq": filter[k]}})
	}
	return map[string]any{"$and": clauses}
}
