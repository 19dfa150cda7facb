package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ZanzyTHEbar/cyibot"
	"go.uber.org/zap"
)

// SQLiteStore persists documents and their embeddings in a SQLite table
// and searches them by brute-force cosine similarity.
type SQLiteStore struct {
	db       *sql.DB
	embedder cyibot.Embedder
	logger   *zap.Logger
}

// NewSQLiteStore creates the fragments table if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB, embedder cyibot.Embedder, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLiteStore{db: db, embedder: embedder, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("initializing fragment schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS fragments (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Add stores docs, replacing rows with the same ID.
func (s *SQLiteStore) Add(ctx context.Context, docs ...Document) error {
	if err := embedMissing(ctx, s.embedder, docs); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO fragments (id, content, metadata, embedding)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		metadataJSON, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		embeddingJSON, err := json.Marshal(d.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Text, string(metadataJSON), embeddingJSON); err != nil {
			return fmt.Errorf("inserting fragment: %w", err)
		}
	}

	return tx.Commit()
}

// Search embeds query and ranks the stored fragments matching filter.
func (s *SQLiteStore) Search(ctx context.Context, query string, filter cyibot.MetadataFilter, topK int) ([]cyibot.Fragment, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM fragments`)
	if err != nil {
		return nil, fmt.Errorf("querying fragments: %w", err)
	}
	defer rows.Close()

	var candidates []scored
	for rows.Next() {
		var (
			d             Document
			metadataJSON  string
			embeddingJSON []byte
		)
		if err := rows.Scan(&d.ID, &d.Text, &metadataJSON, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("scanning fragment: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &d.Metadata); err != nil {
			s.logger.Warn("skipping fragment with corrupt metadata", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		if err := json.Unmarshal(embeddingJSON, &d.Embedding); err != nil {
			s.logger.Warn("skipping fragment with corrupt embedding", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		candidates = append(candidates, scored{doc: d, score: cosineSimilarity(vec, d.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fragments: %w", err)
	}

	return rank(candidates, filter, topK), nil
}
