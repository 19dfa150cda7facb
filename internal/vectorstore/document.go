// Package vectorstore holds indexed document fragments and searches them
// by embedding similarity with exact metadata filtering.
package vectorstore

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/cyibot"
	"gopkg.in/yaml.v3"
)

// Document is an indexed fragment. Embedding is computed on insert when
// it is empty.
type Document struct {
	ID        string         `yaml:"id" json:"id"`
	Text      string         `yaml:"text" json:"text"`
	Metadata  map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Embedding []float32      `yaml:"embedding,omitempty" json:"embedding,omitempty"`
}

type seedFile struct {
	Documents []Document `yaml:"documents"`
}

// LoadSeed reads documents from YAML:
//
//	documents:
//	  - id: sli-2024-feedback-1
//	    text: Participants asked for more mentoring time.
//	    metadata: {program: SLI, year: 2024, report_type: feedback_survey}
func LoadSeed(r io.Reader) ([]Document, error) {
	var f seedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode seed documents: %w", err)
	}
	for i, d := range f.Documents {
		if strings.TrimSpace(d.Text) == "" {
			return nil, fmt.Errorf("seed document %d has no text", i+1)
		}
		if d.ID == "" {
			f.Documents[i].ID = fmt.Sprintf("doc-%d", i+1)
		}
	}
	return f.Documents, nil
}

// ValidateMetadata normalizes the metadata of docs against schema so
// filters compare against canonical values. Undeclared keys are kept.
func ValidateMetadata(schema *cyibot.MetadataSchema, docs []Document) error {
	for i := range docs {
		for k, v := range docs[i].Metadata {
			if _, declared := schema.Field(k); !declared {
				continue
			}
			canonical, err := schema.NormalizeValue(k, v)
			if err != nil {
				return fmt.Errorf("document %s: %w", docs[i].ID, err)
			}
			docs[i].Metadata[k] = canonical
		}
	}
	return nil
}

func embedMissing(ctx context.Context, embedder cyibot.Embedder, docs []Document) error {
	for i := range docs {
		if len(docs[i].Embedding) > 0 {
			continue
		}
		vec, err := embedder.Embed(ctx, docs[i].Text)
		if err != nil {
			return fmt.Errorf("embedding document %s: %w", docs[i].ID, err)
		}
		docs[i].Embedding = vec
	}
	return nil
}

type scored struct {
	doc   Document
	score float64
}

// rank keeps candidates matching filter, sorts them by descending score
// and returns the top k as fragments.
func rank(candidates []scored, filter cyibot.MetadataFilter, topK int) []cyibot.Fragment {
	kept := candidates[:0]
	for _, c := range candidates {
		if filter.Matches(c.doc.Metadata) {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].doc.ID < kept[j].doc.ID
	})
	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}

	out := make([]cyibot.Fragment, len(kept))
	for i, c := range kept {
		meta := make(map[string]any, len(c.doc.Metadata))
		for k, v := range c.doc.Metadata {
			meta[k] = v
		}
		out[i] = cyibot.Fragment{
			ID:       c.doc.ID,
			Text:     c.doc.Text,
			Metadata: meta,
			Score:    c.score,
		}
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
