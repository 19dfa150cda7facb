// Package retriever finds document fragments by meaning, restricted to the
// metadata the question names.
package retriever

import (
	"context"
	"sort"

	"github.com/ZanzyTHEbar/cyibot"
	"go.uber.org/zap"
)

// DefaultTopK is the number of fragments returned when neither the caller
// nor the configuration says otherwise.
const DefaultTopK = 6

// Retriever implements cyibot.SemanticRetriever over a vector searcher.
type Retriever struct {
	searcher cyibot.VectorSearcher
	schema   *cyibot.MetadataSchema
	topK     int
	minScore float64
	logger   *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets the default number of fragments.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithMinScore drops fragments scoring below min.
func WithMinScore(min float64) Option {
	return func(r *Retriever) {
		r.minScore = min
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a retriever. Both searcher and schema are required.
func New(searcher cyibot.VectorSearcher, schema *cyibot.MetadataSchema, options ...Option) (*Retriever, error) {
	if searcher == nil {
		return nil, cyibot.NewConfigurationError("retriever requires a vector searcher", nil)
	}
	if schema == nil {
		return nil, cyibot.NewConfigurationError("retriever requires a metadata schema", nil)
	}
	r := &Retriever{
		searcher: searcher,
		schema:   schema,
		topK:     DefaultTopK,
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(r)
	}
	return r, nil
}

// Retrieve returns up to topK fragments sorted by descending score.
//
// A non-nil hints map is used as the filter, even when empty; a nil map
// makes the retriever infer the filter from the query. Fields that fail
// schema validation are dropped one by one, so a bad value widens the
// search instead of failing it.
func (r *Retriever) Retrieve(ctx context.Context, query string, hints cyibot.MetadataFilter, topK int) (*cyibot.RetrievalResult, error) {
	if topK <= 0 {
		topK = r.topK
	}

	candidate := hints
	if candidate == nil {
		candidate = r.schema.Infer(query)
	}
	filter := r.sanitize(candidate)

	fragments, err := r.searcher.Search(ctx, query, filter.Clone(), topK)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cyibot.NewRetrievalError(err)
	}

	kept := make([]cyibot.Fragment, 0, len(fragments))
	for _, f := range fragments {
		if !filter.Matches(f.Metadata) {
			r.logger.Warn("dropping fragment outside filter",
				zap.String("fragment_id", f.ID),
				zap.String("filter", filter.String()))
			continue
		}
		if f.Score < r.minScore {
			continue
		}
		kept = append(kept, f)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > topK {
		kept = kept[:topK]
	}

	r.logger.Debug("retrieved fragments",
		zap.String("filter", filter.String()),
		zap.Int("candidates", len(fragments)),
		zap.Int("returned", len(kept)))

	return &cyibot.RetrievalResult{Filter: filter, Fragments: kept}, nil
}

func (r *Retriever) sanitize(candidate cyibot.MetadataFilter) cyibot.MetadataFilter {
	out := cyibot.MetadataFilter{}
	for _, k := range candidate.Keys() {
		v, err := r.schema.NormalizeValue(k, candidate[k])
		if err != nil {
			r.logger.Info("ignoring invalid filter field", zap.String("field", k), zap.Error(err))
			continue
		}
		out[k] = v
	}
	return out
}
