// Package cache memoizes embeddings so repeated questions and re-seeded
// documents do not call the embedding model again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"go.uber.org/zap"
)

const (
	defaultTTL        = 24 * time.Hour
	defaultMaxEntries = 5000
	defaultCleanup    = 10 * time.Minute
)

// EmbeddingCache is a thread-safe, TTL-bounded cyibot.Embedder that
// delegates misses to another embedder.
type EmbeddingCache struct {
	next       cyibot.Embedder
	store      map[string]cacheItem
	mutex      sync.RWMutex
	ttl        time.Duration
	maxEntries int
	file       *fileStore
	logger     *zap.Logger
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

type cacheItem struct {
	Vector     []float32 `json:"vector"`
	Expiration int64     `json:"expiration"`
}

// Option configures an EmbeddingCache.
type Option func(*EmbeddingCache)

// WithTTL sets how long an embedding stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(c *EmbeddingCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the number of cached embeddings.
func WithMaxEntries(n int) Option {
	return func(c *EmbeddingCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithFile persists the cache to path on Close and reloads it on start.
func WithFile(path string) Option {
	return func(c *EmbeddingCache) {
		if path != "" {
			c.file = &fileStore{path: path}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *EmbeddingCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for expiration.
func WithClock(now func() time.Time) Option {
	return func(c *EmbeddingCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewEmbeddingCache wraps next. A persisted cache file that cannot be read
// is reported; a missing one is not.
func NewEmbeddingCache(next cyibot.Embedder, options ...Option) (*EmbeddingCache, error) {
	if next == nil {
		return nil, cyibot.NewConfigurationError("embedding cache requires an embedder", nil)
	}
	c := &EmbeddingCache{
		next:       next,
		store:      make(map[string]cacheItem),
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
		logger:     zap.NewNop(),
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, option := range options {
		option(c)
	}

	if c.file != nil {
		items, err := c.file.load()
		if err != nil {
			return nil, cyibot.NewConfigurationError("cannot load embedding cache "+c.file.path, err)
		}
		now := c.now().UnixNano()
		for k, item := range items {
			if now <= item.Expiration && len(c.store) < c.maxEntries {
				c.store[k] = item
			}
		}
		c.logger.Info("embedding cache loaded", zap.String("path", c.file.path), zap.Int("entries", len(c.store)))
	}

	go c.cleanupLoop(defaultCleanup)
	return c, nil
}

// Embed returns the cached embedding of text, computing it on a miss.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, err := c.Get(ctx, text); err == nil {
		c.hits.Add(1)
		return vec, nil
	} else if ctx.Err() != nil {
		return nil, err
	}

	c.misses.Add(1)
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, text, vec); err != nil {
		c.logger.Debug("embedding not cached", zap.Error(err))
	}
	return vec, nil
}

// Get returns a copy of the cached embedding of text.
func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	item, found := c.store[key(text)]
	c.mutex.RUnlock()

	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("embedding not cached", nil))
	}
	if c.now().UnixNano() > item.Expiration {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cached embedding expired", nil))
	}
	return append([]float32(nil), item.Vector...), nil
}

// Set caches a copy of vec as the embedding of text, evicting the entry
// closest to expiry when the cache is full.
func (c *EmbeddingCache) Set(ctx context.Context, text string, vec []float32) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	if len(vec) == 0 {
		return errbuilder.GenericErr("refusing to cache an empty embedding", nil)
	}

	k := key(text)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, exists := c.store[k]; !exists && len(c.store) >= c.maxEntries {
		c.evictLocked()
	}
	c.store[k] = cacheItem{
		Vector:     append([]float32(nil), vec...),
		Expiration: c.now().Add(c.ttl).UnixNano(),
	}
	return nil
}

// Len returns the number of cached embeddings, expired ones included
// until the next cleanup.
func (c *EmbeddingCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.store)
}

// Stats returns the hit and miss counts of Embed.
func (c *EmbeddingCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close stops the background cleanup and writes the cache file, if any.
func (c *EmbeddingCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.file == nil {
			return
		}
		c.mutex.RLock()
		snapshot := make(map[string]cacheItem, len(c.store))
		for k, v := range c.store {
			snapshot[k] = v
		}
		c.mutex.RUnlock()
		if err = c.file.save(snapshot); err == nil {
			c.logger.Info("embedding cache saved", zap.String("path", c.file.path), zap.Int("entries", len(snapshot)))
		}
	})
	return err
}

// Sweep removes expired entries and returns how many were removed.
func (c *EmbeddingCache) Sweep() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.now().UnixNano()
	removed := 0
	for k, item := range c.store {
		if now > item.Expiration {
			delete(c.store, k)
			removed++
		}
	}
	return removed
}

func (c *EmbeddingCache) evictLocked() {
	var (
		oldestKey string
		oldest    int64
	)
	for k, item := range c.store {
		if oldestKey == "" || item.Expiration < oldest {
			oldestKey, oldest = k, item.Expiration
		}
	}
	delete(c.store, oldestKey)
}

func (c *EmbeddingCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("expired embeddings removed", zap.Int("count", n))
			}
		case <-c.done:
			return
		}
	}
}

// key hashes the whitespace-normalized text.
func key(text string) string {
	sum := sha256.Sum256([]byte(strings.Join(strings.Fields(text), " ")))
	return hex.EncodeToString(sum[:])
}
