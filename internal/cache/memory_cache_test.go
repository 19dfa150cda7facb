package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestEmbeddingCache_Embed(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewEmbeddingCache(inner)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	first, err := c.Embed(ctx, "What was the feedback from SLI 2024?")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "  What was the feedback   from SLI 2024? ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	second[0] = -1
	again, err := c.Get(ctx, "What was the feedback from SLI 2024?")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestEmbeddingCache_Expiration(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	inner := &countingEmbedder{}
	c, err := NewEmbeddingCache(inner, WithTTL(time.Minute), WithClock(clk.Now))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Embed(ctx, "budget")
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	_, err = c.Get(ctx, "budget")
	assert.Error(t, err)
	assert.Equal(t, 1, c.Sweep())
	assert.Zero(t, c.Len())

	_, err = c.Embed(ctx, "budget")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestEmbeddingCache_EvictsWhenFull(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, err := NewEmbeddingCache(&countingEmbedder{}, WithMaxEntries(2), WithClock(clk.Now))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		_, err := c.Embed(ctx, text)
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	assert.Equal(t, 2, c.Len())
	_, err = c.Get(ctx, "a")
	assert.Error(t, err)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestEmbeddingCache_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("quota exceeded")}
	c, err := NewEmbeddingCache(inner)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.Zero(t, c.Len())
}

func TestEmbeddingCache_CancelledContext(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewEmbeddingCache(inner)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Embed(ctx, "x")
	assert.Error(t, err)
	assert.Zero(t, inner.calls)
}

func TestEmbeddingCache_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")
	ctx := context.Background()

	inner := &countingEmbedder{}
	c, err := NewEmbeddingCache(inner, WithFile(path))
	require.NoError(t, err)
	want, err := c.Embed(ctx, "mentoring")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	reloaded, err := NewEmbeddingCache(inner, WithFile(path))
	require.NoError(t, err)
	defer reloaded.Close()
	got, err := reloaded.Embed(ctx, "mentoring")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, inner.calls)
}

func TestEmbeddingCache_InvalidInputs(t *testing.T) {
	_, err := NewEmbeddingCache(nil)
	assert.ErrorIs(t, err, cyibot.ErrConfiguration)

	path := filepath.Join(t.TempDir(), "embeddings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = NewEmbeddingCache(&countingEmbedder{}, WithFile(path))
	assert.ErrorIs(t, err, cyibot.ErrConfiguration)
}

func TestEmbeddingCache_Concurrency(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewEmbeddingCache(inner)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "shared question")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}
