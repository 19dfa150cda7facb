package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, clock *fakeClock, opts ...Option) *Store {
	t.Helper()
	opts = append(opts, WithClock(clock.Now))
	s := NewStore(opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_LoadMissingReturnsEmpty(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := newTestStore(t, clock, WithMaxTurns(4))

	conv, err := s.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", conv.SessionID)
	assert.Equal(t, 4, conv.MaxTurns)
	assert.Empty(t, conv.Turns)
}

func TestStore_SaveAndLoad(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := newTestStore(t, clock)
	ctx := context.Background()

	conv := cyibot.NewConversation("s1", 3)
	conv.Append(cyibot.Turn{ID: "t1", Question: "q", Answer: "a", Filter: cyibot.MetadataFilter{"program": "SLI"}})
	require.NoError(t, s.Save(ctx, conv))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "SLI", got.LastFilter()["program"])

	// Mutating the loaded copy must not change the stored one.
	got.Turns[0].Filter["program"] = "CCB"
	again, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "SLI", again.LastFilter()["program"])
}

func TestStore_Expiration(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := newTestStore(t, clock, WithTTL(time.Minute))
	ctx := context.Background()

	conv := cyibot.NewConversation("s1", 3)
	conv.Append(cyibot.Turn{ID: "t1", Question: "q"})
	require.NoError(t, s.Save(ctx, conv))

	clock.Advance(2 * time.Minute)

	_, err := s.Get(ctx, "s1")
	assert.Error(t, err)

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.Turns)
}

func TestStore_Reset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := newTestStore(t, clock)
	ctx := context.Background()

	conv := cyibot.NewConversation("s1", 3)
	conv.Append(cyibot.Turn{ID: "t1", Question: "q"})
	require.NoError(t, s.Save(ctx, conv))
	require.NoError(t, s.Reset(ctx, "s1"))
	require.NoError(t, s.Reset(ctx, "unknown"))

	_, err := s.Get(ctx, "s1")
	assert.Error(t, err)
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := newTestStore(t, clock, WithMaxSessions(2))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.Save(ctx, cyibot.NewConversation(id, 3)))
		clock.Advance(time.Second)
	}
	// Touch "a" so "b" becomes the oldest.
	_, err := s.Load(ctx, "a")
	require.NoError(t, err)
	clock.Advance(time.Second)

	require.NoError(t, s.Save(ctx, cyibot.NewConversation("c", 3)))
	assert.Equal(t, 2, s.Len())

	_, err = s.Get(ctx, "b")
	assert.Error(t, err)
	_, err = s.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestStore_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := newTestStore(t, clock, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, cyibot.NewConversation("a", 3)))
	clock.Advance(2 * time.Minute)
	require.NoError(t, s.Save(ctx, cyibot.NewConversation("b", 3)))

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestStore_CancelledContext(t *testing.T) {
	s := NewStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx, "s1")
	assert.Error(t, err)
	assert.Error(t, s.Save(ctx, cyibot.NewConversation("s1", 3)))
}

func TestStore_SaveRequiresSessionID(t *testing.T) {
	s := NewStore()
	defer s.Close()

	err := s.Save(context.Background(), cyibot.NewConversation("", 3))
	assert.ErrorIs(t, err, cyibot.ErrSessionState)
}

func TestStore_Concurrency(t *testing.T) {
	s := NewStore()
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%5)
			conv, err := s.Load(ctx, id)
			if err != nil {
				t.Errorf("Load failed: %v", err)
				return
			}
			conv.Append(cyibot.Turn{ID: fmt.Sprint(i), Question: "q"})
			if err := s.Save(ctx, conv); err != nil {
				t.Errorf("Save failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, s.Len())
}
