package cache

import (
	"sync"
	"testing"
	"time"

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)

	// touching a makes b the eviction candidate
	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	l.Put("c", 3)

	_, ok = l.Get("b")
	require.False(t, ok)
	_, ok = l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, l.Len())
}

func TestLRU_PutOverwrites(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("stream", []int{0})
	l.Put("stream", []int{0, 1})

	v, ok := l.Get("stream")
	require.True(t, ok)
	require.Equal(t, []int{0, 1}, v)
	require.Equal(t, 1, l.Len())
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Delete("a")
	l.Delete("missing")

	_, ok := l.Get("a")
	require.False(t, ok)
	require.Zero(t, l.Len())
}

func TestLRU_TTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := NewLRU(LRUOpts{Size: 4, Now: clock.Now})
	defer l.Close()

	l.Put("short", 1, WithTTL(time.Minute))
	l.Put("forever", 2)

	clock.Advance(30 * time.Second)
	_, ok := l.Get("short")
	require.True(t, ok)

	// re-putting refreshes the deadline
	l.Put("short", 3, WithTTL(time.Minute))
	clock.Advance(45 * time.Second)
	v, ok := l.Get("short")
	require.True(t, ok)
	require.Equal(t, 3, v)

	clock.Advance(time.Minute)
	_, ok = l.Get("short")
	require.False(t, ok)

	_, ok = l.Get("forever")
	require.True(t, ok)
}

func TestLRU_Close(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Close()
	l.Close()

	_, ok := l.Get("a")
	require.False(t, ok)
	l.Put("b", 2)
	l.Delete("a")
	require.Zero(t, l.Len())
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 16})
	defer l.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				l.Put("key", j)
				l.Get("key")
				if j%50 == 0 {
					l.Delete("key")
				}
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, l.Len(), 1)
}

func TestTypedCache(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	tc := NewTyped[string](l)
	tc.Put("a", "x")
	l.Put("b", 42)

	v, ok := tc.Get("a")
	require.True(t, ok)
	require.Equal(t, "x", v)

	// wrong type reads as a miss
	_, ok = tc.Get("b")
	require.False(t, ok)

	tc.Delete("a")
	_, ok = tc.Get("a")
	require.False(t, ok)
}
