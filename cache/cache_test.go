package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时钟
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time {
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func newWithClock(cfg Config) (*Cache[string, int], *fakeClock) {
	c := New[string, int](cfg)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c.now = clock.now
	return c, clock
}

func TestCache_GetSetDelete(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 10, TTL: time.Minute})

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	_, ok = c.Get("a")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
	assert.Equal(t, 0, s.Size)
}

func TestCache_TTLCountsFromWrite(t *testing.T) {
	c, clock := newWithClock(Config{TTL: 100 * time.Millisecond})

	c.Set("k", 1)
	clock.advance(60 * time.Millisecond)
	_, ok := c.Get("k")
	require.True(t, ok)

	// 读取不续期
	clock.advance(60 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Expires)
	assert.Equal(t, 0, c.Len())

	// 覆盖写入重新计时
	c.Set("k", 2)
	clock.advance(90 * time.Millisecond)
	c.Set("k", 3)
	clock.advance(90 * time.Millisecond)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCache_NoTTL(t *testing.T) {
	c, clock := newWithClock(Config{})
	c.Set("k", 1)
	clock.advance(24 * time.Hour)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](Config{MaxSize: 2})
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Len())
}

func TestCache_Concurrent(t *testing.T) {
	c := New[string, int](Config{MaxSize: 50, TTL: time.Minute})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%80)
				c.Set(key, i)
				_, _ = c.Get(key)
				if i%17 == 0 {
					c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
	assert.Contains(t, c.String(), "Cache[unnamed]")
}
