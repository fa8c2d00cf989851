package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gravel/resource"
)

func page(fill byte) []byte {
	data := make([]byte, PageSize)
	for i := range data {
		data[i] = fill
	}
	return data
}

func TestPageCache_GetAfterAdd(t *testing.T) {
	c := NewPageCache(16*PageSize, nil)

	key := Key{FileID: 1, Off: 0}
	p := c.AddPinned(key, page(7))
	require.NotNil(t, p)
	c.Release(p)

	got, ok := c.GetPinned(key)
	require.True(t, ok)
	assert.Equal(t, byte(7), got.Data()[0])
	c.Release(got)

	_, ok = c.GetPinned(Key{FileID: 1, Off: PageSize})
	assert.False(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestPageCache_EvictsLRUOnly(t *testing.T) {
	c := NewPageCache(2*PageSize, nil)

	k0 := Key{FileID: 1, Off: 0}
	k1 := Key{FileID: 1, Off: PageSize}
	k2 := Key{FileID: 1, Off: 2 * PageSize}

	c.Release(c.AddPinned(k0, page(0)))
	c.Release(c.AddPinned(k1, page(1)))

	// Touch k0 so k1 is the cold end.
	p, ok := c.GetPinned(k0)
	require.True(t, ok)
	c.Release(p)

	c.Release(c.AddPinned(k2, page(2)))

	_, ok = c.GetPinned(k1)
	assert.False(t, ok, "cold page should have been evicted")
	p, ok = c.GetPinned(k0)
	require.True(t, ok, "recently used page should survive")
	c.Release(p)
}

func TestPageCache_PinnedPagesAreNeverEvicted(t *testing.T) {
	c := NewPageCache(2*PageSize, nil)

	k0 := Key{FileID: 1, Off: 0}
	k1 := Key{FileID: 1, Off: PageSize}

	p0 := c.AddPinned(k0, page(0)) // stays pinned
	c.Release(c.AddPinned(k1, page(1)))

	// Both further inserts must evict unpinned pages, never the pinned k0.
	c.Release(c.AddPinned(Key{FileID: 1, Off: 2 * PageSize}, page(2)))
	c.Release(c.AddPinned(Key{FileID: 1, Off: 3 * PageSize}, page(3)))

	got, ok := c.GetPinned(k0)
	require.True(t, ok)
	assert.Equal(t, byte(0), got.Data()[0])
	c.Release(got)
	c.Release(p0)
}

func TestPageCache_AddPinnedRace(t *testing.T) {
	c := NewPageCache(16*PageSize, nil)
	key := Key{FileID: 1, Off: 0}

	p1 := c.AddPinned(key, page(1))
	p2 := c.AddPinned(key, page(2))

	// The second insert returns the resident page, not the new data.
	assert.Same(t, p1, p2)
	assert.Equal(t, byte(1), p2.Data()[0])
	c.Release(p1)
	c.Release(p2)
}

func TestPageCache_Invalidate(t *testing.T) {
	c := NewPageCache(16*PageSize, nil)

	c.Release(c.AddPinned(Key{FileID: 1, Off: 0}, page(1)))
	c.Release(c.AddPinned(Key{FileID: 2, Off: 0}, page(2)))

	c.Invalidate(func(key Key) bool { return key.FileID == 1 })

	_, ok := c.GetPinned(Key{FileID: 1, Off: 0})
	assert.False(t, ok)
	p, ok := c.GetPinned(Key{FileID: 2, Off: 0})
	require.True(t, ok)
	c.Release(p)
}

func TestPageCache_ResourceAccounting(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 4 * PageSize})
	c := NewPageCache(2*PageSize, rc)

	c.Release(c.AddPinned(Key{FileID: 1, Off: 0}, page(0)))
	c.Release(c.AddPinned(Key{FileID: 1, Off: PageSize}, page(1)))
	assert.Equal(t, int64(2*PageSize), rc.MemoryUsage())

	// Eviction returns memory to the controller.
	c.Release(c.AddPinned(Key{FileID: 1, Off: 2 * PageSize}, page(2)))
	assert.Equal(t, int64(2*PageSize), rc.MemoryUsage())

	c.Invalidate(func(Key) bool { return true })
	assert.Equal(t, int64(0), rc.MemoryUsage())
}
