package filecache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(data string, mtime time.Time) *Entry {
	return &Entry{Mtime: mtime, Size: int64(len(data)), Bytes: []byte(data)}
}

func TestLookupOrBuildSingleFlight(t *testing.T) {
	c := New(1 << 20)

	var builds int32
	build := func() (*Entry, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(20 * time.Millisecond)
		return newEntry("hello world", time.Now()), nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Entry, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := c.LookupOrBuild("k", build)
			require.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&builds), "build must run exactly once for concurrent lookups of the same key")
	for _, e := range results {
		assert.Equal(t, "hello world", string(e.Bytes))
		e.Release()
	}
}

func TestLookupOrBuildRoundTrip(t *testing.T) {
	c := New(1 << 20)
	mtime := time.Now()

	e1, err := c.LookupOrBuild("k", func() (*Entry, error) {
		return newEntry("contents", mtime), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "contents", string(e1.Bytes))
	e1.Release()

	e2, err := c.LookupOrBuild("k", func() (*Entry, error) {
		t.Fatal("should not rebuild a fresh, stat-stable entry")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, e1, e2)
	e2.Release()
}

func TestBuildFailureLeavesNoEntry(t *testing.T) {
	c := New(1 << 20)
	wantErr := errors.New("read failed")

	_, err := c.LookupOrBuild("k", func() (*Entry, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, c.Len())

	// A subsequent lookup must retry, not observe a poisoned entry.
	e, err := c.LookupOrBuild("k", func() (*Entry, error) {
		return newEntry("ok now", time.Now()), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok now", string(e.Bytes))
	e.Release()
}

func TestInvalidateIfStaleForcesRebuild(t *testing.T) {
	c := New(1 << 20)
	oldMtime := time.Now()

	e1, err := c.LookupOrBuild("k", func() (*Entry, error) {
		return newEntry("v1", oldMtime), nil
	})
	require.NoError(t, err)
	e1.Release()

	newMtime := oldMtime.Add(time.Second)
	c.InvalidateIfStale("k", newMtime, 2)

	var rebuilt int32
	e2, err := c.LookupOrBuild("k", func() (*Entry, error) {
		atomic.AddInt32(&rebuilt, 1)
		return newEntry("v2", newMtime), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), rebuilt)
	assert.Equal(t, "v2", string(e2.Bytes))
	e2.Release()
}

func TestInvalidateIfStaleNoOpWhenFresh(t *testing.T) {
	c := New(1 << 20)
	mtime := time.Now()

	e1, err := c.LookupOrBuild("k", func() (*Entry, error) {
		return newEntry("v1", mtime), nil
	})
	require.NoError(t, err)
	e1.Release()

	c.InvalidateIfStale("k", mtime, int64(len("v1")))

	e2, err := c.LookupOrBuild("k", func() (*Entry, error) {
		t.Fatal("must not rebuild when stat matches")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, e1, e2)
	e2.Release()
}

func TestEvictionBoundsTotalSize(t *testing.T) {
	c := New(30) // small budget forces eviction

	put := func(key string, size int) {
		e, err := c.LookupOrBuild(key, func() (*Entry, error) {
			return newEntry(string(make([]byte, size)), time.Now()), nil
		})
		require.NoError(t, err)
		e.Release()
	}

	put("a", 10)
	put("b", 10)
	put("c", 10)

	assert.LessOrEqual(t, c.TotalBytes(), int64(30+entryOverhead))
}

func TestEvictedEntryStaysAliveUntilLastRelease(t *testing.T) {
	c := New(1) // effectively unbounded-refusing budget, forces eviction on next insert

	e1, err := c.LookupOrBuild("a", func() (*Entry, error) {
		return newEntry("first", time.Now()), nil
	})
	require.NoError(t, err)

	e2, err := c.LookupOrBuild("b", func() (*Entry, error) {
		return newEntry("second", time.Now()), nil
	})
	require.NoError(t, err)
	e2.Release()

	// e1 should have been evicted from the index by b's insertion, but the
	// data the caller is holding remains valid until Release.
	assert.Equal(t, "first", string(e1.Bytes))
	e1.Release()
}
