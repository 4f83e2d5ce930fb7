package ehmap

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/intmaps/internal/durable"
	imerrors "github.com/standardbeagle/intmaps/internal/errors"
)

// small segments so splits and directory doubling happen early
var smallOpts = Options{SegmentSize: 1024, PageSize: 4096}

func openMap(t *testing.T, path string, opts Options) *Map {
	t.Helper()
	m, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.ehmap")
}

func TestOpen_RejectsBadOptions(t *testing.T) {
	path := tempPath(t)
	tests := []struct {
		name string
		opts Options
	}{
		{"not a power of two", Options{SegmentSize: 1000, PageSize: 4096}},
		{"not above static header", Options{SegmentSize: 64, PageSize: 4096}},
		{"larger than page", Options{SegmentSize: 8192, PageSize: 4096}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(path, tt.opts)
			var argErr *imerrors.ArgumentError
			assert.ErrorAs(t, err, &argErr)
		})
	}
}

func TestNewMap_IsEmptyAndProperlyClosed(t *testing.T) {
	m := openMap(t, tempPath(t), smallOpts)

	assert.True(t, m.WasProperlyClosed())
	assert.False(t, m.IsDirty())

	empty, err := m.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Segments)
	assert.Equal(t, 0, stats.GlobalDepth)
}

func TestMap_BasicOperations(t *testing.T) {
	m := openMap(t, tempPath(t), smallOpts)

	added, err := m.Put(1, 10)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, m.IsDirty())

	added, err = m.Put(1, 10)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = m.Put(1, 11)
	require.NoError(t, err)
	_, err = m.Put(-5, 12)
	require.NoError(t, err)

	size, err := m.Size()
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	has, err := m.Has(-5, 12)
	require.NoError(t, err)
	assert.True(t, has)

	found, err := m.Lookup(1, func(v int32) (bool, error) { return v == 11, nil })
	require.NoError(t, err)
	assert.Equal(t, int32(11), found)

	replaced, err := m.Replace(1, 10, 11)
	require.NoError(t, err)
	assert.True(t, replaced, "coalesces into the existing value")
	size, _ = m.Size()
	assert.Equal(t, 2, size)

	replaced, err = m.Replace(1, 10, 13)
	require.NoError(t, err)
	assert.False(t, replaced)

	removed, err := m.Remove(1, 11)
	require.NoError(t, err)
	assert.True(t, removed)

	found, err = m.Lookup(1, func(int32) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.Equal(t, durable.NoValue, found)
}

func TestMap_RejectsNoValue(t *testing.T) {
	m := openMap(t, tempPath(t), smallOpts)
	var argErr *imerrors.ArgumentError

	_, err := m.Put(0, 1)
	assert.ErrorAs(t, err, &argErr)
	_, err = m.Has(1, 0)
	assert.ErrorAs(t, err, &argErr)
	_, err = m.Replace(1, 1, 0)
	assert.ErrorAs(t, err, &argErr)
	_, err = m.LookupOrInsert(1, func(int32) (bool, error) { return false, nil },
		func(int32) (int32, error) { return durable.NoValue, nil })
	assert.ErrorAs(t, err, &argErr)
}

func TestLookupOrInsert(t *testing.T) {
	m := openMap(t, tempPath(t), smallOpts)
	calls := 0
	create := func(key int32) (int32, error) {
		calls++
		return key + 1000, nil
	}
	acceptAny := func(int32) (bool, error) { return true, nil }

	v, err := m.LookupOrInsert(7, acceptAny, create)
	require.NoError(t, err)
	assert.Equal(t, int32(1007), v)

	v, err = m.LookupOrInsert(7, acceptAny, create)
	require.NoError(t, err)
	assert.Equal(t, int32(1007), v)
	assert.Equal(t, 1, calls)

	cause := errors.New("log unavailable")
	_, err = m.LookupOrInsert(8, acceptAny, func(int32) (int32, error) { return 0, cause })
	assert.ErrorIs(t, err, cause)
	var cbErr *imerrors.CallbackError
	assert.ErrorAs(t, err, &cbErr)
}

func TestSplits_KeepAllEntries(t *testing.T) {
	m := openMap(t, tempPath(t), smallOpts)
	const keys = 2000

	for k := int32(1); k <= keys; k++ {
		added, err := m.Put(k, k*3)
		require.NoError(t, err, "key %d", k)
		require.True(t, added)
	}

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, keys, stats.Entries)
	assert.Greater(t, stats.Segments, 1)
	assert.Greater(t, stats.GlobalDepth, 0)

	for k := int32(1); k <= keys; k++ {
		has, err := m.Has(k, k*3)
		require.NoError(t, err)
		require.True(t, has, "key %d lost after splits", k)
	}

	seen := 0
	completed, err := m.ForEach(func(key, value int32) (bool, error) {
		assert.Equal(t, key*3, value)
		seen++
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, keys, seen)
}

func TestDirectoryStaysConsistentAfterSplits(t *testing.T) {
	m := openMap(t, tempPath(t), smallOpts)
	for k := int32(1); k <= 1500; k++ {
		_, err := m.Put(k, 1)
		require.NoError(t, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	global := m.header.globalDepth()
	for index := 1; index <= m.header.segmentsCount(); index++ {
		seg, err := m.segment(index)
		require.NoError(t, err)
		for _, slot := range SlotIndexesForSegment(seg.hashSuffix(), seg.hashSuffixDepth(), global) {
			assert.Equal(t, index, m.header.segmentIndex(slot), "slot %d of segment %d", slot, index)
		}
	}
}

func TestSplit_CapacityExceeded(t *testing.T) {
	// 128-byte segments: 14 entries each, directory of at most 24 slots
	m := openMap(t, tempPath(t), Options{SegmentSize: 128, PageSize: 4096})

	var err error
	for k := int32(1); k <= 1000 && err == nil; k++ {
		_, err = m.Put(k, k)
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, imerrors.ErrCapacityExceeded)
}

func TestReopen_Persists(t *testing.T) {
	path := tempPath(t)

	m, err := Open(path, smallOpts)
	require.NoError(t, err)
	for k := int32(1); k <= 1000; k++ {
		_, err := m.Put(k, -k)
		require.NoError(t, err)
	}
	_, err = m.Remove(500, -500)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())

	m = openMap(t, path, smallOpts)
	assert.True(t, m.WasProperlyClosed())

	size, err := m.Size()
	require.NoError(t, err)
	assert.Equal(t, 999, size)

	has, err := m.Has(500, -500)
	require.NoError(t, err)
	assert.False(t, has)
	has, err = m.Has(999, -999)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestWasProperlyClosed_DetectsUncleanShutdown(t *testing.T) {
	path := tempPath(t)

	m, err := Open(path, smallOpts)
	require.NoError(t, err)
	_, err = m.Put(1, 1)
	require.NoError(t, err)
	// drop the storage without going through Map.Close
	require.NoError(t, m.storage.Close())

	m, err = Open(path, smallOpts)
	require.NoError(t, err)
	assert.False(t, m.WasProperlyClosed())
	has, err := m.Has(1, 1)
	require.NoError(t, err)
	assert.True(t, has)
	require.NoError(t, m.Close())

	// only the previous session counts
	m = openMap(t, path, smallOpts)
	assert.True(t, m.WasProperlyClosed())
}

func TestFlush_ResetsDirty(t *testing.T) {
	path := tempPath(t)
	m, err := Open(path, smallOpts)
	require.NoError(t, err)

	_, err = m.Put(3, 4)
	require.NoError(t, err)
	require.True(t, m.IsDirty())

	require.NoError(t, m.Flush())
	assert.False(t, m.IsDirty())

	// flushed state survives without Close
	require.NoError(t, m.storage.Close())
	m = openMap(t, path, smallOpts)
	assert.True(t, m.WasProperlyClosed())
}

func TestOpen_DetectsCorruption(t *testing.T) {
	t.Run("bad magic word", func(t *testing.T) {
		path := tempPath(t)
		require.NoError(t, os.WriteFile(path, []byte("definitely not a hash map file"), 0644))

		_, err := Open(path, smallOpts)
		assert.ErrorIs(t, err, imerrors.ErrCorrupted)
	})

	t.Run("segment size mismatch", func(t *testing.T) {
		path := tempPath(t)
		m, err := Open(path, smallOpts)
		require.NoError(t, err)
		require.NoError(t, m.Close())

		_, err = Open(path, Options{SegmentSize: 2048, PageSize: 4096})
		assert.ErrorIs(t, err, imerrors.ErrCorrupted)
	})
}

func TestClosedMap_ReturnsErrClosed(t *testing.T) {
	m, err := Open(tempPath(t), smallOpts)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Put(1, 1)
	assert.ErrorIs(t, err, imerrors.ErrClosed)
	_, err = m.Lookup(1, func(int32) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, imerrors.ErrClosed)
	_, err = m.Size()
	assert.ErrorIs(t, err, imerrors.ErrClosed)
	_, err = m.ForEach(func(int32, int32) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, imerrors.ErrClosed)
	assert.ErrorIs(t, m.Clear(), imerrors.ErrClosed)
	assert.ErrorIs(t, m.Flush(), imerrors.ErrClosed)
}

func TestClear(t *testing.T) {
	path := tempPath(t)
	m, err := Open(path, smallOpts)
	require.NoError(t, err)

	for k := int32(1); k <= 800; k++ {
		_, err := m.Put(k, k)
		require.NoError(t, err)
	}
	require.NoError(t, m.Clear())

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, 1, stats.Segments)
	assert.Equal(t, 0, stats.GlobalDepth)

	_, err = m.Put(42, 43)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m = openMap(t, path, smallOpts)
	size, err := m.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	has, err := m.Has(42, 43)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCloseAndClean_RemovesFile(t *testing.T) {
	path := tempPath(t)
	m, err := Open(path, smallOpts)
	require.NoError(t, err)
	_, err = m.Put(1, 2)
	require.NoError(t, err)

	require.NoError(t, m.CloseAndClean())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSlotIndexesForSegment(t *testing.T) {
	assert.Equal(t, []int{0}, SlotIndexesForSegment(0, 0, 0))
	assert.Equal(t, []int{0, 1, 2, 3}, SlotIndexesForSegment(0, 0, 2))
	assert.Equal(t, []int{1, 3, 5, 7}, SlotIndexesForSegment(1, 1, 3))
	assert.Equal(t, []int{2, 6}, SlotIndexesForSegment(2, 2, 3))
	assert.Equal(t, []int{5}, SlotIndexesForSegment(5, 3, 3))

	assert.Panics(t, func() { SlotIndexesForSegment(0, 3, 2) })
	assert.Panics(t, func() { SlotIndexesForSegment(4, 2, 3) })
}

// Random operations mirrored into a Go map, with a reopen halfway through
func TestRandomOperations_MatchReference(t *testing.T) {
	path := tempPath(t)
	rng := rand.New(rand.NewSource(42))
	type pair struct{ k, v int32 }
	ref := make(map[pair]bool)

	m, err := Open(path, smallOpts)
	require.NoError(t, err)

	step := func() {
		k := int32(rng.Intn(300) + 1)
		v := int32(rng.Intn(8) + 1)
		switch rng.Intn(4) {
		case 0, 1:
			added, err := m.Put(k, v)
			require.NoError(t, err)
			assert.Equal(t, !ref[pair{k, v}], added)
			ref[pair{k, v}] = true
		case 2:
			removed, err := m.Remove(k, v)
			require.NoError(t, err)
			assert.Equal(t, ref[pair{k, v}], removed)
			delete(ref, pair{k, v})
		case 3:
			nv := int32(rng.Intn(8) + 1)
			replaced, err := m.Replace(k, v, nv)
			require.NoError(t, err)
			assert.Equal(t, ref[pair{k, v}], replaced)
			if replaced {
				delete(ref, pair{k, v})
				ref[pair{k, nv}] = true
			}
		}
	}

	for i := 0; i < 3000; i++ {
		step()
	}
	require.NoError(t, m.Close())
	m, err = Open(path, smallOpts)
	require.NoError(t, err)
	defer m.Close()
	for i := 0; i < 3000; i++ {
		step()
	}

	size, err := m.Size()
	require.NoError(t, err)
	assert.Equal(t, len(ref), size)
	for p := range ref {
		has, err := m.Has(p.k, p.v)
		require.NoError(t, err)
		assert.True(t, has, "(%d, %d)", p.k, p.v)
	}
}

func BenchmarkPut(b *testing.B) {
	m, err := Open(filepath.Join(b.TempDir(), "bench.ehmap"), Options{})
	require.NoError(b, err)
	defer m.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Put(int32(i%1_000_000)+1, int32(i)+1); err != nil {
			b.Fatal(err)
		}
	}
}
