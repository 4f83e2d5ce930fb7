package multimap

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imerrors "github.com/standardbeagle/intmaps/internal/errors"
)

type pair struct {
	key, value int32
}

func valuesOf(m *Multimap, key int32) map[int32]bool {
	values := make(map[int32]bool)
	m.Lookup(key, func(value int32) bool {
		values[value] = true
		return true
	})
	return values
}

func TestNew_Defaults(t *testing.T) {
	m := New()
	assert.Equal(t, DefaultCapacity, m.Capacity())
	assert.Equal(t, 0, m.Size())
	assert.True(t, m.IsEmpty())
	assert.Equal(t, DefaultCapacity*2*4, m.SizeInBytes())
}

func TestNewWithCapacity_RaisesToMinimum(t *testing.T) {
	m := NewWithCapacity(3, 0.5)
	assert.Equal(t, MinCapacity, m.Capacity())

	m = NewWithCapacity(100, 0.5)
	assert.Equal(t, 100, m.Capacity())
}

func TestNewWithCapacity_RejectsBadLoadFactor(t *testing.T) {
	for _, lf := range []float64{0, -0.5, 1, 1.5} {
		assert.Panics(t, func() { NewWithCapacity(16, lf) }, "loadFactor %v", lf)
	}
}

// Example from the contract docs: 1 and 17 collide mod 16
func TestCollidingKeysWithTombstone(t *testing.T) {
	m := NewWithCapacity(16, 0.4)

	assert.True(t, m.Put(1, 100))
	assert.True(t, m.Put(1, 200))
	assert.True(t, m.Put(17, 300))

	assert.Equal(t, 3, m.Size())
	assert.True(t, m.Has(1, 100))
	assert.True(t, m.Has(1, 200))
	assert.True(t, m.Has(17, 300))

	assert.True(t, m.Lookup(1, func(int32) bool { return true }))
	assert.Equal(t, map[int32]bool{100: true, 200: true}, valuesOf(m, 1))

	assert.True(t, m.Remove(1, 100))
	assert.Equal(t, 2, m.Size())
	assert.False(t, m.Has(1, 100))
	assert.True(t, m.Has(1, 200))
	assert.True(t, m.Has(17, 300), "probe must continue past the tombstone")
}

func TestPut_NoDuplicates(t *testing.T) {
	m := New()
	require.True(t, m.Put(5, 50))

	for i := 0; i < 5; i++ {
		assert.False(t, m.Put(5, 50))
		assert.Equal(t, 1, m.Size())
		assert.True(t, m.Has(5, 50))
	}
}

func TestRemove_RoundTrip(t *testing.T) {
	m := New()
	require.True(t, m.Put(42, 7))
	require.True(t, m.Has(42, 7))

	assert.True(t, m.Remove(42, 7))
	assert.False(t, m.Has(42, 7))
	assert.False(t, m.Remove(42, 7))
	assert.True(t, m.IsEmpty())
}

func TestPut_ReusesTombstone(t *testing.T) {
	m := New()
	require.True(t, m.Put(3, 1))
	require.True(t, m.Put(3, 2))
	require.True(t, m.Remove(3, 1))

	filledBefore := m.filledSlots
	require.True(t, m.Put(3, 9))
	assert.Equal(t, filledBefore, m.filledSlots, "insert into a tombstone does not fill a new slot")
	assert.Equal(t, map[int32]bool{2: true, 9: true}, valuesOf(m, 3))
}

func TestReplace_InPlace(t *testing.T) {
	m := New()
	require.True(t, m.Put(8, 1))
	filledBefore := m.filledSlots

	assert.True(t, m.Replace(8, 1, 2))
	assert.True(t, m.Has(8, 2))
	assert.False(t, m.Has(8, 1))
	assert.Equal(t, 1, m.Size())
	assert.Equal(t, filledBefore, m.filledSlots, "in-place replace creates no tombstone")
}

func TestReplace_Coalesces(t *testing.T) {
	m := New()
	require.True(t, m.Put(8, 1))
	require.True(t, m.Put(8, 2))

	assert.True(t, m.Replace(8, 1, 2))
	assert.False(t, m.Has(8, 1))
	assert.True(t, m.Has(8, 2))
	assert.Equal(t, 1, m.Size())
	assert.Equal(t, map[int32]bool{2: true}, valuesOf(m, 8))
}

func TestReplace_MissingOldValue(t *testing.T) {
	m := New()
	require.True(t, m.Put(8, 1))

	assert.False(t, m.Replace(8, 5, 6))
	assert.False(t, m.Replace(9, 1, 6))
	assert.True(t, m.Has(8, 1))
	assert.Equal(t, 1, m.Size())
}

func TestSentinelRejection(t *testing.T) {
	m := New()
	cases := map[string]func(){
		"put zero key":      func() { m.Put(0, 5) },
		"put zero value":    func() { m.Put(5, 0) },
		"has zero key":      func() { m.Has(0, 5) },
		"has zero value":    func() { m.Has(5, 0) },
		"remove zero key":   func() { m.Remove(0, 5) },
		"remove zero value": func() { m.Remove(5, 0) },
		"lookup zero key":   func() { m.Lookup(0, func(int32) bool { return true }) },
		"replace zero key":  func() { m.Replace(0, 1, 2) },
		"replace zero old":  func() { m.Replace(1, 0, 2) },
		"replace zero new":  func() { m.Replace(1, 2, 0) },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				r := recover()
				require.NotNil(t, r)
				_, ok := r.(*imerrors.ArgumentError)
				assert.True(t, ok, "expected *ArgumentError, got %T", r)
			}()
			fn()
		})
	}
}

func TestLookup_StopsEarly(t *testing.T) {
	m := New()
	for v := int32(1); v <= 5; v++ {
		require.True(t, m.Put(11, v))
	}

	visited := 0
	completed := m.Lookup(11, func(int32) bool {
		visited++
		return visited < 2
	})
	assert.False(t, completed)
	assert.Equal(t, 2, visited)

	assert.True(t, m.Lookup(12, func(int32) bool {
		t.Fatal("no values expected for absent key")
		return true
	}))
}

func TestForEach(t *testing.T) {
	m := New()
	want := map[pair]bool{{1, 10}: true, {1, 11}: true, {2, 20}: true, {-3, 30}: true}
	for p := range want {
		require.True(t, m.Put(p.key, p.value))
	}

	got := make(map[pair]bool)
	assert.True(t, m.ForEach(func(key, value int32) bool {
		got[pair{key, value}] = true
		return true
	}))
	assert.Equal(t, want, got)

	calls := 0
	assert.False(t, m.ForEach(func(int32, int32) bool {
		calls++
		return false
	}))
	assert.Equal(t, 1, calls)
}

func TestRehash_PreservesEntries(t *testing.T) {
	m := New()
	initialCapacity := m.Capacity()

	const keys = 200
	for k := int32(1); k <= keys; k++ {
		require.True(t, m.Put(k, k*3))
	}
	assert.GreaterOrEqual(t, m.Capacity(), initialCapacity*4, "at least two growth cycles expected")
	assert.Equal(t, keys, m.Size())

	for k := int32(1); k <= keys; k += 2 {
		require.True(t, m.Remove(k, k*3))
	}
	for k := int32(1); k <= keys; k++ {
		assert.Equal(t, k%2 == 0, m.Has(k, k*3), "key %d", k)
	}
	assert.Equal(t, keys/2, m.Size())
}

func TestRehash_PurgesTombstones(t *testing.T) {
	m := NewWithCapacity(64, 0.4)

	// Churn a small working set to accumulate tombstones
	for round := int32(1); round <= 50; round++ {
		require.True(t, m.Put(7, round))
		if round > 1 {
			require.True(t, m.Remove(7, round-1))
		}
		assert.LessOrEqual(t, float64(m.filledSlots), float64(m.Capacity())*m.loadFactor)
	}
	assert.Equal(t, 1, m.Size())
	assert.True(t, m.Has(7, 50))
}

func TestNegativeAndExtremeKeys(t *testing.T) {
	m := New()
	keys := []int32{-1, -16, -17, math.MinInt32, math.MaxInt32, 1}
	for i, k := range keys {
		require.True(t, m.Put(k, int32(i+1)))
	}
	for i, k := range keys {
		assert.True(t, m.Has(k, int32(i+1)), "key %d", k)
	}
}

func TestClear(t *testing.T) {
	m := NewWithCapacity(128, 0.4)
	for k := int32(1); k <= 100; k++ {
		require.True(t, m.Put(k, 1))
	}

	m.Clear()
	assert.Equal(t, 0, m.Size())
	assert.True(t, m.IsEmpty())
	assert.Equal(t, MinCapacity, m.Capacity())
	assert.False(t, m.Has(1, 1))

	require.True(t, m.Put(1, 1))
	assert.Equal(t, 1, m.Size())
}

func TestPut_FullOfTombstonesRecovers(t *testing.T) {
	m := NewWithCapacity(16, 0.4)
	// Force the degenerate layout directly: every slot a tombstone.
	for i := 0; i < m.Capacity(); i++ {
		m.table[i*2+1] = int32(i + 1)
	}
	m.filledSlots = m.Capacity()

	assert.True(t, m.Put(5, 5))
	assert.True(t, m.Has(5, 5))
	assert.Equal(t, 1, m.Size())
	assert.Equal(t, 1, m.filledSlots)
}

func TestPut_SaturatedTableUsesTombstone(t *testing.T) {
	m := NewWithCapacity(16, 0.4)
	capacity := m.Capacity()
	for i := 0; i < capacity; i++ {
		m.table[i*2] = int32(1000 + i)
		m.table[i*2+1] = 1
	}
	m.table[4*2] = NoValue // one tombstone
	m.aliveValues = capacity - 1
	m.filledSlots = capacity
	m.loadFactor = 0.99

	assert.True(t, m.Put(3, 3))
	assert.True(t, m.Has(3, 3))
}

func TestPut_SaturatedTablePanics(t *testing.T) {
	m := NewWithCapacity(16, 0.4)
	capacity := m.Capacity()
	for i := 0; i < capacity; i++ {
		m.table[i*2] = int32(1000 + i)
		m.table[i*2+1] = 1
	}
	m.aliveValues = capacity
	m.filledSlots = capacity

	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(*imerrors.InvariantError)
		assert.True(t, ok, "expected *InvariantError, got %T", r)
	}()
	m.Put(3, 3)
}

// TestRandomizedAgainstReference compares against a plain Go map of sets
func TestRandomizedAgainstReference(t *testing.T) {
	m := New()
	ref := make(map[int32]map[int32]bool)
	r := rand.New(rand.NewSource(12345))

	for i := 0; i < 20000; i++ {
		key := int32(r.Intn(300) + 1)
		value := int32(r.Intn(20) + 1)
		switch r.Intn(4) {
		case 0, 1:
			_, existed := ref[key][value]
			assert.Equal(t, !existed, m.Put(key, value))
			if ref[key] == nil {
				ref[key] = make(map[int32]bool)
			}
			ref[key][value] = true
		case 2:
			_, existed := ref[key][value]
			assert.Equal(t, existed, m.Remove(key, value))
			delete(ref[key], value)
		case 3:
			newValue := int32(r.Intn(20) + 1)
			if newValue == value {
				continue
			}
			_, existed := ref[key][value]
			assert.Equal(t, existed, m.Replace(key, value, newValue))
			if existed {
				delete(ref[key], value)
				ref[key][newValue] = true
			}
		}
	}

	total := 0
	for key, values := range ref {
		total += len(values)
		got := valuesOf(m, key)
		assert.Equal(t, len(values), len(got), "key %d", key)
		for v := range values {
			assert.True(t, got[v], "key %d value %d", key, v)
		}
	}
	assert.Equal(t, total, m.Size())
}

func BenchmarkPut(b *testing.B) {
	m := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Put(int32(i%100000)+1, int32(i%7)+1)
	}
}

func BenchmarkHas(b *testing.B) {
	m := New()
	for i := int32(1); i <= 100000; i++ {
		m.Put(i, i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Has(int32(i%100000)+1, int32(i%100000)+1)
	}
}
