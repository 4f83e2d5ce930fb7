package durable

import (
	"math/bits"

	imerrors "github.com/standardbeagle/intmaps/internal/errors"
)

// fibonacci multiplier, 2^32 / golden ratio
const goldenRatio32 = 0x9E3779B9

// StripedMap spreads keys over a power-of-two number of NonDurableMap
// stripes, each with its own lock. A key always maps to the same stripe, so
// operations on one key are still totally ordered and LookupOrInsert keeps
// its at-most-once creation guarantee.
//
// ForEach, Size and IsEmpty visit the stripes one at a time and are not a
// consistent snapshot across stripes.
type StripedMap struct {
	stripes []*NonDurableMap
	shift   uint
}

var _ Map = (*StripedMap)(nil)

// NewStripedMap creates a map with at least the given number of stripes,
// rounded up to a power of two. Each stripe starts with capacityPerStripe slots.
func NewStripedMap(stripes, capacityPerStripe int, loadFactor float64) (*StripedMap, error) {
	if stripes < 1 || stripes > 1<<16 {
		return nil, imerrors.NewArgumentError("stripes", stripes, "must be in [1..65536]")
	}
	depth := bits.Len(uint(stripes - 1))
	count := 1 << depth

	sm := &StripedMap{
		stripes: make([]*NonDurableMap, count),
		shift:   uint(32 - depth),
	}
	for i := range sm.stripes {
		stripe, err := NewNonDurableMapWithCapacity(capacityPerStripe, loadFactor)
		if err != nil {
			return nil, err
		}
		sm.stripes[i] = stripe
	}
	return sm, nil
}

// StripesCount returns the number of stripes
func (sm *StripedMap) StripesCount() int {
	return len(sm.stripes)
}

func (sm *StripedMap) stripeFor(key int32) *NonDurableMap {
	if len(sm.stripes) == 1 {
		return sm.stripes[0]
	}
	// high bits of the product are the best mixed
	h := uint32(key) * goldenRatio32
	return sm.stripes[h>>sm.shift]
}

// Put adds (key, value)
func (sm *StripedMap) Put(key, value int32) (bool, error) {
	return sm.stripeFor(key).Put(key, value)
}

// Has reports whether (key, value) is present
func (sm *StripedMap) Has(key, value int32) (bool, error) {
	return sm.stripeFor(key).Has(key, value)
}

// Lookup returns the first value of key accepted by accept, or NoValue
func (sm *StripedMap) Lookup(key int32, accept ValueAcceptor) (int32, error) {
	return sm.stripeFor(key).Lookup(key, accept)
}

// LookupOrInsert is atomic within the key's stripe
func (sm *StripedMap) LookupOrInsert(key int32, accept ValueAcceptor, create ValueCreator) (int32, error) {
	return sm.stripeFor(key).LookupOrInsert(key, accept, create)
}

// Remove deletes (key, value)
func (sm *StripedMap) Remove(key, value int32) (bool, error) {
	return sm.stripeFor(key).Remove(key, value)
}

// Replace swaps oldValue for newValue among key's values
func (sm *StripedMap) Replace(key, oldValue, newValue int32) (bool, error) {
	return sm.stripeFor(key).Replace(key, oldValue, newValue)
}

// ForEach visits the stripes in order
func (sm *StripedMap) ForEach(process KeyValueProcessor) (bool, error) {
	for _, stripe := range sm.stripes {
		completed, err := stripe.ForEach(process)
		if err != nil || !completed {
			return false, err
		}
	}
	return true, nil
}

// Size sums the stripe sizes
func (sm *StripedMap) Size() (int, error) {
	total := 0
	for _, stripe := range sm.stripes {
		size, _ := stripe.Size()
		total += size
	}
	return total, nil
}

// IsEmpty reports whether every stripe is empty
func (sm *StripedMap) IsEmpty() (bool, error) {
	for _, stripe := range sm.stripes {
		if empty, _ := stripe.IsEmpty(); !empty {
			return false, nil
		}
	}
	return true, nil
}

// Clear empties every stripe
func (sm *StripedMap) Clear() error {
	for _, stripe := range sm.stripes {
		if err := stripe.Clear(); err != nil {
			return err
		}
	}
	return nil
}

// SizeInBytes sums the stripe table sizes
func (sm *StripedMap) SizeInBytes() int {
	total := 0
	for _, stripe := range sm.stripes {
		total += stripe.SizeInBytes()
	}
	return total
}

// Flush is a no-op
func (sm *StripedMap) Flush() error { return nil }

// Close is a no-op
func (sm *StripedMap) Close() error { return nil }

// CloseAndClean is a no-op
func (sm *StripedMap) CloseAndClean() error { return nil }

// IsClosed is always false
func (sm *StripedMap) IsClosed() bool { return false }
