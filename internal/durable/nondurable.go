package durable

import (
	"fmt"
	"sync"

	imerrors "github.com/standardbeagle/intmaps/internal/errors"
	"github.com/standardbeagle/intmaps/internal/multimap"
)

// NonDurableMap is an in-memory Map over a single multimap.Multimap.
// All methods are serialized by one mutex: it is thread-safe, but not
// concurrent. Flush and Close do nothing.
type NonDurableMap struct {
	mu    sync.Mutex
	table *multimap.Multimap
}

var _ Map = (*NonDurableMap)(nil)

// NewNonDurableMap creates an empty map with the default capacity and load factor
func NewNonDurableMap() *NonDurableMap {
	return &NonDurableMap{table: multimap.New()}
}

// NewNonDurableMapWithCapacity creates an empty map sized for capacity slots
func NewNonDurableMapWithCapacity(capacity int, loadFactor float64) (*NonDurableMap, error) {
	if loadFactor <= 0 || loadFactor >= 1 {
		return nil, imerrors.NewArgumentError("loadFactor", loadFactor, "must be in (0, 1)")
	}
	return &NonDurableMap{table: multimap.NewWithCapacity(capacity, loadFactor)}, nil
}

// Put adds (key, value)
func (m *NonDurableMap) Put(key, value int32) (bool, error) {
	if err := checkPair(key, value); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Put(key, value), nil
}

// Has reports whether (key, value) is present
func (m *NonDurableMap) Has(key, value int32) (bool, error) {
	if err := checkPair(key, value); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Has(key, value), nil
}

// Lookup returns the first value of key accepted by accept, or NoValue
func (m *NonDurableMap) Lookup(key int32, accept ValueAcceptor) (int32, error) {
	if err := CheckNotNoValue("key", key); err != nil {
		return NoValue, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(key, accept)
}

// LookupOrInsert returns the value of key accepted by accept, creating and
// inserting one if there is none
func (m *NonDurableMap) LookupOrInsert(key int32, accept ValueAcceptor, create ValueCreator) (int32, error) {
	if err := CheckNotNoValue("key", key); err != nil {
		return NoValue, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	found, err := m.lookupLocked(key, accept)
	if err != nil {
		return NoValue, err
	}
	if found != NoValue {
		return found, nil
	}

	newValue, err := create(key)
	if err != nil {
		return NoValue, imerrors.NewCallbackError("lookupOrInsert", err)
	}
	if newValue == NoValue {
		return NoValue, imerrors.NewArgumentError("newValue", newValue, fmt.Sprintf("creator returned NoValue for key %d", key))
	}
	m.table.Put(key, newValue)
	return newValue, nil
}

// Remove deletes (key, value)
func (m *NonDurableMap) Remove(key, value int32) (bool, error) {
	if err := checkPair(key, value); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Remove(key, value), nil
}

// Replace swaps oldValue for newValue among key's values
func (m *NonDurableMap) Replace(key, oldValue, newValue int32) (bool, error) {
	if err := CheckNotNoValue("key", key); err != nil {
		return false, err
	}
	if err := CheckNotNoValue("oldValue", oldValue); err != nil {
		return false, err
	}
	if err := CheckNotNoValue("newValue", newValue); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Replace(key, oldValue, newValue), nil
}

// ForEach visits all pairs while holding the lock
func (m *NonDurableMap) ForEach(process KeyValueProcessor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cbErr error
	completed := m.table.ForEach(func(key, value int32) bool {
		ok, err := process(key, value)
		if err != nil {
			cbErr = err
			return false
		}
		return ok
	})
	if cbErr != nil {
		return false, imerrors.NewCallbackError("forEach", cbErr)
	}
	return completed, nil
}

// Size returns the number of pairs
func (m *NonDurableMap) Size() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Size(), nil
}

// IsEmpty reports whether there are no pairs
func (m *NonDurableMap) IsEmpty() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.IsEmpty(), nil
}

// Clear removes all pairs
func (m *NonDurableMap) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table.Clear()
	return nil
}

// SizeInBytes approximates the memory held by the underlying table
func (m *NonDurableMap) SizeInBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.SizeInBytes()
}

// Flush is a no-op
func (m *NonDurableMap) Flush() error { return nil }

// Close is a no-op
func (m *NonDurableMap) Close() error { return nil }

// CloseAndClean is a no-op
func (m *NonDurableMap) CloseAndClean() error { return nil }

// IsClosed is always false
func (m *NonDurableMap) IsClosed() bool { return false }

func (m *NonDurableMap) lookupLocked(key int32, accept ValueAcceptor) (int32, error) {
	found := NoValue
	var cbErr error
	m.table.Lookup(key, func(value int32) bool {
		ok, err := accept(value)
		if err != nil {
			cbErr = err
			return false
		}
		if ok {
			found = value
			return false
		}
		return true
	})
	if cbErr != nil {
		return NoValue, imerrors.NewCallbackError("lookup", cbErr)
	}
	return found, nil
}

func checkPair(key, value int32) error {
	if err := CheckNotNoValue("key", key); err != nil {
		return err
	}
	return CheckNotNoValue("value", value)
}
