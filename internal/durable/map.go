// Package durable defines the int32 -> multi-int32 map contract used as a
// building block for on-disk enumerators and indexes, plus in-memory
// implementations of it.
//
// Durability is optional: an implementation may keep everything in memory
// and implement Flush/Close as no-ops. Thread-safety is not: every
// implementation must be at least safe for concurrent use. Finer-grained
// concurrency is allowed as long as LookupOrInsert invokes the ValueCreator
// at most once per missing key.
package durable

import (
	imerrors "github.com/standardbeagle/intmaps/internal/errors"
	"github.com/standardbeagle/intmaps/internal/multimap"
)

// NoValue is reserved and may never be used as a key or a value
const NoValue = multimap.NoValue

// ValueAcceptor selects a value among the values of a key.
// Durable backends may fail while paging data in, hence the error.
type ValueAcceptor func(value int32) (bool, error)

// ValueCreator manufactures a value for a key that has no acceptable value.
// It must not return NoValue.
type ValueCreator func(key int32) (int32, error)

// KeyValueProcessor visits (key, value) pairs; returning false stops the visit.
type KeyValueProcessor func(key, value int32) (bool, error)

// Map maps an int32 key to a set of int32 values: (key, value) pairs are
// unique, a key may have any number of values.
type Map interface {
	// Put adds (key, value); returns false if the pair was already present
	Put(key, value int32) (bool, error)

	// Has reports whether (key, value) is present
	Has(key, value int32) (bool, error)

	// Lookup returns the first value of key accepted by accept, or NoValue
	Lookup(key int32, accept ValueAcceptor) (int32, error)

	// LookupOrInsert returns the first value of key accepted by accept. If
	// there is none, create is called once, its result is inserted and
	// returned. The whole operation is atomic.
	LookupOrInsert(key int32, accept ValueAcceptor, create ValueCreator) (int32, error)

	// Remove deletes (key, value); returns false if the pair was absent
	Remove(key, value int32) (bool, error)

	// Replace swaps oldValue for newValue among key's values; returns false
	// if oldValue was absent
	Replace(key, oldValue, newValue int32) (bool, error)

	// ForEach visits all pairs in unspecified order; returns false if process
	// stopped the visit
	ForEach(process KeyValueProcessor) (bool, error)

	Size() (int, error)
	IsEmpty() (bool, error)
	Clear() error

	Flush() error
	Close() error
	// CloseAndClean closes the map and removes its backing files, if any
	CloseAndClean() error
	IsClosed() bool
}

// CheckNotNoValue returns an ArgumentError if value is the reserved NoValue
func CheckNotNoValue(param string, value int32) error {
	if value == NoValue {
		return imerrors.NewArgumentError(param, value, "reserved as NoValue")
	}
	return nil
}
