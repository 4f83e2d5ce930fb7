// Package multimap implements an in-memory open-addressing hash table that
// maps an int32 key to a set of int32 values.
//
// Slots are (key, value) pairs interleaved in a single []int32. A slot is
// empty when both halves are NoValue, a tombstone when only the key half is
// NoValue, and alive otherwise. Probing continues past tombstones and stops
// at the first empty slot.
//
// Multimap is not safe for concurrent use; see package durable for the
// synchronized wrappers.
package multimap

import (
	"fmt"

	imerrors "github.com/standardbeagle/intmaps/internal/errors"
)

const (
	// NoValue is reserved and may never be used as a key or a value
	NoValue int32 = 0

	// MinCapacity is the smallest number of slots a table is ever given
	MinCapacity = 16

	// DefaultCapacity is the initial number of slots for New
	DefaultCapacity = MinCapacity

	// DefaultLoadFactor bounds filledSlots/capacity before a rehash
	DefaultLoadFactor = 0.4
)

// Multimap is an int32 -> set-of-int32 hash table with linear probing and
// tombstone deletion. The zero value is not usable; call New.
type Multimap struct {
	loadFactor float64

	// table holds capacity (key, value) pairs at [2i, 2i+1]
	table []int32

	aliveValues int // alive slots
	filledSlots int // alive + tombstone slots
}

// New creates a multimap with DefaultCapacity and DefaultLoadFactor
func New() *Multimap {
	return NewWithCapacity(DefaultCapacity, DefaultLoadFactor)
}

// NewWithCapacity creates a multimap able to hold capacity slots before the
// first growth. Capacities below MinCapacity are raised to MinCapacity.
// loadFactor must be in (0, 1).
func NewWithCapacity(capacity int, loadFactor float64) *Multimap {
	if loadFactor <= 0 || loadFactor >= 1 {
		panic(imerrors.NewArgumentError("loadFactor", loadFactor, "must be in (0, 1)"))
	}
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Multimap{
		loadFactor: loadFactor,
		table:      make([]int32, capacity*2),
	}
}

// Put adds (key, value) to the map.
// Returns false if the pair was already present.
func (m *Multimap) Put(key, value int32) bool {
	checkNotNoValue("key", key)
	checkNotNoValue("value", value)

	capacity := m.Capacity()
	startIndex := m.startIndex(key)
	firstTombstoneIndex := -1
	for probe := 0; probe < capacity; probe++ {
		slotIndex := (startIndex + probe) % capacity
		slotKey := m.table[slotIndex*2]
		slotValue := m.table[slotIndex*2+1]
		if slotKey == key && slotValue == value {
			return false
		}

		if slotKey == NoValue {
			if slotValue != NoValue {
				if firstTombstoneIndex == -1 {
					firstTombstoneIndex = slotIndex
				}
				continue
			}

			// Empty slot terminates the probe sequence: the pair is absent.
			if firstTombstoneIndex >= 0 {
				m.setSlot(firstTombstoneIndex, key, value)
			} else {
				m.setSlot(slotIndex, key, value)
				m.filledSlots++
			}
			m.aliveValues++
			m.rehashIfNeeded()
			return true
		}
	}

	// Probe sequence exhausted: no empty slot anywhere in the table.
	if m.aliveValues == 0 {
		// Only tombstones left, drop them all and start over.
		m.resetTable(capacity)
		return m.Put(key, value)
	}

	if firstTombstoneIndex >= 0 {
		m.setSlot(firstTombstoneIndex, key, value)
		m.aliveValues++
		m.rehashIfNeeded()
		return true
	}

	panic(imerrors.NewInvariantError("put", fmt.Sprintf(
		"table is full: all %d slots traversed without a free one (alive: %d, filled: %d)",
		capacity, m.aliveValues, m.filledSlots,
	)))
}

// Has reports whether (key, value) is present
func (m *Multimap) Has(key, value int32) bool {
	checkNotNoValue("key", key)
	checkNotNoValue("value", value)

	capacity := m.Capacity()
	startIndex := m.startIndex(key)
	for probe := 0; probe < capacity; probe++ {
		slotIndex := (startIndex + probe) % capacity
		slotKey := m.table[slotIndex*2]
		slotValue := m.table[slotIndex*2+1]
		if slotKey == key && slotValue == value {
			return true
		}
		if slotKey == NoValue && slotValue == NoValue {
			return false
		}
	}
	return false
}

// Lookup calls accept for every value associated with key, until accept
// returns false. Returns false if iteration was stopped by accept, true if
// all values were visited.
func (m *Multimap) Lookup(key int32, accept func(value int32) bool) bool {
	checkNotNoValue("key", key)

	capacity := m.Capacity()
	startIndex := m.startIndex(key)
	for probe := 0; probe < capacity; probe++ {
		slotIndex := (startIndex + probe) % capacity
		slotKey := m.table[slotIndex*2]
		slotValue := m.table[slotIndex*2+1]
		if slotKey == key {
			if !accept(slotValue) {
				return false
			}
		} else if slotKey == NoValue && slotValue == NoValue {
			break
		}
	}
	return true
}

// Remove deletes (key, value), leaving a tombstone in its slot.
// Returns false if the pair was not present.
func (m *Multimap) Remove(key, value int32) bool {
	checkNotNoValue("key", key)
	checkNotNoValue("value", value)

	capacity := m.Capacity()
	startIndex := m.startIndex(key)
	for probe := 0; probe < capacity; probe++ {
		slotIndex := (startIndex + probe) % capacity
		slotKey := m.table[slotIndex*2]
		slotValue := m.table[slotIndex*2+1]
		if slotKey == key && slotValue == value {
			m.markTombstone(slotIndex)
			m.rehashIfNeeded()
			return true
		}
		if slotKey == NoValue && slotValue == NoValue {
			return false
		}
	}
	return false
}

// Replace substitutes newValue for oldValue in key's value set. If newValue
// is already associated with key, the oldValue slot is just removed.
// Returns false if oldValue was not associated with key.
func (m *Multimap) Replace(key, oldValue, newValue int32) bool {
	checkNotNoValue("key", key)
	checkNotNoValue("oldValue", oldValue)
	checkNotNoValue("newValue", newValue)

	capacity := m.Capacity()
	startIndex := m.startIndex(key)
	oldValueSlotIndex := -1
	newValueSlotIndex := -1
	for probe := 0; probe < capacity; probe++ {
		slotIndex := (startIndex + probe) % capacity
		slotKey := m.table[slotIndex*2]
		slotValue := m.table[slotIndex*2+1]
		if slotKey == key {
			if slotValue == oldValue {
				oldValueSlotIndex = slotIndex
			} else if slotValue == newValue {
				newValueSlotIndex = slotIndex
			}
		}
		if slotKey == NoValue && slotValue == NoValue {
			break
		}
	}

	if oldValueSlotIndex == -1 {
		return false
	}
	if newValueSlotIndex != -1 {
		m.markTombstone(oldValueSlotIndex)
		m.rehashIfNeeded()
	} else {
		m.table[oldValueSlotIndex*2+1] = newValue
	}
	return true
}

// ForEach calls process for every alive (key, value) pair in table order,
// until process returns false. Returns false if stopped early.
func (m *Multimap) ForEach(process func(key, value int32) bool) bool {
	for i := 0; i < len(m.table); i += 2 {
		key := m.table[i]
		if key != NoValue {
			if !process(key, m.table[i+1]) {
				return false
			}
		}
	}
	return true
}

// Capacity returns the number of slots
func (m *Multimap) Capacity() int {
	return len(m.table) / 2
}

// Size returns the number of (key, value) pairs
func (m *Multimap) Size() int {
	return m.aliveValues
}

// IsEmpty reports whether the map holds no pairs
func (m *Multimap) IsEmpty() bool {
	return m.aliveValues == 0
}

// SizeInBytes approximates the memory held by the table, without headers
func (m *Multimap) SizeInBytes() int {
	return len(m.table) * 4
}

// Clear removes everything and shrinks the table back to MinCapacity
func (m *Multimap) Clear() {
	m.resetTable(MinCapacity)
}

// String implements fmt.Stringer
func (m *Multimap) String() string {
	return fmt.Sprintf("Multimap[capacity: %d, alive: %d, filled: %d, loadFactor: %.2f]",
		m.Capacity(), m.aliveValues, m.filledSlots, m.loadFactor)
}

func (m *Multimap) startIndex(key int32) int {
	index := int(key) % m.Capacity()
	if index < 0 {
		index = -index
	}
	return index
}

func (m *Multimap) setSlot(slotIndex int, key, value int32) {
	m.table[slotIndex*2] = key
	m.table[slotIndex*2+1] = value
}

// markTombstone clears the key half only; the remaining value marks the
// slot as deleted rather than empty
func (m *Multimap) markTombstone(slotIndex int) {
	m.table[slotIndex*2] = NoValue
	m.aliveValues--
}

func (m *Multimap) resetTable(capacity int) {
	m.table = make([]int32, capacity*2)
	m.aliveValues = 0
	m.filledSlots = 0
}

func (m *Multimap) rehashIfNeeded() {
	capacity := m.Capacity()
	if float64(m.filledSlots) <= float64(capacity)*m.loadFactor {
		return
	}

	newCapacity := m.estimateOptimalCapacity()
	rehashed := NewWithCapacity(newCapacity, m.loadFactor)
	m.ForEach(func(key, value int32) bool {
		rehashed.Put(key, value)
		return true
	})

	m.table = rehashed.table
	m.aliveValues = rehashed.aliveValues
	m.filledSlots = rehashed.filledSlots

	if m.filledSlots >= m.Capacity() {
		panic(imerrors.NewInvariantError("rehash", fmt.Sprintf(
			"filledSlots(=%d) must be < capacity(=%d) after rehash", m.filledSlots, m.Capacity(),
		)))
	}
}

func (m *Multimap) estimateOptimalCapacity() int {
	capacity := m.Capacity()
	expected := int(float64(m.aliveValues)/m.loadFactor) + 1
	switch {
	case expected > capacity:
		return capacity * 2
	case expected < capacity/2:
		// Sparse but tombstone-heavy: purge tombstones, keep the size.
		return capacity
	default:
		return max(expected, MinCapacity)
	}
}

func checkNotNoValue(param string, value int32) {
	if value == NoValue {
		panic(imerrors.NewArgumentError(param, value, "reserved as NoValue"))
	}
}
