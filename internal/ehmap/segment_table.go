package ehmap

import (
	"fmt"

	"github.com/standardbeagle/intmaps/internal/durable"
	imerrors "github.com/standardbeagle/intmaps/internal/errors"
)

// Slot convention inside a segment, same as the in-memory multimap:
//
//	(NoValue, NoValue)  empty, terminates a probe
//	(NoValue, v != 0)   tombstone, probing continues past it
//	(key, value)        alive
//
// The probe starts at abs(hash(key) % capacity) and is linear.

// segmentLoadFactor is the alive fraction above which a segment splits
const segmentLoadFactor = 0.5

func probeStart(key int32, capacity int) int {
	start := int(hash(key)) % capacity
	if start < 0 {
		start = -start
	}
	return start
}

func (s *segment) lookup(key int32, accept durable.ValueAcceptor) (int32, error) {
	capacity := s.capacity()
	start := probeStart(key, capacity)
	for probe := 0; probe < capacity; probe++ {
		i := (start + probe) % capacity
		slotKey, slotValue := s.entryKey(i), s.entryValue(i)
		if slotKey == key {
			ok, err := accept(slotValue)
			if err != nil {
				return durable.NoValue, imerrors.NewCallbackError("lookup", err)
			}
			if ok {
				return slotValue, nil
			}
		} else if slotKey == durable.NoValue && slotValue == durable.NoValue {
			break
		}
	}
	return durable.NoValue, nil
}

func (s *segment) has(key, value int32) bool {
	capacity := s.capacity()
	start := probeStart(key, capacity)
	for probe := 0; probe < capacity; probe++ {
		i := (start + probe) % capacity
		slotKey, slotValue := s.entryKey(i), s.entryValue(i)
		if slotKey == key && slotValue == value {
			return true
		}
		if slotKey == durable.NoValue && slotValue == durable.NoValue {
			break
		}
	}
	return false
}

// put returns false if (key, value) is already present. A segment without a
// single free slot or tombstone left is a capacity failure, not a panic:
// splits can be refused once the directory is full.
func (s *segment) put(key, value int32) (bool, error) {
	capacity := s.capacity()
	start := probeStart(key, capacity)
	firstTombstone := -1
	for probe := 0; probe < capacity; probe++ {
		i := (start + probe) % capacity
		slotKey, slotValue := s.entryKey(i), s.entryValue(i)
		if slotKey == key && slotValue == value {
			return false, nil
		}
		if slotKey != durable.NoValue {
			continue
		}
		if slotValue != durable.NoValue {
			if firstTombstone < 0 {
				firstTombstone = i
			}
			continue
		}

		insertAt := i
		if firstTombstone >= 0 {
			insertAt = firstTombstone
		}
		s.setEntry(insertAt, key, value)
		s.setAliveCount(s.aliveCount() + 1)
		return true, nil
	}

	// every slot was probed: key is absent
	if s.aliveCount() == 0 {
		s.wipe()
		return s.put(key, value)
	}
	if firstTombstone >= 0 {
		s.setEntry(firstTombstone, key, value)
		s.setAliveCount(s.aliveCount() + 1)
		return true, nil
	}
	return false, imerrors.NewCapacityError("put", "", fmt.Sprintf("%s has no free slot", s))
}

func (s *segment) remove(key, value int32) bool {
	capacity := s.capacity()
	start := probeStart(key, capacity)
	for probe := 0; probe < capacity; probe++ {
		i := (start + probe) % capacity
		slotKey, slotValue := s.entryKey(i), s.entryValue(i)
		if slotKey == key && slotValue == value {
			s.markDeleted(i)
			return true
		}
		if slotKey == durable.NoValue && slotValue == durable.NoValue {
			return false
		}
	}
	return false
}

// replace keeps key's values a set: if newValue is already there, the
// oldValue slot is just deleted
func (s *segment) replace(key, oldValue, newValue int32) bool {
	capacity := s.capacity()
	start := probeStart(key, capacity)
	oldSlot, newSlot := -1, -1
	for probe := 0; probe < capacity; probe++ {
		i := (start + probe) % capacity
		slotKey, slotValue := s.entryKey(i), s.entryValue(i)
		if slotKey == key {
			if slotValue == oldValue {
				oldSlot = i
			} else if slotValue == newValue {
				newSlot = i
			}
		}
		if slotKey == durable.NoValue && slotValue == durable.NoValue {
			break
		}
	}

	if oldSlot < 0 {
		return false
	}
	if newSlot >= 0 {
		s.markDeleted(oldSlot)
	} else {
		s.setEntry(oldSlot, key, newValue)
	}
	return true
}

func (s *segment) forEach(process durable.KeyValueProcessor) (bool, error) {
	capacity := s.capacity()
	for i := 0; i < capacity; i++ {
		key := s.entryKey(i)
		if key == durable.NoValue {
			continue
		}
		ok, err := process(key, s.entryValue(i))
		if err != nil {
			return false, imerrors.NewCallbackError("forEach", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s *segment) needsSplit() bool {
	return float64(s.aliveCount()) > float64(s.capacity())*segmentLoadFactor
}

// markDeleted turns slot i into a tombstone, keeping its value
func (s *segment) markDeleted(i int) {
	s.setEntry(i, durable.NoValue, s.entryValue(i))
	s.setAliveCount(s.aliveCount() - 1)
}

// wipe resets every slot to empty
func (s *segment) wipe() {
	capacity := s.capacity()
	for i := 0; i < capacity; i++ {
		s.setEntry(i, durable.NoValue, durable.NoValue)
	}
	s.setAliveCount(0)
}

// drainAlive copies out every alive entry and wipes the segment,
// tombstones included
func (s *segment) drainAlive() [][2]int32 {
	entries := make([][2]int32, 0, s.aliveCount())
	capacity := s.capacity()
	for i := 0; i < capacity; i++ {
		if key := s.entryKey(i); key != durable.NoValue {
			entries = append(entries, [2]int32{key, s.entryValue(i)})
		}
	}
	s.wipe()
	return entries
}
