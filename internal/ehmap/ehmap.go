// Package ehmap implements durable.Map as an extendible hash map on top of a
// paged file.
//
// The map is a union of 2^k fixed-size open addressing tables (segments);
// the k lowest bits of a key hash select the segment through a directory
// kept in the header. An overfilled segment splits in two, doubling the
// directory if needed, so the cost of a split is bounded by the segment
// size and touches a known range of the file.
//
// All operations are serialized by a single mutex.
package ehmap

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/standardbeagle/intmaps/internal/debug"
	"github.com/standardbeagle/intmaps/internal/durable"
	imerrors "github.com/standardbeagle/intmaps/internal/errors"
	"github.com/standardbeagle/intmaps/internal/storage"
)

const (
	// Version of the binary format
	Version = 1

	// MagicWord is "EHMM" read as a little-endian int32
	MagicWord int32 = 'E' | 'H'<<8 | 'M'<<16 | 'M'<<24

	// DefaultSegmentSize gives ~4K entries per segment, ~2K of them usable;
	// the header then addresses up to 8K segments
	DefaultSegmentSize = 32 * 1024

	DefaultSegmentsPerPage = 32

	// DefaultPageSize is 1MiB, ~64K (key, value) pairs per page
	DefaultPageSize = DefaultSegmentSize * DefaultSegmentsPerPage
)

// Options configures Open. Zero values select the defaults.
type Options struct {
	SegmentSize int
	PageSize    int
}

func (o Options) withDefaults() Options {
	if o.SegmentSize == 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	return o
}

func (o Options) validate() error {
	if bits.OnesCount(uint(o.SegmentSize)) != 1 {
		return imerrors.NewArgumentError("segmentSize", o.SegmentSize, "must be a power of 2")
	}
	if o.SegmentSize <= headerStaticSize {
		return imerrors.NewArgumentError("segmentSize", o.SegmentSize, fmt.Sprintf("must be > %d", headerStaticSize))
	}
	if o.SegmentSize > o.PageSize {
		return imerrors.NewArgumentError("segmentSize", o.SegmentSize, fmt.Sprintf("must be <= pageSize(=%d)", o.PageSize))
	}
	if o.PageSize%o.SegmentSize != 0 {
		return imerrors.NewArgumentError("segmentSize", o.SegmentSize, fmt.Sprintf("must align with pageSize(=%d)", o.PageSize))
	}
	return nil
}

// Map is a durable extendible hash map
type Map struct {
	mu      sync.Mutex
	storage *storage.PagedFile
	header  header
	// segments caches segment views by index; cleared by Clear
	segments map[int]*segment

	// dirty avoids rewriting the header status on every modification
	dirty             bool
	wasProperlyClosed bool
}

var _ durable.Map = (*Map)(nil)

// Open opens or creates the map file at path
func Open(path string, opts Options) (*Map, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	pf, err := storage.Open(path, opts.PageSize)
	if err != nil {
		return nil, err
	}
	m, err := newMap(pf, opts.SegmentSize)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}
	return m, nil
}

func newMap(pf *storage.PagedFile, segmentSize int) (*Map, error) {
	fileSize, err := pf.ActualFileSize()
	if err != nil {
		return nil, err
	}
	headerRegion, err := pf.Region(0, segmentSize)
	if err != nil {
		return nil, err
	}

	m := &Map{
		storage:  pf,
		header:   header{r: headerRegion, segmentSize: segmentSize},
		segments: make(map[int]*segment),
	}

	if fileSize == 0 {
		if err := m.initEmpty(); err != nil {
			return nil, err
		}
		// a new map is consistent by definition
		m.wasProperlyClosed = true
		debug.LogStorage("created empty map %s (segmentSize: %d)\n", pf.Path(), segmentSize)
		return m, nil
	}

	if magic := m.header.magicWord(); magic != MagicWord {
		return nil, imerrors.NewCorruptedError("open", pf.Path(),
			fmt.Sprintf("magicWord(=%#x) != %#x expected", uint32(magic), uint32(MagicWord)))
	}
	if version := m.header.version(); version != Version {
		return nil, imerrors.NewCorruptedError("open", pf.Path(),
			fmt.Sprintf("version(=%d) != current version(=%d)", version, Version))
	}
	if stored := m.header.storedSegmentSize(); int(stored) != segmentSize {
		return nil, imerrors.NewCorruptedError("open", pf.Path(),
			fmt.Sprintf("segmentSize(=%d) != segmentSize(=%d) the file was created with", segmentSize, stored))
	}

	m.wasProperlyClosed = m.header.fileStatus() == fileStatusProperlyClosed
	m.header.setFileStatus(fileStatusProperlyClosed)
	if !m.wasProperlyClosed {
		debug.Warn("map %s was not properly closed in the previous session\n", pf.Path())
	}
	return m, nil
}

func (m *Map) initEmpty() error {
	m.header.setMagicWord(MagicWord)
	m.header.setVersion(Version)
	m.header.setSegmentSize(int32(m.header.segmentSize))
	m.header.setFileStatus(fileStatusProperlyClosed)
	m.header.setGlobalDepth(0)
	m.header.setSegmentsCount(0)

	seg, err := m.allocateSegment(0, 0)
	if err != nil {
		return err
	}
	m.header.setSegmentIndex(0, seg.index)
	return nil
}

// WasProperlyClosed reports whether the previous session ended with Close
// (or a Flush after the last modification). A new file counts as properly
// closed. The flag is about the previous session only.
func (m *Map) WasProperlyClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wasProperlyClosed
}

// IsDirty reports whether there are modifications since the last Flush
func (m *Map) IsDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// Put adds (key, value)
func (m *Map) Put(key, value int32) (bool, error) {
	if err := checkPair(key, value); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.segmentForKey("put", key)
	if err != nil {
		return false, err
	}
	return m.putAndSplitIfNeeded(seg, key, value)
}

// Has reports whether (key, value) is present
func (m *Map) Has(key, value int32) (bool, error) {
	if err := checkPair(key, value); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.segmentForKey("has", key)
	if err != nil {
		return false, err
	}
	return seg.has(key, value), nil
}

// Lookup returns the first value of key accepted by accept, or NoValue
func (m *Map) Lookup(key int32, accept durable.ValueAcceptor) (int32, error) {
	if err := durable.CheckNotNoValue("key", key); err != nil {
		return durable.NoValue, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.segmentForKey("lookup", key)
	if err != nil {
		return durable.NoValue, err
	}
	return seg.lookup(key, accept)
}

// LookupOrInsert returns the value of key accepted by accept, creating and
// inserting one if there is none. Callbacks run under the map lock and must
// not call back into the map.
func (m *Map) LookupOrInsert(key int32, accept durable.ValueAcceptor, create durable.ValueCreator) (int32, error) {
	if err := durable.CheckNotNoValue("key", key); err != nil {
		return durable.NoValue, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.segmentForKey("lookupOrInsert", key)
	if err != nil {
		return durable.NoValue, err
	}
	found, err := seg.lookup(key, accept)
	if err != nil || found != durable.NoValue {
		return found, err
	}

	newValue, err := create(key)
	if err != nil {
		return durable.NoValue, imerrors.NewCallbackError("lookupOrInsert", err)
	}
	if newValue == durable.NoValue {
		return durable.NoValue, imerrors.NewArgumentError("newValue", newValue, fmt.Sprintf("creator returned NoValue for key %d", key))
	}
	if _, err := m.putAndSplitIfNeeded(seg, key, newValue); err != nil {
		return durable.NoValue, err
	}
	return newValue, nil
}

// Remove deletes (key, value)
func (m *Map) Remove(key, value int32) (bool, error) {
	if err := checkPair(key, value); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.segmentForKey("remove", key)
	if err != nil {
		return false, err
	}
	removed := seg.remove(key, value)
	if removed {
		if err := m.markModified(); err != nil {
			return true, err
		}
	}
	return removed, nil
}

// Replace swaps oldValue for newValue among key's values
func (m *Map) Replace(key, oldValue, newValue int32) (bool, error) {
	if err := durable.CheckNotNoValue("key", key); err != nil {
		return false, err
	}
	if err := durable.CheckNotNoValue("oldValue", oldValue); err != nil {
		return false, err
	}
	if err := durable.CheckNotNoValue("newValue", newValue); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.segmentForKey("replace", key)
	if err != nil {
		return false, err
	}
	replaced := seg.replace(key, oldValue, newValue)
	if replaced {
		if err := m.markModified(); err != nil {
			return true, err
		}
	}
	return replaced, nil
}

// ForEach visits segments in file order
func (m *Map) ForEach(process durable.KeyValueProcessor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkNotClosed("forEach"); err != nil {
		return false, err
	}

	for index := 1; index <= m.header.segmentsCount(); index++ {
		seg, err := m.segment(index)
		if err != nil {
			return false, err
		}
		if seg.aliveCount() == 0 {
			continue
		}
		completed, err := seg.forEach(process)
		if err != nil || !completed {
			return false, err
		}
	}
	return true, nil
}

// Size sums the alive entries of all segments
func (m *Map) Size() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sizeLocked()
}

// IsEmpty reports whether every segment is empty
func (m *Map) IsEmpty() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isEmptyLocked()
}

// Clear drops all entries, tombstones and segments
func (m *Map) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkNotClosed("clear"); err != nil {
		return err
	}

	if m.header.segmentsCount() == 1 {
		// a single segment may still be full of tombstones
		empty, err := m.isEmptyLocked()
		if err != nil {
			return err
		}
		if empty && !m.hasTombstones(1) {
			return nil
		}
	}

	clear(m.segments)
	if err := m.storage.ZeroizeTillEOF(0); err != nil {
		return err
	}
	if err := m.initEmpty(); err != nil {
		return err
	}
	m.dirty = false
	debug.LogStorage("cleared %s\n", m.storage.Path())
	return m.markModified()
}

// Flush marks the file properly closed and writes all dirty pages
func (m *Map) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkNotClosed("flush"); err != nil {
		return err
	}
	if m.dirty {
		m.dirty = false
		m.header.setFileStatus(fileStatusProperlyClosed)
	}
	return m.storage.Flush()
}

// Close marks the file properly closed and closes the storage. Closing
// twice is a no-op.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

// CloseAndClean closes the map and deletes its file
func (m *Map) CloseAndClean() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.closeLocked(); err != nil {
		return err
	}
	return m.storage.CloseAndClean()
}

// IsClosed reports whether Close was called
func (m *Map) IsClosed() bool {
	return !m.storage.IsOpen()
}

// Stats summarizes the layout of the map
type Stats struct {
	Entries     int
	Segments    int
	GlobalDepth int
	SegmentSize int
	FileSize    int64
}

// Stats reports entry and segment counts
func (m *Map) Stats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.sizeLocked()
	if err != nil {
		return Stats{}, err
	}
	fileSize, err := m.storage.ActualFileSize()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Entries:     entries,
		Segments:    m.header.segmentsCount(),
		GlobalDepth: int(m.header.globalDepth()),
		SegmentSize: m.header.segmentSize,
		FileSize:    fileSize,
	}, nil
}

// Dump renders the header directory, for debugging
func (m *Map) Dump() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkNotClosed("dump"); err != nil {
		return "", err
	}
	return m.header.dump(), nil
}

func (m *Map) String() string {
	return fmt.Sprintf("ExtendibleHashMap[%s][open: %t][wasProperlyClosed: %t]",
		m.storage.Path(), m.storage.IsOpen(), m.wasProperlyClosed)
}

// SlotIndexesForSegment returns the directory slots that must reference a
// segment with the given hash suffix: every index below 2^globalDepth whose
// low segmentDepth bits equal suffix.
func SlotIndexesForSegment(suffix int32, segmentDepth, globalDepth int8) []int {
	if globalDepth < segmentDepth {
		panic(imerrors.NewArgumentError("globalDepth", globalDepth, fmt.Sprintf("must be >= segmentDepth(=%d)", segmentDepth)))
	}
	if uint32(suffix)&^suffixMask(segmentDepth) != 0 {
		panic(imerrors.NewArgumentError("suffix", suffix, fmt.Sprintf("must fit in %d bits", segmentDepth)))
	}

	count := 1 << (globalDepth - segmentDepth)
	slots := make([]int, count)
	for i := range slots {
		slots[i] = i<<segmentDepth | int(suffix)
	}
	return slots
}

func (m *Map) closeLocked() error {
	if !m.storage.IsOpen() {
		return nil
	}
	if m.dirty {
		m.header.setFileStatus(fileStatusProperlyClosed)
		m.dirty = false
	}
	clear(m.segments)
	debug.LogStorage("closing %s\n", m.storage.Path())
	return m.storage.Close()
}

func (m *Map) checkNotClosed(op string) error {
	if !m.storage.IsOpen() {
		return imerrors.NewClosedError(op, m.storage.Path())
	}
	return nil
}

// markModified flips the header to "opened" on the first modification after
// a clean state and writes the header page through, so a crash from here on
// is detectable on the next Open
func (m *Map) markModified() error {
	if m.dirty {
		return nil
	}
	m.dirty = true
	m.header.setFileStatus(fileStatusOpened)
	return m.storage.FlushPage(0)
}

func (m *Map) sizeLocked() (int, error) {
	if err := m.checkNotClosed("size"); err != nil {
		return 0, err
	}
	total := 0
	for index := 1; index <= m.header.segmentsCount(); index++ {
		seg, err := m.segment(index)
		if err != nil {
			return 0, err
		}
		total += seg.aliveCount()
	}
	return total, nil
}

func (m *Map) isEmptyLocked() (bool, error) {
	if err := m.checkNotClosed("isEmpty"); err != nil {
		return false, err
	}
	for index := 1; index <= m.header.segmentsCount(); index++ {
		seg, err := m.segment(index)
		if err != nil {
			return false, err
		}
		if seg.aliveCount() > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (m *Map) hasTombstones(index int) bool {
	seg, err := m.segment(index)
	if err != nil {
		return true
	}
	for i := 0; i < seg.capacity(); i++ {
		if seg.entryValue(i) != durable.NoValue {
			return true
		}
	}
	return false
}

func (m *Map) segment(index int) (*segment, error) {
	if seg, ok := m.segments[index]; ok {
		return seg, nil
	}
	r, err := m.storage.Region(int64(index)*int64(m.header.segmentSize), m.header.segmentSize)
	if err != nil {
		return nil, err
	}
	seg := &segment{index: index, r: r}
	m.segments[index] = seg
	return seg, nil
}

func (m *Map) segmentForKey(op string, key int32) (*segment, error) {
	if err := m.checkNotClosed(op); err != nil {
		return nil, err
	}
	slot := int(uint32(hash(key)) & suffixMask(m.header.globalDepth()))
	index := m.header.segmentIndex(slot)
	if index < 1 || index > m.header.segmentsCount() {
		return nil, imerrors.NewCorruptedError(op, m.storage.Path(),
			fmt.Sprintf("directory[%d] = %d is outside [1..%d]", slot, index, m.header.segmentsCount()))
	}
	return m.segment(index)
}

func (m *Map) putAndSplitIfNeeded(seg *segment, key, value int32) (bool, error) {
	added, err := seg.put(key, value)
	if err != nil {
		return false, err
	}
	if added {
		if err := m.markModified(); err != nil {
			return true, err
		}
	}
	if seg.needsSplit() {
		if err := m.splitAndRearrange(seg); err != nil {
			return added, err
		}
	}
	return added, nil
}

func (m *Map) splitAndRearrange(seg *segment) error {
	if m.header.globalDepth() == seg.hashSuffixDepth() {
		if err := m.doubleDirectory(); err != nil {
			return err
		}
	}

	newSeg, err := m.split(seg)
	if err != nil {
		return err
	}

	// every second slot pointing at seg now points at newSeg
	slots := SlotIndexesForSegment(newSeg.hashSuffix(), newSeg.hashSuffixDepth(), m.header.globalDepth())
	for _, slot := range slots {
		if current := m.header.segmentIndex(slot); current != seg.index {
			panic(imerrors.NewInvariantError("split",
				fmt.Sprintf("directory[%d] = %d, expected segment %d", slot, current, seg.index)))
		}
		m.header.setSegmentIndex(slot, newSeg.index)
	}
	return nil
}

// split raises seg's depth by one and moves entries with the new suffix
// bit set into a fresh segment. Both segments are rebuilt from the alive
// entries, so tombstones do not pile up across splits.
func (m *Map) split(seg *segment) (*segment, error) {
	suffix0 := seg.hashSuffix()
	depth := seg.hashSuffixDepth() + 1
	suffix1 := suffix0 | int32(1)<<(depth-1)

	newSeg, err := m.allocateSegment(suffix1, depth)
	if err != nil {
		return nil, err
	}
	seg.setHashSuffix(suffix0, depth)

	mask := suffixMask(depth)
	for _, e := range seg.drainAlive() {
		target := seg
		if uint32(hash(e[0]))&mask != uint32(suffix0) {
			target = newSeg
		}
		if _, err := target.put(e[0], e[1]); err != nil {
			return nil, err
		}
	}
	debug.LogStorage("split %s -> %s\n", seg, newSeg)
	return newSeg, nil
}

// doubleDirectory copies the directory into its second half, e.g. [1,2,3,4]
// becomes [1,2,3,4,1,2,3,4]
func (m *Map) doubleDirectory() error {
	size := m.header.directorySize()
	if size*2 > m.header.maxDirectorySize() {
		return imerrors.NewCapacityError("split", m.storage.Path(),
			fmt.Sprintf("directory can't grow beyond %d entries, increase segmentSize(=%d) to store more keys",
				m.header.maxDirectorySize(), m.header.segmentSize))
	}
	m.header.setGlobalDepth(m.header.globalDepth() + 1)
	for slot := 0; slot < size; slot++ {
		m.header.setSegmentIndex(size+slot, m.header.segmentIndex(slot))
	}
	return nil
}

// allocateSegment appends a segment; attaching it to the directory is up to
// the caller
func (m *Map) allocateSegment(suffix int32, depth int8) (*segment, error) {
	index := m.header.segmentsCount() + 1
	if index > maxSegmentIndex {
		return nil, imerrors.NewCapacityError("allocate", m.storage.Path(),
			fmt.Sprintf("segments count can't exceed %d", maxSegmentIndex))
	}
	seg, err := m.segment(index)
	if err != nil {
		return nil, err
	}
	seg.setHashSuffix(suffix, depth)
	m.header.setSegmentsCount(index)
	return seg, nil
}

func checkPair(key, value int32) error {
	if err := durable.CheckNotNoValue("key", key); err != nil {
		return err
	}
	return durable.CheckNotNoValue("value", value)
}
