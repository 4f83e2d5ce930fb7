package ehmap

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/intmaps/internal/storage"
)

// Binary layout: (header segment) (data segment)+, all segments of the same
// size so they align with storage pages.
//
// Header segment: 80 bytes of fixed fields, then the segment directory
// uint16[2^globalDepth]. Data segment: 16 bytes of fixed fields, then
// int32 (key, value) slots.
const (
	magicWordOffset     = 0  // int32
	versionOffset       = 4  // int32
	segmentSizeOffset   = 8  // int32
	segmentsCountOffset = 12 // int32
	globalDepthOffset   = 16 // int8
	fileStatusOffset    = 17 // int8
	// [18..80) reserved
	headerStaticSize = 80

	directoryOffset = headerStaticSize // uint16[N]
)

const (
	aliveCountOffset  = 0 // int32
	hashSuffixOffset  = 4 // int32
	suffixDepthOffset = 8 // int8
	// [9..16) reserved
	segmentStaticSize = 16

	slotsOffset = segmentStaticSize // int32[N]
)

const (
	fileStatusOpened         int8 = 0
	fileStatusProperlyClosed int8 = 1
)

// maxSegmentIndex is bounded by the uint16 directory entries
const maxSegmentIndex = 0xFFFF

// header is a view over the header segment
type header struct {
	r           storage.Region
	segmentSize int
}

func (h header) magicWord() int32          { return h.r.Int32(magicWordOffset) }
func (h header) setMagicWord(v int32)      { h.r.PutInt32(magicWordOffset, v) }
func (h header) version() int32            { return h.r.Int32(versionOffset) }
func (h header) setVersion(v int32)        { h.r.PutInt32(versionOffset, v) }
func (h header) storedSegmentSize() int32  { return h.r.Int32(segmentSizeOffset) }
func (h header) setSegmentSize(v int32)    { h.r.PutInt32(segmentSizeOffset, v) }
func (h header) segmentsCount() int        { return int(h.r.Int32(segmentsCountOffset)) }
func (h header) setSegmentsCount(n int)    { h.r.PutInt32(segmentsCountOffset, int32(n)) }
func (h header) globalDepth() int8         { return h.r.Int8(globalDepthOffset) }
func (h header) setGlobalDepth(depth int8) { h.r.PutInt8(globalDepthOffset, depth) }
func (h header) fileStatus() int8          { return h.r.Int8(fileStatusOffset) }
func (h header) setFileStatus(s int8)      { h.r.PutInt8(fileStatusOffset, s) }

func (h header) directorySize() int {
	return 1 << h.globalDepth()
}

func (h header) maxDirectorySize() int {
	return (h.segmentSize - headerStaticSize) / 2
}

// segmentIndex returns the segment referenced by directory slot
func (h header) segmentIndex(slot int) int {
	return int(h.r.Uint16(directoryOffset + slot*2))
}

func (h header) setSegmentIndex(slot, segmentIndex int) {
	h.r.PutUint16(directoryOffset+slot*2, uint16(segmentIndex))
}

func (h header) dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Header[segmentSize: %d, globalDepth: %d, segments: %d]\n",
		h.segmentSize, h.globalDepth(), h.segmentsCount())
	for slot := 0; slot < h.directorySize(); slot++ {
		fmt.Fprintf(&sb, "\t[%d]=%d\n", slot, h.segmentIndex(slot))
	}
	return sb.String()
}

// segment is a view over one data segment, a fixed-size open addressing table
type segment struct {
	index int
	r     storage.Region
}

func (s *segment) aliveCount() int        { return int(s.r.Int32(aliveCountOffset)) }
func (s *segment) setAliveCount(n int)    { s.r.PutInt32(aliveCountOffset, int32(n)) }
func (s *segment) hashSuffix() int32      { return s.r.Int32(hashSuffixOffset) }
func (s *segment) hashSuffixDepth() int8  { return s.r.Int8(suffixDepthOffset) }
func (s *segment) hashSuffixMask() uint32 { return suffixMask(s.hashSuffixDepth()) }

func (s *segment) setHashSuffix(suffix int32, depth int8) {
	s.r.PutInt8(suffixDepthOffset, depth)
	s.r.PutInt32(hashSuffixOffset, suffix)
}

// capacity is the number of (key, value) entries the segment holds
func (s *segment) capacity() int {
	return (s.r.Len() - segmentStaticSize) / 8
}

func (s *segment) entryKey(i int) int32   { return s.r.Int32(slotsOffset + i*8) }
func (s *segment) entryValue(i int) int32 { return s.r.Int32(slotsOffset + i*8 + 4) }

func (s *segment) setEntry(i int, key, value int32) {
	s.r.PutInt32(slotsOffset+i*8, key)
	s.r.PutInt32(slotsOffset+i*8+4, value)
}

func (s *segment) String() string {
	return fmt.Sprintf("Segment[#%d][hashSuffix: %d, depth: %d]{%d alive of %d}",
		s.index, s.hashSuffix(), s.hashSuffixDepth(), s.aliveCount(), s.capacity())
}

// suffixMask returns a mask of the depth lowest bits
func suffixMask(depth int8) uint32 {
	if depth >= 32 {
		return ^uint32(0)
	}
	return 1<<uint(depth) - 1
}

const goldenRatio32 = 0x9E3779B9

// hash is fibonacci hashing with the high half folded into the low bits,
// since both the directory and the slot index use the low bits
func hash(key int32) int32 {
	h := uint32(key) * goldenRatio32
	return int32(h ^ h>>16)
}
