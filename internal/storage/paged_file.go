// Package storage provides a paged, file-backed byte storage with typed
// little-endian accessors, the persistence layer under the durable maps.
//
// Pages are read lazily and cached for the lifetime of the storage; pages
// past the end of the file read as zeros. Writes go to the cached page and
// reach the file on Flush, FlushPage or Close.
package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"os"
	"sync"

	"github.com/standardbeagle/intmaps/internal/debug"
	imerrors "github.com/standardbeagle/intmaps/internal/errors"
)

// DefaultPageSize is 1MiB
const DefaultPageSize = 1 << 20

var byteOrder = binary.LittleEndian

// page is a cached, pageSize-long chunk of the file
type page struct {
	index int64
	buf   []byte
	dirty bool
}

// PagedFile is a file split into fixed-size pages. It is safe for concurrent
// use, though callers writing overlapping regions must coordinate.
type PagedFile struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	pageSize int
	pages    map[int64]*page
}

// Open opens or creates the file at path. pageSize must be a power of two.
func Open(path string, pageSize int) (*PagedFile, error) {
	if pageSize <= 0 || bits.OnesCount(uint(pageSize)) != 1 {
		return nil, imerrors.NewArgumentError("pageSize", pageSize, "must be a power of 2")
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, imerrors.NewStorageError("open", path, err)
	}

	debug.LogStorage("opened %s (pageSize: %d)\n", path, pageSize)
	return &PagedFile{
		path:     path,
		file:     file,
		pageSize: pageSize,
		pages:    make(map[int64]*page),
	}, nil
}

// Path returns the backing file path
func (f *PagedFile) Path() string {
	return f.path
}

// PageSize returns the page size in bytes
func (f *PagedFile) PageSize() int {
	return f.pageSize
}

// IsOpen reports whether the storage was not closed yet
func (f *PagedFile) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file != nil
}

// ActualFileSize returns the on-disk size; unflushed pages are not counted
func (f *PagedFile) ActualFileSize() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return 0, imerrors.NewClosedError("stat", f.path)
	}
	info, err := f.file.Stat()
	if err != nil {
		return 0, imerrors.NewStorageError("stat", f.path, err)
	}
	return info.Size(), nil
}

// ToOffsetInPage returns the position of offset inside its page
func (f *PagedFile) ToOffsetInPage(offset int64) int {
	return int(offset & int64(f.pageSize-1))
}

// Region returns a view of [offset, offset+length). The range must lie
// within a single page.
func (f *PagedFile) Region(offset int64, length int) (Region, error) {
	if offset < 0 || length <= 0 {
		return Region{}, imerrors.NewArgumentError("region", fmt.Sprintf("[%d, +%d)", offset, length), "must be a non-empty range at a non-negative offset")
	}
	offsetInPage := f.ToOffsetInPage(offset)
	if offsetInPage+length > f.pageSize {
		return Region{}, imerrors.NewArgumentError("region", fmt.Sprintf("[%d, +%d)", offset, length),
			fmt.Sprintf("crosses a page boundary (pageSize: %d)", f.pageSize))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.pageLocked(offset / int64(f.pageSize))
	if err != nil {
		return Region{}, err
	}
	return Region{page: p, buf: p.buf[offsetInPage : offsetInPage+length]}, nil
}

// Int32At reads a single int32 at offset without building a Region
func (f *PagedFile) Int32At(offset int64) (int32, error) {
	r, err := f.Region(offset, 4)
	if err != nil {
		return 0, err
	}
	return r.Int32(0), nil
}

// Flush writes all dirty pages to the file
func (f *PagedFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return imerrors.NewClosedError("flush", f.path)
	}
	return f.flushLocked()
}

// FlushPage writes the page containing offset, if it is dirty
func (f *PagedFile) FlushPage(offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return imerrors.NewClosedError("flush", f.path)
	}
	p, ok := f.pages[offset/int64(f.pageSize)]
	if !ok || !p.dirty {
		return nil
	}
	return f.writePageLocked(p)
}

// ZeroizeTillEOF zeroes everything from offset on, cached or on disk, and
// truncates the file to offset
func (f *PagedFile) ZeroizeTillEOF(offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return imerrors.NewClosedError("zeroize", f.path)
	}

	for index, p := range f.pages {
		pageStart := index * int64(f.pageSize)
		if pageStart+int64(f.pageSize) <= offset {
			continue
		}
		from := 0
		if pageStart < offset {
			from = int(offset - pageStart)
		}
		clear(p.buf[from:])
		p.dirty = true
	}

	if err := f.file.Truncate(offset); err != nil {
		return imerrors.NewStorageError("truncate", f.path, err)
	}
	return nil
}

// Close flushes dirty pages and closes the file. Closing twice is a no-op.
func (f *PagedFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}

	flushErr := f.flushLocked()
	closeErr := f.file.Close()
	f.file = nil
	f.pages = nil
	if closeErr != nil {
		closeErr = imerrors.NewStorageError("close", f.path, closeErr)
	}
	return imerrors.NewMultiError([]error{flushErr, closeErr}).ErrorOrNil()
}

// CloseAndClean closes the storage and deletes the backing file
func (f *PagedFile) CloseAndClean() error {
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return imerrors.NewStorageError("remove", f.path, err)
	}
	debug.LogStorage("removed %s\n", f.path)
	return nil
}

func (f *PagedFile) String() string {
	return fmt.Sprintf("PagedFile[%s][pageSize: %d]", f.path, f.pageSize)
}

func (f *PagedFile) pageLocked(index int64) (*page, error) {
	if f.file == nil {
		return nil, imerrors.NewClosedError("read", f.path)
	}
	if p, ok := f.pages[index]; ok {
		return p, nil
	}

	p := &page{index: index, buf: make([]byte, f.pageSize)}
	// a short read leaves the tail past EOF zeroed
	if _, err := f.file.ReadAt(p.buf, index*int64(f.pageSize)); err != nil && err != io.EOF {
		return nil, imerrors.NewStorageError("read", f.path, err)
	}
	f.pages[index] = p
	return p, nil
}

func (f *PagedFile) flushLocked() error {
	flushed := 0
	for _, p := range f.pages {
		if !p.dirty {
			continue
		}
		if err := f.writePageLocked(p); err != nil {
			return err
		}
		flushed++
	}
	if flushed > 0 {
		debug.LogStorage("flushed %d pages of %s\n", flushed, f.path)
	}
	return nil
}

func (f *PagedFile) writePageLocked(p *page) error {
	if _, err := f.file.WriteAt(p.buf, p.index*int64(f.pageSize)); err != nil {
		return imerrors.NewStorageError("write", f.path, err)
	}
	p.dirty = false
	return nil
}

// Region is a window into one cached page. Offsets passed to its accessors
// are relative to the region start. Writes mark the page dirty.
type Region struct {
	page *page
	buf  []byte
}

// Len returns the region length in bytes
func (r Region) Len() int { return len(r.buf) }

func (r Region) Int32(offset int) int32 {
	return int32(byteOrder.Uint32(r.buf[offset:]))
}

func (r Region) PutInt32(offset int, v int32) {
	byteOrder.PutUint32(r.buf[offset:], uint32(v))
	r.page.dirty = true
}

func (r Region) Uint16(offset int) uint16 {
	return byteOrder.Uint16(r.buf[offset:])
}

func (r Region) PutUint16(offset int, v uint16) {
	byteOrder.PutUint16(r.buf[offset:], v)
	r.page.dirty = true
}

func (r Region) Int8(offset int) int8 {
	return int8(r.buf[offset])
}

func (r Region) PutInt8(offset int, v int8) {
	r.buf[offset] = byte(v)
	r.page.dirty = true
}
