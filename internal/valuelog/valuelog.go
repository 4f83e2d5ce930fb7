// Package valuelog is an append-only log of byte records addressed by int32
// ids. A record is a uint32 little-endian length followed by its bytes; the
// id of a record is its ordinal + 1, so 0 is never a valid id.
package valuelog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/standardbeagle/intmaps/internal/debug"
	imerrors "github.com/standardbeagle/intmaps/internal/errors"
)

const recordHeaderSize = 4

// MaxRecordSize bounds a single record payload
const MaxRecordSize = 64 << 20

// backend is where record bytes live: a file, or a growable buffer
type backend interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// Log is safe for concurrent use
type Log struct {
	mu      sync.RWMutex
	path    string
	store   backend
	offsets []int64
	size    int64
	closed  bool
}

// RecordProcessor visits records in append order; returning false stops
type RecordProcessor func(id int32, data []byte) (bool, error)

// Open opens or creates the log file at path, indexing existing records.
// An incomplete record at the tail, left by an interrupted append, is
// truncated away.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, imerrors.NewStorageError("open", path, err)
	}

	l := &Log{path: path, store: file}
	if err := l.scan(file); err != nil {
		_ = file.Close()
		return nil, err
	}
	debug.LogStorage("opened log %s: %d records, %d bytes\n", path, len(l.offsets), l.size)
	return l, nil
}

// NewInMemory creates a log that is never persisted
func NewInMemory() *Log {
	return &Log{store: &memBackend{}}
}

func (l *Log) scan(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return imerrors.NewStorageError("stat", l.path, err)
	}
	fileSize := info.Size()

	r := bufio.NewReaderSize(file, 64*1024)
	var header [recordHeaderSize]byte
	offset := int64(0)
	for offset < fileSize {
		if fileSize-offset < recordHeaderSize {
			break
		}
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return imerrors.NewStorageError("scan", l.path, err)
		}
		length := int64(binary.LittleEndian.Uint32(header[:]))
		if offset+recordHeaderSize+length > fileSize {
			break
		}
		if _, err := r.Discard(int(length)); err != nil {
			return imerrors.NewStorageError("scan", l.path, err)
		}
		l.offsets = append(l.offsets, offset)
		offset += recordHeaderSize + length
	}

	if offset < fileSize {
		debug.Warn("log %s: truncating torn record at offset %d (file size %d)\n", l.path, offset, fileSize)
		if err := file.Truncate(offset); err != nil {
			return imerrors.NewStorageError("truncate", l.path, err)
		}
	}
	l.size = offset
	return nil
}

// Append writes data as a new record and returns its id
func (l *Log) Append(data []byte) (int32, error) {
	if len(data) > MaxRecordSize {
		return 0, imerrors.NewArgumentError("data", fmt.Sprintf("%d bytes", len(data)), fmt.Sprintf("must be <= %d bytes", MaxRecordSize))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, imerrors.NewClosedError("append", l.path)
	}
	if len(l.offsets) >= math.MaxInt32 {
		return 0, imerrors.NewCapacityError("append", l.path, "records count reached MaxInt32")
	}

	record := make([]byte, recordHeaderSize+len(data))
	binary.LittleEndian.PutUint32(record, uint32(len(data)))
	copy(record[recordHeaderSize:], data)
	if _, err := l.store.WriteAt(record, l.size); err != nil {
		return 0, imerrors.NewStorageError("append", l.path, err)
	}

	l.offsets = append(l.offsets, l.size)
	l.size += int64(len(record))
	return int32(len(l.offsets)), nil
}

// Read returns a copy of the record with the given id
func (l *Log) Read(id int32) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, imerrors.NewClosedError("read", l.path)
	}
	if id < 1 || int(id) > len(l.offsets) {
		return nil, imerrors.NewArgumentError("id", id, fmt.Sprintf("must be in [1..%d]", len(l.offsets)))
	}
	return l.readAt(l.offsets[id-1])
}

// ForEach visits records in append order
func (l *Log) ForEach(process RecordProcessor) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false, imerrors.NewClosedError("forEach", l.path)
	}

	for i, offset := range l.offsets {
		data, err := l.readAt(offset)
		if err != nil {
			return false, err
		}
		ok, err := process(int32(i+1), data)
		if err != nil {
			return false, imerrors.NewCallbackError("forEach", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// RecordsCount returns the number of records appended so far
func (l *Log) RecordsCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.offsets)
}

// SizeInBytes returns the log size, record headers included
func (l *Log) SizeInBytes() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Flush syncs appended records to disk
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return imerrors.NewClosedError("flush", l.path)
	}
	if err := l.store.Sync(); err != nil {
		return imerrors.NewStorageError("flush", l.path, err)
	}
	return nil
}

// Close syncs and closes the log. Closing twice is a no-op.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	syncErr := l.store.Sync()
	if syncErr != nil {
		syncErr = imerrors.NewStorageError("flush", l.path, syncErr)
	}
	closeErr := l.store.Close()
	if closeErr != nil {
		closeErr = imerrors.NewStorageError("close", l.path, closeErr)
	}
	return imerrors.NewMultiError([]error{syncErr, closeErr}).ErrorOrNil()
}

// CloseAndClean closes the log and deletes its file, if any
func (l *Log) CloseAndClean() error {
	if err := l.Close(); err != nil {
		return err
	}
	if l.path == "" {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return imerrors.NewStorageError("remove", l.path, err)
	}
	return nil
}

func (l *Log) String() string {
	if l.path == "" {
		return "ValueLog[in-memory]"
	}
	return fmt.Sprintf("ValueLog[%s]", l.path)
}

func (l *Log) readAt(offset int64) ([]byte, error) {
	var header [recordHeaderSize]byte
	if _, err := l.store.ReadAt(header[:], offset); err != nil {
		return nil, imerrors.NewStorageError("read", l.path, err)
	}
	data := make([]byte, binary.LittleEndian.Uint32(header[:]))
	if len(data) == 0 {
		return data, nil
	}
	if _, err := l.store.ReadAt(data, offset+recordHeaderSize); err != nil {
		return nil, imerrors.NewStorageError("read", l.path, err)
	}
	return data, nil
}

// memBackend is a growable in-memory io.ReaderAt/io.WriterAt
type memBackend struct {
	buf []byte
}

func (m *memBackend) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memBackend) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, end-int64(len(m.buf)))...)
	}
	return copy(m.buf[off:], p), nil
}

func (m *memBackend) Sync() error  { return nil }
func (m *memBackend) Close() error { return nil }
