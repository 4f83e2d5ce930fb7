// Package enumerator assigns stable int32 ids to strings.
//
// Strings live in an append-only value log, so an id is the record id of
// the string. A durable.Map indexes hash(string) -> id; strings sharing a
// hash become several values of one key and are told apart by reading the
// log back.
package enumerator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/intmaps/internal/config"
	"github.com/standardbeagle/intmaps/internal/debug"
	"github.com/standardbeagle/intmaps/internal/durable"
	"github.com/standardbeagle/intmaps/internal/ehmap"
	imerrors "github.com/standardbeagle/intmaps/internal/errors"
	"github.com/standardbeagle/intmaps/internal/valuelog"
)

const (
	idsFileName     = "ids.ehmap"
	stringsFileName = "strings.log"
)

// NoID is returned by TryEnumerate for unknown strings
const NoID = durable.NoValue

// StringProcessor visits enumerated strings in id order; returning false stops
type StringProcessor func(id int32, s string) (bool, error)

// Enumerator is safe for concurrent use. Enumerate returns the same id for
// equal strings even when called concurrently.
type Enumerator struct {
	dir  string
	ids  durable.Map
	log  *valuelog.Log
	hash func(string) int32
}

// Open opens or creates a durable enumerator in dir. When the previous
// session did not close cleanly, or the index disagrees with the log, the
// index is rebuilt from the log.
func Open(dir string, cfg *config.Config) (*Enumerator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, imerrors.NewStorageError("open", dir, err)
	}

	log, err := valuelog.Open(filepath.Join(dir, stringsFileName))
	if err != nil {
		return nil, err
	}
	ids, err := ehmap.Open(filepath.Join(dir, idsFileName), cfg.MapOptions())
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	e := &Enumerator{dir: dir, ids: ids, log: log, hash: hashString}

	size, err := ids.Size()
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	if !ids.WasProperlyClosed() || size != log.RecordsCount() {
		debug.Warn("enumerator %s: rebuilding index (properly closed: %v, indexed: %d, logged: %d)\n",
			dir, ids.WasProperlyClosed(), size, log.RecordsCount())
		if err := e.rebuild(); err != nil {
			_ = e.Close()
			return nil, err
		}
	}
	debug.LogEnumerator("opened enumerator %s with %d strings\n", dir, log.RecordsCount())
	return e, nil
}

// NewInMemory creates an enumerator that is never persisted. With more than
// one configured stripe the index is a StripedMap.
func NewInMemory(cfg *config.Config) (*Enumerator, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var ids durable.Map
	var err error
	if cfg.Concurrency.Stripes > 1 {
		ids, err = durable.NewStripedMap(cfg.Concurrency.Stripes, cfg.Multimap.InitialCapacity, cfg.Multimap.LoadFactor)
	} else {
		ids, err = durable.NewNonDurableMapWithCapacity(cfg.Multimap.InitialCapacity, cfg.Multimap.LoadFactor)
	}
	if err != nil {
		return nil, err
	}
	return &Enumerator{ids: ids, log: valuelog.NewInMemory(), hash: hashString}, nil
}

// Enumerate returns the id of s, assigning the next one if s is new
func (e *Enumerator) Enumerate(s string) (int32, error) {
	return e.ids.LookupOrInsert(e.hash(s), e.matches(s), func(int32) (int32, error) {
		return e.log.Append([]byte(s))
	})
}

// TryEnumerate returns the id of s, or NoID if s was never enumerated
func (e *Enumerator) TryEnumerate(s string) (int32, error) {
	return e.ids.Lookup(e.hash(s), e.matches(s))
}

// ValueOf returns the string with the given id
func (e *Enumerator) ValueOf(id int32) (string, error) {
	data, err := e.log.Read(id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ForEach visits every string in id order. process must not enumerate.
func (e *Enumerator) ForEach(process StringProcessor) (bool, error) {
	return e.log.ForEach(func(id int32, data []byte) (bool, error) {
		return process(id, string(data))
	})
}

// Size returns the number of enumerated strings
func (e *Enumerator) Size() int {
	return e.log.RecordsCount()
}

// Flush persists the log before the index, so the index never refers to
// a string that is not on disk
func (e *Enumerator) Flush() error {
	if err := e.log.Flush(); err != nil {
		return err
	}
	return e.ids.Flush()
}

// Close closes the log and the index
func (e *Enumerator) Close() error {
	return imerrors.NewMultiError([]error{e.log.Close(), e.ids.Close()}).ErrorOrNil()
}

// CloseAndClean closes the enumerator and removes its files
func (e *Enumerator) CloseAndClean() error {
	return imerrors.NewMultiError([]error{e.log.CloseAndClean(), e.ids.CloseAndClean()}).ErrorOrNil()
}

func (e *Enumerator) String() string {
	if e.dir == "" {
		return fmt.Sprintf("Enumerator[in-memory, %d strings]", e.Size())
	}
	return fmt.Sprintf("Enumerator[%s, %d strings]", e.dir, e.Size())
}

// matches accepts the ids whose logged string equals s
func (e *Enumerator) matches(s string) durable.ValueAcceptor {
	return func(id int32) (bool, error) {
		data, err := e.log.Read(id)
		if err != nil {
			return false, err
		}
		return string(data) == s, nil
	}
}

func (e *Enumerator) rebuild() error {
	if err := e.ids.Clear(); err != nil {
		return err
	}
	_, err := e.log.ForEach(func(id int32, data []byte) (bool, error) {
		_, err := e.ids.Put(e.hash(string(data)), id)
		return err == nil, err
	})
	if err != nil {
		return err
	}
	return e.ids.Flush()
}

// hashString folds xxhash64 to 32 bits; 0 is reserved as NoValue
func hashString(s string) int32 {
	h := xxhash.Sum64String(s)
	folded := int32(uint32(h) ^ uint32(h>>32))
	if folded == durable.NoValue {
		return 1
	}
	return folded
}
