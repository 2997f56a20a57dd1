// Package store wraps the pebble keyspace shared by threads, messages and
// participant projections.
package store

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/store/keys"
)

// ErrNotOpen is returned by every operation on a closed or unopened DB.
var ErrNotOpen = errors.New("pebble not opened; call store.Open first")

type Options struct {
	Path string
	// InMemory opens the store on an in-memory filesystem; Path is ignored.
	InMemory bool
	// Sync forces an fsync on every committed batch.
	Sync         bool
	MemTableSize int64
	CacheSize    int64
}

type DB struct {
	mu   sync.RWMutex
	db   *pebble.DB
	path string
	sync bool
}

func Open(opts Options) (*DB, error) {
	popts := &pebble.Options{}
	if opts.InMemory {
		popts.FS = vfs.NewMem()
	}
	if opts.MemTableSize > 0 {
		popts.MemTableSize = uint64(opts.MemTableSize)
	}
	if opts.CacheSize > 0 {
		c := pebble.NewCache(opts.CacheSize)
		defer c.Unref()
		popts.Cache = c
	}
	path := opts.Path
	if opts.InMemory {
		path = ""
	}
	pdb, err := pebble.Open(path, popts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, errors.Wrapf(err, "open pebble at %q", path)
	}
	s := &DB{db: pdb, path: path, sync: opts.Sync}
	if err := s.ensureVersion(); err != nil {
		_ = pdb.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a throwaway store, used by tests and tooling.
func OpenInMemory() (*DB, error) {
	return Open(Options{InMemory: true})
}

func (s *DB) ensureVersion() error {
	v, closer, err := s.db.Get([]byte(keys.SystemVersionKey))
	if err == nil {
		defer closer.Close()
		if string(v) != keys.SchemaVersion {
			return errors.Newf("unsupported schema version %q (want %s)", v, keys.SchemaVersion)
		}
		return nil
	}
	if !IsNotFound(err) {
		return err
	}
	return s.db.Set([]byte(keys.SystemVersionKey), []byte(keys.SchemaVersion), pebble.Sync)
}

func (s *DB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *DB) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

func (s *DB) Path() string { return s.path }

func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

func (s *DB) writeOpt() *pebble.WriteOptions {
	if s.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Get returns a copy of the value stored at key.
func (s *DB) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotOpen
	}
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if !IsNotFound(err) {
			logger.Error("get_key_failed", "key", key, "error", err)
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Batch collects writes that commit atomically.
type Batch struct {
	b *pebble.Batch
}

func (s *DB) NewBatch() *Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return &Batch{}
	}
	return &Batch{b: s.db.NewBatch()}
}

func (b *Batch) Set(key string, value []byte) error {
	if b.b == nil {
		return ErrNotOpen
	}
	return b.b.Set([]byte(key), value, nil)
}

func (b *Batch) Delete(key string) error {
	if b.b == nil {
		return ErrNotOpen
	}
	return b.b.Delete([]byte(key), nil)
}

// DeletePrefix removes every key starting with prefix.
func (b *Batch) DeletePrefix(prefix string) error {
	if b.b == nil {
		return ErrNotOpen
	}
	return b.b.DeleteRange([]byte(prefix), keys.PrefixUpperBound(prefix), nil)
}

func (b *Batch) Len() int {
	if b.b == nil {
		return 0
	}
	return int(b.b.Count())
}

func (b *Batch) Close() {
	if b.b != nil {
		_ = b.b.Close()
		b.b = nil
	}
}

// Apply commits b; the batch is closed afterwards either way.
func (s *DB) Apply(b *Batch) error {
	defer b.Close()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil || b.b == nil {
		return ErrNotOpen
	}
	if err := s.db.Apply(b.b, s.writeOpt()); err != nil {
		logger.Error("batch_apply_failed", "ops", b.b.Count(), "error", err)
		return err
	}
	return nil
}

// Visit is called for each entry; returning false stops iteration.
type Visit func(key, value []byte) (bool, error)

// Scan walks keys in [lower, upper) forward, or backward when reverse is set.
// Key and value slices are only valid during the callback.
func (s *DB) Scan(lower, upper []byte, reverse bool, fn Visit) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrNotOpen
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	var valid bool
	if reverse {
		valid = iter.Last()
	} else {
		valid = iter.First()
	}
	for ; valid; valid = step(iter, reverse) {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func step(iter *pebble.Iterator, reverse bool) bool {
	if reverse {
		return iter.Prev()
	}
	return iter.Next()
}

// ScanPrefix walks every key with the given prefix.
func (s *DB) ScanPrefix(prefix string, reverse bool, fn Visit) error {
	return s.Scan([]byte(prefix), keys.PrefixUpperBound(prefix), reverse, fn)
}

// DiskUsage reports the bytes pebble holds on disk.
func (s *DB) DiskUsage() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0
	}
	return s.db.Metrics().DiskSpaceUsage()
}

// Flush forces memtables to disk.
func (s *DB) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrNotOpen
	}
	return s.db.Flush()
}
