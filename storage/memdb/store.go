// Package memdb is an in-memory storage.Store used by tests, mirroring the
// original implementation's TemporaryDB test fixture (exonum's node/mod.rs tests construct
// a TemporaryDB for every unit test rather than touching disk).
package memdb

import (
	"sync"

	"github.com/sigma67/tendercore/storage"
)

// Store is a storage.Store backed by a single in-memory map guarded by a
// mutex; forks copy-on-write over a point-in-time snapshot of that map.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Close() error { return nil }

func (s *Store) Snapshot() storage.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		copied[k] = v
	}
	return &snap{data: copied}
}

func (s *Store) Fork() storage.Fork {
	return &fork{base: s.Snapshot().(*snap), writes: make(map[string][]byte), deleted: make(map[string]bool)}
}

func (s *Store) Merge(f storage.Fork) error {
	fk, ok := f.(*fork)
	if !ok {
		return storageErr("memdb: merge: fork not produced by this store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range fk.deleted {
		delete(s.data, k)
	}
	for k, v := range fk.writes {
		s.data[k] = v
	}
	return nil
}

type storageErr string

func (e storageErr) Error() string { return string(e) }

type snap struct{ data map[string][]byte }

func (s *snap) Get(key []byte) ([]byte, bool) { v, ok := s.data[string(key)]; return v, ok }
func (s *snap) Has(key []byte) bool           { _, ok := s.data[string(key)]; return ok }
func (s *snap) Release()                      {}

type fork struct {
	base    *snap
	writes  map[string][]byte
	deleted map[string]bool
}

func (f *fork) Get(key []byte) ([]byte, bool) {
	k := string(key)
	if f.deleted[k] {
		return nil, false
	}
	if v, ok := f.writes[k]; ok {
		return v, true
	}
	return f.base.Get(key)
}

func (f *fork) Put(key, value []byte) {
	k := string(key)
	delete(f.deleted, k)
	f.writes[k] = append([]byte(nil), value...)
}

func (f *fork) Delete(key []byte) {
	k := string(key)
	delete(f.writes, k)
	f.deleted[k] = true
}
