// Package leveldb provides the one production-shaped storage.Store
// implementation, backed by github.com/syndtr/goleveldb/leveldb — a direct
// dependency of the teacher's go.mod (and of tolelom-tolchain's), used here
// the way go-ethereum's ethdb package wraps it: Snapshot via the engine's
// own snapshot support, Fork as a batch with an overlay for read-your-writes.
package leveldb

import (
	"bytes"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	goleveldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/sigma67/tendercore/storage"
)

// Store is a storage.Store backed by a single goleveldb database handle.
type Store struct {
	mu sync.RWMutex
	db *leveldb.DB
}

// Open opens (or creates) a leveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Snapshot returns an immutable view backed by leveldb's native snapshot.
func (s *Store) Snapshot() storage.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, err := s.db.GetSnapshot()
	if err != nil {
		// A snapshot can only fail to open if the db is already closed,
		// which is a programming error for this capability's contract.
		panic(err)
	}
	return &dbSnapshot{snap: snap}
}

// Fork returns a writable delta over the current committed state.
func (s *Store) Fork() storage.Fork {
	return &dbFork{
		store:   s,
		batch:   new(leveldb.Batch),
		overlay: make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// Merge atomically commits f's writes.
func (s *Store) Merge(f storage.Fork) error {
	fork, ok := f.(*dbFork)
	if !ok {
		return storageErr("merge: fork not produced by this store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Write(fork.batch, nil)
}

type storageErr string

func (e storageErr) Error() string { return string(e) }

type dbSnapshot struct {
	mu   sync.Mutex
	snap *leveldb.Snapshot
}

func (d *dbSnapshot) Get(key []byte) ([]byte, bool) {
	v, err := d.snap.Get(key, nil)
	if err != nil {
		if err == goleveldbErrors.ErrNotFound {
			return nil, false
		}
		return nil, false
	}
	return v, true
}

func (d *dbSnapshot) Has(key []byte) bool {
	ok, err := d.snap.Has(key, nil)
	return err == nil && ok
}

func (d *dbSnapshot) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap.Release()
}

// dbFork is a batch of pending writes plus an overlay so reads observe the
// fork's own uncommitted writes (read-your-writes), falling back to the
// store's committed state underneath.
type dbFork struct {
	store   *Store
	batch   *leveldb.Batch
	overlay map[string][]byte
	deleted map[string]bool
}

func (f *dbFork) Get(key []byte) ([]byte, bool) {
	k := string(key)
	if f.deleted[k] {
		return nil, false
	}
	if v, ok := f.overlay[k]; ok {
		return v, true
	}
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	v, err := f.store.db.Get(key, nil)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (f *dbFork) Put(key, value []byte) {
	k := string(key)
	delete(f.deleted, k)
	f.overlay[k] = append([]byte(nil), value...)
	f.batch.Put(key, value)
}

func (f *dbFork) Delete(key []byte) {
	k := string(key)
	delete(f.overlay, k)
	f.deleted[k] = true
	f.batch.Delete(key)
}

// keyLess orders keys the way leveldb iterates them, exposed for callers
// that want deterministic traversal over an overlay.
func keyLess(a, b []byte) bool { return bytes.Compare(a, b) < 0 }
