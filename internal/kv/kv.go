// Package kv is the storage layer: it owns the store handle, defines the
// column families, and exposes typed atomic batch operations over an
// embedded bbolt database, one bucket per column family. Reads are
// fronted by an LRU cache so repeated point gets on hot entities and
// schemas skip the bolt transaction entirely; every write invalidates
// the cached key as part of the same batch that commits it.
package kv

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/percolate-dev/percolate-core/internal/perrors"
)

// Column families, one bucket per name. Key encoding for each is the
// responsibility of the index manager that owns it.
const (
	CFEntities   = "entities"
	CFSchemas    = "schemas"
	CFEdgesOut   = "edges_out"
	CFEdgesIn    = "edges_in"
	CFKeyIndex   = "key_index"
	CFColIndex   = "col_index"
	CFInverted   = "inverted"
	CFVectors    = "vectors"
	CFHNSWGraph  = "hnsw_graph"
	CFMoments    = "moments"
	CFWAL        = "wal"
	CFMeta       = "meta"
)

var allCFs = []string{
	CFEntities, CFSchemas, CFEdgesOut, CFEdgesIn, CFKeyIndex, CFColIndex,
	CFInverted, CFVectors, CFHNSWGraph, CFMoments, CFWAL, CFMeta,
}

// Op is one write staged into an atomic BatchCommit. A nil Value deletes
// Key; any other Value (including an empty, non-nil slice) puts it.
type Op struct {
	CF    string
	Key   []byte
	Value []byte
}

func put(cf string, key, value []byte) Op    { return Op{CF: cf, Key: key, Value: value} }
func del(cf string, key []byte) Op           { return Op{CF: cf, Key: key, Value: nil} }

// Put builds a put Op for cf.
func Put(cf string, key, value []byte) Op { return put(cf, key, value) }

// Delete builds a delete Op for cf.
func Delete(cf string, key []byte) Op { return del(cf, key) }

// Store wraps a single bbolt database file and provides the CF-scoped
// put/get/delete/prefix-iterate/batch-commit operations upper layers use.
// It is safe for concurrent use; bbolt serializes writers internally and
// permits unlimited concurrent readers via MVCC snapshots.
type Store struct {
	db *bolt.DB

	cacheMu sync.RWMutex
	cache   *lru.Cache[string, []byte]
}

// Open opens (creating if absent) the bbolt file at path and ensures every
// column family bucket exists, all in one update transaction, so later
// code never has to check for a missing bucket.
func Open(path string, cacheSize int) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, perrors.DependencyUnavailable(fmt.Sprintf("open store at %s", path), err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, cf := range allCFs {
			if _, err := tx.CreateBucketIfNotExists([]byte(cf)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, perrors.FatalCorruption("create column families", err)
	}

	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, cache: cache}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func cacheKey(cf string, key []byte) string {
	return cf + "\x00" + string(key)
}

// Get returns the value stored for key in cf, and whether it was present.
// Reads for CFEntities and CFSchemas are served from the LRU cache when hot;
// other CFs are read straight from the store since they are already
// accessed via prefix scans rather than point gets in the hot path.
func (s *Store) Get(cf string, key []byte) ([]byte, bool, error) {
	if cf == CFEntities || cf == CFSchemas {
		if v, ok := s.cache.Get(cacheKey(cf, key)); ok {
			if v == nil {
				return nil, false, nil
			}
			return v, true, nil
		}
	}

	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("kv: unknown column family %q", cf)
		}
		if v := b.Get(key); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if cf == CFEntities || cf == CFSchemas {
		s.cache.Add(cacheKey(cf, key), value)
	}
	return value, value != nil, nil
}

// Put writes a single key/value pair in its own batch.
func (s *Store) Put(cf string, key, value []byte) error {
	return s.BatchCommit([]Op{put(cf, key, value)})
}

// DeleteKey removes a single key in its own batch.
func (s *Store) DeleteKey(cf string, key []byte) error {
	return s.BatchCommit([]Op{del(cf, key)})
}

// BatchCommit applies every op atomically: either all of them land in one
// bbolt transaction, or none do. The LRU cache is invalidated for every
// touched entities/schemas key as part of the same call, never left stale
// after a successful commit.
func (s *Store) BatchCommit(ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			b := tx.Bucket([]byte(op.CF))
			if b == nil {
				return fmt.Errorf("kv: unknown column family %q", op.CF)
			}
			if op.Value == nil {
				if err := b.Delete(op.Key); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(op.Key, op.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return perrors.FatalCorruption("batch commit", err)
	}

	for _, op := range ops {
		if op.CF == CFEntities || op.CF == CFSchemas {
			s.cache.Remove(cacheKey(op.CF, op.Key))
		}
	}
	return nil
}

// KV is one key/value pair returned by a prefix scan.
type KV struct {
	Key   []byte
	Value []byte
}

// PrefixScan returns every key/value pair in cf whose key starts with
// prefix, in lexicographic (and therefore tenant- and order-preserving)
// key order, as of a single consistent snapshot.
func (s *Store) PrefixScan(cf string, prefix []byte) ([]KV, error) {
	var results []KV
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("kv: unknown column family %q", cf)
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			results = append(results, KV{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RangeScan returns every key/value pair in cf with key in [start, end)
// (end exclusive; a nil end scans to the end of the bucket).
func (s *Store) RangeScan(cf string, start, end []byte) ([]KV, error) {
	var results []KV
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("kv: unknown column family %q", cf)
		}
		c := b.Cursor()
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			if end != nil && compareBytes(k, end) >= 0 {
				break
			}
			results = append(results, KV{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ForEach walks every key/value pair in cf in order, stopping early if fn
// returns false.
func (s *Store) ForEach(cf string, fn func(key, value []byte) bool) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("kv: unknown column family %q", cf)
		}
		return b.ForEach(func(k, v []byte) error {
			if !fn(k, v) {
				return errStopIteration
			}
			return nil
		})
	})
	if err == errStopIteration {
		return nil
	}
	return err
}

var errStopIteration = fmt.Errorf("kv: stop iteration")

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}
