package kv

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "percolate.db")
	store, err := Open(path, 16)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGet(t *testing.T) {
	store := openTestStore(t)

	if err := store.Put(CFEntities, []byte("e1"), []byte(`{"id":"e1"}`)); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	value, ok, err := store.Get(CFEntities, []byte("e1"))
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !ok {
		t.Fatal("Get should report the key as present")
	}
	if string(value) != `{"id":"e1"}` {
		t.Fatalf("Get value = %q", value)
	}
}

func TestGetMissingKey(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.Get(CFEntities, []byte("missing"))
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if ok {
		t.Fatal("Get should report a missing key as absent")
	}
}

func TestDeleteKey(t *testing.T) {
	store := openTestStore(t)

	if err := store.Put(CFEntities, []byte("e1"), []byte("v")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := store.DeleteKey(CFEntities, []byte("e1")); err != nil {
		t.Fatalf("DeleteKey returned error: %v", err)
	}

	_, ok, err := store.Get(CFEntities, []byte("e1"))
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if ok {
		t.Fatal("Get should not find a deleted key")
	}
}

func TestBatchCommitAtomicAcrossColumnFamilies(t *testing.T) {
	store := openTestStore(t)

	err := store.BatchCommit([]Op{
		Put(CFEntities, []byte("e1"), []byte("v1")),
		Put(CFKeyIndex, []byte("k1"), []byte("e1")),
	})
	if err != nil {
		t.Fatalf("BatchCommit returned error: %v", err)
	}

	if _, ok, _ := store.Get(CFEntities, []byte("e1")); !ok {
		t.Fatal("entities write from the batch should be visible")
	}
	rows, err := store.PrefixScan(CFKeyIndex, []byte("k1"))
	if err != nil {
		t.Fatalf("PrefixScan returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 key_index row, got %d", len(rows))
	}
}

func TestBatchCommitRejectsUnknownColumnFamily(t *testing.T) {
	store := openTestStore(t)

	err := store.BatchCommit([]Op{Put("not-a-real-cf", []byte("k"), []byte("v"))})
	if err == nil {
		t.Fatal("BatchCommit should fail for an unknown column family")
	}
}

func TestPrefixScanOrdersByKey(t *testing.T) {
	store := openTestStore(t)

	for _, k := range []string{"a:3", "a:1", "a:2", "b:1"} {
		if err := store.Put(CFColIndex, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
	}

	rows, err := store.PrefixScan(CFColIndex, []byte("a:"))
	if err != nil {
		t.Fatalf("PrefixScan returned error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows under prefix a:, got %d", len(rows))
	}
	want := []string{"a:1", "a:2", "a:3"}
	for i, row := range rows {
		if string(row.Key) != want[i] {
			t.Fatalf("row[%d] = %q, want %q", i, row.Key, want[i])
		}
	}
}

func TestRangeScanExclusiveEnd(t *testing.T) {
	store := openTestStore(t)

	for _, k := range []string{"01", "02", "03", "04"} {
		if err := store.Put(CFColIndex, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
	}

	rows, err := store.RangeScan(CFColIndex, []byte("01"), []byte("03"))
	if err != nil {
		t.Fatalf("RangeScan returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows in [01,03), got %d", len(rows))
	}
}

func TestForEachStopsEarly(t *testing.T) {
	store := openTestStore(t)

	for _, k := range []string{"a", "b", "c"} {
		if err := store.Put(CFColIndex, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
	}

	visited := 0
	err := store.ForEach(CFColIndex, func(key, value []byte) bool {
		visited++
		return visited < 2
	})
	if err != nil {
		t.Fatalf("ForEach returned error: %v", err)
	}
	if visited != 2 {
		t.Fatalf("ForEach should stop once fn returns false, visited %d", visited)
	}
}

func TestCacheInvalidatedAfterBatchCommit(t *testing.T) {
	store := openTestStore(t)

	if err := store.Put(CFEntities, []byte("e1"), []byte("v1")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	// Warm the cache.
	if _, _, err := store.Get(CFEntities, []byte("e1")); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	if err := store.Put(CFEntities, []byte("e1"), []byte("v2")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	value, _, err := store.Get(CFEntities, []byte("e1"))
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(value) != "v2" {
		t.Fatalf("Get after update = %q, want v2 (stale cache not invalidated)", value)
	}
}
