package wal

import (
	"path/filepath"
	"testing"

	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/model"
)

func openTestLog(t *testing.T) (*kv.Store, *Log) {
	t.Helper()
	store, err := kv.Open(filepath.Join(t.TempDir(), "percolate.db"), 16)
	if err != nil {
		t.Fatalf("kv.Open returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log, err := Open(store)
	if err != nil {
		t.Fatalf("wal.Open returned error: %v", err)
	}
	return store, log
}

func appendEntry(t *testing.T, store *kv.Store, log *Log, tenant, entityID string) *model.WalEntry {
	t.Helper()
	seq := log.NextSeq()
	entry := &model.WalEntry{
		Seq:        seq,
		TenantID:   tenant,
		Op:         model.WalOpInsert,
		EntityID:   entityID,
		SchemaName: "document",
		Payload:    []byte(`{"title":"x"}`),
	}
	appendOp, err := AppendOp(entry)
	if err != nil {
		t.Fatalf("AppendOp returned error: %v", err)
	}
	if err := store.BatchCommit([]kv.Op{appendOp, CounterOp(seq)}); err != nil {
		t.Fatalf("BatchCommit returned error: %v", err)
	}
	return entry
}

func TestNextSeqMonotonic(t *testing.T) {
	_, log := openTestLog(t)
	first := log.NextSeq()
	second := log.NextSeq()
	if second != first+1 {
		t.Fatalf("NextSeq should be monotonically increasing, got %d then %d", first, second)
	}
}

func TestAppendAndReadFrom(t *testing.T) {
	store, log := openTestLog(t)

	appendEntry(t, store, log, "tenant-1", "e1")
	appendEntry(t, store, log, "tenant-1", "e2")
	appendEntry(t, store, log, "tenant-1", "e3")

	entries, err := log.ReadFrom(2)
	if err != nil {
		t.Fatalf("ReadFrom returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries from seq 2, got %d", len(entries))
	}
	if entries[0].EntityID != "e2" || entries[1].EntityID != "e3" {
		t.Fatalf("entries out of order: %+v", entries)
	}
}

func TestLocalSeqPersistsAcrossReopen(t *testing.T) {
	store, log := openTestLog(t)
	appendEntry(t, store, log, "tenant-1", "e1")
	appendEntry(t, store, log, "tenant-1", "e2")

	reopened, err := Open(store)
	if err != nil {
		t.Fatalf("re-Open returned error: %v", err)
	}
	if reopened.LocalSeq() != 2 {
		t.Fatalf("LocalSeq after reopen = %d, want 2", reopened.LocalSeq())
	}
}

func TestAdvanceAppliedNeverMovesBackward(t *testing.T) {
	_, log := openTestLog(t)
	log.AdvanceApplied(10)
	log.AdvanceApplied(3)
	if log.LocalSeq() != 10 {
		t.Fatalf("LocalSeq = %d, AdvanceApplied should never move the counter backward", log.LocalSeq())
	}
}

func TestCompactBeforeRemovesOnlyOlderEntries(t *testing.T) {
	store, log := openTestLog(t)
	appendEntry(t, store, log, "tenant-1", "e1")
	appendEntry(t, store, log, "tenant-1", "e2")
	appendEntry(t, store, log, "tenant-1", "e3")

	if err := log.CompactBefore(3); err != nil {
		t.Fatalf("CompactBefore returned error: %v", err)
	}

	entries, err := log.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Seq != 3 {
		t.Fatalf("expected only seq 3 to survive compaction, got %+v", entries)
	}
}
