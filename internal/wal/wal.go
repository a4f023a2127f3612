// Package wal is the write-ahead log: an append-only, JSON-serialised
// sequence of logical write operations in its own column family, driving
// durability replay and replication. Entries are JSON rather than a
// binary encoding so a follower running a different build can still
// decode them off the wire.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"sync/atomic"

	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/perrors"
)

var seqMetaKey = kv.MetaKey("wal_seq")

// Log owns sequence allocation and read/append access to the wal CF.
type Log struct {
	store *kv.Store
	seq   atomic.Uint64 // last allocated sequence; 0 means none yet
}

// Open loads the persisted sequence counter (0 if the database is new).
func Open(store *kv.Store) (*Log, error) {
	l := &Log{store: store}
	raw, ok, err := store.Get(kv.CFMeta, seqMetaKey)
	if err != nil {
		return nil, err
	}
	if ok && len(raw) == 8 {
		l.seq.Store(decodeUint64(raw))
	}
	return l, nil
}

// NextSeq allocates the next sequence number without persisting it; the
// caller must include the counter-update op (CounterOp) in the same batch
// as AppendOp so an aborted batch never advances the persisted counter
// past what was actually written.
func (l *Log) NextSeq() uint64 {
	return l.seq.Add(1)
}

// AppendOp builds the kv.Op that stages entry into the wal CF.
func AppendOp(entry *model.WalEntry) (kv.Op, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Put(kv.CFWAL, kv.WALKey(entry.Seq), raw), nil
}

// CounterOp builds the kv.Op that persists seq as the new high-water mark.
func CounterOp(seq uint64) kv.Op {
	return kv.Put(kv.CFMeta, seqMetaKey, encodeUint64(seq))
}

// LocalSeq returns the last sequence this log has allocated (for a primary)
// or applied (for a follower, where the caller advances it via
// AdvanceApplied).
func (l *Log) LocalSeq() uint64 {
	return l.seq.Load()
}

// AdvanceApplied records seq as applied, used by a follower after it
// commits a replicated batch; it never moves the counter backward.
func (l *Log) AdvanceApplied(seq uint64) {
	for {
		curr := l.seq.Load()
		if seq <= curr {
			return
		}
		if l.seq.CompareAndSwap(curr, seq) {
			return
		}
	}
}

// ReadFrom returns every WAL entry with seq >= from, in order.
func (l *Log) ReadFrom(from uint64) ([]*model.WalEntry, error) {
	rows, err := l.store.RangeScan(kv.CFWAL, kv.WALFromKey(from), nil)
	if err != nil {
		return nil, err
	}
	out := make([]*model.WalEntry, 0, len(rows))
	for _, row := range rows {
		var e model.WalEntry
		if err := json.Unmarshal(row.Value, &e); err != nil {
			return nil, perrors.FatalCorruption("decode wal entry", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// CompactBefore removes WAL entries with seq strictly less than before, in
// one batch, implementing the retention policy.
func (l *Log) CompactBefore(before uint64) error {
	rows, err := l.store.PrefixScan(kv.CFWAL, kv.WALPrefix)
	if err != nil {
		return err
	}
	var ops []kv.Op
	for _, row := range rows {
		var e model.WalEntry
		if err := json.Unmarshal(row.Value, &e); err != nil {
			return perrors.FatalCorruption("decode wal entry during compaction", err)
		}
		if e.Seq < before {
			ops = append(ops, kv.Delete(kv.CFWAL, row.Key))
		}
	}
	if len(ops) == 0 {
		return nil
	}
	return l.store.BatchCommit(ops)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
