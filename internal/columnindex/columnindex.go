// Package columnindex maintains one secondary index per indexed_columns
// entry, supporting equality and range scans whose byte order equals the
// natural order of the encoded value.
package columnindex

import (
	"strings"
	"sync"

	"github.com/percolate-dev/percolate-core/internal/kv"
)

// Index wraps the col_index CF plus a lightweight per-column cardinality
// histogram the planner consults for predicate selection.
type Index struct {
	store *kv.Store

	mu        sync.Mutex
	histogram map[string]int // "tenant\x00schema\x00column\x00value" -> approx count
}

func New(store *kv.Store) *Index {
	return &Index{store: store, histogram: make(map[string]int)}
}

// presentMarker is the value stored for every col_index entry. The column
// index only needs key presence, but kv.Op treats a nil Value as a delete,
// so puts carry this one-byte non-nil marker instead of an empty value.
var presentMarker = []byte{1}

// PutOp stages an index entry for (column, value, id).
func PutOp(tenant, schema, column string, value any, id string) kv.Op {
	encoded := kv.EncodeSortable(value)
	return kv.Put(kv.CFColIndex, kv.ColIndexKey(tenant, schema, column, encoded, id), presentMarker)
}

// DeleteOp stages removal of the index entry for (column, value, id).
func DeleteOp(tenant, schema, column string, value any, id string) kv.Op {
	encoded := kv.EncodeSortable(value)
	return kv.Delete(kv.CFColIndex, kv.ColIndexKey(tenant, schema, column, encoded, id))
}

// Equal returns every entity id indexed under column == value.
func (i *Index) Equal(tenant, schema, column string, value any) ([]string, error) {
	encoded := kv.EncodeSortable(value)
	prefix := append(kv.ColIndexPrefix(tenant, schema, column), encoded...)
	prefix = append(prefix, ':') // stop "tech" from matching "technology"
	rows, err := i.store.PrefixScan(kv.CFColIndex, prefix)
	if err != nil {
		return nil, err
	}
	return idsFromRows(tenant, schema, column, rows), nil
}

// Range returns every entity id indexed under column within [from, to)
// (either bound may be nil for an open range).
func (i *Index) Range(tenant, schema, column string, from, to any) ([]string, error) {
	base := kv.ColIndexPrefix(tenant, schema, column)
	var start, end []byte
	start = base
	if from != nil {
		start = append(append([]byte(nil), base...), kv.EncodeSortable(from)...)
	}
	if to != nil {
		end = append(append([]byte(nil), base...), kv.EncodeSortable(to)...)
	}
	rows, err := i.store.RangeScan(kv.CFColIndex, start, end)
	if err != nil {
		return nil, err
	}
	return idsFromRows(tenant, schema, column, rows), nil
}

func idsFromRows(tenant, schema, column string, rows []kv.KV) []string {
	prefix := string(kv.ColIndexPrefix(tenant, schema, column))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		rest := strings.TrimPrefix(string(row.Key), prefix)
		// rest is "{encoded_value}:{id}"; the id is whatever follows the
		// last colon. Encoded values may contain colon bytes (binary
		// numbers, free-form strings), but ids are UUIDs and never do.
		idx := strings.LastIndex(rest, ":")
		if idx < 0 {
			continue
		}
		ids = append(ids, rest[idx+1:])
	}
	return ids
}

// EstimateCardinality returns the lazily-refreshed approximate number of
// distinct entities matching column == value, used by the planner to choose
// between multiple index-eligible predicates.
func (i *Index) EstimateCardinality(tenant, schema, column string, value any) int {
	key := tenant + "\x00" + schema + "\x00" + column + "\x00" + string(kv.EncodeSortable(value))
	i.mu.Lock()
	defer i.mu.Unlock()
	if n, ok := i.histogram[key]; ok {
		return n
	}
	ids, err := i.Equal(tenant, schema, column, value)
	n := 0
	if err == nil {
		n = len(ids)
	}
	i.histogram[key] = n
	return n
}

// InvalidateCardinality drops the cached estimate for (column, value), after
// a write changes its population.
func (i *Index) InvalidateCardinality(tenant, schema, column string, value any) {
	key := tenant + "\x00" + schema + "\x00" + column + "\x00" + string(kv.EncodeSortable(value))
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.histogram, key)
}
