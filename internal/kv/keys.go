package kv

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Key encoding helpers shared by every index manager. Integer components are
// zero-padded so lexicographic byte order equals numeric order, matching the
// specification's column-family key table.

// EntityKey builds the entities CF key for (tenant, id).
func EntityKey(tenant, id string) []byte {
	return []byte(fmt.Sprintf("ent:%s:%s", tenant, id))
}

// EntityPrefix builds the tenant-scoped prefix for scanning all entities.
func EntityPrefix(tenant string) []byte {
	return []byte(fmt.Sprintf("ent:%s:", tenant))
}

// SchemaKey builds the schemas CF key for (tenant, short_name).
func SchemaKey(tenant, shortName string) []byte {
	return []byte(fmt.Sprintf("sch:%s:%s", tenant, shortName))
}

// SchemaPrefix builds the tenant-scoped prefix for listing schemas.
func SchemaPrefix(tenant string) []byte {
	return []byte(fmt.Sprintf("sch:%s:", tenant))
}

// EdgeOutKey builds the edges_out CF key.
func EdgeOutKey(tenant, src, edgeType, dst string) []byte {
	return []byte(fmt.Sprintf("eo:%s:%s:%s:%s", tenant, src, edgeType, dst))
}

// EdgeOutPrefix scans outgoing neighbors of src, optionally filtered by type
// when edgeType is non-empty.
func EdgeOutPrefix(tenant, src, edgeType string) []byte {
	if edgeType == "" {
		return []byte(fmt.Sprintf("eo:%s:%s:", tenant, src))
	}
	return []byte(fmt.Sprintf("eo:%s:%s:%s:", tenant, src, edgeType))
}

// EdgeInKey builds the edges_in CF key.
func EdgeInKey(tenant, dst, edgeType, src string) []byte {
	return []byte(fmt.Sprintf("ei:%s:%s:%s:%s", tenant, dst, edgeType, src))
}

// EdgeInPrefix scans incoming neighbors of dst, optionally filtered by type.
func EdgeInPrefix(tenant, dst, edgeType string) []byte {
	if edgeType == "" {
		return []byte(fmt.Sprintf("ei:%s:%s:", tenant, dst))
	}
	return []byte(fmt.Sprintf("ei:%s:%s:%s:", tenant, dst, edgeType))
}

// KeyIndexKey builds the key_index CF key for a user key value.
func KeyIndexKey(tenant, schema, keyValue string) []byte {
	return []byte(fmt.Sprintf("key:%s:%s:%s", tenant, schema, keyValue))
}

// KeyIndexPrefix scopes a key-index scan to (tenant, schema), used for
// fuzzy/prefix lookup fallback.
func KeyIndexPrefix(tenant, schema string) []byte {
	return []byte(fmt.Sprintf("key:%s:%s:", tenant, schema))
}

// ColIndexKey builds the col_index CF key. encodedValue must already be in
// sortable form (see EncodeSortable).
func ColIndexKey(tenant, schema, column string, encodedValue []byte, id string) []byte {
	return []byte(fmt.Sprintf("col:%s:%s:%s:%s:%s", tenant, schema, column, encodedValue, id))
}

// ColIndexPrefix scopes a column scan to an equality/range predicate on
// (tenant, schema, column).
func ColIndexPrefix(tenant, schema, column string) []byte {
	return []byte(fmt.Sprintf("col:%s:%s:%s:", tenant, schema, column))
}

// InvertedKey builds the inverted CF key for a posting.
func InvertedKey(tenant, schema, term, id string) []byte {
	return []byte(fmt.Sprintf("inv:%s:%s:%s:%s", tenant, schema, term, id))
}

// InvertedTermPrefix scopes a postings-list scan to one term.
func InvertedTermPrefix(tenant, schema, term string) []byte {
	return []byte(fmt.Sprintf("inv:%s:%s:%s:", tenant, schema, term))
}

// VectorKey builds the vectors CF key.
func VectorKey(tenant, schema, id string) []byte {
	return []byte(fmt.Sprintf("vec:%s:%s:%s", tenant, schema, id))
}

// VectorPrefix scopes a scan to every vector of (tenant, schema).
func VectorPrefix(tenant, schema string) []byte {
	return []byte(fmt.Sprintf("vec:%s:%s:", tenant, schema))
}

// HNSWNodeKey builds the hnsw_graph CF key for one node's adjacency list at
// one layer.
func HNSWNodeKey(tenant, schema string, layer int, nodeID string) []byte {
	return []byte(fmt.Sprintf("hnsw:%s:%s:%s:%s", tenant, schema, padInt(layer, 4), nodeID))
}

// HNSWLayerPrefix scopes a scan to every node at one layer of (tenant,
// schema)'s index.
func HNSWLayerPrefix(tenant, schema string, layer int) []byte {
	return []byte(fmt.Sprintf("hnsw:%s:%s:%s:", tenant, schema, padInt(layer, 4)))
}

// MomentKey builds the moments CF key, ordered by timestamp then id.
func MomentKey(tenant string, tsMicros int64, id string) []byte {
	return []byte(fmt.Sprintf("mom:%s:%s:%s", tenant, padInt64(tsMicros, 20), id))
}

// MomentRangeKeys returns the [start, end) key range covering
// [fromMicros, toMicros] for a tenant's moment scan.
func MomentRangeKeys(tenant string, fromMicros, toMicros int64) (start, end []byte) {
	start = []byte(fmt.Sprintf("mom:%s:%s:", tenant, padInt64(fromMicros, 20)))
	end = []byte(fmt.Sprintf("mom:%s:%s:~", tenant, padInt64(toMicros, 20)))
	return start, end
}

// WALKey builds the wal CF key from a zero-padded sequence number, so
// lexicographic order equals numeric order.
func WALKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("wal:%s", padUint64(seq, 20)))
}

// WALFromKey builds the inclusive lower bound for scanning the WAL from seq
// onward.
func WALFromKey(seq uint64) []byte {
	return WALKey(seq)
}

// WALPrefix is the prefix common to every WAL key.
var WALPrefix = []byte("wal:")

// MetaKey builds the meta CF key for an engine bookkeeping entry.
func MetaKey(k string) []byte {
	return []byte(fmt.Sprintf("meta:%s", k))
}

func padInt(n, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}

func padInt64(n int64, width int) string {
	// No shift is applied, so negative values do not sort numerically;
	// timestamps here are wall-clock microseconds and non-negative.
	return fmt.Sprintf("%0*d", width, n)
}

func padUint64(n uint64, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}

// EncodeSortable encodes a column value into a byte form whose lexicographic
// order equals the natural order of the original value, per the
// specification's canonicalisation rule: numbers as fixed-width big-endian
// with sign flip, strings as-is, booleans as a single byte.
func EncodeSortable(v any) []byte {
	switch t := v.(type) {
	case float64:
		return encodeFloat64(t)
	case float32:
		return encodeFloat64(float64(t))
	case int:
		return encodeFloat64(float64(t))
	case int64:
		return encodeFloat64(float64(t))
	case bool:
		if t {
			return []byte{1}
		}
		return []byte{0}
	case string:
		return []byte(t)
	default:
		return []byte(fmt.Sprintf("%v", t))
	}
}

// encodeFloat64 produces an 8-byte big-endian encoding that sorts correctly
// for both positive and negative IEEE-754 doubles: flip the sign bit for
// positive numbers, invert all bits for negative numbers.
func encodeFloat64(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}
