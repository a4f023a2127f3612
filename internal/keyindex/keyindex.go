// Package keyindex supports exact-match lookup by a schema's declared key
// field in one get, plus a bounded fuzzy fallback scan, per the
// specification's key_index column family.
package keyindex

import (
	"strings"

	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/perrors"
)

const maxFuzzyResults = 20

// Index wraps the key_index CF.
type Index struct {
	store *kv.Store
}

func New(store *kv.Store) *Index { return &Index{store: store} }

// PutOp stages the key-index entry mapping keyValue to id.
func PutOp(tenant, schema, keyValue, id string) kv.Op {
	return kv.Put(kv.CFKeyIndex, kv.KeyIndexKey(tenant, schema, keyValue), []byte(id))
}

// DeleteOp stages removal of the key-index entry for keyValue.
func DeleteOp(tenant, schema, keyValue string) kv.Op {
	return kv.Delete(kv.CFKeyIndex, kv.KeyIndexKey(tenant, schema, keyValue))
}

// Lookup resolves keyValue to an entity id, or NotFound.
func (i *Index) Lookup(tenant, schema, keyValue string) (string, error) {
	raw, ok, err := i.store.Get(kv.CFKeyIndex, kv.KeyIndexKey(tenant, schema, keyValue))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", perrors.NotFound("no entity for key")
	}
	return string(raw), nil
}

// FuzzyLookup returns up to maxFuzzyResults ids whose key value is within
// maxDistance edits of keyValue, scanning the tenant+schema scoped key
// space. Intended as the planner's fallback when an exact LOOKUP misses.
func (i *Index) FuzzyLookup(tenant, schema, keyValue string, maxDistance int) ([]string, error) {
	rows, err := i.store.PrefixScan(kv.CFKeyIndex, kv.KeyIndexPrefix(tenant, schema))
	if err != nil {
		return nil, err
	}
	prefix := kv.KeyIndexPrefix(tenant, schema)
	var ids []string
	for _, row := range rows {
		candidate := strings.TrimPrefix(string(row.Key), string(prefix))
		if editDistance(candidate, keyValue) <= maxDistance {
			ids = append(ids, string(row.Value))
			if len(ids) >= maxFuzzyResults {
				break
			}
		}
	}
	return ids, nil
}

// editDistance computes Levenshtein distance between a and b.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
