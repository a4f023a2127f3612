// Package invertedindex is the optional BM25 postings index used for the
// sparse leg of hybrid search. It is gated per schema by the
// inverted_index_enabled extension flag; when off, HYBRID degenerates to
// a pure vector SEARCH rather than building and maintaining an index no
// query will use.
package invertedindex

import (
	"encoding/binary"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/percolate-dev/percolate-core/internal/kv"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// DefaultK1 and DefaultB are the BM25 tuning constants named in the
// specification.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Tokenize lowercases and splits text into alphanumeric terms.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Index wraps the inverted CF and the BM25 constants k1 and b. It stores
// no document-frequency or document-length aggregates: document frequency
// is counted from the postings at search time, and the caller supplies
// the length figures.
type Index struct {
	store *kv.Store
	k1    float64
	b     float64
}

func New(store *kv.Store, k1, b float64) *Index {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b <= 0 {
		b = DefaultB
	}
	return &Index{store: store, k1: k1, b: b}
}

// Posting is one term's frequency within one document.
type Posting struct {
	Term string
	Freq int
}

// BuildOps tokenises text and returns the put ops for every term's posting,
// replacing any previous postings for id (callers pass the old postings, if
// any, to DeleteOps first).
func BuildOps(tenant, schema, id, text string) []kv.Op {
	counts := map[string]int{}
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	ops := make([]kv.Op, 0, len(counts))
	for term, freq := range counts {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(freq))
		ops = append(ops, kv.Put(kv.CFInverted, kv.InvertedKey(tenant, schema, term, id), buf))
	}
	return ops
}

// DeleteOps removes every posting id has for the given previously-indexed
// text, so a re-embed does not leave stale postings for dropped terms.
func DeleteOps(tenant, schema, id, previousText string) []kv.Op {
	seen := map[string]bool{}
	var ops []kv.Op
	for _, tok := range Tokenize(previousText) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		ops = append(ops, kv.Delete(kv.CFInverted, kv.InvertedKey(tenant, schema, tok, id)))
	}
	return ops
}

// postings returns term's postings (id -> term frequency); its length is
// the term's document frequency.
func (i *Index) postings(tenant, schema, term string) (map[string]int, error) {
	rows, err := i.store.PrefixScan(kv.CFInverted, kv.InvertedTermPrefix(tenant, schema, term))
	if err != nil {
		return nil, err
	}
	prefix := string(kv.InvertedTermPrefix(tenant, schema, term))
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		id := strings.TrimPrefix(string(row.Key), prefix)
		freq := 0
		if len(row.Value) == 8 {
			freq = int(binary.BigEndian.Uint64(row.Value))
		}
		out[id] = freq
	}
	return out, nil
}

// Scored is one BM25-scored hit.
type Scored struct {
	ID    string
	Score float64
}

// Search scores every document containing any query term and returns the
// results sorted by descending BM25 score. avgDocLen and totalDocs are
// supplied by the caller (the executor counts totalDocs from the schema's
// visible entities and passes a fixed avgDocLen of 1); when
// totalDocs is zero, Search returns no results rather than dividing by
// zero.
func (i *Index) Search(tenant, schema, queryText string, avgDocLen float64, totalDocs int, docLen map[string]int) ([]Scored, error) {
	if totalDocs == 0 {
		return nil, nil
	}
	terms := dedupe(Tokenize(queryText))
	scores := map[string]float64{}

	for _, term := range terms {
		postings, err := i.postings(tenant, schema, term)
		if err != nil {
			return nil, err
		}
		n := len(postings)
		if n == 0 {
			continue
		}
		idf := math.Log(1 + (float64(totalDocs)-float64(n)+0.5)/(float64(n)+0.5))
		for id, freq := range postings {
			dl := avgDocLen
			if d, ok := docLen[id]; ok {
				dl = float64(d)
			}
			denom := float64(freq) + i.k1*(1-i.b+i.b*dl/avgDocLenOrOne(avgDocLen))
			scores[id] += idf * (float64(freq) * (i.k1 + 1)) / denom
		}
	}

	results := make([]Scored, 0, len(scores))
	for id, s := range scores {
		results = append(results, Scored{ID: id, Score: s})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func avgDocLenOrOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

func dedupe(tokens []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

