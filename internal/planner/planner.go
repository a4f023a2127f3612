// Package planner compiles a parsed query, or a direct API call, into a
// discriminated plan tree: LOOKUP, SEARCH, TRAVERSE, SQL, or HYBRID.
// Predicate selection picks the indexed_columns entry with
// the smallest estimated cardinality, falling back to a full scan when none
// are index-eligible.
package planner

import (
	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/sqlparser"
)

// Kind discriminates the plan tree.
type Kind string

const (
	KindLookup   Kind = "LOOKUP"
	KindSearch   Kind = "SEARCH"
	KindTraverse Kind = "TRAVERSE"
	KindSQL      Kind = "SQL"
	KindHybrid   Kind = "HYBRID"
)

// Plan is the compiled, discriminated representation of a query. Only the
// fields relevant to Kind are populated.
type Plan struct {
	Kind Kind

	// LOOKUP
	Tenant string
	Schema string
	Key    string

	// SEARCH
	QueryText string
	TopK      int
	Ef        int

	// TRAVERSE
	StartID        string
	EdgeTypeFilter string
	Direction      string
	Depth          int
	Limit          int

	// SQL
	Predicates  []sqlparser.Predicate
	IndexColumn string // the predicate chosen for index-driven scan, if any
	Residual    []sqlparser.Predicate
	OrderBy     string
	OrderDesc   bool
	CountStar   bool

	// HYBRID
	Vector *Plan
	Sparse *Plan

	// Confidence informs the executor whether to also run Fallback.
	Confidence float64
	Fallback   *Plan
}

// ResultFloor is the minimum number of primary-plan results below which
// the executor also runs Fallback and merges the two result sets.
const ResultFloor = 1

// FromSQL compiles a parsed SELECT into a SQL (or, when the table is
// "moment"-less and has zero predicates, a plain scan-shaped SQL) plan.
// indexed is the schema's indexed_columns set, used to test eligibility.
func FromSQL(tenant string, q *sqlparser.Query, indexed []string, cardinality func(column string, value any) int) *Plan {
	p := &Plan{
		Kind:       KindSQL,
		Tenant:     tenant,
		Schema:     q.From,
		Predicates: q.Where,
		OrderBy:    q.OrderBy,
		OrderDesc:  q.Direction == sqlparser.Desc,
		CountStar:  q.CountStar,
		Confidence: 1.0,
	}
	if q.HasLimit {
		p.Limit = q.Limit
	}

	indexedSet := make(map[string]bool, len(indexed))
	for _, c := range indexed {
		indexedSet[c] = true
	}

	var eligible []sqlparser.Predicate
	for _, pred := range q.Where {
		if indexedSet[pred.Column] && (pred.Op == sqlparser.OpEq || pred.Op == sqlparser.OpLt ||
			pred.Op == sqlparser.OpLte || pred.Op == sqlparser.OpGt || pred.Op == sqlparser.OpGte) {
			eligible = append(eligible, pred)
		}
	}

	if len(eligible) == 0 {
		p.Residual = q.Where
		return p
	}

	chosen := eligible[0]
	if len(eligible) > 1 && cardinality != nil {
		best := cardinality(chosen.Column, chosen.Value)
		for _, pred := range eligible[1:] {
			n := cardinality(pred.Column, pred.Value)
			if n < best {
				best, chosen = n, pred
			}
		}
	}
	p.IndexColumn = chosen.Column

	for _, pred := range q.Where {
		if pred.Column != chosen.Column || pred.Op != chosen.Op {
			p.Residual = append(p.Residual, pred)
		}
	}
	return p
}

// Lookup builds a bare LOOKUP plan with Fallback left nil; callers that
// want an exact-match miss widened into a similarity search attach a
// SEARCH Fallback themselves.
func Lookup(tenant, schema, key string) *Plan {
	return &Plan{
		Kind: KindLookup, Tenant: tenant, Schema: schema, Key: key,
		Confidence: 1.0,
	}
}

// Search builds a vector SEARCH plan.
func Search(tenant, schema, queryText string, topK, ef int) *Plan {
	if ef < topK {
		ef = topK
	}
	return &Plan{
		Kind: KindSearch, Tenant: tenant, Schema: schema,
		QueryText: queryText, TopK: topK, Ef: ef, Confidence: 1.0,
	}
}

// Traverse builds a TRAVERSE plan.
func Traverse(tenant, startID, direction, edgeTypeFilter string, depth, limit int) *Plan {
	return &Plan{
		Kind: KindTraverse, Tenant: tenant, StartID: startID,
		Direction: direction, EdgeTypeFilter: edgeTypeFilter, Depth: depth,
		Limit: limit, Confidence: 1.0,
	}
}

// Hybrid builds a HYBRID plan combining a SEARCH and, when the schema has
// the inverted index enabled, a sparse BM25 leg fused by RRF(k=60). When
// schema.Extensions.InvertedIndexEnabled is false the returned plan's
// Sparse is nil and the executor degenerates to a pure SEARCH.
func Hybrid(tenant string, schema model.Schema, queryText string, topK, ef int) *Plan {
	p := &Plan{
		Kind: KindHybrid, Tenant: tenant, Schema: schema.ShortName,
		QueryText: queryText, TopK: topK, Confidence: 1.0,
		Vector: Search(tenant, schema.ShortName, queryText, topK, ef),
	}
	if schema.Extensions.InvertedIndexEnabled {
		p.Sparse = &Plan{Kind: KindSQL, Tenant: tenant, Schema: schema.ShortName, QueryText: queryText}
	}
	return p
}

