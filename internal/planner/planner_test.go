package planner

import (
	"testing"

	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/sqlparser"
)

func TestLookupHasNoFallbackByDefault(t *testing.T) {
	p := Lookup("tenant-1", "document", "doc-42")
	if p.Kind != KindLookup {
		t.Fatalf("Kind = %v, want %v", p.Kind, KindLookup)
	}
	if p.Fallback != nil {
		t.Fatal("Lookup alone should not populate Fallback; callers widen to SEARCH themselves")
	}
}

func TestSearchClampsEfUpToTopK(t *testing.T) {
	p := Search("tenant-1", "document", "a query", 10, 3)
	if p.Ef != 10 {
		t.Fatalf("Ef = %d, want clamped up to TopK 10", p.Ef)
	}
}

func TestSearchLeavesLargerEfAlone(t *testing.T) {
	p := Search("tenant-1", "document", "a query", 10, 50)
	if p.Ef != 50 {
		t.Fatalf("Ef = %d, want unchanged 50", p.Ef)
	}
}

func TestHybridDegeneratesWithoutInvertedIndex(t *testing.T) {
	schema := model.Schema{ShortName: "document"}
	p := Hybrid("tenant-1", schema, "a query", 10, 0)
	if p.Sparse != nil {
		t.Fatal("Hybrid should leave Sparse nil when the schema has no inverted index enabled")
	}
	if p.Vector == nil {
		t.Fatal("Hybrid should always populate a Vector leg")
	}
}

func TestHybridAddsSparseLegWhenEnabled(t *testing.T) {
	schema := model.Schema{
		ShortName:  "document",
		Extensions: model.Extensions{InvertedIndexEnabled: true},
	}
	p := Hybrid("tenant-1", schema, "a query", 10, 0)
	if p.Sparse == nil {
		t.Fatal("Hybrid should populate Sparse when inverted_index_enabled is true")
	}
}

func TestFromSQLNoEligiblePredicatesFallsBackToResidual(t *testing.T) {
	q := &sqlparser.Query{
		From:  "document",
		Where: []sqlparser.Predicate{{Column: "unindexed_col", Op: sqlparser.OpEq, Value: "x"}},
	}
	p := FromSQL("tenant-1", q, []string{"other_col"}, nil)
	if p.IndexColumn != "" {
		t.Fatalf("IndexColumn = %q, want empty when no predicate is index-eligible", p.IndexColumn)
	}
	if len(p.Residual) != 1 {
		t.Fatalf("expected the sole predicate to land in Residual, got %+v", p.Residual)
	}
}

func TestFromSQLPicksLowestCardinalityPredicate(t *testing.T) {
	q := &sqlparser.Query{
		From: "document",
		Where: []sqlparser.Predicate{
			{Column: "status", Op: sqlparser.OpEq, Value: "active"},
			{Column: "owner", Op: sqlparser.OpEq, Value: "alice"},
		},
	}
	cardinality := func(column string, value any) int {
		if column == "owner" {
			return 3
		}
		return 10000
	}
	p := FromSQL("tenant-1", q, []string{"status", "owner"}, cardinality)
	if p.IndexColumn != "owner" {
		t.Fatalf("IndexColumn = %q, want owner (lower estimated cardinality)", p.IndexColumn)
	}
	if len(p.Residual) != 1 || p.Residual[0].Column != "status" {
		t.Fatalf("expected status predicate to land in Residual, got %+v", p.Residual)
	}
}

func TestFromSQLHonorsLimitOnlyWhenSet(t *testing.T) {
	q := &sqlparser.Query{From: "document"}
	p := FromSQL("tenant-1", q, nil, nil)
	if p.Limit != 0 {
		t.Fatalf("Limit = %d, want 0 when the query sets no LIMIT", p.Limit)
	}

	q2 := &sqlparser.Query{From: "document", HasLimit: true, Limit: 5}
	p2 := FromSQL("tenant-1", q2, nil, nil)
	if p2.Limit != 5 {
		t.Fatalf("Limit = %d, want 5", p2.Limit)
	}
}
