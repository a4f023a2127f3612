// Package executor runs a compiled plan tree against the index managers and
// returns a result cursor. HYBRID legs run concurrently and are fused by
// Reciprocal Rank Fusion. Each index read runs in its own read transaction:
// a query does not hold one snapshot across its reads, so a write that
// commits while a query runs can be visible to the query's later reads.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/percolate-dev/percolate-core/internal/columnindex"
	"github.com/percolate-dev/percolate-core/internal/edgeindex"
	"github.com/percolate-dev/percolate-core/internal/embedder"
	"github.com/percolate-dev/percolate-core/internal/entityindex"
	"github.com/percolate-dev/percolate-core/internal/invertedindex"
	"github.com/percolate-dev/percolate-core/internal/keyindex"
	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/perrors"
	"github.com/percolate-dev/percolate-core/internal/planner"
	"github.com/percolate-dev/percolate-core/internal/sqlparser"
	"github.com/percolate-dev/percolate-core/internal/vectorindex"
)

// RRFK is the fixed Reciprocal Rank Fusion constant used to merge ranked
// result lists.
const RRFK = 60

// Result is one executed query result.
type Result struct {
	Entity *model.Entity
	Score  float64 // 0 when the plan has no notion of a score
}

// Executor wires every index manager a plan might touch.
type Executor struct {
	entities *entityindex.Index
	edges    *edgeindex.Index
	keys     *keyindex.Index
	cols     *columnindex.Index
	inverted *invertedindex.Index
	vectors  *vectorindex.Index
	embed    *embedder.Pool
}

func New(
	entities *entityindex.Index, edges *edgeindex.Index, keys *keyindex.Index,
	cols *columnindex.Index, inverted *invertedindex.Index, vectors *vectorindex.Index,
	embed *embedder.Pool,
) *Executor {
	return &Executor{entities: entities, edges: edges, keys: keys, cols: cols, inverted: inverted, vectors: vectors, embed: embed}
}

// Execute runs p and returns the deduplicated, merged result set.
func (ex *Executor) Execute(ctx context.Context, p *planner.Plan, providerName string) ([]Result, error) {
	results, err := ex.executePlan(ctx, p, providerName)
	if err != nil {
		return nil, err
	}
	if len(results) >= planner.ResultFloor || p.Fallback == nil {
		return results, nil
	}

	fallback, err := ex.executePlan(ctx, p.Fallback, providerName)
	if err != nil {
		return results, nil
	}
	return mergeDedup(results, fallback), nil
}

func (ex *Executor) executePlan(ctx context.Context, p *planner.Plan, providerName string) ([]Result, error) {
	switch p.Kind {
	case planner.KindLookup:
		return ex.executeLookup(p)
	case planner.KindSearch:
		return ex.executeSearch(ctx, p, providerName)
	case planner.KindTraverse:
		return ex.executeTraverse(p)
	case planner.KindSQL:
		return ex.executeSQL(p)
	case planner.KindHybrid:
		return ex.executeHybrid(ctx, p, providerName)
	default:
		return nil, perrors.BadQuery(fmt.Sprintf("unknown plan kind %q", p.Kind))
	}
}

func (ex *Executor) executeLookup(p *planner.Plan) ([]Result, error) {
	id, err := ex.keys.Lookup(p.Tenant, p.Schema, p.Key)
	if err != nil {
		if perrors.IsKind(err, perrors.KindNotFound) {
			return nil, nil // a miss is an empty result, so Execute can run Fallback
		}
		return nil, err
	}
	e, err := ex.entities.GetVisible(p.Tenant, id)
	if err != nil {
		if perrors.IsKind(err, perrors.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []Result{{Entity: e}}, nil
}

func (ex *Executor) executeSearch(ctx context.Context, p *planner.Plan, providerName string) ([]Result, error) {
	if p.TopK == 0 {
		return nil, nil
	}
	vecs, err := ex.embed.Embed(ctx, providerName, []string{p.QueryText})
	if err != nil {
		return nil, err
	}
	hits, err := ex.vectors.Search(p.Tenant, p.Schema, vecs[0], p.TopK, p.Ef)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		e, err := ex.entities.GetVisible(p.Tenant, h.ID)
		if err != nil {
			if perrors.IsKind(err, "NotFound") {
				continue
			}
			return nil, err
		}
		results = append(results, Result{Entity: e, Score: h.Score})
	}
	return results, nil
}

func (ex *Executor) executeTraverse(p *planner.Plan) ([]Result, error) {
	visited := map[string]bool{p.StartID: true}
	frontier := []string{p.StartID}
	var order []string

	for depth := 0; depth < p.Depth; depth++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := ex.edges.Neighbors(p.Tenant, id, p.Direction, p.EdgeTypeFilter)
			if err != nil {
				return nil, err
			}
			for _, nb := range neighbors {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				next = append(next, nb)
				order = append(order, nb)
				if p.Limit > 0 && len(order) >= p.Limit {
					break
				}
			}
			if p.Limit > 0 && len(order) >= p.Limit {
				break
			}
		}
		frontier = next
		if p.Limit > 0 && len(order) >= p.Limit {
			break
		}
	}

	if p.Depth == 0 {
		order = nil
		visited = map[string]bool{p.StartID: true}
		e, err := ex.entities.GetVisible(p.Tenant, p.StartID)
		if err != nil {
			return nil, err
		}
		return []Result{{Entity: e}}, nil
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		e, err := ex.entities.GetVisible(p.Tenant, id)
		if err != nil {
			continue
		}
		results = append(results, Result{Entity: e})
	}
	return results, nil
}

func (ex *Executor) executeSQL(p *planner.Plan) ([]Result, error) {
	var candidateIDs []string
	var indexPred *sqlparser.Predicate
	if p.IndexColumn != "" {
		indexPred = findPredicate(p.Predicates, p.IndexColumn)
		ids, err := ex.idsForPredicate(p.Tenant, p.Schema, indexPred)
		if err != nil {
			return nil, err
		}
		candidateIDs = ids
	}

	var entities []*model.Entity
	if candidateIDs != nil {
		for _, id := range candidateIDs {
			e, err := ex.entities.GetVisible(p.Tenant, id)
			if err != nil {
				continue
			}
			// The index scan can over-select (inclusive range start for >,
			// string prefixes), so the index predicate is re-checked here.
			if indexPred != nil && !matches(e, *indexPred) {
				continue
			}
			entities = append(entities, e)
		}
	} else {
		all, err := ex.entities.List(p.Tenant, p.Schema)
		if err != nil {
			return nil, err
		}
		entities = all
	}

	residual := p.Residual
	if p.IndexColumn == "" {
		residual = p.Predicates
	}
	filtered := entities[:0:0]
	for _, e := range entities {
		if matchesAll(e, residual) {
			filtered = append(filtered, e)
		}
	}

	if p.OrderBy != "" {
		sort.Slice(filtered, func(i, j int) bool {
			vi := fmt.Sprintf("%v", filtered[i].Properties[p.OrderBy])
			vj := fmt.Sprintf("%v", filtered[j].Properties[p.OrderBy])
			if p.OrderDesc {
				return vi > vj
			}
			return vi < vj
		})
	}
	if p.Limit > 0 && len(filtered) > p.Limit {
		filtered = filtered[:p.Limit]
	}

	results := make([]Result, len(filtered))
	for i, e := range filtered {
		results[i] = Result{Entity: e}
	}
	return results, nil
}

func (ex *Executor) idsForPredicate(tenant, schema string, pred *sqlparser.Predicate) ([]string, error) {
	if pred == nil {
		return nil, nil
	}
	switch pred.Op {
	case sqlparser.OpEq:
		return ex.cols.Equal(tenant, schema, pred.Column, pred.Value)
	case sqlparser.OpLt:
		return ex.cols.Range(tenant, schema, pred.Column, nil, pred.Value)
	case sqlparser.OpLte:
		// Range is exclusive of the upper bound, so entries equal to the
		// bound come from an equality scan; executeSQL re-checks the
		// predicate against every candidate.
		below, err := ex.cols.Range(tenant, schema, pred.Column, nil, pred.Value)
		if err != nil {
			return nil, err
		}
		equal, err := ex.cols.Equal(tenant, schema, pred.Column, pred.Value)
		if err != nil {
			return nil, err
		}
		return append(below, equal...), nil
	case sqlparser.OpGt, sqlparser.OpGte:
		return ex.cols.Range(tenant, schema, pred.Column, pred.Value, nil)
	default:
		return nil, nil
	}
}

func findPredicate(preds []sqlparser.Predicate, column string) *sqlparser.Predicate {
	for i := range preds {
		if preds[i].Column == column {
			return &preds[i]
		}
	}
	return nil
}

func matchesAll(e *model.Entity, preds []sqlparser.Predicate) bool {
	for _, pred := range preds {
		if !matches(e, pred) {
			return false
		}
	}
	return true
}

func matches(e *model.Entity, pred sqlparser.Predicate) bool {
	v, present := e.Properties[pred.Column]
	switch pred.Op {
	case sqlparser.OpIsNull:
		return !present || v == nil
	case sqlparser.OpNotNull:
		return present && v != nil
	}
	if !present {
		return false
	}
	switch pred.Op {
	case sqlparser.OpEq:
		return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", pred.Value)
	case sqlparser.OpLt:
		return compareAny(v, pred.Value) < 0
	case sqlparser.OpLte:
		return compareAny(v, pred.Value) <= 0
	case sqlparser.OpGt:
		return compareAny(v, pred.Value) > 0
	case sqlparser.OpGte:
		return compareAny(v, pred.Value) >= 0
	case sqlparser.OpIn:
		for _, want := range pred.Values {
			if fmt.Sprintf("%v", v) == fmt.Sprintf("%v", want) {
				return true
			}
		}
		return false
	case sqlparser.OpLike:
		pattern, _ := pred.Value.(string)
		s := fmt.Sprintf("%v", v)
		if len(pattern) > 0 && pattern[len(pattern)-1] == '%' {
			return len(s) >= len(pattern)-1 && s[:len(pattern)-1] == pattern[:len(pattern)-1]
		}
		return s == pattern
	default:
		return false
	}
}

func compareAny(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func (ex *Executor) executeHybrid(ctx context.Context, p *planner.Plan, providerName string) ([]Result, error) {
	var vectorResults, sparseResults []Result
	var vectorErr, sparseErr error

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		vectorResults, vectorErr = ex.executeSearch(ctx, p.Vector, providerName)
	}()

	if p.Sparse != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := ex.inverted.Search(p.Tenant, p.Schema, p.QueryText, 1.0, estimateTotalDocs(ex, p.Tenant, p.Schema), nil)
			if err != nil {
				sparseErr = err
				return
			}
			for _, h := range hits {
				e, err := ex.entities.GetVisible(p.Tenant, h.ID)
				if err != nil {
					continue
				}
				sparseResults = append(sparseResults, Result{Entity: e, Score: h.Score})
			}
		}()
	}
	wg.Wait()

	if vectorErr != nil && sparseErr != nil {
		return nil, vectorErr
	}
	if p.Sparse == nil {
		return vectorResults, vectorErr
	}
	if vectorErr != nil {
		return sparseResults, nil
	}
	if sparseErr != nil {
		return vectorResults, nil
	}

	fused := rrfFuse([][]Result{vectorResults, sparseResults})
	if len(fused) > p.TopK && p.TopK > 0 {
		fused = fused[:p.TopK]
	}
	return fused, nil
}

// rrfFuse combines ranked result lists with Reciprocal Rank Fusion:
// score(d) = sum over lists of 1/(k + rank_i(d)), sorted descending.
func rrfFuse(lists [][]Result) []Result {
	scores := map[string]float64{}
	byID := map[string]*model.Entity{}
	for _, list := range lists {
		for rank, r := range list {
			key := r.Entity.ID
			scores[key] += 1.0 / float64(RRFK+rank+1)
			byID[key] = r.Entity
		}
	}
	out := make([]Result, 0, len(scores))
	for id, s := range scores {
		out = append(out, Result{Entity: byID[id], Score: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func mergeDedup(primary, fallback []Result) []Result {
	seen := map[string]bool{}
	out := make([]Result, 0, len(primary)+len(fallback))
	for _, r := range primary {
		if !seen[r.Entity.ID] {
			seen[r.Entity.ID] = true
			out = append(out, r)
		}
	}
	for _, r := range fallback {
		if !seen[r.Entity.ID] {
			seen[r.Entity.ID] = true
			out = append(out, r)
		}
	}
	return out
}

func estimateTotalDocs(ex *Executor, tenant, schema string) int {
	all, err := ex.entities.List(tenant, schema)
	if err != nil {
		return 0
	}
	return len(all)
}
