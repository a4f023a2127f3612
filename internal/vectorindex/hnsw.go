// Package vectorindex implements a Hierarchical Navigable Small World
// graph per (tenant, schema), the vector ANN index behind similarity
// search. Insert descends layers to a beam search at the bottom, keeping
// the nearest candidates as neighbors at each level; delete only tombstones,
// leaving physical adjacency-list cleanup to a later vacuum pass.
// Adjacency lists persist in the same bbolt store as everything else,
// guarded per-index by a sync.RWMutex.
package vectorindex

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/perrors"
)

// Params are the tunables of one (tenant, schema) index, persisted in meta
// on first insert and fixed thereafter.
type Params struct {
	Dim            int
	M              int
	M0             int
	EfConstruction int
}

// nodeMeta is the per-node bookkeeping entry: which layer the node
// participates up to, and whether it has been tombstoned.
type nodeMeta struct {
	Layer      int  `json:"layer"`
	Tombstoned bool `json:"tombstoned"`
}

// entryPoint is the single node the graph descent starts from.
type entryPoint struct {
	ID    string `json:"id"`
	Layer int    `json:"layer"`
}

// Index is the HNSW manager shared across all (tenant, schema) pairs; each
// pair's graph is logically independent, isolated by key prefix and guarded
// by its own lock.
type Index struct {
	store *kv.Store

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex
}

func New(store *kv.Store) *Index {
	return &Index{store: store, locks: make(map[string]*sync.RWMutex)}
}

func (ix *Index) lockFor(tenant, schema string) *sync.RWMutex {
	key := tenant + "\x00" + schema
	ix.locksMu.Lock()
	defer ix.locksMu.Unlock()
	l, ok := ix.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		ix.locks[key] = l
	}
	return l
}

func paramsMetaKey(tenant, schema string) []byte {
	return kv.MetaKey(fmt.Sprintf("hnsw:%s:%s:params", tenant, schema))
}

func entryPointMetaKey(tenant, schema string) []byte {
	return kv.MetaKey(fmt.Sprintf("hnsw:%s:%s:entry_point", tenant, schema))
}

func nodeMetaKey(tenant, schema, id string) []byte {
	return kv.MetaKey(fmt.Sprintf("hnsw:%s:%s:node:%s", tenant, schema, id))
}

// loadParams returns the persisted params for (tenant, schema), or ok=false
// if the index has never been written to.
func (ix *Index) loadParams(tenant, schema string) (Params, bool, error) {
	raw, ok, err := ix.store.Get(kv.CFMeta, paramsMetaKey(tenant, schema))
	if err != nil || !ok {
		return Params{}, false, err
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return Params{}, false, perrors.FatalCorruption("decode hnsw params", err)
	}
	return p, true, nil
}

// EnsureParams persists want as the fixed params for (tenant, schema) if
// none exist yet; if one exists with a different Dim, it returns
// SchemaInvalid rather than silently reindexing under a new dimension.
func (ix *Index) EnsureParams(tenant, schema string, want Params) error {
	existing, ok, err := ix.loadParams(tenant, schema)
	if err != nil {
		return err
	}
	if !ok {
		raw, err := json.Marshal(want)
		if err != nil {
			return err
		}
		return ix.store.Put(kv.CFMeta, paramsMetaKey(tenant, schema), raw)
	}
	if existing.Dim != want.Dim {
		return perrors.SchemaInvalid(fmt.Sprintf(
			"vector index for %s.%s is fixed at dim=%d, incompatible with dim=%d",
			tenant, schema, existing.Dim, want.Dim), nil)
	}
	return nil
}

func (ix *Index) loadEntryPoint(tenant, schema string) (entryPoint, bool, error) {
	raw, ok, err := ix.store.Get(kv.CFMeta, entryPointMetaKey(tenant, schema))
	if err != nil || !ok {
		return entryPoint{}, false, err
	}
	var ep entryPoint
	if err := json.Unmarshal(raw, &ep); err != nil {
		return entryPoint{}, false, perrors.FatalCorruption("decode hnsw entry point", err)
	}
	return ep, true, nil
}

func (ix *Index) loadNodeMeta(tenant, schema, id string) (nodeMeta, bool, error) {
	raw, ok, err := ix.store.Get(kv.CFMeta, nodeMetaKey(tenant, schema, id))
	if err != nil || !ok {
		return nodeMeta{}, false, err
	}
	var nm nodeMeta
	if err := json.Unmarshal(raw, &nm); err != nil {
		return nodeMeta{}, false, perrors.FatalCorruption("decode hnsw node meta", err)
	}
	return nm, true, nil
}

func (ix *Index) loadAdjacency(tenant, schema string, layer int, id string) ([]string, error) {
	raw, ok, err := ix.store.Get(kv.CFHNSWGraph, kv.HNSWNodeKey(tenant, schema, layer, id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var neighbors []string
	if err := json.Unmarshal(raw, &neighbors); err != nil {
		return nil, perrors.FatalCorruption("decode hnsw adjacency", err)
	}
	return neighbors, nil
}

func randomLayer(m int) int {
	ml := 1.0 / math.Log(float64(m))
	layer := int(math.Floor(-math.Log(rand.Float64()) * ml))
	return layer
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cos
}

type candidate struct {
	id   string
	dist float64
}

// InsertOps computes every kv.Op needed to insert (id, vector) into the
// (tenant, schema) graph, reading the current graph state via store (not
// through a write-side snapshot, since HNSW mutations are staged into the
// same atomic batch as the rest of the write pipeline and the per-index
// lock already serializes concurrent inserts into this graph).
func (ix *Index) InsertOps(tenant, schema, id string, vector []float32, params Params) ([]kv.Op, error) {
	l := ix.lockFor(tenant, schema)
	l.Lock()
	defer l.Unlock()

	if err := ix.EnsureParams(tenant, schema, params); err != nil {
		return nil, err
	}

	ep, hasEntry, err := ix.loadEntryPoint(tenant, schema)
	if err != nil {
		return nil, err
	}

	nodeLayer := randomLayer(params.M)
	var ops []kv.Op

	nmRaw, err := json.Marshal(nodeMeta{Layer: nodeLayer})
	if err != nil {
		return nil, err
	}
	ops = append(ops, kv.Put(kv.CFMeta, nodeMetaKey(tenant, schema, id), nmRaw))

	if !hasEntry {
		epRaw, err := json.Marshal(entryPoint{ID: id, Layer: nodeLayer})
		if err != nil {
			return nil, err
		}
		ops = append(ops, kv.Put(kv.CFMeta, entryPointMetaKey(tenant, schema), epRaw))
		ops = append(ops, kv.Put(kv.CFHNSWGraph, kv.HNSWNodeKey(tenant, schema, 0, id), emptyList()))
		return ops, nil
	}

	curr := ep.ID
	currVec, err := ix.loadVector(tenant, schema, curr)
	if err != nil {
		return nil, err
	}
	currDist := cosineDistance(vector, currVec)

	// Greedy 1-neighbor descent through every layer above nodeLayer.
	for layer := ep.Layer; layer > nodeLayer; layer-- {
		curr, currDist, err = ix.greedyDescend(tenant, schema, layer, curr, currDist, vector)
		if err != nil {
			return nil, err
		}
	}

	// Beam search and link from min(nodeLayer, ep.Layer) down to 0.
	entrySet := []candidate{{id: curr, dist: currDist}}
	startLayer := nodeLayer
	if ep.Layer < startLayer {
		startLayer = ep.Layer
	}
	for layer := startLayer; layer >= 0; layer-- {
		found, err := ix.searchLayer(tenant, schema, layer, vector, entrySet, params.EfConstruction)
		if err != nil {
			return nil, err
		}
		maxNeighbors := params.M
		if layer == 0 {
			maxNeighbors = params.M0
		}
		selected := selectHeuristic(found, maxNeighbors)

		adjRaw, err := json.Marshal(idsOf(selected))
		if err != nil {
			return nil, err
		}
		ops = append(ops, kv.Put(kv.CFHNSWGraph, kv.HNSWNodeKey(tenant, schema, layer, id), adjRaw))

		for _, nb := range selected {
			neighborOps, err := ix.linkBackOps(tenant, schema, layer, nb.id, id, maxNeighbors, vector)
			if err != nil {
				return nil, err
			}
			ops = append(ops, neighborOps...)
		}
		entrySet = found
	}

	if nodeLayer > ep.Layer {
		epRaw, err := json.Marshal(entryPoint{ID: id, Layer: nodeLayer})
		if err != nil {
			return nil, err
		}
		ops = append(ops, kv.Put(kv.CFMeta, entryPointMetaKey(tenant, schema), epRaw))
	}

	return ops, nil
}

// linkBackOps adds id as a neighbor of existing node nb at layer, pruning
// with the heuristic selector if the bidirectional link would overflow.
func (ix *Index) linkBackOps(tenant, schema string, layer int, nb, id string, maxNeighbors int, newVec []float32) ([]kv.Op, error) {
	existing, err := ix.loadAdjacency(tenant, schema, layer, nb)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e == id {
			return nil, nil
		}
	}
	existing = append(existing, id)

	if len(existing) > maxNeighbors {
		nbVec, err := ix.loadVector(tenant, schema, nb)
		if err != nil {
			return nil, err
		}
		cands := make([]candidate, 0, len(existing))
		for _, e := range existing {
			var v []float32
			if e == id {
				v = newVec
			} else {
				v, err = ix.loadVector(tenant, schema, e)
				if err != nil {
					return nil, err
				}
			}
			cands = append(cands, candidate{id: e, dist: cosineDistance(nbVec, v)})
		}
		existing = idsOf(selectHeuristic(cands, maxNeighbors))
	}

	raw, err := json.Marshal(existing)
	if err != nil {
		return nil, err
	}
	return []kv.Op{kv.Put(kv.CFHNSWGraph, kv.HNSWNodeKey(tenant, schema, layer, nb), raw)}, nil
}

func (ix *Index) greedyDescend(tenant, schema string, layer int, curr string, currDist float64, query []float32) (string, float64, error) {
	for {
		neighbors, err := ix.loadAdjacency(tenant, schema, layer, curr)
		if err != nil {
			return "", 0, err
		}
		improved := false
		for _, nb := range neighbors {
			tombstoned, err := ix.isTombstoned(tenant, schema, nb)
			if err != nil {
				return "", 0, err
			}
			if tombstoned {
				continue
			}
			v, err := ix.loadVector(tenant, schema, nb)
			if err != nil {
				return "", 0, err
			}
			d := cosineDistance(query, v)
			if d < currDist {
				curr, currDist = nb, d
				improved = true
			}
		}
		if !improved {
			return curr, currDist, nil
		}
	}
}

// searchLayer performs an ef-beam search at layer starting from entrySet,
// returning up to ef closest live candidates found.
func (ix *Index) searchLayer(tenant, schema string, layer int, query []float32, entrySet []candidate, ef int) ([]candidate, error) {
	visited := map[string]bool{}
	candidates := append([]candidate(nil), entrySet...)
	for _, c := range entrySet {
		visited[c.id] = true
	}
	best := append([]candidate(nil), entrySet...)

	for len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
		c := candidates[0]
		candidates = candidates[1:]

		sort.Slice(best, func(i, j int) bool { return best[i].dist < best[j].dist })
		if len(best) >= ef && c.dist > best[len(best)-1].dist {
			break
		}

		neighbors, err := ix.loadAdjacency(tenant, schema, layer, c.id)
		if err != nil {
			return nil, err
		}
		for _, nb := range neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			tombstoned, err := ix.isTombstoned(tenant, schema, nb)
			if err != nil {
				return nil, err
			}
			if tombstoned {
				continue
			}
			v, err := ix.loadVector(tenant, schema, nb)
			if err != nil {
				return nil, err
			}
			d := cosineDistance(query, v)
			cand := candidate{id: nb, dist: d}
			candidates = append(candidates, cand)
			best = append(best, cand)
		}
	}

	sort.Slice(best, func(i, j int) bool { return best[i].dist < best[j].dist })
	if len(best) > ef {
		best = best[:ef]
	}
	return best, nil
}

// selectHeuristic picks the max candidates from found that are nearest the
// query. It applies no diversity test between candidates: a candidate is
// kept whether or not it lies closer to an already-selected one.
func selectHeuristic(found []candidate, max int) []candidate {
	sorted := append([]candidate(nil), found...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	var selected []candidate
	for _, c := range sorted {
		if len(selected) >= max {
			break
		}
		selected = append(selected, c)
	}
	return selected
}

func idsOf(cands []candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids
}

func emptyList() []byte {
	raw, _ := json.Marshal([]string{})
	return raw
}

func (ix *Index) isTombstoned(tenant, schema, id string) (bool, error) {
	nm, ok, err := ix.loadNodeMeta(tenant, schema, id)
	if err != nil || !ok {
		return false, err
	}
	return nm.Tombstoned, nil
}

func (ix *Index) loadVector(tenant, schema, id string) ([]float32, error) {
	raw, ok, err := ix.store.Get(kv.CFVectors, kv.VectorKey(tenant, schema, id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perrors.FatalCorruption(fmt.Sprintf("hnsw references missing vector record %s", id), nil)
	}
	var rec struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, perrors.FatalCorruption("decode vector record", err)
	}
	return rec.Vector, nil
}

// Hit is one search result.
type Hit struct {
	ID    string
	Score float64 // cosine similarity, higher is better
}

// Search returns the top-k nearest neighbors of query with beam width
// max(ef, k).
func (ix *Index) Search(tenant, schema string, query []float32, k, ef int) ([]Hit, error) {
	l := ix.lockFor(tenant, schema)
	l.RLock()
	defer l.RUnlock()

	if ef < k {
		ef = k
	}
	if k == 0 {
		return nil, nil
	}

	ep, ok, err := ix.loadEntryPoint(tenant, schema)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	curr := ep.ID
	currVec, err := ix.loadVector(tenant, schema, curr)
	if err != nil {
		return nil, err
	}
	currDist := cosineDistance(query, currVec)

	for layer := ep.Layer; layer > 0; layer-- {
		curr, currDist, err = ix.greedyDescend(tenant, schema, layer, curr, currDist, query)
		if err != nil {
			return nil, err
		}
	}

	found, err := ix.searchLayer(tenant, schema, 0, query, []candidate{{id: curr, dist: currDist}}, ef)
	if err != nil {
		return nil, err
	}
	// searchLayer keeps its entry set even when that node is tombstoned.
	live := found[:0]
	for _, c := range found {
		tombstoned, err := ix.isTombstoned(tenant, schema, c.id)
		if err != nil {
			return nil, err
		}
		if !tombstoned {
			live = append(live, c)
		}
	}
	found = live
	sort.Slice(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	if len(found) > k {
		found = found[:k]
	}

	hits := make([]Hit, len(found))
	for i, c := range found {
		hits[i] = Hit{ID: c.id, Score: 1 - c.dist}
	}
	return hits, nil
}

// DeleteOp tombstones id: searches skip it, but physical removal and
// neighbor-list repair are deferred to vacuum.
func (ix *Index) DeleteOp(tenant, schema, id string) (kv.Op, error) {
	nm, ok, err := ix.loadNodeMeta(tenant, schema, id)
	if err != nil {
		return kv.Op{}, err
	}
	if !ok {
		nm = nodeMeta{}
	}
	nm.Tombstoned = true
	raw, err := json.Marshal(nm)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Put(kv.CFMeta, nodeMetaKey(tenant, schema, id), raw), nil
}
