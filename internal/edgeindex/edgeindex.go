// Package edgeindex manages the bidirectional edge relation: two
// independent column families, edges_out and edges_in, each holding half
// the graph and joined only at query time, per the design note that
// replaces a cyclic in-memory graph with two prefix-scannable CFs.
package edgeindex

import (
	"encoding/json"

	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/perrors"
)

// Index wraps the edges_out/edges_in CFs.
type Index struct {
	store *kv.Store
}

func New(store *kv.Store) *Index { return &Index{store: store} }

// PutOps builds the two kv.Ops (one per direction) for upserting e. Both
// must land in the same batch so a single committed edge is never visible
// from only one direction.
func PutOps(tenant string, e *model.Edge) ([]kv.Op, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return []kv.Op{
		kv.Put(kv.CFEdgesOut, kv.EdgeOutKey(tenant, e.SrcID, e.Type, e.DstID), value),
		kv.Put(kv.CFEdgesIn, kv.EdgeInKey(tenant, e.DstID, e.Type, e.SrcID), value),
	}, nil
}

// DeleteOps builds the two kv.Ops to remove both directions of
// (src, dst, type) atomically.
func DeleteOps(tenant, src, dst, edgeType string) []kv.Op {
	return []kv.Op{
		kv.Delete(kv.CFEdgesOut, kv.EdgeOutKey(tenant, src, edgeType, dst)),
		kv.Delete(kv.CFEdgesIn, kv.EdgeInKey(tenant, dst, edgeType, src)),
	}
}

// Outgoing returns every outgoing edge from src, optionally filtered by
// type.
func (i *Index) Outgoing(tenant, src, edgeType string) ([]*model.Edge, error) {
	return i.scan(kv.CFEdgesOut, kv.EdgeOutPrefix(tenant, src, edgeType))
}

// Incoming returns every incoming edge to dst, optionally filtered by type.
func (i *Index) Incoming(tenant, dst, edgeType string) ([]*model.Edge, error) {
	return i.scan(kv.CFEdgesIn, kv.EdgeInPrefix(tenant, dst, edgeType))
}

func (i *Index) scan(cf string, prefix []byte) ([]*model.Edge, error) {
	rows, err := i.store.PrefixScan(cf, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Edge, 0, len(rows))
	for _, row := range rows {
		var e model.Edge
		if err := json.Unmarshal(row.Value, &e); err != nil {
			return nil, perrors.FatalCorruption("decode stored edge", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// Neighbors returns the set of neighbor entity ids reachable in one hop
// from id, honoring direction ("out", "in", or "both") and an optional type
// filter.
func (i *Index) Neighbors(tenant, id, direction, edgeType string) ([]string, error) {
	var ids []string
	switch direction {
	case "out", "":
		out, err := i.Outgoing(tenant, id, edgeType)
		if err != nil {
			return nil, err
		}
		for _, e := range out {
			ids = append(ids, e.DstID)
		}
	case "in":
		in, err := i.Incoming(tenant, id, edgeType)
		if err != nil {
			return nil, err
		}
		for _, e := range in {
			ids = append(ids, e.SrcID)
		}
	case "both":
		out, err := i.Outgoing(tenant, id, edgeType)
		if err != nil {
			return nil, err
		}
		for _, e := range out {
			ids = append(ids, e.DstID)
		}
		in, err := i.Incoming(tenant, id, edgeType)
		if err != nil {
			return nil, err
		}
		for _, e := range in {
			ids = append(ids, e.SrcID)
		}
	default:
		return nil, perrors.BadQuery("direction must be out, in, or both")
	}
	return ids, nil
}
