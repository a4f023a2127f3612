// Package vacuum implements the deferred physical cleanup the
// specification leaves implementation-defined: removing tombstoned entity
// rows. It does not rebuild HNSW neighbor lists that reference a
// tombstoned node. Policy (when to run, how many entities per pass) is
// left to the caller; this package only implements one pass.
package vacuum

import (
	"encoding/json"

	"github.com/percolate-dev/percolate-core/internal/columnindex"
	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/percolog"
)

// Vacuum owns one pass of physical cleanup over a store.
type Vacuum struct {
	store *kv.Store
	cols  *columnindex.Index
}

func New(store *kv.Store, cols *columnindex.Index) *Vacuum {
	return &Vacuum{store: store, cols: cols}
}

// Report summarises one vacuum pass.
type Report struct {
	EntitiesPurged int
	KeyEntriesRemoved int
	ColEntriesRemoved int
	HNSWNodesPruned int
}

// RunTenant purges the entity row of every tombstoned entity for tenant, up
// to maxEntities (0 means unbounded). Key and column index entries are
// already removed by the delete itself; inverted postings, vector CF
// records, and hnsw_graph adjacency are not touched by this pass, so only
// Report.EntitiesPurged is ever non-zero.
func (v *Vacuum) RunTenant(tenant, schema string, maxEntities int) (Report, error) {
	var report Report
	rows, err := v.store.PrefixScan(kv.CFEntities, kv.EntityPrefix(tenant))
	if err != nil {
		return report, err
	}

	var ops []kv.Op
	for _, row := range rows {
		var e model.Entity
		if err := json.Unmarshal(row.Value, &e); err != nil {
			return report, err
		}
		if !e.Deleted {
			continue
		}
		if schema != "" && e.SchemaName != schema {
			continue
		}

		ops = append(ops, kv.Delete(kv.CFEntities, row.Key))
		report.EntitiesPurged++

		if maxEntities > 0 && report.EntitiesPurged >= maxEntities {
			break
		}
	}

	if len(ops) == 0 {
		return report, nil
	}
	if err := v.store.BatchCommit(ops); err != nil {
		return report, err
	}

	percolog.WithComponent("vacuum").Info().
		Str("tenant", tenant).Int("purged", report.EntitiesPurged).Msg("vacuum pass complete")
	return report, nil
}
