// Package entityindex is the entity primary index: the entities column
// family itself, addressed by point get and tenant-prefixed scan.
package entityindex

import (
	"encoding/json"

	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/perrors"
)

// Index wraps the entities CF with typed encode/decode.
type Index struct {
	store *kv.Store
}

func New(store *kv.Store) *Index { return &Index{store: store} }

// PutOp builds the kv.Op that stages e into the entities CF. Callers append
// this into the same batch as every other index mutation for the write.
func PutOp(e *model.Entity) (kv.Op, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Put(kv.CFEntities, kv.EntityKey(e.TenantID, e.ID), value), nil
}

// Get returns the entity (tenant, id), or NotFound. Soft-deleted entities
// are returned with Deleted=true; callers that must honor the
// soft-delete-invisibility invariant check Deleted themselves or call
// GetVisible.
func (i *Index) Get(tenant, id string) (*model.Entity, error) {
	raw, ok, err := i.store.Get(kv.CFEntities, kv.EntityKey(tenant, id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perrors.NotFound("entity not found")
	}
	var e model.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, perrors.FatalCorruption("decode stored entity", err)
	}
	return &e, nil
}

// GetVisible returns the entity, or NotFound if absent or tombstoned,
// enforcing the soft-delete-invisibility invariant for public reads.
func (i *Index) GetVisible(tenant, id string) (*model.Entity, error) {
	e, err := i.Get(tenant, id)
	if err != nil {
		return nil, err
	}
	if e.Deleted {
		return nil, perrors.NotFound("entity not found")
	}
	return e, nil
}

// List returns every visible entity for tenant, optionally filtered by
// schema short name (empty string means all schemas).
func (i *Index) List(tenant, schemaName string) ([]*model.Entity, error) {
	rows, err := i.store.PrefixScan(kv.CFEntities, kv.EntityPrefix(tenant))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Entity, 0, len(rows))
	for _, row := range rows {
		var e model.Entity
		if err := json.Unmarshal(row.Value, &e); err != nil {
			return nil, perrors.FatalCorruption("decode stored entity", err)
		}
		if e.Deleted {
			continue
		}
		if schemaName != "" && e.SchemaName != schemaName {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}
