package vectorindex

import (
	"encoding/json"
	"time"

	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/model"
)

// VectorPutOp stages the packed vector record for (tenant, schema, id).
func VectorPutOp(rec *model.VectorRecord) (kv.Op, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Put(kv.CFVectors, kv.VectorKey(rec.TenantID, rec.SchemaName, rec.EntityID), raw), nil
}

// LoadVectorRecord returns the stored record, if any.
func (ix *Index) LoadVectorRecord(tenant, schema, id string) (*model.VectorRecord, bool, error) {
	raw, ok, err := ix.store.Get(kv.CFVectors, kv.VectorKey(tenant, schema, id))
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec model.VectorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// NewVectorRecord builds a fresh, non-stale vector record stamped with the
// current time.
func NewVectorRecord(tenant, schema, id string, vector []float32, textHash string) *model.VectorRecord {
	return &model.VectorRecord{
		TenantID:   tenant,
		SchemaName: schema,
		EntityID:   id,
		Vector:     vector,
		TextHash:   textHash,
		Stale:      false,
		UpdatedAt:  time.Now(),
	}
}

// StaleVectorRecord builds a record marking the embedding provider as
// unavailable at write time: the previous vector (if any) is kept so
// non-vector queries remain unaffected, but Stale is set so a background
// sweep knows to retry.
func StaleVectorRecord(tenant, schema, id string, previous []float32, textHash string) *model.VectorRecord {
	return &model.VectorRecord{
		TenantID:   tenant,
		SchemaName: schema,
		EntityID:   id,
		Vector:     previous,
		TextHash:   textHash,
		Stale:      true,
		UpdatedAt:  time.Now(),
	}
}
