// Package writepipeline is the single entry point for mutating state:
// insert, update, and delete all flow through Write, which stages every
// index update plus one WAL entry into a single atomic batch before
// committing it all at once. Apply replays that same batch from a WAL
// entry on a follower, so both a local caller and replicated writes
// funnel through one mutation path guarded by a striped lock pool
// keyed on (tenant, entity id).
package writepipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/percolate-dev/percolate-core/internal/columnindex"
	"github.com/percolate-dev/percolate-core/internal/config"
	"github.com/percolate-dev/percolate-core/internal/edgeindex"
	"github.com/percolate-dev/percolate-core/internal/embedder"
	"github.com/percolate-dev/percolate-core/internal/entityindex"
	"github.com/percolate-dev/percolate-core/internal/ids"
	"github.com/percolate-dev/percolate-core/internal/invertedindex"
	"github.com/percolate-dev/percolate-core/internal/keyindex"
	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/lockpool"
	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/percolog"
	"github.com/percolate-dev/percolate-core/internal/perrors"
	"github.com/percolate-dev/percolate-core/internal/schema"
	"github.com/percolate-dev/percolate-core/internal/vectorindex"
	"github.com/percolate-dev/percolate-core/internal/wal"
)

// OpKind distinguishes the three write entry points.
type OpKind string

const (
	OpInsert OpKind = "Insert"
	OpUpdate OpKind = "Update"
	OpDelete OpKind = "Delete"
)

// Op is the single argument to Write.
type Op struct {
	Kind       OpKind
	Schema     string         // required for Insert; ignored otherwise
	ID         string         // required for Update/Delete; ignored for Insert
	Properties map[string]any // required for Insert/Update

	// ForceID, when non-empty, overrides id derivation entirely. Used only
	// by WAL replay so a random-id entity replays under the same id it was
	// originally assigned on the primary.
	ForceID string

	// ForceStaleVector, when set, skips any embedding-provider call for
	// this write and records the vector as stale instead, regardless of
	// what a registered provider could otherwise produce. Used only by
	// WAL replay on a follower that either has no embedding provider
	// configured or is replaying an entry the primary itself recorded as
	// non-materialized.
	ForceStaleVector bool
}

// Pipeline wires every index manager the write path touches.
type Pipeline struct {
	store    *kv.Store
	registry *schema.Registry
	entities *entityindex.Index
	edges    *edgeindex.Index
	keys     *keyindex.Index
	cols     *columnindex.Index
	inverted *invertedindex.Index
	vectors  *vectorindex.Index
	embed    *embedder.Pool
	locks    *lockpool.Pool
	log      *wal.Log
	cfg      config.Config

	// readOnly is set on followers: every entry point except Apply (used
	// only by replication) rejects with a read-only error.
	readOnly bool
}

// New constructs a Pipeline. readOnly is derived from cfg.Mode by the
// caller that owns the handle.
func New(
	store *kv.Store,
	registry *schema.Registry,
	entities *entityindex.Index,
	edges *edgeindex.Index,
	keys *keyindex.Index,
	cols *columnindex.Index,
	inverted *invertedindex.Index,
	vectors *vectorindex.Index,
	embed *embedder.Pool,
	locks *lockpool.Pool,
	log *wal.Log,
	cfg config.Config,
	readOnly bool,
) *Pipeline {
	return &Pipeline{
		store: store, registry: registry, entities: entities, edges: edges,
		keys: keys, cols: cols, inverted: inverted, vectors: vectors,
		embed: embed, locks: locks, log: log, cfg: cfg, readOnly: readOnly,
	}
}

var errReadOnly = perrors.DependencyUnavailable("node is configured as a replication follower; writes are rejected", nil)

// Write stages every index update an op requires plus one WAL entry into
// a single atomic batch and commits it, returning the resulting entity
// (nil for Delete).
func (p *Pipeline) Write(ctx context.Context, tenant string, op Op) (*model.Entity, error) {
	if p.readOnly {
		return nil, errReadOnly
	}

	// Step 1/3 (schema + id) must happen before the lock is taken for
	// Insert, since the id to lock on is derived from the schema.
	s, err := p.resolveSchema(tenant, op)
	if err != nil {
		return nil, err
	}

	id, err := p.resolveID(tenant, s, op)
	if err != nil {
		return nil, err
	}

	var result *model.Entity
	err = p.locks.With(tenant, id, func() error {
		var innerErr error
		result, innerErr = p.writeLocked(ctx, tenant, s, id, op)
		return innerErr
	})
	return result, err
}

func (p *Pipeline) resolveSchema(tenant string, op Op) (*model.Schema, error) {
	switch op.Kind {
	case OpInsert:
		return p.registry.GetByShortName(tenant, op.Schema)
	case OpUpdate, OpDelete:
		e, err := p.entities.Get(tenant, op.ID)
		if err != nil {
			return nil, err
		}
		return p.registry.GetByShortName(tenant, e.SchemaName)
	default:
		return nil, perrors.BadQuery(fmt.Sprintf("unknown op kind %q", op.Kind))
	}
}

// resolveID implements step 3: deterministic UUIDv5 when the schema
// declares a key_field, else UUIDv4 for Insert or a direct id for
// Update/Delete.
func (p *Pipeline) resolveID(tenant string, s *model.Schema, op Op) (string, error) {
	if op.ForceID != "" {
		return op.ForceID, nil
	}
	switch op.Kind {
	case OpUpdate, OpDelete:
		return op.ID, nil
	case OpInsert:
		if s.HasKeyField() {
			keyValue := fmt.Sprintf("%v", op.Properties[s.Extensions.KeyField])
			return ids.Deterministic(tenant, s.ShortName, keyValue).String(), nil
		}
		return ids.New().String(), nil
	default:
		return "", perrors.BadQuery(fmt.Sprintf("unknown op kind %q", op.Kind))
	}
}

func (p *Pipeline) writeLocked(ctx context.Context, tenant string, s *model.Schema, id string, op Op) (*model.Entity, error) {
	logger := percolog.WithEntity(percolog.WithSchema(percolog.WithTenant(percolog.WithComponent("writepipeline"), tenant), s.ShortName), id)

	switch op.Kind {
	case OpDelete:
		return nil, p.applyDelete(tenant, s, id)
	case OpInsert, OpUpdate:
		e, err := p.applyUpsert(ctx, tenant, s, id, op)
		if err == nil {
			logger.Info().Str("op", string(op.Kind)).Msg("write committed")
		}
		return e, err
	default:
		return nil, perrors.BadQuery(fmt.Sprintf("unknown op kind %q", op.Kind))
	}
}

// applyUpsert implements steps 2 and 4-14 of the write algorithm for
// Insert and Update.
func (p *Pipeline) applyUpsert(ctx context.Context, tenant string, s *model.Schema, id string, op Op) (*model.Entity, error) {
	// Step 2: validate against the JSON Schema.
	if err := p.registry.Validate(tenant, s.ShortName, op.Properties); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var existing *model.Entity
	if op.Kind == OpUpdate {
		e, err := p.entities.Get(tenant, id)
		if err != nil {
			return nil, err
		}
		existing = e
	}

	entity := &model.Entity{
		ID:         id,
		TenantID:   tenant,
		SchemaName: s.ShortName,
		Properties: op.Properties,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	if existing != nil {
		entity.CreatedAt = existing.CreatedAt
		entity.Version = existing.Version + 1
	}

	var ops []kv.Op

	// Step 5: entity put.
	entityOp, err := entityindex.PutOp(entity)
	if err != nil {
		return nil, err
	}
	ops = append(ops, entityOp)

	// Step 6: key index.
	if s.Extensions.KeyField != "" {
		newKeyValue := fmt.Sprintf("%v", op.Properties[s.Extensions.KeyField])
		var oldKeyValue string
		if existing != nil {
			oldKeyValue = fmt.Sprintf("%v", existing.Properties[s.Extensions.KeyField])
		}
		if existing == nil || oldKeyValue != newKeyValue {
			if existing != nil && oldKeyValue != "" {
				ops = append(ops, keyindex.DeleteOp(tenant, s.ShortName, oldKeyValue))
			}
			ops = append(ops, keyindex.PutOp(tenant, s.ShortName, newKeyValue, id))
		}
	}

	// Step 7: column indexes.
	for _, col := range s.Extensions.IndexedColumns {
		newVal := op.Properties[col]
		var oldVal any
		changed := true
		if existing != nil {
			oldVal = existing.Properties[col]
			changed = fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal)
		}
		if changed {
			if existing != nil && oldVal != nil {
				ops = append(ops, columnindex.DeleteOp(tenant, s.ShortName, col, oldVal, id))
				p.cols.InvalidateCardinality(tenant, s.ShortName, col, oldVal)
			}
			if newVal != nil {
				ops = append(ops, columnindex.PutOp(tenant, s.ShortName, col, newVal, id))
				p.cols.InvalidateCardinality(tenant, s.ShortName, col, newVal)
			}
		}
	}

	// Step 9-11: embedding, vector CF, HNSW graph, inverted index.
	vectorMaterialized := false
	if len(s.Extensions.EmbeddingFields) > 0 {
		text := concatFields(op.Properties, s.Extensions.EmbeddingFields)
		textHash := embedder.TextHash(text)

		var previousText string
		textChanged := existing == nil
		if existing != nil {
			previousText = concatFields(existing.Properties, s.Extensions.EmbeddingFields)
			textChanged = embedder.TextHash(previousText) != textHash
		}

		if textChanged {
			var vecs [][]float32
			var embedErr error
			if op.ForceStaleVector {
				embedErr = perrors.DependencyUnavailable("embedding provider not available for this replay", nil)
			} else {
				providerName := s.Extensions.DefaultEmbeddingProvider
				if providerName == "" {
					providerName = p.cfg.DefaultEmbeddingProvider
				}
				vecs, embedErr = p.embed.Embed(ctx, providerName, []string{text})
			}
			if embedErr == nil && len(vecs) == 1 {
				params := vectorindex.Params{
					Dim: len(vecs[0]), M: p.cfg.HNSWM, M0: p.cfg.HNSWM0,
					EfConstruction: p.cfg.HNSWEfConstruction,
				}
				hnswOps, err := p.vectors.InsertOps(tenant, s.ShortName, id, vecs[0], params)
				if err != nil {
					return nil, err
				}
				ops = append(ops, hnswOps...)

				vecOp, err := vectorindex.VectorPutOp(vectorindex.NewVectorRecord(tenant, s.ShortName, id, vecs[0], textHash))
				if err != nil {
					return nil, err
				}
				ops = append(ops, vecOp)
				vectorMaterialized = true
			} else {
				var previous []float32
				if rec, ok, _ := p.vectors.LoadVectorRecord(tenant, s.ShortName, id); ok {
					previous = rec.Vector
				}
				vecOp, err := vectorindex.VectorPutOp(vectorindex.StaleVectorRecord(tenant, s.ShortName, id, previous, textHash))
				if err != nil {
					return nil, err
				}
				ops = append(ops, vecOp)
				percolog.WithComponent("writepipeline").Warn().
					Str("entity_id", id).Err(embedErr).
					Msg("embedding provider unavailable, vector marked stale")
			}

			// Step 11: inverted index, gated per schema.
			if s.Extensions.InvertedIndexEnabled {
				if existing != nil {
					ops = append(ops, invertedindex.DeleteOps(tenant, s.ShortName, id, previousText)...)
				}
				ops = append(ops, invertedindex.BuildOps(tenant, s.ShortName, id, text)...)
			}
		}
	}

	// Step 12: moment index.
	if s.IsMoment() {
		ops = append(ops, kv.Put(kv.CFMoments, kv.MomentKey(tenant, now.UnixMicro(), id), []byte(id)))
	}

	// Step 13: WAL entry, staged in the same batch.
	payload, err := json.Marshal(entity.Properties)
	if err != nil {
		return nil, err
	}
	seq := p.log.NextSeq()
	walOp := model.WalOpInsert
	if op.Kind == OpUpdate {
		walOp = model.WalOpUpdate
	}
	entry := &model.WalEntry{
		Seq: seq, TimestampMicros: now.UnixMicro(), TenantID: tenant,
		Op: walOp, EntityID: id, SchemaName: s.ShortName, Payload: payload,
		VectorMaterialized: vectorMaterialized,
	}
	appendOp, err := wal.AppendOp(entry)
	if err != nil {
		return nil, err
	}
	ops = append(ops, appendOp, wal.CounterOp(seq))

	// Step 14: commit.
	if err := p.store.BatchCommit(ops); err != nil {
		return nil, err
	}
	return entity, nil
}

func (p *Pipeline) applyDelete(tenant string, s *model.Schema, id string) error {
	existing, err := p.entities.Get(tenant, id)
	if err != nil {
		return err
	}
	if existing.Deleted {
		return perrors.NotFound("entity not found")
	}

	existing.Deleted = true
	existing.UpdatedAt = time.Now().UTC()
	existing.Version++

	var ops []kv.Op
	entityOp, err := entityindex.PutOp(existing)
	if err != nil {
		return err
	}
	ops = append(ops, entityOp)

	if s.Extensions.KeyField != "" {
		keyValue := fmt.Sprintf("%v", existing.Properties[s.Extensions.KeyField])
		ops = append(ops, keyindex.DeleteOp(tenant, s.ShortName, keyValue))
	}
	for _, col := range s.Extensions.IndexedColumns {
		if v := existing.Properties[col]; v != nil {
			ops = append(ops, columnindex.DeleteOp(tenant, s.ShortName, col, v, id))
			p.cols.InvalidateCardinality(tenant, s.ShortName, col, v)
		}
	}
	if len(s.Extensions.EmbeddingFields) > 0 {
		hnswOp, err := p.vectors.DeleteOp(tenant, s.ShortName, id)
		if err != nil {
			return err
		}
		ops = append(ops, hnswOp)
	}

	now := existing.UpdatedAt
	seq := p.log.NextSeq()
	entry := &model.WalEntry{
		Seq: seq, TimestampMicros: now.UnixMicro(), TenantID: tenant,
		Op: model.WalOpDelete, EntityID: id, SchemaName: s.ShortName,
	}
	appendOp, err := wal.AppendOp(entry)
	if err != nil {
		return err
	}
	ops = append(ops, appendOp, wal.CounterOp(seq))

	return p.store.BatchCommit(ops)
}

func concatFields(properties map[string]any, fields []string) string {
	out := ""
	for _, f := range fields {
		if v, ok := properties[f]; ok {
			out += fmt.Sprintf("%v\n", v)
		}
	}
	return out
}

// AddEdge upserts the (src, dst, type) edge, writing both directions in one
// batch. Edges are first-class and carried as their own op type; entity
// writes never implicitly create them.
func (p *Pipeline) AddEdge(tenant string, e *model.Edge) error {
	if p.readOnly {
		return errReadOnly
	}
	ops, err := edgeindex.PutOps(tenant, e)
	if err != nil {
		return err
	}
	return p.store.BatchCommit(ops)
}

// DeleteEdge removes both directions of (src, dst, type) atomically.
func (p *Pipeline) DeleteEdge(tenant, src, dst, edgeType string) error {
	if p.readOnly {
		return errReadOnly
	}
	return p.store.BatchCommit(edgeindex.DeleteOps(tenant, src, dst, edgeType))
}

// Apply replays one WAL entry through the same write pipeline, used by a
// follower applying a replicated stream. It is exempt from the read-only
// check (it is the only way a follower's state changes) and is idempotent:
// an entry whose sequence is at or below the log's locally applied sequence
// is a no-op, so re-delivery from the primary never double-applies a write.
func (p *Pipeline) Apply(ctx context.Context, entry *model.WalEntry, hasEmbeddingProvider bool) error {
	if entry.Seq <= p.log.LocalSeq() && p.log.LocalSeq() != 0 {
		return nil
	}

	var properties map[string]any
	if len(entry.Payload) > 0 {
		if err := json.Unmarshal(entry.Payload, &properties); err != nil {
			return perrors.FatalCorruption("decode wal entry payload", err)
		}
	}

	// A follower forces a stale vector marker instead of recomputing when
	// it has no embedding provider configured at all, and also when the
	// primary itself recorded this entry as non-materialized: a follower
	// that happens to have a working provider must not diverge from a
	// primary that couldn't produce a vector for the same write, or the
	// two nodes would disagree about the entity's stored vector with
	// nothing to reconcile them later.
	forceStale := !hasEmbeddingProvider || !entry.VectorMaterialized

	var op Op
	switch entry.Op {
	case model.WalOpInsert, model.WalOpUpdate:
		op = Op{
			Kind: opKindOf(entry.Op), Schema: entry.SchemaName, ID: entry.EntityID,
			Properties: properties, ForceID: entry.EntityID,
			ForceStaleVector: forceStale,
		}
	case model.WalOpDelete:
		op = Op{Kind: OpDelete, ID: entry.EntityID}
	default:
		return perrors.FatalCorruption(fmt.Sprintf("unknown wal op %q", entry.Op), nil)
	}

	wasReadOnly := p.readOnly
	p.readOnly = false
	defer func() { p.readOnly = wasReadOnly }()

	_, err := p.Write(ctx, entry.TenantID, op)
	if err != nil {
		return err
	}
	p.log.AdvanceApplied(entry.Seq)
	return nil
}

func opKindOf(op model.WalOp) OpKind {
	if op == model.WalOpUpdate {
		return OpUpdate
	}
	return OpInsert
}
