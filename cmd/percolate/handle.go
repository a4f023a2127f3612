// Package main implements the percolate CLI: a single binary wiring every
// internal/ package into its public operations and exposing them as cobra
// subcommands. There is no separate server package between main and the
// storage engine; each subcommand opens (or reuses) one Handle and calls
// straight into the internal packages it needs.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/percolate-dev/percolate-core/internal/columnindex"
	"github.com/percolate-dev/percolate-core/internal/config"
	"github.com/percolate-dev/percolate-core/internal/edgeindex"
	"github.com/percolate-dev/percolate-core/internal/embedder"
	"github.com/percolate-dev/percolate-core/internal/entityindex"
	"github.com/percolate-dev/percolate-core/internal/executor"
	"github.com/percolate-dev/percolate-core/internal/export"
	"github.com/percolate-dev/percolate-core/internal/invertedindex"
	"github.com/percolate-dev/percolate-core/internal/keyindex"
	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/lockpool"
	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/percolog"
	"github.com/percolate-dev/percolate-core/internal/perrors"
	"github.com/percolate-dev/percolate-core/internal/planner"
	"github.com/percolate-dev/percolate-core/internal/replication"
	"github.com/percolate-dev/percolate-core/internal/schema"
	"github.com/percolate-dev/percolate-core/internal/sqlparser"
	"github.com/percolate-dev/percolate-core/internal/vacuum"
	"github.com/percolate-dev/percolate-core/internal/vectorindex"
	"github.com/percolate-dev/percolate-core/internal/wal"
	"github.com/percolate-dev/percolate-core/internal/writepipeline"
	"github.com/percolate-dev/percolate-core/pkg/metrics"
)

// Handle is one open database instance: every index manager the engine's
// public operations touch, wired together exactly once at Open. CLI
// commands hold a *Handle for the lifetime of the process.
type Handle struct {
	cfg config.Config

	store    *kv.Store
	registry *schema.Registry
	entities *entityindex.Index
	edges    *edgeindex.Index
	keys     *keyindex.Index
	cols     *columnindex.Index
	inverted *invertedindex.Index
	vectors  *vectorindex.Index
	embedReg *embedder.Registry
	embedPl  *embedder.Pool
	locks    *lockpool.Pool
	log      *wal.Log
	pipeline *writepipeline.Pipeline
	exec     *executor.Executor
	vac      *vacuum.Vacuum

	// replServer is non-nil only while this process is actively serving a
	// primary replication endpoint (the "serve" command).
	replServer *replication.Server
	// follower is non-nil only while this process is actively running as a
	// replication follower (the "replicate" command).
	follower *replication.Follower
}

// Open builds a Handle over cfg, creating the on-disk store if absent:
// validate config, open the backing store, then construct every
// collaborator in dependency order (indexes before the write pipeline
// that drives them, the write pipeline before replication).
func Open(cfg config.Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, perrors.SchemaInvalid(err.Error(), nil)
	}

	store, err := kv.Open(cfg.DBPath, cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	entities := entityindex.New(store)
	edges := edgeindex.New(store)
	keys := keyindex.New(store)
	cols := columnindex.New(store)
	inverted := invertedindex.New(store, cfg.BM25K1, cfg.BM25B)
	vectors := vectorindex.New(store)

	embedReg := embedder.NewRegistry()
	embedPl := embedder.NewPool(embedReg, cfg.EmbedPoolDepth)

	registry := schema.New(store, embedReg.Known)
	locks := lockpool.New(cfg.LockStripes)

	log, err := wal.Open(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	readOnly := cfg.Mode == config.ModeFollower
	pipeline := writepipeline.New(store, registry, entities, edges, keys, cols, inverted, vectors, embedPl, locks, log, cfg, readOnly)
	exec := executor.New(entities, edges, keys, cols, inverted, vectors, embedPl)
	vac := vacuum.New(store, cols)

	metrics.RegisterComponent("kv-store", true, "open")
	metrics.RegisterComponent("wal", true, "open")
	metrics.RegisterComponent("schema-registry", true, "open")
	if cfg.Mode == config.ModeFollower {
		metrics.SetCriticalComponents([]string{"kv-store", "wal", "schema-registry", "replication-stream"})
		metrics.RegisterComponent("replication-stream", false, "not yet connected")
	} else {
		metrics.SetCriticalComponents([]string{"kv-store", "wal", "schema-registry"})
	}

	return &Handle{
		cfg: cfg, store: store, registry: registry, entities: entities,
		edges: edges, keys: keys, cols: cols, inverted: inverted,
		vectors: vectors, embedReg: embedReg, embedPl: embedPl, locks: locks,
		log: log, pipeline: pipeline, exec: exec, vac: vac,
	}, nil
}

// Close releases the underlying store file.
func (h *Handle) Close() error {
	return h.store.Close()
}

func (h *Handle) tenant() string { return h.cfg.TenantID }

// RegisterSchema validates and persists a JSON-Schema document (with
// Percolate extensions) supplied as raw JSON.
func (h *Handle) RegisterSchema(raw []byte) (*model.Schema, error) {
	var s model.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, perrors.SchemaInvalid("decode schema document", err)
	}
	s.TenantID = h.tenant()
	s.CreatedAt = time.Now().UTC()
	if err := h.registry.Register(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSchemas returns every schema registered for this handle's tenant.
func (h *Handle) ListSchemas() ([]*model.Schema, error) {
	return h.registry.List(h.tenant())
}

// Insert creates a new entity under schemaName.
func (h *Handle) Insert(ctx context.Context, schemaName string, properties map[string]any) (*model.Entity, error) {
	e, err := h.pipeline.Write(ctx, h.tenant(), writepipeline.Op{
		Kind: writepipeline.OpInsert, Schema: schemaName, Properties: properties,
	})
	if err == nil {
		h.broadcastLatest()
	}
	return e, err
}

// Update replaces the properties of an existing entity.
func (h *Handle) Update(ctx context.Context, id string, properties map[string]any) (*model.Entity, error) {
	e, err := h.pipeline.Write(ctx, h.tenant(), writepipeline.Op{
		Kind: writepipeline.OpUpdate, ID: id, Properties: properties,
	})
	if err == nil {
		h.broadcastLatest()
	}
	return e, err
}

// Delete soft-deletes an entity.
func (h *Handle) Delete(ctx context.Context, id string) error {
	_, err := h.pipeline.Write(ctx, h.tenant(), writepipeline.Op{Kind: writepipeline.OpDelete, ID: id})
	if err == nil {
		h.broadcastLatest()
	}
	return err
}

// Get fetches an entity by id, honoring soft-delete invisibility.
func (h *Handle) Get(id string) (*model.Entity, error) {
	return h.entities.GetVisible(h.tenant(), id)
}

// Lookup resolves an entity by its schema's declared key field, falling
// back to a vector SEARCH over the same query text when the exact key
// misses.
func (h *Handle) Lookup(ctx context.Context, schemaName, keyValue string) ([]executor.Result, error) {
	p := planner.Lookup(h.tenant(), schemaName, keyValue)
	p.Fallback = planner.Search(h.tenant(), schemaName, keyValue, 5, 0)
	p.Fallback.Confidence = 0.0
	return h.exec.Execute(ctx, p, h.providerFor(schemaName))
}

// Search runs a vector SEARCH over schemaName.
func (h *Handle) Search(ctx context.Context, schemaName, queryText string, topK, ef int) ([]executor.Result, error) {
	p := planner.Search(h.tenant(), schemaName, queryText, topK, ef)
	return h.exec.Execute(ctx, p, h.providerFor(schemaName))
}

// Query compiles and runs a SQL-subset statement.
func (h *Handle) Query(ctx context.Context, sql string) ([]executor.Result, error) {
	q, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, perrors.BadQuery(err.Error())
	}

	var indexed []string
	if s, err := h.registry.GetByShortName(h.tenant(), q.From); err == nil {
		indexed = s.Extensions.IndexedColumns
	}

	cardinality := func(column string, value any) int {
		return h.cols.EstimateCardinality(h.tenant(), q.From, column, value)
	}
	p := planner.FromSQL(h.tenant(), q, indexed, cardinality)
	return h.exec.Execute(ctx, p, h.cfg.DefaultEmbeddingProvider)
}

// Traverse walks the edge graph from startID.
func (h *Handle) Traverse(ctx context.Context, startID, direction, edgeTypeFilter string, depth, limit int) ([]executor.Result, error) {
	p := planner.Traverse(h.tenant(), startID, direction, edgeTypeFilter, depth, limit)
	return h.exec.Execute(ctx, p, h.cfg.DefaultEmbeddingProvider)
}

// AddEdge upserts a directed, typed edge.
func (h *Handle) AddEdge(src, dst, edgeType string, properties map[string]any, weight float32) error {
	return h.pipeline.AddEdge(h.tenant(), &model.Edge{
		SrcID: src, DstID: dst, Type: edgeType, Properties: properties,
		Weight: weight, CreatedAt: time.Now().UTC(),
	})
}

// DeleteEdge removes a directed, typed edge.
func (h *Handle) DeleteEdge(src, dst, edgeType string) error {
	return h.pipeline.DeleteEdge(h.tenant(), src, dst, edgeType)
}

// Export writes every entity of schemaName to sink in the given format.
func (h *Handle) Export(schemaName string, format export.Format, sink io.Writer) error {
	entities, err := h.entities.List(h.tenant(), schemaName)
	if err != nil {
		return err
	}
	return export.Export(entities, format, sink)
}

// Ingest reads one JSON object per line from source and inserts each as a
// new entity under schemaName. Chunking and embedding are the caller's
// responsibility upstream of this call; the core only receives
// ready-made property bags to write.
func (h *Handle) Ingest(ctx context.Context, source io.Reader, schemaName string) (int, error) {
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var properties map[string]any
		if err := json.Unmarshal(line, &properties); err != nil {
			return count, perrors.BadQuery(fmt.Sprintf("ingest line %d: %v", count+1, err))
		}
		if _, err := h.Insert(ctx, schemaName, properties); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// providerFor returns the embedding provider a schema names, falling back
// to the handle's configured default when the schema has none set or
// cannot be resolved (e.g. a Lookup fallback SEARCH against an unknown
// schema, which simply yields no results).
func (h *Handle) providerFor(schemaName string) string {
	if s, err := h.registry.GetByShortName(h.tenant(), schemaName); err == nil && s.Extensions.DefaultEmbeddingProvider != "" {
		return s.Extensions.DefaultEmbeddingProvider
	}
	return h.cfg.DefaultEmbeddingProvider
}

// broadcastLatest fans the most recently committed WAL entry out to
// connected followers when this process is serving as a primary. It is a
// no-op otherwise, including on a follower (where writes only ever arrive
// through Apply and must not be re-broadcast).
func (h *Handle) broadcastLatest() {
	if h.replServer == nil {
		return
	}
	seq := h.log.LocalSeq()
	entries, err := h.log.ReadFrom(seq)
	if err != nil || len(entries) == 0 {
		return
	}
	h.replServer.Broadcast(entries[len(entries)-1])
	metrics.WalSequence.Set(float64(seq))
}

// Vacuum runs one physical cleanup pass over tenant's tombstoned entities.
func (h *Handle) Vacuum(schemaName string, maxEntities int) (vacuum.Report, error) {
	timer := metrics.NewTimer()
	report, err := h.vac.RunTenant(h.tenant(), schemaName, maxEntities)
	timer.ObserveDuration(metrics.VacuumDuration)
	if err == nil {
		metrics.VacuumEntitiesPurgedTotal.Add(float64(report.EntitiesPurged))
	}
	return report, err
}

// Serve starts a primary replication endpoint on addr, blocking until ctx
// is cancelled. It registers the hand-rolled gRPC service descriptor
// described in internal/replication, rather than protoc-generated stubs,
// per the package's design note.
func (h *Handle) Serve(ctx context.Context, addr string) error {
	if h.cfg.Mode != config.ModePrimary {
		return perrors.BadQuery("serve requires mode=primary")
	}
	h.replServer = replication.NewServer(h.log)

	srv := newGRPCServer(h.replServer)
	lis, err := newListener(addr)
	if err != nil {
		return err
	}

	logger := percolog.WithComponent("serve")
	logger.Info().Str("addr", addr).Msg("replication endpoint listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		h.replServer = nil
		return nil
	case err := <-errCh:
		h.replServer = nil
		return err
	}
}

// Replicate runs this handle as a follower of primaryAddr, blocking until
// ctx is cancelled or retries are exhausted.
func (h *Handle) Replicate(ctx context.Context, primaryAddr string) error {
	if h.cfg.Mode != config.ModeFollower {
		return perrors.BadQuery("replicate requires mode=follower")
	}
	h.follower = replication.NewFollower(primaryAddr, h.log, h.pipeline, h.embedReg.Known(h.cfg.DefaultEmbeddingProvider))
	return h.follower.Follow(ctx)
}

// WalStatus reports this node's replication status: a primary reports its
// current sequence and replica count, a follower its connection state.
func (h *Handle) WalStatus() map[string]any {
	out := map[string]any{"local_seq": h.log.LocalSeq(), "mode": string(h.cfg.Mode)}
	if h.replServer != nil {
		out["replica_count"] = h.replServer.ReplicaCount()
	}
	if h.follower != nil {
		st := h.follower.Status()
		out["connected"] = st.Connected
		out["state"] = string(st.State)
		out["reason"] = st.Reason
	}
	return out
}
