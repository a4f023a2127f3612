// Package schema is the registry: it loads, validates, and persists
// JSON-Schema documents annotated with Percolate extensions, and compiles
// and caches a JSON-Schema validator per short name so repeated inserts
// against the same schema don't recompile it.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/percolate-dev/percolate-core/internal/kv"
	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/percolog"
	"github.com/percolate-dev/percolate-core/internal/perrors"
)

var shortNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ProviderKnown reports whether name is a registered embedding provider.
// Injected by the caller (the embedder package) so this package does not
// import it back, avoiding a cycle.
type ProviderKnown func(name string) bool

type cacheEntry struct {
	schema   *model.Schema
	compiled *jsonschema.Schema
}

// Registry is the in-memory, store-backed schema registry. One Registry
// instance is shared by all tenants of a handle; entries are tenant-scoped
// by key.
type Registry struct {
	store         *kv.Store
	providerKnown ProviderKnown

	mu    sync.RWMutex
	cache map[string]map[string]*cacheEntry // tenant -> short_name -> entry
}

// New constructs a Registry over store. providerKnown may be nil, in which
// case default_embedding_provider is not validated against a live registry
// (useful for tests that don't wire an embedder).
func New(store *kv.Store, providerKnown ProviderKnown) *Registry {
	return &Registry{
		store:         store,
		providerKnown: providerKnown,
		cache:         make(map[string]map[string]*cacheEntry),
	}
}

// Register validates and persists s, compiling its JSON Schema and caching
// the result. It fails with SchemaInvalid or SchemaConflict without writing
// anything.
func (r *Registry) Register(s *model.Schema) error {
	if !shortNamePattern.MatchString(s.ShortName) {
		return perrors.SchemaInvalid(fmt.Sprintf("short_name %q must match [a-z0-9-]+", s.ShortName), nil)
	}

	properties, _ := propertiesOf(s.JSONSchema)
	for _, field := range s.Extensions.EmbeddingFields {
		if _, ok := properties[field]; !ok {
			return perrors.SchemaInvalid(fmt.Sprintf("embedding_fields references unknown property %q", field), nil)
		}
	}
	for _, col := range s.Extensions.IndexedColumns {
		if _, ok := properties[col]; !ok {
			return perrors.SchemaInvalid(fmt.Sprintf("indexed_columns references unknown property %q", col), nil)
		}
	}
	if s.Extensions.KeyField != "" {
		if _, ok := properties[s.Extensions.KeyField]; !ok {
			return perrors.SchemaInvalid(fmt.Sprintf("key_field references unknown property %q", s.Extensions.KeyField), nil)
		}
	}
	if s.Extensions.DefaultEmbeddingProvider != "" && r.providerKnown != nil {
		if !r.providerKnown(s.Extensions.DefaultEmbeddingProvider) {
			return perrors.SchemaInvalid(fmt.Sprintf("default_embedding_provider %q is not registered", s.Extensions.DefaultEmbeddingProvider), nil)
		}
	}

	compiled, err := compile(s.ShortName, s.JSONSchema)
	if err != nil {
		return perrors.SchemaInvalid("json_schema does not compile", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tenantCacheLocked(s.TenantID)[s.ShortName]; ok {
		if existing.schema.FullyQualifiedName != s.FullyQualifiedName {
			return perrors.SchemaConflict(fmt.Sprintf(
				"short_name %q already registered with fully_qualified_name %q",
				s.ShortName, existing.schema.FullyQualifiedName))
		}
	}

	value, err := json.Marshal(s)
	if err != nil {
		return perrors.SchemaInvalid("marshal schema", err)
	}
	key := kv.SchemaKey(s.TenantID, s.ShortName)
	if err := r.store.Put(kv.CFSchemas, key, value); err != nil {
		return err
	}

	r.tenantCacheLocked(s.TenantID)[s.ShortName] = &cacheEntry{schema: s, compiled: compiled}

	percolog.WithComponent("schema").Info().
		Str("tenant", s.TenantID).Str("short_name", s.ShortName).Msg("schema registered")
	return nil
}

// GetByShortName returns the schema registered under name for tenant, or
// SchemaUnknown if none is registered.
func (r *Registry) GetByShortName(tenant, name string) (*model.Schema, error) {
	r.mu.RLock()
	if entry, ok := r.tenantCacheLocked(tenant)[name]; ok {
		r.mu.RUnlock()
		return entry.schema, nil
	}
	r.mu.RUnlock()

	key := kv.SchemaKey(tenant, name)
	raw, ok, err := r.store.Get(kv.CFSchemas, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perrors.SchemaUnknown(fmt.Sprintf("no schema %q for tenant %q", name, tenant))
	}

	var s model.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, perrors.FatalCorruption("decode stored schema", err)
	}
	compiled, err := compile(s.ShortName, s.JSONSchema)
	if err != nil {
		return nil, perrors.FatalCorruption("recompile stored schema", err)
	}

	r.mu.Lock()
	r.tenantCacheLocked(tenant)[name] = &cacheEntry{schema: &s, compiled: compiled}
	r.mu.Unlock()
	return &s, nil
}

// List returns every schema registered for tenant, including any not yet
// warmed into the in-memory cache.
func (r *Registry) List(tenant string) ([]*model.Schema, error) {
	rows, err := r.store.PrefixScan(kv.CFSchemas, kv.SchemaPrefix(tenant))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Schema, 0, len(rows))
	for _, row := range rows {
		var s model.Schema
		if err := json.Unmarshal(row.Value, &s); err != nil {
			return nil, perrors.FatalCorruption("decode stored schema", err)
		}
		out = append(out, &s)
	}
	return out, nil
}

// Validate checks properties against the compiled JSON Schema for the
// schema identified by (tenant, shortName).
func (r *Registry) Validate(tenant, shortName string, properties map[string]any) error {
	s, err := r.GetByShortName(tenant, shortName)
	if err != nil {
		return err
	}

	r.mu.RLock()
	entry := r.tenantCacheLocked(tenant)[shortName]
	r.mu.RUnlock()
	if entry == nil {
		// GetByShortName above always populates the cache on success; this
		// branch only triggers under a racing eviction, so recompile once.
		compiled, err := compile(s.ShortName, s.JSONSchema)
		if err != nil {
			return perrors.FatalCorruption("recompile stored schema", err)
		}
		entry = &cacheEntry{schema: s, compiled: compiled}
	}

	if err := entry.compiled.Validate(toValidatable(properties)); err != nil {
		return perrors.ValidationFailed(fmt.Sprintf("properties do not satisfy schema %q", shortName), err)
	}
	return nil
}

func (r *Registry) tenantCacheLocked(tenant string) map[string]*cacheEntry {
	m, ok := r.cache[tenant]
	if !ok {
		m = make(map[string]*cacheEntry)
		r.cache[tenant] = m
	}
	return m
}

// compile builds a *jsonschema.Schema from a decoded JSON-Schema document,
// using an in-memory resource URL unique to the short name.
func compile(shortName string, doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	url := "mem://percolate/" + shortName + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// toValidatable round-trips properties through JSON so map[string]any values
// produced by our own decoder (e.g. json.Number) match what jsonschema/v5
// expects from json.Unmarshal with UseNumber disabled.
func toValidatable(properties map[string]any) any {
	raw, err := json.Marshal(properties)
	if err != nil {
		return properties
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return properties
	}
	return v
}

func propertiesOf(doc map[string]any) (map[string]any, bool) {
	props, ok := doc["properties"].(map[string]any)
	return props, ok
}
