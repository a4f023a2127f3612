// Package model defines the plain data types stored and exchanged by the
// core: entities, schemas, edges, moments, and vector records.
package model

import "time"

// Entity is the atomic unit of stored state.
type Entity struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	SchemaName string          `json:"schema_name"`
	Properties map[string]any  `json:"properties"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Deleted    bool            `json:"deleted"`
	Version    int64           `json:"version"`
}

// Extensions are the Percolate-specific JSON-Schema annotations parsed once
// at registration time.
type Extensions struct {
	EmbeddingFields          []string       `json:"embedding_fields,omitempty"`
	IndexedColumns           []string       `json:"indexed_columns,omitempty"`
	KeyField                 string         `json:"key_field,omitempty"`
	DefaultEmbeddingProvider string         `json:"default_embedding_provider,omitempty"`
	InvertedIndexEnabled     bool           `json:"inverted_index_enabled,omitempty"`
	Tools                    map[string]any `json:"tools,omitempty"`
	Resources                map[string]any `json:"resources,omitempty"`
}

// Schema is a JSON-Schema document plus the Percolate extensions that
// govern indexing and embedding of entities conforming to it.
type Schema struct {
	ShortName          string          `json:"short_name"`
	FullyQualifiedName string          `json:"fully_qualified_name"`
	JSONSchema         map[string]any  `json:"json_schema"`
	Extensions         Extensions      `json:"extensions"`
	TenantID           string          `json:"tenant_id"`
	CreatedAt          time.Time       `json:"created_at"`
}

// HasKeyField reports whether this schema derives deterministic ids.
func (s *Schema) HasKeyField() bool { return s.Extensions.KeyField != "" }

// IsMoment reports whether this schema is the built-in moment kind.
func (s *Schema) IsMoment() bool { return s.ShortName == "moment" }

// EdgeDirection distinguishes outgoing from incoming traversal.
type EdgeDirection string

const (
	DirectionOut EdgeDirection = "out"
	DirectionIn  EdgeDirection = "in"
)

// Edge is a typed, directional relation between two entities. The identity
// tuple is (SrcID, DstID, Type); re-adding is an upsert.
type Edge struct {
	SrcID      string         `json:"src_id"`
	DstID      string         `json:"dst_id"`
	Type       string         `json:"edge_type"`
	Properties map[string]any `json:"properties,omitempty"`
	Weight     float32        `json:"weight,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Moment is an entity additionally keyed by time for range scans. Its one
// field beyond Entity is TimestampMicros, the microsecond timestamp the
// moment index keys it by.
type Moment struct {
	Entity
	TimestampMicros int64 `json:"timestamp_micros"`
}

// VectorRecord is the embedding for one (entity, embedding-field-set) pair,
// plus enough metadata to detect staleness.
type VectorRecord struct {
	TenantID   string    `json:"tenant_id"`
	SchemaName string    `json:"schema_name"`
	EntityID   string    `json:"entity_id"`
	Vector     []float32 `json:"vector"`
	TextHash   string    `json:"text_hash"`
	Stale      bool      `json:"stale"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WalOp is the logical operation a WAL entry records.
type WalOp string

const (
	WalOpInsert WalOp = "insert"
	WalOpUpdate WalOp = "update"
	WalOpDelete WalOp = "delete"
)

// WalEntry is one record in the write-ahead log. Field names and JSON tags
// are part of the wire format so followers of any implementation can decode
// entries produced by a different implementation.
type WalEntry struct {
	Seq             uint64    `json:"seq"`
	TimestampMicros int64     `json:"ts"`
	TenantID        string    `json:"tenant"`
	Op              WalOp     `json:"op"`
	EntityID        string    `json:"entity_id"`
	SchemaName      string    `json:"schema"`
	Payload         []byte    `json:"payload"`
	VectorMaterialized bool   `json:"vector_materialized"`
}
