// Package ids derives entity identifiers: a deterministic UUIDv5 when the
// schema declares a key field, a random UUIDv4 otherwise.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// percolateNamespace is the UUIDv5 namespace all deterministic entity ids
// are derived under. Fixed so that two processes deriving an id for the
// same (tenant, schema, key value) always agree, independent of process
// startup order.
var percolateNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("percolate.core.entity-namespace"))

// New returns a random UUIDv4, used for schemas with no key_field.
func New() uuid.UUID {
	return uuid.New()
}

// Deterministic derives a stable UUIDv5 from (tenant, schema short name, key
// field value). Re-deriving with the same inputs always yields the same id,
// which is what makes insert-by-key idempotent.
func Deterministic(tenantID, schemaShortName, keyValue string) uuid.UUID {
	name := fmt.Sprintf("%s\x00%s\x00%s", tenantID, schemaShortName, keyValue)
	return uuid.NewSHA1(percolateNamespace, []byte(name))
}

// Parse wraps uuid.Parse for callers that only want the ids package as their
// single uuid import point.
func Parse(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
