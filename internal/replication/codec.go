// Package replication implements the primary/follower streaming protocol:
// a primary serves historical catch-up plus a live tail over gRPC, and a
// follower applies received entries through the write pipeline in
// read-only mode. With no .proto file to generate stubs from, the gRPC
// service is hand-registered with grpc.ServiceDesc and a custom JSON
// codec rather than protobuf-generated marshaling, so WAL entries stay
// JSON end to end and any client speaking gRPC-with-a-JSON-body can
// follow the stream without a generated client.
package replication

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered with grpc/encoding so both client and server
// select it via grpc.CallContentSubtype/grpc.ForceServerCodec.
const jsonCodecName = "percolate-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// SubscribeRequest is the unary request opening a replication stream.
type SubscribeRequest struct {
	LastSequence uint64 `json:"last_sequence"`
}

// WalEntryMessage is the wire shape of one streamed WAL entry. Field names
// are part of the stable wire format; new fields are appended only.
type WalEntryMessage struct {
	Sequence           uint64 `json:"sequence"`
	TimestampMicros    int64  `json:"timestamp_micros"`
	Operation          string `json:"operation"` // "insert" | "update" | "delete"
	Tenant             string `json:"tenant"`
	EntityID           string `json:"entity_id"`
	SchemaShortName    string `json:"schema_short_name"`
	PayloadJSON        []byte `json:"payload_json"`
	VectorMaterialized bool   `json:"vector_materialized"`
}

// StatusRequest is the unary GetStatus request; it carries no fields.
type StatusRequest struct{}

// StatusResponse answers GetStatus.
type StatusResponse struct {
	CurrentSequence uint64 `json:"current_sequence"`
	ReplicaCount    int    `json:"replica_count"`
}

func validateOperation(op string) error {
	switch op {
	case "insert", "update", "delete":
		return nil
	default:
		return fmt.Errorf("replication: invalid operation %q", op)
	}
}
