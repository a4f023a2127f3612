package replication

import (
	"context"
	"sync"

	"google.golang.org/grpc"

	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/percolog"
	"github.com/percolate-dev/percolate-core/internal/wal"
)

// BroadcastBuffer is the default bounded send buffer per follower; overflow
// disconnects the follower rather than applying unbounded backpressure.
const BroadcastBuffer = 100

// Server is the primary-side replication endpoint: it answers Subscribe
// with historical catch-up followed by a live tail, and GetStatus with the
// current sequence and replica count.
type Server struct {
	log *wal.Log

	mu        sync.Mutex
	followers map[int]chan *model.WalEntry
	nextID    int
}

// NewServer builds a Server over log. Call Broadcast after every committed
// write so connected followers observe it.
func NewServer(log *wal.Log) *Server {
	return &Server{log: log, followers: make(map[int]chan *model.WalEntry)}
}

// Broadcast fans entry out to every connected follower's buffered channel;
// a follower whose buffer is full is disconnected rather than blocking the
// writer that produced entry.
func (s *Server) Broadcast(entry *model.WalEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.followers {
		select {
		case ch <- entry:
		default:
			percolog.WithComponent("replication").Warn().
				Int("follower", id).Msg("follower buffer full, disconnecting")
			close(ch)
			delete(s.followers, id)
		}
	}
}

func (s *Server) register() (int, chan *model.WalEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan *model.WalEntry, BroadcastBuffer)
	s.followers[id] = ch
	return id, ch
}

func (s *Server) unregister(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.followers[id]; ok {
		delete(s.followers, id)
		close(ch)
	}
}

// ReplicaCount returns the number of currently connected followers.
func (s *Server) ReplicaCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.followers)
}

// streamSink is the minimal surface this package needs from
// grpc.ServerStream, so Subscribe's core logic is testable without a real
// network transport.
type streamSink interface {
	Context() context.Context
	SendEntry(*model.WalEntry) error
}

// Subscribe serves from.LastSequence onward: first the historical range
// from the WAL, then a live tail fed by Broadcast, until the stream's
// context is cancelled or the follower is disconnected for a full buffer.
func (s *Server) Subscribe(req *SubscribeRequest, stream streamSink) error {
	backlog, err := s.log.ReadFrom(req.LastSequence + 1)
	if err != nil {
		return err
	}
	lastSent := req.LastSequence
	for _, entry := range backlog {
		if err := stream.SendEntry(entry); err != nil {
			return err
		}
		lastSent = entry.Seq
	}

	id, ch := s.register()
	defer s.unregister(id)

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case entry, ok := <-ch:
			if !ok {
				return nil // disconnected for a full buffer
			}
			if entry.Seq <= lastSent {
				continue // already sent via backlog
			}
			if err := stream.SendEntry(entry); err != nil {
				return err
			}
			lastSent = entry.Seq
		}
	}
}

// GetStatus answers the companion unary RPC.
func (s *Server) GetStatus(context.Context, *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{
		CurrentSequence: s.log.LocalSeq(),
		ReplicaCount:    s.ReplicaCount(),
	}, nil
}

// ServiceName is the fully-qualified gRPC service name carried in every
// method's FullMethod.
const ServiceName = "percolate.replication.v1.Replication"

// ServiceDesc is the hand-registered gRPC service descriptor standing in
// for protoc-generated server registration code (see package doc). Handlers
// decode/encode through the custom JSON codec registered in codec.go.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*serverAPI)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "percolate/replication.proto",
}

// serverAPI is the interface grpc.ServiceDesc's reflection-free dispatch
// expects the registered implementation to satisfy.
type serverAPI interface {
	GetStatus(context.Context, *StatusRequest) (*StatusResponse, error)
	Subscribe(*SubscribeRequest, streamSink) error
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StatusRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(serverAPI).GetStatus(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(serverAPI).GetStatus(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(serverAPI).Subscribe(req, &grpcStreamSink{stream: stream})
}

// grpcStreamSink adapts a live grpc.ServerStream to the streamSink
// interface used by Subscribe's core logic.
type grpcStreamSink struct {
	stream grpc.ServerStream
}

func (g *grpcStreamSink) Context() context.Context { return g.stream.Context() }

func (g *grpcStreamSink) SendEntry(entry *model.WalEntry) error {
	msg := &WalEntryMessage{
		Sequence: entry.Seq, TimestampMicros: entry.TimestampMicros,
		Operation: string(entry.Op), Tenant: entry.TenantID, EntityID: entry.EntityID,
		SchemaShortName: entry.SchemaName, PayloadJSON: entry.Payload,
		VectorMaterialized: entry.VectorMaterialized,
	}
	return g.stream.SendMsg(msg)
}
