package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/percolate-dev/percolate-core/internal/model"
	"github.com/percolate-dev/percolate-core/internal/percolog"
	"github.com/percolate-dev/percolate-core/internal/wal"
	"github.com/percolate-dev/percolate-core/internal/writepipeline"
)

// State is a node in the follower's connection state machine.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting    State = "Connecting"
	StateSyncing       State = "Syncing"
	StateStreaming     State = "Streaming"
	StateError         State = "Error"
)

const maxConsecutiveRetries = 10

// Status is what a follower reports to its own GetStatus caller.
type Status struct {
	Connected  bool
	LocalSeq   uint64
	PrimarySeq uint64
	Lag        uint64
	State      State
	Reason     string
}

// Follower connects to a primary, applies its replicated stream through the
// write pipeline, and tracks its own connection state machine:
// Disconnected -> Connecting -> Syncing -> Streaming, with exponential
// backoff (base 1s, doubling, cap 60s, max 10 consecutive retries before
// surfacing a hard error).
type Follower struct {
	primaryAddr          string
	log                  *wal.Log
	pipeline             *writepipeline.Pipeline
	hasEmbeddingProvider bool

	mu     sync.RWMutex
	state  State
	reason string
}

// NewFollower builds a Follower that will apply entries via pipeline.
func NewFollower(primaryAddr string, log *wal.Log, pipeline *writepipeline.Pipeline, hasEmbeddingProvider bool) *Follower {
	return &Follower{primaryAddr: primaryAddr, log: log, pipeline: pipeline, hasEmbeddingProvider: hasEmbeddingProvider, state: StateDisconnected}
}

func (f *Follower) setState(s State, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
	f.reason = reason
}

// Status returns the follower's current connection status.
func (f *Follower) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Status{
		Connected: f.state == StateStreaming,
		LocalSeq:  f.log.LocalSeq(),
		State:     f.state,
		Reason:    f.reason,
	}
}

// Follow blocks, repeatedly connecting to the primary and applying its
// stream, until ctx is cancelled or retries are exhausted.
func (f *Follower) Follow(ctx context.Context) error {
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0 // caller bounds total retries, not total time

	logger := percolog.WithComponent("replication-follower")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f.setState(StateConnecting, "")
		err := f.runOnce(ctx)
		if err == nil {
			return nil // ctx cancellation path already returned above
		}

		if f.Status().State == StateStreaming {
			// The stream was established before this failure, so the
			// retry count and backoff start over.
			attempts = 0
			bo.Reset()
		}
		attempts++
		f.setState(StateDisconnected, err.Error())
		if attempts >= maxConsecutiveRetries {
			f.setState(StateError, fmt.Sprintf("exhausted %d retries: %v", maxConsecutiveRetries, err))
			return fmt.Errorf("replication: %w", err)
		}

		wait := bo.NextBackOff()
		logger.Warn().Err(err).Dur("backoff", wait).Int("attempt", attempts).Msg("follower disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (f *Follower) runOnce(ctx context.Context) error {
	conn, err := grpc.NewClient(f.primaryAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	fromSeq := f.log.LocalSeq() + 1
	f.setState(StateSyncing, "")

	stream, err := newClientStream(ctx, conn, &SubscribeRequest{LastSequence: fromSeq - 1})
	if err != nil {
		return err
	}

	f.setState(StateStreaming, "")
	for {
		msg, err := stream.RecvEntry()
		if err != nil {
			return err
		}
		entry := &model.WalEntry{
			Seq: msg.Sequence, TimestampMicros: msg.TimestampMicros,
			TenantID: msg.Tenant, Op: model.WalOp(msg.Operation),
			EntityID: msg.EntityID, SchemaName: msg.SchemaShortName,
			Payload: msg.PayloadJSON, VectorMaterialized: msg.VectorMaterialized,
		}
		if err := validateOperation(msg.Operation); err != nil {
			return err
		}
		if err := f.pipeline.Apply(ctx, entry, f.hasEmbeddingProvider); err != nil {
			return err
		}
	}
}

// clientStream is the minimal surface this package needs from a live gRPC
// client stream.
type clientStream interface {
	RecvEntry() (*WalEntryMessage, error)
}

type grpcClientStream struct {
	stream grpc.ClientStream
}

func (g *grpcClientStream) RecvEntry() (*WalEntryMessage, error) {
	msg := new(WalEntryMessage)
	if err := g.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func newClientStream(ctx context.Context, conn *grpc.ClientConn, req *SubscribeRequest) (clientStream, error) {
	desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	stream, err := conn.NewStream(ctx, desc, "/"+ServiceName+"/Subscribe", grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &grpcClientStream{stream: stream}, nil
}
