package main

import (
	"net"

	"google.golang.org/grpc"

	"github.com/percolate-dev/percolate-core/internal/replication"
)

// newGRPCServer builds the gRPC server hosting the replication service
// descriptor, gated by ReadOnlyInterceptor so that if this binary is ever
// extended with mutating RPCs on the same server, a follower node still
// refuses them at the transport layer rather than relying on every handler
// to check readOnly itself.
func newGRPCServer(server *replication.Server) *grpc.Server {
	srv := grpc.NewServer(grpc.UnaryInterceptor(replication.ReadOnlyInterceptor()))
	srv.RegisterService(&replication.ServiceDesc, server)
	return srv
}

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
