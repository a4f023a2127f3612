package replication

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor rejects any unary RPC that is not read-only on a node
// running as a follower, gating by method name prefix rather than a
// bespoke per-method flag.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(codes.PermissionDenied, "node is a replication follower: %s is a write operation", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

func isReadOnlyMethod(fullMethod string) bool {
	idx := strings.LastIndex(fullMethod, "/")
	method := fullMethod
	if idx >= 0 {
		method = fullMethod[idx+1:]
	}

	switch method {
	case "GetStatus", "Subscribe", "Get", "Lookup", "Search", "Query", "Traverse", "ListSchemas":
		return true
	}
	for _, prefix := range []string{"List", "Get", "Inspect", "Watch", "Describe", "Show"} {
		if strings.HasPrefix(method, prefix) {
			return true
		}
	}
	return false
}
