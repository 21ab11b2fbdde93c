package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/nemanja-m/mrfs/internal/shared/logging"
)

// UnaryServerInterceptor authorizes the caller identity, exposes it through
// IdentityFrom and converts handler errors into status errors.
func UnaryServerInterceptor(auth Authorizer, logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		var identity string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(identityMetadataKey); len(values) > 0 {
				identity = values[0]
			}
		}

		if auth != nil {
			if err := auth.Authorize(identity); err != nil {
				logger.Warn("Rejected call", "method", info.FullMethod, "identity", identity)
				return nil, ToStatus(err)
			}
		}

		resp, err := handler(WithIdentity(ctx, identity), req)
		if err != nil {
			logger.Debug("Call failed", "method", info.FullMethod, "error", err)
			return nil, ToStatus(err)
		}
		return resp, nil
	}
}

// UnaryClientInterceptor forwards the caller identity, bounds calls without
// a deadline by timeout and converts status errors into *errs.Error.
func UnaryClientInterceptor(identity string, timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		id := IdentityFrom(ctx)
		if id == "" {
			id = identity
		}
		if id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, identityMetadataKey, id)
		}

		if _, ok := ctx.Deadline(); !ok && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		return FromStatus(invoker(ctx, method, req, reply, cc, opts...))
	}
}
