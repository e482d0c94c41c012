package stevedore

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// principalKey is the context key of the authenticated peer's common name.
type principalKey struct{}

// PrincipalFromContext returns the common name of the client certificate
// the call was authenticated with.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	cn, ok := ctx.Value(principalKey{}).(string)
	return cn, ok
}

// interceptors authenticate calls by their client certificate, then log and
// measure them.
type interceptors struct {
	logger  *slog.Logger
	metrics *Metrics
}

func (i *interceptors) unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	cn, err := extractCommonName(ctx)
	if err != nil {
		err = status.Errorf(codes.Unauthenticated, "%v", err)
		i.done(ctx, info.FullMethod, cn, start, err)
		return nil, err
	}
	ctx = context.WithValue(ctx, principalKey{}, cn)
	resp, err := handler(ctx, req)
	i.done(ctx, info.FullMethod, cn, start, err)
	return resp, err
}

func (i *interceptors) stream(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	ctx := stream.Context()
	cn, err := extractCommonName(ctx)
	if err != nil {
		err = status.Errorf(codes.Unauthenticated, "%v", err)
		i.done(ctx, info.FullMethod, cn, start, err)
		return err
	}
	ctx = context.WithValue(ctx, principalKey{}, cn)
	wrapped := &wrappedServerStream{ServerStream: stream, ctx: ctx}
	err = handler(srv, wrapped)
	i.done(ctx, info.FullMethod, cn, start, err)
	return err
}

func (i *interceptors) done(ctx context.Context, fullMethod, principal string, start time.Time, err error) {
	code := status.Code(err)
	elapsed := time.Since(start)
	method := path.Base(fullMethod)
	i.metrics.handled(method, code.String(), elapsed.Seconds())
	level := slog.LevelInfo
	if code != codes.OK {
		level = slog.LevelWarn
	}
	i.logger.Log(ctx, level, "rpc", "method", method, "principal", principal, "code", code.String(), "duration", elapsed, "err", err)
}

// extractCommonName extracts the common name from the client's certificate.
func extractCommonName(ctx context.Context) (string, error) {
	peer, ok := peer.FromContext(ctx)
	if !ok {
		return "", fmt.Errorf("%w: cannot get peer from context", ErrCommonName)
	}
	tlsInfo, ok := peer.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return "", fmt.Errorf("%w: cannot get TLSInfo from peer", ErrCommonName)
	}
	peerCerts := tlsInfo.State.PeerCertificates
	if len(peerCerts) == 0 {
		return "", fmt.Errorf("%w: no peer certificates", ErrCommonName)
	}
	return peerCerts[0].Subject.CommonName, nil
}

// wrappedServerStream is a wrapper around grpc.ServerStream that allows
// modifying the context.
type wrappedServerStream struct {
	grpc.ServerStream
	//nolint:containedctx
	// seems to be an accepted pattern for stream middleware see
	// https://github.com/grpc-ecosystem/go-grpc-middleware/blob/d42ae9d517069c2bd7f9339147a0eafa86b3d4a3/wrappers.go#L16
	ctx context.Context
}

// Context returns the modified context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
