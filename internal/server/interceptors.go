package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"connectrpc.com/connect"

	"github.com/dantte-lp/govxlan/pkg/vxlanapi"
)

// ErrPanicRecovered indicates an RPC handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in rpc handler")

// requestAttrs returns the attributes every control log line carries: the
// procedure, the caller and, for per-instance calls, the VNI.
func requestAttrs(req connect.AnyRequest) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("procedure", req.Spec().Procedure),
	}
	if peer := req.Peer().Addr; peer != "" {
		attrs = append(attrs, slog.String("peer", peer))
	}
	if vni, ok := requestVNI(req.Any()); ok {
		attrs = append(attrs, slog.Uint64("vni", uint64(vni)))
	}
	return attrs
}

func requestVNI(msg any) (uint32, bool) {
	switch m := msg.(type) {
	case *vxlanapi.CreateInstanceRequest:
		return m.VNI, true
	case *vxlanapi.DestroyInstanceRequest:
		return m.VNI, true
	case *vxlanapi.ShowInstanceRequest:
		return m.VNI, true
	case *vxlanapi.ListFDBRequest:
		return m.VNI, true
	case *vxlanapi.FlushFDBRequest:
		return m.VNI, true
	default:
		return 0, false
	}
}

// LoggingInterceptor returns a unary interceptor that logs each control RPC.
// Failed calls go to Warn with the Connect code; successful calls to Debug.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := append(requestAttrs(req), slog.Duration("duration", time.Since(start)))

			if err != nil {
				attrs = append(attrs,
					slog.String("code", connect.CodeOf(err).String()),
					slog.String("error", err.Error()),
				)
				logger.LogAttrs(ctx, slog.LevelWarn, "control request failed", attrs...)
				return resp, err
			}

			logger.LogAttrs(ctx, slog.LevelDebug, "control request served", attrs...)
			return resp, nil
		}
	}
}

// LoggingInterceptorOption wraps LoggingInterceptor as a handler option.
func LoggingInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(LoggingInterceptor(logger))
}

// RecoveryInterceptor turns a panicking handler into CodeInternal and logs
// the panic value with its stack.
func RecoveryInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, retErr error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				attrs := append(requestAttrs(req),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				logger.LogAttrs(ctx, slog.LevelError, "control handler panicked", attrs...)

				resp = nil
				retErr = connect.NewError(connect.CodeInternal,
					fmt.Errorf("%s: %w", req.Spec().Procedure, ErrPanicRecovered))
			}()

			return next(ctx, req)
		}
	}
}

// RecoveryInterceptorOption wraps RecoveryInterceptor as a handler option.
func RecoveryInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(RecoveryInterceptor(logger))
}
