package grpcx

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const mdInternalToken = "x-internal-token"

// Unary logging + recovery + timeout guard (если у вызова нет deadline)
func UnaryServerInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		defer func() {
			if r := recover(); r != nil {
				logger.FromCtx(ctx).Error("grpc unary panic",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			level := slog.LevelInfo
			if err != nil {
				level = slog.LevelWarn
			}
			logger.FromCtx(ctx).Log(ctx, level, "grpc unary",
				"method", info.FullMethod,
				"dur_ms", time.Since(start).Milliseconds(),
				"code", status.Code(err).String(),
				"err", errString(err))
		}()

		return handler(ctx, req)
	}
}

func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				logger.L().Error("grpc stream panic",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			logger.L().Debug("grpc stream",
				"method", info.FullMethod,
				"dur_ms", time.Since(start).Milliseconds(),
				"err", errString(err))
		}()

		return handler(srv, ss)
	}
}

// InternalTokenInterceptor требует x-internal-token для методов RelayAdmin.
// Health не закрывается. Пустой токен отключает проверку.
func InternalTokenInterceptor(token string) grpc.UnaryServerInterceptor {
	want := []byte(token)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" || !isAdminMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		got := []byte(first(md.Get(mdInternalToken)))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid internal token")
		}
		return handler(ctx, req)
	}
}

func isAdminMethod(fullMethod string) bool {
	prefix := "/" + ServiceName + "/"
	return len(fullMethod) > len(prefix) && fullMethod[:len(prefix)] == prefix
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
