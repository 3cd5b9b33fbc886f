// ABOUTME: Development implementation of auth_service.AuthService
// ABOUTME: Answers VerifyToken from JWT checks and logs every call through a unary interceptor

package backend

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/2389/certgate/internal/authpb"
)

// TokenChecker validates a token and returns its subject.
type TokenChecker interface {
	Check(token string) (string, error)
}

// TokenService answers VerifyToken. Invalid tokens get valid=false with the
// reason in message; only an empty token is an RPC error.
type TokenService struct {
	checker TokenChecker
	logger  *slog.Logger
}

// NewTokenService returns a TokenService backed by checker.
func NewTokenService(checker TokenChecker, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{checker: checker, logger: logger}
}

// VerifyToken implements authpb.AuthServiceServer.
func (s *TokenService) VerifyToken(ctx context.Context, req *authpb.VerifyTokenRequest) (*authpb.VerifyTokenResponse, error) {
	if req.Token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	sub, err := s.checker.Check(req.Token)
	if err != nil {
		return &authpb.VerifyTokenResponse{Valid: false, Message: err.Error()}, nil
	}

	s.logger.Debug("token verified", "sub", sub)
	return &authpb.VerifyTokenResponse{Valid: true, Message: "ok"}, nil
}

// LoggingInterceptor logs method, status code and duration of unary calls.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

// NewServer returns a gRPC server with svc registered.
func NewServer(svc authpb.AuthServiceServer, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(LoggingInterceptor(logger)),
	}, opts...)

	server := grpc.NewServer(opts...)
	authpb.RegisterAuthServiceServer(server, svc)
	return server
}
