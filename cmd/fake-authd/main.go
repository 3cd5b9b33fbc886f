// ABOUTME: Development auth backend for running certgate locally
// ABOUTME: Usage: fake-authd [-addr localhost:50051] [-secret $FAKE_AUTHD_SECRET] [-tokens abc123,demo]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/2389/certgate/internal/backend"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC listen address")
	secret := flag.String("secret", os.Getenv("FAKE_AUTHD_SECRET"), "HS256 secret for jwt cookies (>= 32 bytes)")
	tokens := flag.String("tokens", "", "comma-separated tokens accepted verbatim")
	debug := flag.Bool("debug", false, "log verified subjects")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *secret, *tokens, logger); err != nil {
		log.Fatal(err)
	}
}

// buildChecker combines the JWT and static token checkers that are configured.
func buildChecker(secret, tokens string) (backend.TokenChecker, error) {
	var checkers []backend.TokenChecker

	if secret != "" {
		jwtChecker, err := backend.NewJWTChecker([]byte(secret))
		if err != nil {
			return nil, err
		}
		checkers = append(checkers, jwtChecker)
	}

	static := backend.StaticChecker{}
	for _, tok := range strings.Split(tokens, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			static[tok] = "static:" + tok
		}
	}
	if len(static) > 0 {
		checkers = append(checkers, static)
	}

	if len(checkers) == 0 {
		return nil, errors.New("nothing to verify against: set -secret or -tokens")
	}
	return backend.AnyOf(checkers...), nil
}

func run(ctx context.Context, addr, secret, tokens string, logger *slog.Logger) error {
	checker, err := buildChecker(secret, tokens)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	server := backend.NewServer(backend.NewTokenService(checker, logger), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake-authd listening", "addr", lis.Addr().String())
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		server.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
