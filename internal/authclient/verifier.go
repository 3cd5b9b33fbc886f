// ABOUTME: Long-lived and per-request TokenVerifier implementations over Client
// ABOUTME: The shared verifier dials lazily, reuses one connection and redials after it breaks

package authclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/2389/certgate/internal/channel"
	"github.com/2389/certgate/internal/config"
)

// Verifier keeps one Client for all requests. The first call dials; a call
// that fails with codes.Unavailable drops the client so the next call
// redials. Construction failures are not remembered, so a missing address
// fails every call.
//
// Concurrent callers share a single in-flight dial and wait for it
// alongside their own context, so a slow backend costs each caller at
// most one connect timeout.
type Verifier struct {
	cfg    config.BackendConfig
	opts   []channel.Option
	logger *slog.Logger

	dials singleflight.Group

	mu     sync.Mutex
	client *Client
	closed bool
}

// NewVerifier returns a Verifier for cfg. No connection is made until the
// first VerifyToken.
func NewVerifier(cfg config.BackendConfig, logger *slog.Logger, opts ...channel.Option) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{cfg: cfg, opts: opts, logger: logger}
}

// VerifyToken implements TokenVerifier.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (bool, error) {
	c, err := v.acquire(ctx)
	if err != nil {
		return false, err
	}

	valid, err := c.VerifyToken(ctx, token)
	if err != nil && IsUnavailable(err) {
		v.discard(c)
	}
	return valid, err
}

func (v *Verifier) acquire(ctx context.Context) (*Client, error) {
	v.mu.Lock()
	closed, c := v.closed, v.client
	v.mu.Unlock()

	if closed {
		return nil, ErrConstruction
	}
	if c != nil {
		return c, nil
	}

	select {
	case res := <-v.dials.DoChan("dial", v.dial):
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for backend connection: %w", ErrConstruction, ctx.Err())
	}
}

// dial runs one connection attempt bounded by the connect timeout,
// detached from any single caller's context.
func (v *Verifier) dial() (any, error) {
	v.mu.Lock()
	if v.client != nil {
		c := v.client
		v.mu.Unlock()
		return c, nil
	}
	v.mu.Unlock()

	c, err := New(context.Background(), v.cfg, v.logger, v.opts...)
	if err != nil {
		v.logger.Warn("auth backend dial failed", "address", v.cfg.Address, "error", err)
		return nil, err
	}

	v.mu.Lock()
	closed := v.closed
	if !closed {
		v.client = c
	}
	v.mu.Unlock()

	if closed {
		_ = c.Close()
		return nil, ErrConstruction
	}
	v.logger.Info("connected to auth backend", "address", v.cfg.Address)
	return c, nil
}

// discard closes c if it is still the cached client.
func (v *Verifier) discard(c *Client) {
	v.mu.Lock()
	if v.client == c {
		v.client = nil
	} else {
		c = nil
	}
	v.mu.Unlock()

	if c != nil {
		v.logger.Warn("dropping auth backend connection", "address", v.cfg.Address)
		_ = c.Close()
	}
}

// Close releases the cached connection. Later calls fail with ErrConstruction.
func (v *Verifier) Close() error {
	v.mu.Lock()
	c := v.client
	v.client = nil
	v.closed = true
	v.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

// PerRequestVerifier opens a fresh connection for every call and closes it
// afterwards.
type PerRequestVerifier struct {
	cfg    config.BackendConfig
	opts   []channel.Option
	logger *slog.Logger
}

// NewPerRequestVerifier returns a PerRequestVerifier for cfg.
func NewPerRequestVerifier(cfg config.BackendConfig, logger *slog.Logger, opts ...channel.Option) *PerRequestVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PerRequestVerifier{cfg: cfg, opts: opts, logger: logger}
}

// VerifyToken implements TokenVerifier.
func (v *PerRequestVerifier) VerifyToken(ctx context.Context, token string) (bool, error) {
	c, err := New(ctx, v.cfg, v.logger, v.opts...)
	if err != nil {
		return false, err
	}
	defer c.Close()

	return c.VerifyToken(ctx, token)
}

// Close is a no-op; PerRequestVerifier holds no connection between calls.
func (v *PerRequestVerifier) Close() error { return nil }

// NewTokenVerifier picks the implementation named by cfg.Connection.
func NewTokenVerifier(cfg config.BackendConfig, logger *slog.Logger, opts ...channel.Option) VerifierCloser {
	if cfg.Connection == config.ConnectionPerRequest {
		return NewPerRequestVerifier(cfg, logger, opts...)
	}
	return NewVerifier(cfg, logger, opts...)
}
