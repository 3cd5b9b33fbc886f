// ABOUTME: Auth verification client that forwards session tokens to the backend over gRPC
// ABOUTME: Separates transport failures from negative verdicts so callers can fail closed

package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/certgate/internal/authpb"
	"github.com/2389/certgate/internal/channel"
	"github.com/2389/certgate/internal/config"
)

var (
	// ErrConstruction means no client could be built: bad or missing
	// address, or the backend was unreachable.
	ErrConstruction = errors.New("auth client construction failed")
	// ErrTransport means a call was attempted but produced no verdict.
	ErrTransport = errors.New("auth verification transport failure")
)

// TransportError describes a failed VerifyToken call. It matches
// ErrTransport with errors.Is.
type TransportError struct {
	Code codes.Code
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("verify token: %s: %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// TokenVerifier turns a session token into a verdict.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (bool, error)
}

// VerifierCloser is a TokenVerifier that holds a connection.
type VerifierCloser interface {
	TokenVerifier
	Close() error
}

// Client owns one backend connection.
type Client struct {
	conn    *grpc.ClientConn
	rpc     authpb.AuthServiceClient
	timeout time.Duration
	logger  *slog.Logger
}

// New opens a channel to cfg.Address and wraps it in a Client.
func New(ctx context.Context, cfg config.BackendConfig, logger *slog.Logger, opts ...channel.Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts = append([]channel.Option{channel.WithConnectTimeout(cfg.ConnectTimeout)}, opts...)
	conn, err := channel.Open(ctx, cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}

	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = config.DefaultRPCTimeout
	}

	return &Client{
		conn:    conn,
		rpc:     authpb.NewAuthServiceClient(conn),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// VerifyToken sends token to the backend and returns its valid flag verbatim.
// Any failure to obtain a verdict is a *TransportError; it is never turned
// into false here.
func (c *Client) VerifyToken(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.rpc.VerifyToken(ctx, &authpb.VerifyTokenRequest{Token: token})
	if err != nil {
		return false, &TransportError{Code: status.Code(err), Err: err}
	}

	c.logger.Debug("backend verdict", "valid", resp.Valid, "message", resp.Message)
	return resp.Valid, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// IsUnavailable reports whether err is a transport failure that suggests the
// connection itself is broken.
func IsUnavailable(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return te.Code == codes.Unavailable
}
