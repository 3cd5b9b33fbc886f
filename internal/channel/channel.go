// ABOUTME: Channel factory that opens gRPC connections to the authentication backend
// ABOUTME: Chooses TLS or plaintext from the address scheme and waits until the channel is ready

package channel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

const (
	tlsScheme       = "https://"
	plaintextScheme = "http://"

	defaultConnectTimeout = 5 * time.Second
)

// clientKeepalive stays within a stock grpc-go server's enforcement policy
// (MinTime 5m, no pings without active streams).
var clientKeepalive = keepalive.ClientParameters{
	Time:    5 * time.Minute,
	Timeout: 20 * time.Second,
}

var (
	// ErrInvalidAddress is returned for empty or malformed backend addresses.
	ErrInvalidAddress = errors.New("invalid backend address")
	// ErrConnect is returned when the backend cannot be reached or the TLS
	// handshake fails.
	ErrConnect = errors.New("connecting to backend")
)

// Target is a parsed backend address.
type Target struct {
	// Addr is the host:port handed to the gRPC resolver.
	Addr string
	// TLS reports whether the channel is encrypted.
	TLS bool
	// ServerName is the identity checked against the backend certificate.
	// Empty for plaintext targets.
	ServerName string
}

// Parse interprets a backend address. "https://host[:port]" selects TLS with
// host as server name (port defaults to 443). "http://host[:port]" and bare
// "host:port" select plaintext.
func Parse(address string) (Target, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	switch {
	case strings.HasPrefix(address, tlsScheme):
		host, port, err := splitURL(address, "443")
		if err != nil {
			return Target{}, err
		}
		return Target{Addr: net.JoinHostPort(host, port), TLS: true, ServerName: host}, nil

	case strings.HasPrefix(address, plaintextScheme):
		host, port, err := splitURL(address, "80")
		if err != nil {
			return Target{}, err
		}
		return Target{Addr: net.JoinHostPort(host, port)}, nil

	case strings.Contains(address, "://"):
		return Target{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidAddress, address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	if host == "" || port == "" {
		return Target{}, fmt.Errorf("%w: %q needs host and port", ErrInvalidAddress, address)
	}
	return Target{Addr: net.JoinHostPort(host, port)}, nil
}

func splitURL(address, defaultPort string) (host, port string, err error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	host = u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("%w: %q has no host", ErrInvalidAddress, address)
	}
	port = u.Port()
	if port == "" {
		port = defaultPort
	}
	return host, port, nil
}

// ServerName returns the TLS identity derived from an https:// address, or
// "" when the address does not select TLS or cannot be parsed.
func ServerName(address string) string {
	t, err := Parse(address)
	if err != nil {
		return ""
	}
	return t.ServerName
}

type options struct {
	rootCAs        *x509.CertPool
	connectTimeout time.Duration
	dialOptions    []grpc.DialOption
}

// Option customizes Open.
type Option func(*options)

// WithRootCAs replaces the platform trust store for TLS targets.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(o *options) { o.rootCAs = pool }
}

// WithConnectTimeout bounds how long Open waits for the channel to become
// ready. Zero keeps the default.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithDialOptions appends raw gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOptions = append(o.dialOptions, opts...) }
}

// Open parses address, dials the backend and blocks until the channel is
// ready, the first connection attempt fails, or ctx expires. The returned
// connection belongs to the caller. No retries are attempted.
func Open(ctx context.Context, address string, opts ...Option) (*grpc.ClientConn, error) {
	o := options{connectTimeout: defaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	target, err := Parse(address)
	if err != nil {
		return nil, err
	}

	creds, err := o.transportCredentials(target)
	if err != nil {
		return nil, err
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(clientKeepalive),
	}, o.dialOptions...)

	conn, err := grpc.NewClient(target.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	if err := waitReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w %s: %w", ErrConnect, target.Addr, err)
	}

	return conn, nil
}

func (o *options) transportCredentials(t Target) (credentials.TransportCredentials, error) {
	if !t.TLS {
		return insecure.NewCredentials(), nil
	}

	roots := o.rootCAs
	if roots == nil {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("%w: loading system roots: %v", ErrConnect, err)
		}
		roots = pool
	}

	return credentials.NewTLS(&tls.Config{
		ServerName: t.ServerName,
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}), nil
}

var errTransientFailure = errors.New("channel entered transient failure")

// waitReady drives conn out of idle and waits for the first terminal
// connectivity outcome.
func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return errTransientFailure
		case connectivity.Shutdown:
			return errors.New("channel shut down")
		case connectivity.Idle:
			conn.Connect()
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}
