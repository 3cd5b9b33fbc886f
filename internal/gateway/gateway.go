// ABOUTME: Gateway orchestrator that owns the HTTP server and its verification dependencies
// ABOUTME: Builds the backend verifier and captcha client, serves over TCP or tailnet, shuts down gracefully

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/certgate/internal/assets"
	"github.com/2389/certgate/internal/authclient"
	"github.com/2389/certgate/internal/captcha"
	"github.com/2389/certgate/internal/channel"
	"github.com/2389/certgate/internal/config"
	"github.com/2389/certgate/internal/dedupe"
)

// replayCapacity bounds how many captcha tokens the replay guard remembers.
const replayCapacity = 100_000

// shutdownBudget is how long in-flight requests get once shutdown starts.
const shutdownBudget = 5 * time.Second

// Gateway serves the browser-facing routes and holds the shared clients
// they call out to.
type Gateway struct {
	config      *config.Config
	verifier    authclient.VerifierCloser
	captcha     captcha.Verifier
	captchaErr  error
	replay      *dedupe.Cache
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

type options struct {
	verifier       authclient.VerifierCloser
	captcha        captcha.Verifier
	channelOpts    []channel.Option
	captchaOptions []captcha.Option
}

// Option customizes a Gateway.
type Option func(*options)

// WithTokenVerifier replaces the backend verifier built from config.
func WithTokenVerifier(v authclient.VerifierCloser) Option {
	return func(o *options) { o.verifier = v }
}

// WithCaptchaVerifier replaces the captcha client built from config.
// The replay guard is still applied on top.
func WithCaptchaVerifier(v captcha.Verifier) Option {
	return func(o *options) { o.captcha = v }
}

// WithChannelOptions passes options to every backend connection.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(o *options) { o.channelOpts = append(o.channelOpts, opts...) }
}

// WithCaptchaOptions passes options to the captcha client.
func WithCaptchaOptions(opts ...captcha.Option) Option {
	return func(o *options) { o.captchaOptions = append(o.captchaOptions, opts...) }
}

// New creates a Gateway from cfg. Missing backend address or captcha secret
// do not fail startup; the affected routes fail closed per request.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("gateway: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	replayTTL := cfg.Captcha.ReplayTTL
	if replayTTL <= 0 {
		replayTTL = config.DefaultReplayTTL
	}

	gw := &Gateway{
		config: cfg,
		logger: logger,
		replay: dedupe.New(replayTTL, replayCapacity, dedupe.WithSweepInterval(time.Minute)),
	}

	gw.verifier = o.verifier
	if gw.verifier == nil {
		gw.verifier = authclient.NewTokenVerifier(cfg.Backend, logger.With("component", "authclient"), o.channelOpts...)
	}
	if cfg.Backend.Address == "" {
		logger.Warn("backend address not set; /protected will fail with 500", "env", config.EnvBackendAddress)
	}

	next := o.captcha
	if next == nil {
		client, err := captcha.New(cfg.Captcha, o.captchaOptions...)
		if err != nil {
			logger.Warn("captcha client unavailable; /verify-captcha will report unavailable", "error", err)
			gw.captchaErr = err
		} else {
			next = client
		}
	}
	if next != nil {
		gw.captcha = captcha.NewReplayGuard(next, gw.replay)
	}

	if cfg.AuthService.Host == "" {
		logger.Warn("auth service host not set; index page will report an internal error", "env", config.EnvAuthServiceHost)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	return gw, nil
}

// Handler returns the routed and middleware-wrapped HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", g.handleIndex)
	mux.Handle("GET /assets/", http.StripPrefix("/assets", assets.FileServer()))
	mux.HandleFunc("GET /health-check", g.handleHealth)
	mux.HandleFunc("GET /protected", g.handleProtected)
	mux.HandleFunc("POST /verify-captcha", g.handleVerifyCaptcha)

	var h http.Handler = mux
	h = accessLog(g.logger.With("component", "http"))(h)
	h = recoverPanic(g.logger)(h)
	h = requestID(h)
	return h
}

// setupTCPListener opens the plain HTTP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run serves until ctx is canceled or the server fails, then shuts down.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on a listener the caller already opened.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the caller's is already done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "certgate", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :80, or on :443
// through Funnel when enabled.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases the backend connection,
// the replay cache and the tailnet node.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "verifier close", g.verifier.Close())

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	g.replay.Close()

	return errors.Join(errs...)
}
