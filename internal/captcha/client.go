// ABOUTME: CAPTCHA verification client for siteverify-style HTTPS endpoints
// ABOUTME: Posts secret, response token and optional remote IP and decodes the JSON verdict

package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/certgate/internal/config"
)

// maxResponseBytes caps how much of the provider's reply is read.
const maxResponseBytes = 1 << 16

var (
	// ErrMissingSecret is returned by New when no provider secret is configured.
	ErrMissingSecret = errors.New("captcha secret not configured")
	// ErrTransport covers network failures, timeouts and non-2xx replies.
	ErrTransport = errors.New("captcha provider unreachable")
	// ErrDecode means the provider replied with a body that is not the
	// expected JSON.
	ErrDecode = errors.New("captcha provider response undecodable")
)

// Result is the provider's verdict. Success=false is a legitimate denial,
// not an error.
type Result struct {
	Success     bool
	Hostname    string
	ChallengeTS string
	ErrorCodes  []string
}

// Verifier checks a CAPTCHA response token.
type Verifier interface {
	Verify(ctx context.Context, responseToken, remoteIP string) (Result, error)
}

// Client talks to one provider endpoint with one shared secret.
type Client struct {
	secret     string
	verifyURL  string
	timeout    time.Duration
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for provider calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client from cfg. A missing secret is a hard failure.
func New(cfg config.CaptchaConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrMissingSecret
	}

	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		verifyURL = config.DefaultCaptchaVerifyURL
	}
	if _, err := url.ParseRequestURI(verifyURL); err != nil {
		return nil, fmt.Errorf("captcha verify url %q: %w", verifyURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultCaptchaTimeout
	}

	c := &Client{
		secret:     cfg.Secret,
		verifyURL:  verifyURL,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type siteverifyResponse struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
}

// Verify makes exactly one provider call. remoteIP is omitted when empty.
func (c *Client) Verify(ctx context.Context, responseToken, remoteIP string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{
		"secret":   {c.secret},
		"response": {responseToken},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading body: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	var raw siteverifyResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return Result{
		Success:     raw.Success,
		Hostname:    raw.Hostname,
		ChallengeTS: raw.ChallengeTS,
		ErrorCodes:  raw.ErrorCodes,
	}, nil
}
