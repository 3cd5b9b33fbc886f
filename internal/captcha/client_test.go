// ABOUTME: Tests for the CAPTCHA verification client and replay guard
// ABOUTME: Uses httptest providers to cover success, denial, decode and transport failures

package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/certgate/internal/config"
	"github.com/2389/certgate/internal/dedupe"
)

// provider records the last form it received and replies with body/status.
type provider struct {
	status int
	body   string
	delay  time.Duration
	form   url.Values
	calls  atomic.Int32
}

func (p *provider) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p.form = r.PostForm
		if p.delay > 0 {
			select {
			case <-time.After(p.delay):
			case <-r.Context().Done():
				return
			}
		}
		status := p.status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(p.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, verifyURL string) *Client {
	t.Helper()
	c, err := New(config.CaptchaConfig{
		Secret:    "test-secret",
		VerifyURL: verifyURL,
		Timeout:   time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNew_MissingSecret(t *testing.T) {
	c, err := New(config.CaptchaConfig{VerifyURL: "http://example.com"})
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = New(config.CaptchaConfig{Secret: "   "})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestNew_DefaultsVerifyURL(t *testing.T) {
	c, err := New(config.CaptchaConfig{Secret: "s"})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultCaptchaVerifyURL, c.verifyURL)
	assert.Equal(t, config.DefaultCaptchaTimeout, c.timeout)
}

func TestNew_InvalidVerifyURL(t *testing.T) {
	_, err := New(config.CaptchaConfig{Secret: "s", VerifyURL: "not a url"})
	assert.Error(t, err)
}

func TestVerify_Success(t *testing.T) {
	p := &provider{body: `{"success":true,"hostname":"example.com","challenge_ts":"2026-01-01T00:00:00Z"}`}
	srv := p.start(t)

	res, err := newClient(t, srv.URL).Verify(t.Context(), "tok", "203.0.113.7")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "example.com", res.Hostname)
	assert.Equal(t, "2026-01-01T00:00:00Z", res.ChallengeTS)

	assert.Equal(t, "test-secret", p.form.Get("secret"))
	assert.Equal(t, "tok", p.form.Get("response"))
	assert.Equal(t, "203.0.113.7", p.form.Get("remoteip"))
}

func TestVerify_OmitsEmptyRemoteIP(t *testing.T) {
	p := &provider{body: `{"success":true}`}
	srv := p.start(t)

	_, err := newClient(t, srv.URL).Verify(t.Context(), "tok", "")
	require.NoError(t, err)

	_, present := p.form["remoteip"]
	assert.False(t, present, "remoteip should be omitted when unknown")
}

func TestVerify_Denied(t *testing.T) {
	p := &provider{body: `{"success":false,"error-codes":["invalid-input-response"]}`}
	srv := p.start(t)

	res, err := newClient(t, srv.URL).Verify(t.Context(), "tok", "")
	require.NoError(t, err, "a denial is not an error")
	assert.False(t, res.Success)
	assert.Equal(t, []string{"invalid-input-response"}, res.ErrorCodes)
}

func TestVerify_UndecodableBody(t *testing.T) {
	p := &provider{body: `<html>oops</html>`}
	srv := p.start(t)

	_, err := newClient(t, srv.URL).Verify(t.Context(), "tok", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrTransport)
}

func TestVerify_Non2xx(t *testing.T) {
	p := &provider{status: http.StatusServiceUnavailable, body: `{"success":true}`}
	srv := p.start(t)

	_, err := newClient(t, srv.URL).Verify(t.Context(), "tok", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestVerify_Unreachable(t *testing.T) {
	p := &provider{}
	srv := p.start(t)
	srv.Close()

	_, err := newClient(t, srv.URL).Verify(t.Context(), "tok", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestVerify_Timeout(t *testing.T) {
	p := &provider{body: `{"success":true}`, delay: 2 * time.Second}
	srv := p.start(t)

	c, err := New(config.CaptchaConfig{Secret: "s", VerifyURL: srv.URL, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Verify(t.Context(), "tok", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Less(t, time.Since(start), time.Second)
}

func TestVerify_CallerCancel(t *testing.T) {
	p := &provider{body: `{"success":true}`, delay: 2 * time.Second}
	srv := p.start(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := newClient(t, srv.URL).Verify(ctx, "tok", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, errors.Is(err, context.Canceled))
}

type scriptedVerifier struct {
	res   Result
	err   error
	calls int
}

func (s *scriptedVerifier) Verify(ctx context.Context, token, ip string) (Result, error) {
	s.calls++
	return s.res, s.err
}

func TestReplayGuard_RejectsReplay(t *testing.T) {
	inner := &scriptedVerifier{res: Result{Success: true}}
	seen := dedupe.New(time.Minute, 100)
	defer seen.Close()
	g := NewReplayGuard(inner, seen)

	res, err := g.Verify(t.Context(), "tok", "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = g.Verify(t.Context(), "tok", "")
	assert.ErrorIs(t, err, ErrReplayed)
	assert.Equal(t, 1, inner.calls, "replay must not reach the provider")
}

func TestReplayGuard_DenialStillConsumesToken(t *testing.T) {
	inner := &scriptedVerifier{res: Result{Success: false}}
	seen := dedupe.New(time.Minute, 100)
	defer seen.Close()
	g := NewReplayGuard(inner, seen)

	_, err := g.Verify(t.Context(), "tok", "")
	require.NoError(t, err)

	_, err = g.Verify(t.Context(), "tok", "")
	assert.ErrorIs(t, err, ErrReplayed)
}

func TestReplayGuard_TransportFailureReleasesToken(t *testing.T) {
	inner := &scriptedVerifier{err: ErrTransport}
	seen := dedupe.New(time.Minute, 100)
	defer seen.Close()
	g := NewReplayGuard(inner, seen)

	_, err := g.Verify(t.Context(), "tok", "")
	assert.ErrorIs(t, err, ErrTransport)

	inner.err = nil
	inner.res = Result{Success: true}
	res, err := g.Verify(t.Context(), "tok", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, inner.calls)
}

func TestFingerprint(t *testing.T) {
	a := fingerprint("tok")
	assert.Len(t, a, 64)
	assert.Equal(t, a, fingerprint("tok"))
	assert.NotEqual(t, a, fingerprint("tok2"))
	assert.NotContains(t, a, "tok")
}
