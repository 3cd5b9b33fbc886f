// ABOUTME: HTTP handlers for the index page, protected resource and captcha verification
// ABOUTME: Maps verification outcomes to status codes and the captcha JSON envelope

package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/2389/certgate/internal/assets"
	"github.com/2389/certgate/internal/authclient"
	"github.com/2389/certgate/internal/captcha"
)

// SessionCookie is the cookie carrying the caller's session token.
const SessionCookie = "jwt"

// maxCaptchaBody caps the /verify-captcha request body.
const maxCaptchaBody = 1 << 16

// Messages returned in the captcha envelope.
const (
	MsgCaptchaVerified    = "Captcha verified"
	MsgCaptchaFailed      = "Captcha verification failed"
	MsgCaptchaUnavailable = "Captcha verification unavailable"
)

// ProtectedResponse is the body of a successful /protected request.
type ProtectedResponse struct {
	ImgURL string `json:"img_url"`
}

// CaptchaRequest is the body accepted by /verify-captcha.
type CaptchaRequest struct {
	CaptchaResponse string `json:"captchaResponse"`
}

// CaptchaResponse is the envelope returned by /verify-captcha.
type CaptchaResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	host := g.config.AuthService.Host
	if host == "" {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := assets.RenderIndex(w, assets.IndexData{
		LoginURL:  host,
		LogoutURL: strings.TrimSuffix(host, "/") + "/logout",
		SiteKey:   g.config.Captcha.SiteKey,
	})
	if err != nil {
		g.logger.Error("rendering index", "error", err)
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleProtected releases the protected resource to callers whose session
// token the backend accepts.
//
//	no cookie           -> 401, backend not contacted
//	construction error  -> 500
//	transport error     -> 500
//	valid=false         -> 401
//	valid=true          -> 200 {"img_url": ...}
func (g *Gateway) handleProtected(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	valid, err := g.verifier.VerifyToken(r.Context(), cookie.Value)
	switch {
	case errors.Is(err, authclient.ErrConstruction):
		g.logger.Error("auth backend unavailable", "request_id", RequestIDFromContext(r.Context()), "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	case err != nil:
		g.logger.Warn("token verification failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	case !valid:
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, ProtectedResponse{ImgURL: g.config.Protected.ResourceURL})
}

// handleVerifyCaptcha always answers 200; the outcome is in the envelope.
func (g *Gateway) handleVerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.verifyCaptcha(w, r))
}

func (g *Gateway) verifyCaptcha(w http.ResponseWriter, r *http.Request) CaptchaResponse {
	unavailable := CaptchaResponse{Success: false, Message: MsgCaptchaUnavailable}
	failed := CaptchaResponse{Success: false, Message: MsgCaptchaFailed}
	reqID := RequestIDFromContext(r.Context())

	var req CaptchaRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCaptchaBody)).Decode(&req); err != nil {
		g.logger.Warn("malformed captcha request", "request_id", reqID, "error", err)
		return unavailable
	}
	if req.CaptchaResponse == "" {
		return failed
	}
	if g.captcha == nil {
		g.logger.Error("captcha client not configured", "request_id", reqID, "error", g.captchaErr)
		return unavailable
	}

	res, err := g.captcha.Verify(r.Context(), req.CaptchaResponse, g.remoteIP(r))
	switch {
	case errors.Is(err, captcha.ErrReplayed):
		g.logger.Info("captcha token replayed", "request_id", reqID)
		return failed
	case err != nil:
		g.logger.Warn("captcha verification error", "request_id", reqID, "error", err)
		return unavailable
	case !res.Success:
		g.logger.Debug("captcha denied", "request_id", reqID, "error_codes", res.ErrorCodes)
		return failed
	}
	return CaptchaResponse{Success: true, Message: MsgCaptchaVerified}
}

// remoteIP returns the client address the captcha provider should bind the
// token to. Proxy headers are honoured only when configured. Proxies append
// to X-Forwarded-For, so only the rightmost entry was written by the proxy
// in front of the gateway. Values that are not IPs are ignored.
func (g *Gateway) remoteIP(r *http.Request) string {
	if g.config.Server.TrustProxyHeaders {
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			entries := strings.Split(xff[len(xff)-1], ",")
			if ip := parseIP(entries[len(entries)-1]); ip != "" {
				return ip
			}
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseIP returns the canonical form of s, or "" when s is not an IP.
func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
