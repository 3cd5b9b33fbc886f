// Package captcha verifies CAPTCHA response tokens against a siteverify-style
// provider (Google reCAPTCHA by default; Cloudflare Turnstile and hCaptcha
// speak the same form protocol).
//
// A Client posts the shared secret, the browser's response token and, when
// known, the caller's IP address, and returns the provider's success flag.
// Provider denials come back as Result{Success: false} with a nil error;
// network, status and decoding problems come back as ErrTransport or
// ErrDecode so callers can tell "could not verify" from "rejected".
//
// ReplayGuard sits in front of any Verifier and refuses tokens it has
// already submitted within the replay window.
package captcha
