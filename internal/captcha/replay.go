// ABOUTME: Single-use guard for CAPTCHA response tokens in front of a Verifier
// ABOUTME: Denies replays locally and releases tokens whose verification never reached the provider

package captcha

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/2389/certgate/internal/dedupe"
)

// ErrReplayed is returned for a response token this gateway already submitted.
var ErrReplayed = errors.New("captcha response token already used")

// ReplayGuard wraps a Verifier so each response token is submitted at most
// once per window.
type ReplayGuard struct {
	next Verifier
	seen *dedupe.Cache
}

// NewReplayGuard returns a guard that records tokens in seen.
func NewReplayGuard(next Verifier, seen *dedupe.Cache) *ReplayGuard {
	return &ReplayGuard{next: next, seen: seen}
}

// Verify implements Verifier.
func (g *ReplayGuard) Verify(ctx context.Context, responseToken, remoteIP string) (Result, error) {
	key := fingerprint(responseToken)
	if !g.seen.Claim(key) {
		return Result{}, ErrReplayed
	}

	res, err := g.next.Verify(ctx, responseToken, remoteIP)
	if errors.Is(err, ErrTransport) {
		// The provider may never have seen the token; let the caller retry.
		g.seen.Release(key)
	}
	return res, err
}

// fingerprint is the cache key for a token; raw tokens are not stored.
func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
