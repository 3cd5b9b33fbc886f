// ABOUTME: HS256 JWT checks used by the development auth backend
// ABOUTME: Turns a session token into a verdict and a short diagnostic reason

package backend

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HS256 secret the backend accepts.
const MinSecretLength = 32

// Token errors
var (
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingSubject = errors.New("missing sub claim")
)

// JWTChecker validates HS256 signed session tokens.
type JWTChecker struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTChecker returns a checker for secret.
func NewJWTChecker(secret []byte) (*JWTChecker, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &JWTChecker{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Check validates tokenString and returns its subject.
func (c *JWTChecker) Check(tokenString string) (string, error) {
	token, err := c.parser.Parse(tokenString, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrMissingSubject
	}
	return sub, nil
}

// StaticChecker accepts a fixed set of tokens, each mapped to a subject.
type StaticChecker map[string]string

// Check implements TokenChecker.
func (s StaticChecker) Check(token string) (string, error) {
	if sub, ok := s[token]; ok {
		return sub, nil
	}
	return "", ErrInvalidToken
}

// AnyOf accepts a token if any checker does. The last error is returned
// when all of them reject it.
func AnyOf(checkers ...TokenChecker) TokenChecker {
	return anyChecker(checkers)
}

type anyChecker []TokenChecker

func (a anyChecker) Check(token string) (string, error) {
	err := ErrInvalidToken
	for _, c := range a {
		sub, cerr := c.Check(token)
		if cerr == nil {
			return sub, nil
		}
		err = cerr
	}
	return "", err
}
