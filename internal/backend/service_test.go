// ABOUTME: Tests for the development auth backend
// ABOUTME: Covers JWT checks and the VerifyToken RPC over a loopback gRPC server

package backend

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/2389/certgate/internal/authpb"
)

var testSecret = []byte("backend-test-secret-of-32-bytes!")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-1",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestNewJWTChecker_ShortSecret(t *testing.T) {
	_, err := NewJWTChecker([]byte("short"))
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestJWTChecker(t *testing.T) {
	checker, err := NewJWTChecker(testSecret)
	require.NoError(t, err)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	noSub := validClaims()
	delete(noSub, "sub")

	noExp := validClaims()
	delete(noExp, "exp")

	tests := []struct {
		name    string
		token   string
		wantSub string
		wantErr error
	}{
		{"valid", sign(t, jwt.SigningMethodHS256, testSecret, validClaims()), "user-1", nil},
		{"expired", sign(t, jwt.SigningMethodHS256, testSecret, expired), "", ErrExpiredToken},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("another-secret-that-is-32-bytes!"), validClaims()), "", ErrInvalidToken},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, testSecret, validClaims()), "", ErrInvalidToken},
		{"missing exp", sign(t, jwt.SigningMethodHS256, testSecret, noExp), "", ErrInvalidToken},
		{"missing sub", sign(t, jwt.SigningMethodHS256, testSecret, noSub), "", ErrMissingSubject},
		{"garbage", "not-a-jwt", "", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := checker.Check(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, sub)
		})
	}
}

func TestTokenService_VerifyToken(t *testing.T) {
	checker, err := NewJWTChecker(testSecret)
	require.NoError(t, err)
	svc := NewTokenService(checker, testLogger())

	resp, err := svc.VerifyToken(t.Context(), &authpb.VerifyTokenRequest{Token: sign(t, jwt.SigningMethodHS256, testSecret, validClaims())})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, "ok", resp.Message)

	resp, err = svc.VerifyToken(t.Context(), &authpb.VerifyTokenRequest{Token: "forged"})
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Message)

	_, err = svc.VerifyToken(t.Context(), &authpb.VerifyTokenRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestNewServer_ServesVerifyToken(t *testing.T) {
	checker, err := NewJWTChecker(testSecret)
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := NewServer(NewTokenService(checker, testLogger()), testLogger())
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := authpb.NewAuthServiceClient(conn)
	resp, err := client.VerifyToken(t.Context(), &authpb.VerifyTokenRequest{Token: sign(t, jwt.SigningMethodHS256, testSecret, validClaims())})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
}

func TestStaticChecker(t *testing.T) {
	checker := StaticChecker{"abc123": "demo"}

	sub, err := checker.Check("abc123")
	require.NoError(t, err)
	assert.Equal(t, "demo", sub)

	_, err = checker.Check("nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAnyOf(t *testing.T) {
	jwtChecker, err := NewJWTChecker(testSecret)
	require.NoError(t, err)
	checker := AnyOf(jwtChecker, StaticChecker{"abc123": "demo"})

	sub, err := checker.Check("abc123")
	require.NoError(t, err)
	assert.Equal(t, "demo", sub)

	sub, err = checker.Check(sign(t, jwt.SigningMethodHS256, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	_, err = checker.Check("nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = AnyOf().Check("anything")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
