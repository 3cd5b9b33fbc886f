package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/certgate/internal/backend"
)

func TestBuildChecker(t *testing.T) {
	_, err := buildChecker("", "")
	assert.Error(t, err)

	_, err = buildChecker("short", "")
	assert.ErrorIs(t, err, backend.ErrSecretTooShort)

	checker, err := buildChecker("", " abc123 , ,demo")
	require.NoError(t, err)

	sub, err := checker.Check("abc123")
	require.NoError(t, err)
	assert.Equal(t, "static:abc123", sub)

	_, err = checker.Check("demo")
	assert.NoError(t, err)

	_, err = checker.Check("other")
	assert.ErrorIs(t, err, backend.ErrInvalidToken)
}
