package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPPasswordShapeAndCharset(t *testing.T) {
	pw, err := generateAPPassword()
	require.NoError(t, err)
	assert.Len(t, pw, apPasswordLength)

	for _, r := range pw {
		assert.True(t, strings.ContainsRune(safeAPPasswordAlphabet, r), "unexpected rune %q", r)
	}

	assert.NotContains(t, pw, "0")
	assert.NotContains(t, pw, "O")
	assert.NotContains(t, pw, "1")
	assert.NotContains(t, pw, "l")
	assert.NotContains(t, pw, "I")
}

func TestGenerateAPPasswordIsRandom(t *testing.T) {
	a, err := generateAPPassword()
	require.NoError(t, err)
	b, err := generateAPPassword()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
