package utils

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func TestGenerateOTP_Format(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		code, err := GenerateOTP()
		require.NoError(t, err)
		require.Regexp(t, sixDigits, code)
		seen[code] = struct{}{}
	}
	// 200 draws from a million values: collisions are possible but not many
	assert.Greater(t, len(seen), 190)
}

func TestOTPEqual(t *testing.T) {
	assert.True(t, OTPEqual("012345", "012345"))
	assert.False(t, OTPEqual("012345", "012346"))
	assert.False(t, OTPEqual("012345", "12345"))
	assert.False(t, OTPEqual("", ""))
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, a, 32)

	b, err := RandomHex(0)
	require.NoError(t, err)
	assert.Len(t, b, 64)
	assert.NotEqual(t, a, b)
}
