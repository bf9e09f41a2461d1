package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := GenerateCode(10)
		require.NoError(t, err)
		require.Len(t, c, 10)
		for _, r := range c {
			require.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected %q", r)
		}
		seen[c] = true
	}
	require.Len(t, seen, 50)
}

func TestSHA256Hex(t *testing.T) {
	require.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		SHA256Hex(""))
	require.True(t, EqualConstantTime(SHA256Hex("a"), SHA256Hex("a")))
	require.False(t, EqualConstantTime(SHA256Hex("a"), SHA256Hex("b")))
}

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	b, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 43)
}
