package totp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Vectores del Apéndice B de RFC 6238 (SHA1), truncados a 6 dígitos.
func TestCode_RFC6238Vectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	cases := map[int64]string{
		59:         "287082",
		1111111109: "081804",
		1111111111: "050471",
		1234567890: "005924",
		2000000000: "279037",
	}
	for ts, want := range cases {
		require.Equal(t, want, Code(secret, time.Unix(ts, 0)), "t=%d", ts)
	}
}

func TestVerify_Window(t *testing.T) {
	raw, _, err := GenerateSecret()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	for _, drift := range []int{-2, -1, 0, 1, 2} {
		code := Code(raw, now.Add(time.Duration(drift)*DefaultPeriod))
		ok, step := Verify(raw, code, now, DefaultWindow)
		require.True(t, ok, "drift %d", drift)
		require.Equal(t, Step(now)+int64(drift), step)
	}

	outside := Code(raw, now.Add(3*DefaultPeriod))
	ok, _ := Verify(raw, outside, now, DefaultWindow)
	require.False(t, ok)

	ok, _ = Verify(raw, "12345", now, DefaultWindow)
	require.False(t, ok)
}

func TestSecretEncoding(t *testing.T) {
	raw, enc, err := GenerateSecret()
	require.NoError(t, err)
	require.Len(t, raw, SecretSize)
	require.NotContains(t, enc, "=")

	back, err := DecodeSecret(strings.ToLower(enc))
	require.NoError(t, err)
	require.Equal(t, raw, back)
}

func TestOTPAuthURL(t *testing.T) {
	u := OTPAuthURL("Authority", "alice@example.com", "JBSWY3DPEHPK3PXP")
	require.True(t, strings.HasPrefix(u, "otpauth://totp/Authority:alice@example.com?"))
	require.Contains(t, u, "secret=JBSWY3DPEHPK3PXP")
	require.Contains(t, u, "issuer=Authority")
	require.Contains(t, u, "digits=6")
}
