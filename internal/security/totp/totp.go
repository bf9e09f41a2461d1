// Package totp implementa TOTP (RFC 6238) sobre HOTP (RFC 4226) con HMAC-SHA1.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPeriod = 30 * time.Second
	DefaultDigits = 6
	DefaultWindow = 2
	SecretSize    = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret retorna 20 bytes aleatorios y su base32 sin padding.
func GenerateSecret() (raw []byte, encoded string, err error) {
	raw = make([]byte, SecretSize)
	if _, err = rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, EncodeSecret(raw), nil
}

// EncodeSecret codifica a base32 sin padding.
func EncodeSecret(raw []byte) string { return b32.EncodeToString(raw) }

// DecodeSecret acepta base32 con o sin padding, espacios y minúsculas.
func DecodeSecret(s string) ([]byte, error) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	s = strings.TrimRight(s, "=")
	return b32.DecodeString(s)
}

// OTPAuthURL construye otpauth:// para QR.
func OTPAuthURL(issuer, accountName, secretB32 string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountName))
	q := url.Values{}
	q.Set("secret", secretB32)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprint(DefaultDigits))
	q.Set("period", fmt.Sprint(int(DefaultPeriod/time.Second)))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// Step retorna el contador de tiempo para t.
func Step(t time.Time) int64 {
	return t.Unix() / int64(DefaultPeriod/time.Second)
}

// Code calcula el código de 6 dígitos para el instante t.
func Code(secretRaw []byte, t time.Time) string {
	return hotp(secretRaw, Step(t))
}

// Verify acepta el código si coincide en [step-window, step+window].
// Retorna el step que coincidió. La comparación es en tiempo constante.
func Verify(secretRaw []byte, code string, t time.Time, window int) (ok bool, step int64) {
	code = strings.TrimSpace(code)
	if len(code) != DefaultDigits {
		return false, 0
	}
	cur := Step(t)
	for c := cur - int64(window); c <= cur+int64(window); c++ {
		if subtle.ConstantTimeCompare([]byte(hotp(secretRaw, c)), []byte(code)) == 1 {
			return true, c
		}
	}
	return false, 0
}

func hotp(secretRaw []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	m := hmac.New(sha1.New, secretRaw)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", DefaultDigits, bin%1_000_000)
}
