// Package secretbox sella secretos en reposo (secretos TOTP, backup codes)
// con NaCl secretbox (XSalsa20-Poly1305).
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrOpen indica ciphertext corrupto, truncado o sellado con otra clave.
var ErrOpen = errors.New("secretbox: open failed")

// Box sella y abre con una clave maestra fija. Es seguro para uso concurrente.
type Box struct {
	key [keySize]byte
}

// New crea un Box a partir de 32 bytes crudos.
func New(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secretbox: clave inválida: %d bytes (requiere %d)", len(key), keySize)
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// ParseKey acepta la clave en base64 (std o raw) o hex; debe decodificar a 32 bytes.
// Generar con: openssl rand -base64 32
func ParseKey(s string) (*Box, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("secretbox: clave maestra vacía")
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == keySize {
		return New(b)
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil && len(b) == keySize {
		return New(b)
	}
	if len(s) == 2*keySize {
		if h, err := hex.DecodeString(s); err == nil {
			return New(h)
		}
	}
	return nil, fmt.Errorf("secretbox: la clave debe decodificar a %d bytes (base64 o hex)", keySize)
}

// Seal retorna nonce||ciphertext.
func (b *Box) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("secretbox: nonce random: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &b.key), nil
}

// Open recibe nonce||ciphertext y devuelve el texto plano.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrOpen
	}
	return out, nil
}
