package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownKID indica que el kid del header no está en el KeySet.
var ErrUnknownKID = errors.New("jwt: unknown kid")

// KeySet mantiene la clave activa de firma y las públicas aceptadas para verificar
// (la activa más las que se están retirando).
type KeySet struct {
	mu       sync.RWMutex
	activeID string
	priv     ed25519.PrivateKey
	pubs     map[string]ed25519.PublicKey
}

// NewEd25519 genera una clave Ed25519 en memoria con el kid dado (dev/tests).
func NewEd25519(kid string) (*KeySet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newKeySet(kid, priv), nil
}

// FromSeed construye el KeySet desde un seed Ed25519 de 32 bytes en base64.
// El kid se deriva del public key si no se provee.
func FromSeed(kid, seedB64 string) (*KeySet, error) {
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(seedB64))
	if err != nil {
		seed, err = base64.RawURLEncoding.DecodeString(strings.TrimSpace(seedB64))
	}
	if err != nil {
		return nil, fmt.Errorf("jwt: decode signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("jwt: signing key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	if kid == "" {
		kid = deriveKID(priv.Public().(ed25519.PublicKey))
	}
	return newKeySet(kid, priv), nil
}

func newKeySet(kid string, priv ed25519.PrivateKey) *KeySet {
	return &KeySet{
		activeID: kid,
		priv:     priv,
		pubs:     map[string]ed25519.PublicKey{kid: priv.Public().(ed25519.PublicKey)},
	}
}

func deriveKID(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub[:12])
}

// Active devuelve kid y clave privada activos.
func (k *KeySet) Active() (string, ed25519.PrivateKey) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.activeID, k.priv
}

// AddVerificationKey registra una pública retirada que todavía se acepta.
func (k *KeySet) AddVerificationKey(kid string, pub ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pubs[kid] = pub
}

// PublicKeyByKID busca la pública por kid.
func (k *KeySet) PublicKeyByKID(kid string) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.pubs[kid]
	if !ok {
		return nil, ErrUnknownKID
	}
	return pub, nil
}

// ----- JWKS (serialización) -----

type jwk struct {
	Kty string `json:"kty"` // "OKP"
	Crv string `json:"crv"` // "Ed25519"
	Kid string `json:"kid"`
	Alg string `json:"alg"` // "EdDSA"
	Use string `json:"use"` // "sig"
	X   string `json:"x"`   // base64url(pub)
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSJSON devuelve el JWKS (solo públicas) en JSON; la activa primero.
func (k *KeySet) JWKSJSON() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := jwks{Keys: make([]jwk, 0, len(k.pubs))}
	add := func(kid string, pub ed25519.PublicKey) {
		out.Keys = append(out.Keys, jwk{
			Kty: "OKP", Crv: "Ed25519", Kid: kid, Alg: "EdDSA", Use: "sig",
			X: base64.RawURLEncoding.EncodeToString(pub),
		})
	}
	add(k.activeID, k.pubs[k.activeID])
	for kid, pub := range k.pubs {
		if kid != k.activeID {
			add(kid, pub)
		}
	}
	b, _ := json.Marshal(out)
	return b
}
