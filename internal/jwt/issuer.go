package jwt

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Leeway es la tolerancia de reloj para exp/nbf/iat.
const Leeway = 30 * time.Second

var (
	// ErrInvalidToken cubre firma, formato, algoritmo o issuer inválidos.
	ErrInvalidToken = errors.New("jwt: invalid token")
	// ErrExpired indica exp vencido (más allá de Leeway).
	ErrExpired = errors.New("jwt: token expired")
)

// Issuer firma y verifica tokens EdDSA con el KeySet.
type Issuer struct {
	Iss  string
	Keys *KeySet
	// Now es inyectable para tests.
	Now func() time.Time
}

func NewIssuer(iss string, ks *KeySet) *Issuer {
	return &Issuer{Iss: iss, Keys: ks, Now: time.Now}
}

func (i *Issuer) now() time.Time {
	if i.Now == nil {
		return time.Now()
	}
	return i.Now()
}

// Sign firma claims con la clave activa y setea header kid/typ.
// Claims debe traer iss (ver Registered).
func (i *Issuer) Sign(claims jwtv5.Claims) (string, error) {
	kid, priv := i.Keys.Active()
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"
	return tk.SignedString(priv)
}

// Registered arma los claims estándar con iat/nbf = now y exp = now+ttl.
func (i *Issuer) Registered(sub, jti string, ttl time.Duration) jwtv5.RegisteredClaims {
	now := i.now().UTC()
	return jwtv5.RegisteredClaims{
		Issuer:    i.Iss,
		Subject:   sub,
		ID:        jti,
		IssuedAt:  jwtv5.NewNumericDate(now),
		NotBefore: jwtv5.NewNumericDate(now),
		ExpiresAt: jwtv5.NewNumericDate(now.Add(ttl)),
	}
}

// Keyfunc elige la pública por 'kid'.
func (i *Issuer) Keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("kid_missing")
		}
		return i.Keys.PublicKeyByKID(kid)
	}
}

// Parse valida firma (solo EdDSA), iss, exp (requerido) y nbf con Leeway,
// y decodifica en claims.
func (i *Issuer) Parse(token string, claims jwtv5.Claims) error {
	tok, err := jwtv5.ParseWithClaims(token, claims, i.Keyfunc(),
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodEdDSA.Alg()}),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithLeeway(Leeway),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return ErrExpired
		}
		return errors.Join(ErrInvalidToken, err)
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}
