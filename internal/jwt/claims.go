package jwt

import jwtv5 "github.com/golang-jwt/jwt/v5"

// TokenUseRefresh marca un refresh token; un access token nunca lo lleva.
const TokenUseRefresh = "refresh"

// AccessClaims son los claims del access token.
type AccessClaims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	Org   string   `json:"org,omitempty"`
	SID   string   `json:"sid"`
	// TokenUse vacío en access tokens; presente solo para rechazar refresh tokens usados como bearer.
	TokenUse string `json:"token_use,omitempty"`
	jwtv5.RegisteredClaims
}

// RefreshClaims son los claims del refresh token. jti va en RegisteredClaims.ID.
type RefreshClaims struct {
	SID      string `json:"sid"`
	TokenUse string `json:"token_use"`
	jwtv5.RegisteredClaims
}
