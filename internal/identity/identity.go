// Package identity convierte el perfil crudo de un IdP federado en una identidad canónica.
package identity

import (
	"errors"
	"strings"
)

// Provider es un IdP soportado.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderGitHub    Provider = "github"
	ProviderMicrosoft Provider = "microsoft"
	ProviderFacebook  Provider = "facebook"
	ProviderApple     Provider = "apple"
)

var providers = map[Provider]bool{
	ProviderGoogle: true, ProviderGitHub: true, ProviderMicrosoft: true,
	ProviderFacebook: true, ProviderApple: true,
}

var (
	ErrUnknownProvider = errors.New("identity: unknown provider")
	ErrSubjectRequired = errors.New("identity: subject id required")
	ErrEmailRequired   = errors.New("identity: email required")
	ErrEmailMalformed  = errors.New("identity: malformed email")
)

// RawProfile es lo que entrega el intercambio OAuth del provider.
type RawProfile struct {
	Provider    string
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   string
}

// ExternalIdentity es la identidad canónica.
type ExternalIdentity struct {
	Provider    Provider
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Normalize valida y canoniza el perfil. No hace I/O.
func Normalize(raw RawProfile) (ExternalIdentity, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw.Provider)))
	if !providers[p] {
		return ExternalIdentity{}, ErrUnknownProvider
	}
	sub := strings.TrimSpace(raw.SubjectID)
	if sub == "" {
		return ExternalIdentity{}, ErrSubjectRequired
	}
	email := strings.ToLower(strings.TrimSpace(raw.Email))
	if email == "" {
		return ExternalIdentity{}, ErrEmailRequired
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return ExternalIdentity{}, ErrEmailMalformed
	}

	name := strings.TrimSpace(raw.DisplayName)
	if name == "" {
		name = email[:at]
	}

	return ExternalIdentity{
		Provider:    p,
		SubjectID:   sub,
		Email:       email,
		DisplayName: name,
		AvatarURL:   strings.TrimSpace(raw.AvatarURL),
	}, nil
}
