// Package mfa implementa el segundo factor TOTP para cuentas privilegiadas.
//
// Estados: Unprovisioned → Provisioned → Enabled ⇄ Disabled.
//
// Provision, Enable, Disable, RegenerateBackupCodes y BackupCodes exigen un rol
// privilegiado y lo chequean antes de cualquier escritura. Status no.
// Verify ignora un registro habilitado si el usuario ya no tiene el rol.
// El secreto y los backup codes se guardan sellados con secretbox.
package mfa

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/authority/internal/apperr"
	"github.com/dropDatabas3/authority/internal/audit"
	"github.com/dropDatabas3/authority/internal/cache"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/observability/logger"
	"github.com/dropDatabas3/authority/internal/observability/metrics"
	"github.com/dropDatabas3/authority/internal/rbac"
	"github.com/dropDatabas3/authority/internal/security/secretbox"
	tokens "github.com/dropDatabas3/authority/internal/security/token"
	"github.com/dropDatabas3/authority/internal/security/totp"
)

const (
	DefaultBackupCodes      = 10
	DefaultBackupCodeLength = 10
	replayKeyPrefix         = "mfa_token:"
	swapAttempts            = 3
)

// DefaultPrivilegedRoles son los roles que pueden gestionar MFA.
var DefaultPrivilegedRoles = []string{repository.RoleAdmin, repository.RoleOwner}

// Config ajusta la autoridad MFA.
type Config struct {
	Issuer           string   // nombre mostrado en la app autenticadora
	Window           int      // pasos de tolerancia a cada lado (default 2)
	PrivilegedRoles  []string // default admin, owner
	BackupCodes      int      // cantidad (default 10)
	BackupCodeLength int      // largo (default 10)
}

// Store es lo que la autoridad lee y escribe.
type Store interface {
	repository.MFARepository
	GetByID(ctx context.Context, userID string) (*repository.User, error)
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
}

// Deps contiene las dependencias de la autoridad.
type Deps struct {
	Store   Store
	Cache   cache.Client
	Box     *secretbox.Box
	Metrics *metrics.Metrics
	Config  Config
	Now     func() time.Time
}

// Enrollment es lo que se muestra una sola vez al provisionar.
type Enrollment struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	BackupCodes []string `json:"backup_codes"`
}

// Status es el estado visible sin gate de rol.
type Status struct {
	Provisioned          bool `json:"provisioned"`
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

type Authority struct {
	store   Store
	cache   cache.Client
	box     *secretbox.Box
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

var (
	errNotPrivileged  = apperr.ErrForbidden.WithMessage("mfa requires a privileged role")
	errNotProvisioned = apperr.ErrForbidden.WithMessage("mfa not provisioned")
	errAlreadyEnabled = apperr.ErrForbidden.WithMessage("mfa already enabled")
)

func New(d Deps) *Authority {
	cfg := d.Config
	if cfg.Issuer == "" {
		cfg.Issuer = "Authority"
	}
	if cfg.Window <= 0 {
		cfg.Window = totp.DefaultWindow
	}
	if len(cfg.PrivilegedRoles) == 0 {
		cfg.PrivilegedRoles = DefaultPrivilegedRoles
	}
	if cfg.BackupCodes <= 0 {
		cfg.BackupCodes = DefaultBackupCodes
	}
	if cfg.BackupCodeLength <= 0 {
		cfg.BackupCodeLength = DefaultBackupCodeLength
	}
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Authority{
		store:   d.Store,
		cache:   d.Cache,
		box:     d.Box,
		metrics: d.Metrics,
		cfg:     cfg,
		now:     now,
	}
}

// ReplayTTL es la vida del replay marker: toda la ventana de tolerancia.
func (a *Authority) ReplayTTL() time.Duration {
	return time.Duration(2*a.cfg.Window+1) * totp.DefaultPeriod
}

func replayKey(userID, code string) string {
	return replayKeyPrefix + userID + ":" + code
}

func storageErr(err error) error {
	return apperr.ErrStorageUnavailable.WithCause(err)
}

// privileged lee los roles vigentes y decide con el Access Enforcer.
func (a *Authority) privileged(ctx context.Context, userID string) (bool, []string, error) {
	roles, err := a.store.GetUserRoles(ctx, userID)
	if err != nil {
		return false, nil, storageErr(err)
	}
	return rbac.AnyRole(roles, a.cfg.PrivilegedRoles...), roles, nil
}

// gate exige un rol privilegiado; corre antes de cualquier escritura.
func (a *Authority) gate(ctx context.Context, userID string) error {
	ok, roles, err := a.privileged(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	logger.From(ctx).Info("mfa refused for non-privileged user",
		logger.Layer("mfa"), logger.UserID(userID), logger.Roles(roles))
	return errNotPrivileged
}

// touch actualiza last_used_at. Es informativo: un fallo se loguea y no invalida
// un código ya aceptado.
func (a *Authority) touch(ctx context.Context, userID string, at time.Time) {
	if err := a.store.TouchMFALastUsed(ctx, userID, at); err != nil {
		logger.From(ctx).Warn("touch mfa last used failed",
			logger.Layer("mfa"), logger.UserID(userID), logger.Err(err))
	}
}

// Provision genera secreto y backup codes nuevos, reemplazando un registro no habilitado.
func (a *Authority) Provision(ctx context.Context, userID string) (*Enrollment, error) {
	log := logger.From(ctx).With(logger.Layer("mfa"), logger.Op("mfa.provision"), logger.UserID(userID))

	if err := a.gate(ctx, userID); err != nil {
		return nil, err
	}
	u, err := a.store.GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.ErrAuthenticationFailed
		}
		return nil, storageErr(err)
	}
	prev, err := a.store.GetMFA(ctx, userID)
	switch {
	case err == nil && prev.Enabled:
		return nil, errAlreadyEnabled
	case err != nil && !repository.IsNotFound(err):
		return nil, storageErr(err)
	}

	raw, b32, err := totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("mfa: generate secret: %w", err)
	}
	codes, err := a.newCodes()
	if err != nil {
		return nil, err
	}
	sealedSecret, err := a.box.Seal(raw)
	if err != nil {
		return nil, err
	}
	sealedCodes, err := a.sealCodes(codes)
	if err != nil {
		return nil, err
	}

	if err := a.store.PutMFA(ctx, repository.MFARecord{
		UserID:            userID,
		SecretSealed:      sealedSecret,
		BackupCodesSealed: sealedCodes,
		Enabled:           false,
	}); err != nil {
		log.Error("store mfa record failed", logger.Err(err))
		return nil, storageErr(err)
	}

	audit.Log(ctx, audit.EventMFAProvisioned, logger.UserID(userID))
	return &Enrollment{
		Secret:      b32,
		OTPAuthURL:  totp.OTPAuthURL(a.cfg.Issuer, u.Email, b32),
		BackupCodes: codes,
	}, nil
}

// Enable confirma el provisioning con un código TOTP válido. También re-habilita
// un registro deshabilitado sin re-provisionar.
func (a *Authority) Enable(ctx context.Context, userID, code string) error {
	log := logger.From(ctx).With(logger.Layer("mfa"), logger.Op("mfa.enable"), logger.UserID(userID))

	if err := a.gate(ctx, userID); err != nil {
		return err
	}
	rec, err := a.store.GetMFA(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return errNotProvisioned
		}
		return storageErr(err)
	}
	if rec.Enabled {
		return errAlreadyEnabled
	}

	secret, err := a.box.Open(rec.SecretSealed)
	if err != nil {
		log.Error("open mfa secret failed", logger.Err(err))
		return storageErr(err)
	}
	code = normalizeTOTP(code)
	now := a.now()
	if ok, _ := totp.Verify(secret, code, now, a.cfg.Window); !ok {
		a.metrics.MFAVerification("totp", metrics.ResultRejected)
		return apperr.ErrInvalidMFAToken
	}
	set, err := a.cache.SetNX(ctx, replayKey(userID, code), "1", a.ReplayTTL())
	if err != nil {
		return storageErr(err)
	}
	if !set {
		a.metrics.MFAVerification("totp", metrics.ResultReplay)
		return apperr.ErrInvalidMFAToken
	}

	if err := a.store.SetMFAEnabled(ctx, userID, true, now); err != nil {
		return storageErr(err)
	}
	a.touch(ctx, userID, now)
	a.metrics.MFAVerification("totp", metrics.ResultOK)
	audit.Log(ctx, audit.EventMFAEnabled, logger.UserID(userID))
	return nil
}

// Verify acepta un backup code (de un solo uso) o un código TOTP no usado.
// Sin registro habilitado retorna false. Solo los fallos de storage devuelven error.
func (a *Authority) Verify(ctx context.Context, userID, code string) (bool, error) {
	log := logger.From(ctx).With(logger.Layer("mfa"), logger.Op("mfa.verify"), logger.UserID(userID))

	rec, err := a.store.GetMFA(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, storageErr(err)
	}
	if !rec.Enabled {
		return false, nil
	}
	// Un registro habilitado solo cuenta mientras el usuario conserve un rol privilegiado.
	priv, _, err := a.privileged(ctx, userID)
	if err != nil {
		return false, err
	}
	if !priv {
		log.Info("enabled mfa ignored for non-privileged user")
		return false, nil
	}

	ok, err := a.consumeBackupCode(ctx, rec, code)
	if err != nil {
		a.metrics.MFAVerification("backup_code", metrics.ResultError)
		log.Error("backup code check failed", logger.Err(err))
		return false, err
	}
	if ok {
		a.metrics.MFAVerification("backup_code", metrics.ResultOK)
		audit.Log(ctx, audit.EventBackupCodeUsed, logger.UserID(userID))
		return true, nil
	}

	code = normalizeTOTP(code)
	if len(code) != totp.DefaultDigits {
		a.metrics.MFAVerification("totp", metrics.ResultRejected)
		return false, nil
	}
	used, err := a.cache.Exists(ctx, replayKey(userID, code))
	if err != nil {
		return false, storageErr(err)
	}
	if used {
		a.metrics.MFAVerification("totp", metrics.ResultReplay)
		log.Info("totp code replayed")
		return false, nil
	}

	secret, err := a.box.Open(rec.SecretSealed)
	if err != nil {
		return false, storageErr(err)
	}
	now := a.now()
	if valid, _ := totp.Verify(secret, code, now, a.cfg.Window); !valid {
		a.metrics.MFAVerification("totp", metrics.ResultRejected)
		return false, nil
	}
	// SET NX cierra la carrera entre dos verificaciones simultáneas del mismo código.
	set, err := a.cache.SetNX(ctx, replayKey(userID, code), "1", a.ReplayTTL())
	if err != nil {
		return false, storageErr(err)
	}
	if !set {
		a.metrics.MFAVerification("totp", metrics.ResultReplay)
		return false, nil
	}
	a.touch(ctx, userID, now)
	a.metrics.MFAVerification("totp", metrics.ResultOK)
	return true, nil
}

// Disable exige un código válido y conserva secreto y backup codes.
func (a *Authority) Disable(ctx context.Context, userID, code string) error {
	if err := a.gate(ctx, userID); err != nil {
		return err
	}
	ok, err := a.Verify(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrInvalidMFAToken
	}
	if err := a.store.SetMFAEnabled(ctx, userID, false, a.now()); err != nil {
		return storageErr(err)
	}
	audit.Log(ctx, audit.EventMFADisabled, logger.UserID(userID))
	return nil
}

// RegenerateBackupCodes exige un código válido y reemplaza todos los backup codes.
func (a *Authority) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := a.gate(ctx, userID); err != nil {
		return nil, err
	}
	ok, err := a.Verify(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrInvalidMFAToken
	}

	codes, err := a.newCodes()
	if err != nil {
		return nil, err
	}
	next, err := a.sealCodes(codes)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < swapAttempts; attempt++ {
		rec, err := a.store.GetMFA(ctx, userID)
		if err != nil {
			return nil, storageErr(err)
		}
		err = a.store.SwapBackupCodes(ctx, userID, rec.BackupCodesSealed, next)
		if err == nil {
			audit.Log(ctx, audit.EventBackupCodesRotated, logger.UserID(userID))
			return codes, nil
		}
		if !repository.IsStaleWrite(err) {
			return nil, storageErr(err)
		}
	}
	return nil, storageErr(repository.ErrStaleWrite)
}

// Status no requiere rol privilegiado.
func (a *Authority) Status(ctx context.Context, userID string) (Status, error) {
	rec, err := a.store.GetMFA(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return Status{}, nil
		}
		return Status{}, storageErr(err)
	}
	codes, err := a.openCodes(rec.BackupCodesSealed)
	if err != nil {
		return Status{}, storageErr(err)
	}
	return Status{Provisioned: true, Enabled: rec.Enabled, BackupCodesRemaining: len(codes)}, nil
}

// BackupCodes devuelve los códigos aún no consumidos.
func (a *Authority) BackupCodes(ctx context.Context, userID string) ([]string, error) {
	if err := a.gate(ctx, userID); err != nil {
		return nil, err
	}
	rec, err := a.store.GetMFA(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errNotProvisioned
		}
		return nil, storageErr(err)
	}
	codes, err := a.openCodes(rec.BackupCodesSealed)
	if err != nil {
		return nil, storageErr(err)
	}
	return codes, nil
}

// consumeBackupCode quita el código con compare-and-swap; reintenta si otra escritura ganó.
func (a *Authority) consumeBackupCode(ctx context.Context, rec *repository.MFARecord, code string) (bool, error) {
	candidate := normalizeBackup(code)
	if len(candidate) != a.cfg.BackupCodeLength {
		return false, nil
	}
	for attempt := 0; attempt < swapAttempts; attempt++ {
		codes, err := a.openCodes(rec.BackupCodesSealed)
		if err != nil {
			return false, storageErr(err)
		}
		idx := -1
		for i, c := range codes {
			// sin break: el tiempo no depende de la posición
			if tokens.EqualConstantTime(c, candidate) && idx < 0 {
				idx = i
			}
		}
		if idx < 0 {
			return false, nil
		}
		remaining := append(append([]string{}, codes[:idx]...), codes[idx+1:]...)
		next, err := a.sealCodes(remaining)
		if err != nil {
			return false, err
		}
		err = a.store.SwapBackupCodes(ctx, rec.UserID, rec.BackupCodesSealed, next)
		if err == nil {
			a.touch(ctx, rec.UserID, a.now())
			return true, nil
		}
		if !repository.IsStaleWrite(err) {
			return false, storageErr(err)
		}
		if rec, err = a.store.GetMFA(ctx, rec.UserID); err != nil {
			return false, storageErr(err)
		}
	}
	return false, storageErr(repository.ErrStaleWrite)
}

func (a *Authority) newCodes() ([]string, error) {
	codes := make([]string, a.cfg.BackupCodes)
	for i := range codes {
		c, err := tokens.GenerateCode(a.cfg.BackupCodeLength)
		if err != nil {
			return nil, fmt.Errorf("mfa: generate backup code: %w", err)
		}
		codes[i] = c
	}
	return codes, nil
}

func (a *Authority) sealCodes(codes []string) ([]byte, error) {
	b, err := json.Marshal(codes)
	if err != nil {
		return nil, err
	}
	return a.box.Seal(b)
}

func (a *Authority) openCodes(sealed []byte) ([]string, error) {
	b, err := a.box.Open(sealed)
	if err != nil {
		return nil, err
	}
	var codes []string
	if err := json.Unmarshal(b, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

func normalizeTOTP(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}

func normalizeBackup(code string) string {
	r := strings.NewReplacer(" ", "", "-", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(code)))
}
