package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/authority/internal/authority"
	"github.com/dropDatabas3/authority/internal/observability/logger"
	"github.com/dropDatabas3/authority/internal/session"
)

type handlers struct {
	auth *authority.Authority
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token requerido")
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, pair)
}

type logoutRequest struct {
	All bool `json:"all"`
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	s := session.FromContext(r.Context())
	var err error
	if req.All || s.SessionID == "" {
		err = h.auth.Revoke(r.Context(), s.UserID)
	} else {
		err = h.auth.RevokeSession(r.Context(), s.UserID, s.SessionID)
	}
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	Roles          []string  `json:"roles"`
	Permissions    []string  `json:"permissions"`
	OrganizationID string    `json:"organization_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Tier           string    `json:"tier"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	perms := make([]string, 0, len(s.Permissions))
	for _, p := range s.Permissions {
		perms = append(perms, p.String())
	}
	roles := s.Roles
	if roles == nil {
		roles = []string{}
	}
	WriteJSON(w, http.StatusOK, meResponse{
		UserID:         s.UserID,
		Email:          s.Email,
		Roles:          roles,
		Permissions:    perms,
		OrganizationID: s.OrganizationID,
		SessionID:      s.SessionID,
		Tier:           string(s.Tier),
		ExpiresAt:      s.ExpiresAt,
	})
}

// ─── MFA ───

type codeRequest struct {
	Code string `json:"code"`
}

func (h *handlers) readCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req codeRequest
	if !ReadJSON(w, r, &req) {
		return "", false
	}
	if req.Code == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "code requerido")
		return "", false
	}
	return req.Code, true
}

func (h *handlers) mfaStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.auth.MFA().Status(r.Context(), session.FromContext(r.Context()).UserID)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

func (h *handlers) mfaProvision(w http.ResponseWriter, r *http.Request) {
	en, err := h.auth.MFA().Provision(r.Context(), session.FromContext(r.Context()).UserID)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, en)
}

func (h *handlers) mfaEnable(w http.ResponseWriter, r *http.Request) {
	code, ok := h.readCode(w, r)
	if !ok {
		return
	}
	if err := h.auth.MFA().Enable(r.Context(), session.FromContext(r.Context()).UserID, code); err != nil {
		WriteAppError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (h *handlers) mfaVerify(w http.ResponseWriter, r *http.Request) {
	code, ok := h.readCode(w, r)
	if !ok {
		return
	}
	valid, err := h.auth.MFA().Verify(r.Context(), session.FromContext(r.Context()).UserID, code)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (h *handlers) mfaDisable(w http.ResponseWriter, r *http.Request) {
	code, ok := h.readCode(w, r)
	if !ok {
		return
	}
	if err := h.auth.MFA().Disable(r.Context(), session.FromContext(r.Context()).UserID, code); err != nil {
		WriteAppError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (h *handlers) mfaBackupCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.auth.MFA().BackupCodes(r.Context(), session.FromContext(r.Context()).UserID)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

func (h *handlers) mfaRegenerate(w http.ResponseWriter, r *http.Request) {
	code, ok := h.readCode(w, r)
	if !ok {
		return
	}
	codes, err := h.auth.MFA().RegenerateBackupCodes(r.Context(), session.FromContext(r.Context()).UserID, code)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

// ─── Admin ───

func (h *handlers) revokeUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.auth.Revoke(r.Context(), userID); err != nil {
		WriteAppError(w, r, err)
		return
	}
	logger.From(r.Context()).Info("user sessions revoked by admin", logger.String("target_user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}

// ─── Infra ───

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Ready(r.Context()); err != nil {
		logger.From(r.Context()).Warn("not ready", logger.Err(err))
		WriteError(w, http.StatusServiceUnavailable, "not_ready", "dependencies unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) jwks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(h.auth.JWKS())
}
