package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/authority/internal/apperr"
	"github.com/dropDatabas3/authority/internal/observability/logger"
)

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rid := w.Header().Get("X-Request-ID")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Error:            code,
		ErrorDescription: desc,
		RequestID:        rid,
	})
}

// WriteJSON: respuesta JSON estándar
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodifica tolerando campos desconocidos. Body vacío es válido.
// Limita el body a 64KB.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength != 0 {
		ct := strings.ToLower(r.Header.Get("Content-Type"))
		if !strings.Contains(ct, "application/json") {
			WriteError(w, http.StatusBadRequest, "invalid_json", "Content-Type debe ser application/json")
			return false
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid_json", "json inválido")
		return false
	}
	return true
}

// statusFor mapea la categoría de error a HTTP. Es el único lugar donde existe ese mapeo.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuthenticationFailed, apperr.KindInvalidCredential, apperr.KindInvalidMFAToken:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError escribe un error de dominio. La causa solo va al log.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		logger.From(r.Context()).Error("unhandled error", logger.Err(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	status := statusFor(ae.Kind)
	if status >= 500 {
		logger.From(r.Context()).Error("request failed", logger.String("kind", string(ae.Kind)), logger.Err(ae.Unwrap()))
	}
	WriteError(w, status, strings.ToLower(string(ae.Kind)), ae.Public())
}
