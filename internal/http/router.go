package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/authority/internal/authority"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/observability/metrics"
)

// RouterConfig configura el adaptador HTTP.
type RouterConfig struct {
	Authority *authority.Authority
	Metrics   *metrics.Metrics
	// Límite de intentos MFA por usuario.
	MFARateLimit  int
	MFARateWindow time.Duration
	// Roles que pueden usar /v1/admin. Default: admin, owner.
	AdminRoles []string
}

// NewRouter arma las rutas del servicio.
func NewRouter(cfg RouterConfig) http.Handler {
	h := &handlers{auth: cfg.Authority}
	adminRoles := cfg.AdminRoles
	if len(adminRoles) == 0 {
		adminRoles = []string{repository.RoleAdmin, repository.RoleOwner}
	}
	mfaLimiter := NewUserLimiter(cfg.MFARateLimit, cfg.MFARateWindow)

	r := chi.NewRouter()
	r.Use(WithRequestID, WithLogging(cfg.Metrics), WithRecover)

	r.Get("/readyz", h.readyz)
	r.Get("/.well-known/jwks.json", h.jwks)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(cfg.Authority))

			r.Post("/auth/logout", h.logout)
			r.Get("/me", h.me)

			r.Route("/mfa", func(r chi.Router) {
				r.Get("/status", h.mfaStatus)
				r.Group(func(r chi.Router) {
					r.Use(mfaLimiter.Middleware)
					r.Post("/provision", h.mfaProvision)
					r.Post("/enable", h.mfaEnable)
					r.Post("/verify", h.mfaVerify)
					r.Post("/disable", h.mfaDisable)
					r.Get("/backup-codes", h.mfaBackupCodes)
					r.Post("/backup-codes", h.mfaRegenerate)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(adminRoles...))
				r.With(RequirePermission("users", "update")).
					Post("/users/{userID}/revoke", h.revokeUser)
			})
		})
	})
	return r
}
