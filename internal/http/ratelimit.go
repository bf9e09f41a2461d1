package http

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dropDatabas3/authority/internal/session"
)

// UserLimiter aplica un token bucket por usuario autenticado.
// limit intentos por window, con burst = limit.
type UserLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	every   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewUserLimiter(limit int, window time.Duration) *UserLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &UserLimiter{
		buckets: map[string]*bucket{},
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		ttl:     2 * window,
		now:     time.Now,
	}
}

// Allow consume un token del bucket del usuario.
func (l *UserLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[userID]
	if !ok {
		l.sweep(now)
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// sweep descarta buckets inactivos; corre solo al crear uno nuevo.
func (l *UserLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, k)
		}
	}
}

// Middleware limita por usuario. Va después de RequireAuth.
func (l *UserLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := session.FromContext(r.Context())
		if s != nil && !l.Allow(s.UserID) {
			w.Header().Set("Retry-After", "60")
			WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
			return
		}
		next.ServeHTTP(w, r)
	})
}
