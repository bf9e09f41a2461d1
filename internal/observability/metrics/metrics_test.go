package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authority/internal/cache"
)

func TestMetrics_ExposedOnHandler(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.Federation("google", ResultNew)
	m.Refresh(ResultReplay)
	m.MFAVerification("totp", ResultOK)
	m.Migration(ResultApplied)
	m.ObserveHTTP("GET", "/v1/me", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	require.Contains(t, body, `authority_federations_total{provider="google",result="new"} 1`)
	require.Contains(t, body, `authority_refreshes_total{result="replay"} 1`)
	require.Contains(t, body, `authority_migrations_total{result="applied"} 1`)
	require.True(t, strings.Contains(body, "http_request_duration_seconds"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Federation("google", ResultNew)
	m.Refresh(ResultOK)
	m.Inflight()()
	require.NoError(t, m.RegisterPool(nil))
	require.NoError(t, m.RegisterCache(nil))
}

func TestMetrics_CacheStatsGauges(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	c := cache.NewMemory("", time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", "v", 0))
	require.NoError(t, c.Set(ctx, "k2", "v", 0))
	require.NoError(t, m.RegisterCache(c))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	require.Contains(t, body, `authority_cache_keys{driver="memory"} 2`)
	require.Contains(t, body, "authority_cache_up 1")
}

func TestNew_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
