// Package metrics expone los contadores Prometheus de la autoridad.
//
// Todos los métodos son nil-safe: un *Metrics nil no registra nada, así los
// componentes del core no necesitan chequear si hay métricas configuradas.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/authority/internal/cache"
)

const namespace = "authority"

// Resultados usados como label "result".
const (
	ResultOK       = "ok"
	ResultNew      = "new"
	ResultExisting = "existing"
	ResultRejected = "rejected"
	ResultReplay   = "replay"
	ResultError    = "error"
	ResultApplied  = "applied"
	ResultFailed   = "failed"
	ResultRollback = "rolled_back"
)

type Metrics struct {
	reg *prometheus.Registry

	federations      *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	validations      *prometheus.CounterVec
	mfaVerifications *prometheus.CounterVec
	migrations       *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

// New registra las métricas en reg. Con reg nil crea un registry propio.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,
		federations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federations_total",
			Help:      "Federaciones de identidad por resultado",
		}, []string{"provider", "result"}), // result: new|existing|failed
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Rotaciones de refresh token por resultado",
		}, []string{"result"}), // result: ok|rejected|replay|error
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_validations_total",
			Help:      "Validaciones de access token por resultado",
		}, []string{"result"}),
		mfaVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mfa_verifications_total",
			Help:      "Verificaciones MFA por método y resultado",
		}, []string{"method", "result"}), // method: totp|backup_code
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Unidades de migración por resultado",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests en vuelo",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.federations, m.refreshes, m.validations, m.mfaVerifications, m.migrations,
		m.httpRequests, m.httpDuration, m.httpInflight,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterPool agrega gauges del pool pgx.
func (m *Metrics) RegisterPool(pool func() *pgxpool.Pool) error {
	if m == nil {
		return nil
	}
	return m.reg.Register(newPoolCollector(pool))
}

// StatsSource es lo que el collector de cache lee en cada scrape.
type StatsSource interface {
	Stats(ctx context.Context) (cache.Stats, error)
}

// RegisterCache agrega gauges de keys, hits y misses del cache.
func (m *Metrics) RegisterCache(src StatsSource) error {
	if m == nil || src == nil {
		return nil
	}
	return m.reg.Register(newCacheCollector(src))
}

// Handler sirve /metrics con el registry propio.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Federation(provider, result string) {
	if m == nil {
		return
	}
	m.federations.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Validation(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

func (m *Metrics) MFAVerification(method, result string) {
	if m == nil {
		return
	}
	m.mfaVerifications.WithLabelValues(method, result).Inc()
}

func (m *Metrics) Migration(result string) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(result).Inc()
}

// ObserveHTTP registra un request terminado.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Inflight incrementa el gauge y devuelve la función que lo decrementa.
func (m *Metrics) Inflight() func() {
	if m == nil {
		return func() {}
	}
	m.httpInflight.Inc()
	return m.httpInflight.Dec
}

// poolCollector expone gauges del pool pgx.
type poolCollector struct {
	pool func() *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
}

func newPoolCollector(pool func() *pgxpool.Pool) *poolCollector {
	return &poolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("pg_pool_acquired", "Conexiones adquiridas", nil, nil),
		idleDesc:     prometheus.NewDesc("pg_pool_idle", "Conexiones inactivas", nil, nil),
		totalDesc:    prometheus.NewDesc("pg_pool_total", "Conexiones totales", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	pool := c.pool()
	if pool == nil {
		return
	}
	stat := pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
}

// cacheCollector expone cache.Stats como gauges con label driver.
type cacheCollector struct {
	src StatsSource

	keysDesc   *prometheus.Desc
	hitsDesc   *prometheus.Desc
	missesDesc *prometheus.Desc
	upDesc     *prometheus.Desc
}

func newCacheCollector(src StatsSource) *cacheCollector {
	labels := []string{"driver"}
	return &cacheCollector{
		src:        src,
		keysDesc:   prometheus.NewDesc(namespace+"_cache_keys", "Claves en el cache", labels, nil),
		hitsDesc:   prometheus.NewDesc(namespace+"_cache_hits", "Hits del cache", labels, nil),
		missesDesc: prometheus.NewDesc(namespace+"_cache_misses", "Misses del cache", labels, nil),
		upDesc:     prometheus.NewDesc(namespace+"_cache_up", "1 si el cache respondió al scrape", nil, nil),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keysDesc
	ch <- c.hitsDesc
	ch <- c.missesDesc
	ch <- c.upDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.src.Stats(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.keysDesc, prometheus.GaugeValue, float64(st.Keys), st.Driver)
	ch <- prometheus.MustNewConstMetric(c.hitsDesc, prometheus.GaugeValue, float64(st.Hits), st.Driver)
	ch <- prometheus.MustNewConstMetric(c.missesDesc, prometheus.GaugeValue, float64(st.Misses), st.Driver)
}
