package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        *prometheus.GaugeVec

	// Bridge / auth metrics
	ssoRedemptionsTotal *prometheus.CounterVec
	corsRejectsTotal    *prometheus.CounterVec
)

// MetricsConfig agrupa dependencias para exponer /metrics.
type MetricsConfig struct {
	Registry prometheus.Registerer
	// GlobalPool permite exportar stats del pool de Postgres (puede ser nil).
	GlobalPool func() *pgxpool.Pool
}

// RegisterMetrics inicializa las métricas HTTP y devuelve el handler de /metrics.
func RegisterMetrics(cfg MetricsConfig) (http.Handler, error) {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	var regErr error
	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests en vuelo por método",
		}, []string{"method"})

		ssoRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_redemptions_total",
			Help: "Canjes de one-time token por resultado",
		}, []string{"result"}) // result: success|denied|bad_request

		corsRejectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cors_rejects_total",
			Help: "CORS requests rechazadas por origin no permitido",
		}, []string{"origin"})

		collectors := []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration, httpInflight,
			ssoRedemptionsTotal, corsRejectsTotal,
		}
		if cfg.GlobalPool != nil {
			collectors = append(collectors, newPoolCollector(cfg.GlobalPool))
		}
		for _, c := range collectors {
			if err := registry.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					regErr = err
					return
				}
			}
		}
	})
	if regErr != nil {
		return nil, regErr
	}

	return promhttp.Handler(), nil
}

// ObserveRedemption cuenta un canje del bridge por resultado.
func ObserveRedemption(result string) {
	if ssoRedemptionsTotal != nil {
		ssoRedemptionsTotal.WithLabelValues(result).Inc()
	}
}

func observeCORSReject(origin string) {
	if corsRejectsTotal != nil {
		corsRejectsTotal.WithLabelValues(origin).Inc()
	}
}

// WithMetrics instrumenta cada request. Usa el route pattern de chi cuando
// está disponible para no explotar cardinalidad con paths dinámicos.
func WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpRequestsTotal == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		inflight := httpInflight.WithLabelValues(r.Method)
		inflight.Inc()
		defer inflight.Dec()

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// ---- pgxpool collector ----

type poolCollector struct {
	pool func() *pgxpool.Pool

	total    *prometheus.Desc
	idle     *prometheus.Desc
	acquired *prometheus.Desc
}

func newPoolCollector(pool func() *pgxpool.Pool) *poolCollector {
	return &poolCollector{
		pool:     pool,
		total:    prometheus.NewDesc("pg_pool_total_conns", "Conexiones totales del pool", nil, nil),
		idle:     prometheus.NewDesc("pg_pool_idle_conns", "Conexiones idle del pool", nil, nil),
		acquired: prometheus.NewDesc("pg_pool_acquired_conns", "Conexiones en uso del pool", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.idle
	ch <- c.acquired
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	p := c.pool()
	if p == nil {
		return
	}
	st := p.Stat()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(st.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(st.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(st.AcquiredConns()))
}
