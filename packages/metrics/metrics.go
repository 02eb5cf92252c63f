// Package metrics exposes request and engine metrics in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "nativehttp"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Collector records request outcomes, task timings and cache behaviour.
type Collector struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	transactions *prometheus.CounterVec
	redirects    prometheus.Counter
	sessions     prometheus.Gauge
}

// CollectorOption is a functional option for Collector
type CollectorOption func(*collectorConfig)

type collectorConfig struct {
	buckets []float64
}

// WithBuckets overrides the duration histogram buckets (seconds).
func WithBuckets(buckets []float64) CollectorOption {
	return func(c *collectorConfig) {
		c.buckets = buckets
	}
}

// NewCollector creates a collector with its own registry.
func NewCollector(opts ...CollectorOption) *Collector {
	cfg := &collectorConfig{buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests sent, by adapter, method, status code and outcome.",
		}, []string{"adapter", "method", "code", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from send until the response headers were handed back.",
			Buckets:   cfg.buckets,
		}, []string{"adapter", "method"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Engine transactions, by fetch type and protocol.",
		}, []string{"fetch_type", "protocol", "reused"}),
		redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Redirects followed inside the engine.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Engine sessions currently open.",
		}),
	}

	c.registry.MustRegister(c.requests, c.duration, c.transactions, c.redirects, c.sessions)
	return c
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRequest records the result of one send.
func (c *Collector) ObserveRequest(adapter, method string, statusCode int, err error, d time.Duration) {
	if c == nil {
		return
	}
	outcome := OutcomeSuccess
	code := strconv.Itoa(statusCode)
	if err != nil {
		outcome = OutcomeError
		code = "0"
	}
	c.requests.WithLabelValues(adapter, method, code, outcome).Inc()
	c.duration.WithLabelValues(adapter, method).Observe(d.Seconds())
}

// ObserveTransaction records one engine transaction.
func (c *Collector) ObserveTransaction(fetchType, protocol string, reused bool) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(fetchType, protocol, strconv.FormatBool(reused)).Inc()
}

// ObserveRedirects adds redirects followed by a task.
func (c *Collector) ObserveRedirects(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.redirects.Add(float64(n))
}

// SessionOpened and SessionClosed track open engine sessions.
func (c *Collector) SessionOpened() {
	if c != nil {
		c.sessions.Inc()
	}
}

func (c *Collector) SessionClosed() {
	if c != nil {
		c.sessions.Dec()
	}
}

// Handler serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
