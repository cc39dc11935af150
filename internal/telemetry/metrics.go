// Package telemetry exposes Prometheus counters for chain selection and
// transform execution.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChainSearches      prometheus.Counter
	ChainCacheHits     prometheus.Counter
	Executions         *prometheus.CounterVec
	ExecutionCacheHits *prometheus.CounterVec
	ExecutionFailures  *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ChainSearches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainweaver",
			Name:      "chain_searches_total",
			Help:      "Transform chain searches performed.",
		}),
		ChainCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainweaver",
			Name:      "chain_cache_hits_total",
			Help:      "Chain queries answered from the chain cache.",
		}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainweaver",
			Name:      "transform_executions_total",
			Help:      "Transform actions invoked.",
		}, []string{"transform"}),
		ExecutionCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainweaver",
			Name:      "transform_cache_hits_total",
			Help:      "Transform executions satisfied by a previous result.",
		}, []string{"transform"}),
		ExecutionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainweaver",
			Name:      "transform_failures_total",
			Help:      "Failed transform executions by reason.",
		}, []string{"transform", "reason"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.ChainSearches, m.ChainCacheHits, m.Executions, m.ExecutionCacheHits, m.ExecutionFailures} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) ChainSearch() {
	if m != nil {
		m.ChainSearches.Inc()
	}
}

func (m *Metrics) ChainCacheHit() {
	if m != nil {
		m.ChainCacheHits.Inc()
	}
}

func (m *Metrics) Executed(transform string) {
	if m != nil {
		m.Executions.WithLabelValues(transform).Inc()
	}
}

func (m *Metrics) CacheHit(transform string) {
	if m != nil {
		m.ExecutionCacheHits.WithLabelValues(transform).Inc()
	}
}

func (m *Metrics) Failed(transform, reason string) {
	if m != nil {
		m.ExecutionFailures.WithLabelValues(transform, reason).Inc()
	}
}

// Expose serves reg on addr under /metrics until ctx is done.
func Expose(ctx context.Context, addr string, reg prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
