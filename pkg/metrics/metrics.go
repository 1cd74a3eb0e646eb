// Copyright 2025 Certen Protocol
//
// Prometheus metrics for the chain connector, per SPEC_FULL.md's
// monitoring section. The teacher's go.mod already carries
// prometheus/client_golang; no example package wires it, so usage
// here follows the library's own promauto/promhttp idiom directly.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every gauge/counter/histogram the connector exposes.
type Metrics struct {
	ObservedHeight   prometheus.Gauge
	CertifiedHeight  prometheus.Gauge
	CCUsSubmitted    prometheus.Counter
	CCUsRejected     prometheus.Counter
	CertificateMisses prometheus.Counter
	RollbacksHandled prometheus.Counter
	CCUBuildSeconds  prometheus.Histogram
}

// New registers and returns the connector's metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ObservedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainconnector",
			Name:      "observed_height",
			Help:      "Highest sending-chain block height observed.",
		}),
		CertifiedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainconnector",
			Name:      "certified_height",
			Help:      "Height of the last certificate known to the receiving chain.",
		}),
		CCUsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainconnector",
			Name:      "ccus_submitted_total",
			Help:      "Total cross-chain updates successfully posted.",
		}),
		CCUsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainconnector",
			Name:      "ccus_rejected_total",
			Help:      "Total cross-chain update submissions rejected by the receiving chain.",
		}),
		CertificateMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainconnector",
			Name:      "certificate_misses_total",
			Help:      "Total certificate-selection attempts with no verifiable candidate.",
		}),
		RollbacksHandled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainconnector",
			Name:      "rollbacks_handled_total",
			Help:      "Total deleteBlock events processed.",
		}),
		CCUBuildSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chainconnector",
			Name:      "ccu_build_seconds",
			Help:      "Time spent assembling one cross-chain update, from BUILDING to SUBMIT.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Server exposes the metrics registry over HTTP at the configured path.
type Server struct {
	http *http.Server
}

// NewServer builds (but does not start) an HTTP server exposing reg at
// addr/path.
func NewServer(addr, path string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Serve blocks until ctx is canceled or ListenAndServe fails.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.http.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
