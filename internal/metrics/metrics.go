package metrics

import (
	"errors"

	"github.com/neogan74/dualkv/internal/backend"
	"github.com/neogan74/dualkv/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink records backend observations as prometheus metrics.
type Sink struct {
	IndexPostingsTotal      *prometheus.CounterVec
	BackendOperationsTotal  *prometheus.CounterVec
	BackendOperationFailure *prometheus.CounterVec
}

// NewSink registers the backend metrics with reg.
func NewSink(reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)
	return &Sink{
		IndexPostingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualkv_index_postings_total",
				Help: "Total number of postings written to or removed from the index engine",
			},
			[]string{"op"},
		),
		BackendOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualkv_backend_operations_total",
				Help: "Total number of backend operations",
			},
			[]string{"operation", "status"},
		),
		BackendOperationFailure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualkv_backend_failures_total",
				Help: "Total number of failed backend operations by failing step",
			},
			[]string{"operation", "step"},
		),
	}
}

func (s *Sink) IndexWrites(n int) {
	s.IndexPostingsTotal.WithLabelValues("write").Add(float64(n))
}

func (s *Sink) IndexDeletes(n int) {
	s.IndexPostingsTotal.WithLabelValues("delete").Add(float64(n))
}

func (s *Sink) Operation(op string, err error) {
	if err == nil {
		s.BackendOperationsTotal.WithLabelValues(op, "success").Inc()
		return
	}
	s.BackendOperationsTotal.WithLabelValues(op, "error").Inc()
	s.BackendOperationFailure.WithLabelValues(op, step(err)).Inc()
}

// step names the sub-engine call an error came from.
func step(err error) string {
	var (
		startErr *backend.EngineStartError
		dropErr  *backend.DropError
	)
	switch {
	case backend.IsValueDecodeFailure(err):
		return "value_decode"
	case backend.IsIndexWriteFailure(err):
		return "index_write"
	case backend.IsIndexDeleteFailure(err):
		return "index_delete"
	case errors.As(err, &startErr):
		return startErr.Engine + "_start"
	case errors.As(err, &dropErr):
		if dropErr.Primary != nil && dropErr.Index != nil {
			return "drop_both"
		}
		if dropErr.Primary != nil {
			return "primary_drop"
		}
		return "index_drop"
	case backend.IsPrimaryFailure(err):
		return "primary"
	case errors.Is(err, engine.ErrNotStarted):
		return "not_started"
	default:
		return "other"
	}
}

// HTTP holds the request metrics of the HTTP surface.
type HTTP struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// NewHTTP registers the HTTP metrics with reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	factory := promauto.With(reg)
	return &HTTP{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dualkv_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dualkv_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dualkv_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
	}
}
