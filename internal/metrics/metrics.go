/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package metrics exposes qataar's Prometheus metrics.

METRICS:
========

	qataar_connections_active{transport}           gauge
	qataar_connections_total{transport}            counter
	qataar_auth_failures_total{transport}          counter
	qataar_decode_failures_total{transport}        counter
	qataar_operations_total{operation,result}      counter
	qataar_operation_duration_seconds{operation}   histogram
	qataar_actor_queue_depth                       gauge
	qataar_batch_items_total                       counter
	qataar_batch_bytes_total                       counter

Each Metrics value owns its own registry, so tests and multiple servers in
one process never collide. All methods are safe on a nil *Metrics, which
lets components run without instrumentation.
*/
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qataar/internal/config"
	"qataar/internal/logging"
	"qataar/internal/queue"
)

const namespace = "qataar"

// Operation results used as the "result" label.
const (
	ResultOK              = "ok"
	ResultUnknownTopic    = "unknown_topic"
	ResultUnknownConsumer = "unknown_consumer"
	ResultTopicMismatch   = "topic_mismatch"
	ResultError           = "error"
)

// Metrics holds the collectors for one server instance.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive *prometheus.GaugeVec
	ConnectionsTotal  *prometheus.CounterVec
	AuthFailures      *prometheus.CounterVec
	DecodeFailures    *prometheus.CounterVec
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ActorQueueDepth   prometheus.Gauge
	BatchItems        prometheus.Counter
	BatchBytes        prometheus.Counter
}

// New creates a Metrics with a fresh registry. Go runtime and process
// collectors are registered alongside the qataar metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Currently open client sessions",
		}, []string{"transport"}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Client sessions accepted",
		}, []string{"transport"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Handshakes rejected for bad credentials",
		}, []string{"transport"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound messages discarded as malformed",
		}, []string{"transport"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations executed by the queue actor",
		}, []string{"operation", "result"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time the queue actor spent executing an operation",
			Buckets:   prometheus.ExponentialBuckets(0.000005, 4, 10),
		}, []string{"operation"}),
		ActorQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actor_queue_depth",
			Help:      "Submissions waiting for the queue actor",
		}),
		BatchItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Items returned by ReadBatch",
		}),
		BatchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_bytes_total",
			Help:      "Encoded batch bytes written to clients",
		}),
	}

	m.registry.MustRegister(
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.AuthFailures,
		m.DecodeFailures,
		m.Operations,
		m.OperationDuration,
		m.ActorQueueDepth,
		m.BatchItems,
		m.BatchBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ResultLabel classifies an operation error for the "result" label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, queue.ErrUnknownTopic):
		return ResultUnknownTopic
	case errors.Is(err, queue.ErrUnknownConsumer):
		return ResultUnknownConsumer
	case errors.Is(err, queue.ErrTopicMismatch):
		return ResultTopicMismatch
	default:
		return ResultError
	}
}

// ObserveOperation records one executed operation.
func (m *Metrics) ObserveOperation(kind string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind, ResultLabel(err)).Inc()
	m.OperationDuration.WithLabelValues(kind).Observe(latency.Seconds())
}

// ObserveQueueDepth records the actor's backlog.
func (m *Metrics) ObserveQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.ActorQueueDepth.Set(float64(depth))
}

// ConnectionOpened records an accepted session.
func (m *Metrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(transport).Inc()
	m.ConnectionsActive.WithLabelValues(transport).Inc()
}

// ConnectionClosed records a finished session.
func (m *Metrics) ConnectionClosed(transport string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(transport).Dec()
}

// AuthFailed records a rejected handshake.
func (m *Metrics) AuthFailed(transport string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(transport).Inc()
}

// DecodeFailed records a discarded malformed message.
func (m *Metrics) DecodeFailed(transport string) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(transport).Inc()
}

// BatchSent records a batch reply.
func (m *Metrics) BatchSent(items, encodedBytes int) {
	if m == nil {
		return
	}
	m.BatchItems.Add(float64(items))
	m.BatchBytes.Add(float64(encodedBytes))
}

// Server serves /metrics and /health over HTTP.
type Server struct {
	config  *config.MetricsConfig
	metrics *Metrics
	server  *http.Server
	ln      net.Listener
	logger  *logging.Logger
	mu      sync.Mutex
}

// NewServer creates a new metrics server.
func NewServer(cfg *config.MetricsConfig, m *Metrics) *Server {
	return &Server{
		config:  cfg,
		metrics: m,
		logger:  logging.NewLogger("metrics"),
	}
}

// Handler returns the HTTP handler serving the metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		ErrorLog: promLogger{s.logger},
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Start starts the metrics HTTP server. It returns once the listener is bound.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	go func() {
		s.logger.Info("Starting metrics server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping metrics server")
	return srv.Shutdown(ctx)
}

// promLogger adapts Logger to promhttp's error logger.
type promLogger struct {
	logger *logging.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.logger.Error("Metrics handler error", "detail", v)
}
