// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "traffic"

// Results of handling one inbound message.
const (
	ResultStored      = "stored"
	ResultDecodeError = "decode_error"
	ResultStoreError  = "store_error"
)

// Metrics holds the process collectors. A nil *Metrics discards everything,
// so components can run without it.
type Metrics struct {
	registry *prometheus.Registry

	messages     *prometheus.CounterVec
	ingestState  prometheus.Gauge
	storeLatency *prometheus.HistogramVec
	jamRequests  *prometheus.CounterVec
	jammed       prometheus.Gauge
	wsClients    prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Sensor messages handled, by result.",
		}, []string{"result"}),
		ingestState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "state",
			Help:      "Ingestion connection state (0 connecting, 1 subscribed, 2 receiving, 3 reconnecting).",
		}),
		storeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Segment store operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op", "outcome"}),
		jamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jams",
			Name:      "detections_total",
			Help:      "Jam detections run, by outcome.",
		}, []string{"outcome"}),
		jammed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jams",
			Name:      "jammed_segments",
			Help:      "Segments jammed at the last successful detection.",
		}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "websocket_clients",
			Help:      "Connected jam feed clients.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "code"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

// Message counts one handled inbound message.
func (m *Metrics) Message(result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
}

// IngestState records the ingestion connection state.
func (m *Metrics) IngestState(state int) {
	if m == nil {
		return
	}
	m.ingestState.Set(float64(state))
}

// StoreOp records the latency of a store operation started at start.
func (m *Metrics) StoreOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.storeLatency.
		WithLabelValues(op, outcome(err)).
		Observe(time.Since(start).Seconds())
}

// Detection records a jam detection and, on success, the number of jammed
// segments.
func (m *Metrics) Detection(jammed int, err error) {
	if m == nil {
		return
	}
	m.jamRequests.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		m.jammed.Set(float64(jammed))
	}
}

// WebsocketClients adjusts the connected feed client count.
func (m *Metrics) WebsocketClients(delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(float64(delta))
}

// Request records a served HTTP request.
func (m *Metrics) Request(
	method, route string,
	code int,
	elapsed time.Duration,
) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
