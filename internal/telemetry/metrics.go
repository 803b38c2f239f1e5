// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rigchat"

// Metrics holds all Prometheus collectors for rigchat.
type Metrics struct {
	// Orchestrator metrics
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	RunsInFlight   *prometheus.GaugeVec
	ErrorsTotal    *prometheus.CounterVec
	FragmentsTotal prometheus.Counter
	FlushesTotal   prometheus.Counter
	ImageBytes     prometheus.Histogram

	// Notification metrics
	EventsDropped *prometheus.CounterVec

	// Task metrics
	TasksQueued prometheus.Gauge
	TasksTotal  *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	StartTime time.Time
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{StartTime: time.Now()}

	m.RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total orchestrator runs by flow and outcome",
		},
		[]string{"flow", "outcome"},
	)

	m.RunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of orchestrator runs in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"flow"},
	)

	m.RunsInFlight = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Number of orchestrator runs currently executing",
		},
		[]string{"flow"},
	)

	m.ErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Orchestrator errors by kind",
		},
		[]string{"flow", "kind"},
	)

	m.FragmentsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Text fragments received from the text producer",
		},
	)

	m.FlushesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Accumulated answers persisted, including final flushes",
		},
	)

	m.ImageBytes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_bytes",
			Help:      "Size of generated images in bytes",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 10),
		},
	)

	m.EventsDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Notifications dropped because a subscriber was full",
		},
		[]string{"channel"},
	)

	m.TasksQueued = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_queued",
			Help:      "Tasks waiting for a worker",
		},
	)

	m.TasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished tasks by final status",
		},
		[]string{"status"},
	)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	return m
}

// RegisterRuntime adds the Go runtime and process collectors to reg.
func RegisterRuntime(reg prometheus.Registerer) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// =============================================================================
// RECORDING HELPERS
// =============================================================================

// RunStarted marks a run of flow as in flight.
func (m *Metrics) RunStarted(flow string) {
	if m == nil {
		return
	}
	m.RunsInFlight.WithLabelValues(flow).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(flow, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunsInFlight.WithLabelValues(flow).Dec()
	m.RunsTotal.WithLabelValues(flow, outcome).Inc()
	m.RunDuration.WithLabelValues(flow).Observe(duration.Seconds())
}

// RecordError counts an orchestrator error.
func (m *Metrics) RecordError(flow, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(flow, kind).Inc()
}

// AddFragment counts one received fragment.
func (m *Metrics) AddFragment() {
	if m == nil {
		return
	}
	m.FragmentsTotal.Inc()
}

// AddFlush counts one persisted flush.
func (m *Metrics) AddFlush() {
	if m == nil {
		return
	}
	m.FlushesTotal.Inc()
}

// ObserveImage records the size of a stored image.
func (m *Metrics) ObserveImage(size int) {
	if m == nil {
		return
	}
	m.ImageBytes.Observe(float64(size))
}

// EventDropped counts a dropped notification. The channel label is the
// key's topic (chat, message, user), not the full key.
func (m *Metrics) EventDropped(topic string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(topic).Inc()
}

// SetQueued reports the task queue depth.
func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.TasksQueued.Set(float64(n))
}

// TaskFinished counts a task reaching a final status.
func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(status).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
