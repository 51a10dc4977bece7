// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the daemon's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components take one
// in their config without requiring it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apidaemon"

// Metrics is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	sessions         *prometheus.GaugeVec
	sessionsTotal    *prometheus.CounterVec
	handshakeFailed  prometheus.Counter
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	slowRequests     *prometheus.CounterVec
	instances        *prometheus.GaugeVec
	bytesSent        *prometheus.CounterVec
	childDaemonCrash *prometheus.CounterVec
}

// New creates the collectors on a private registry, along with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Open sessions by transport.",
		}, []string{"transport"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions opened by transport.",
		}, []string{"transport"}),
		handshakeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Handshakes rejected for an unknown, replayed or malformed token.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Messages dispatched by service name.",
		}, []string{"service"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent in synchronous message handling.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"service"}),
		slowRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_requests_total",
			Help:      "Messages whose handling exceeded the configured maximum time.",
		}, []string{"service"}),
		instances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_instances",
			Help:      "Live service instances by service name.",
		}, []string{"service"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Payload bytes written to clients by transport.",
		}, []string{"transport"}),
		childDaemonCrash: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "child_daemon_crashes_total",
			Help:      "Child daemon exits by remote service name.",
		}, []string{"service"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessions,
		m.sessionsTotal,
		m.handshakeFailed,
		m.requests,
		m.requestDuration,
		m.slowRequests,
		m.instances,
		m.bytesSent,
		m.childDaemonCrash,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, for tests and for callers
// adding their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionOpened(transport string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Inc()
	m.sessionsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) SessionClosed(transport string, bytesSent uint64) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Dec()
	m.bytesSent.WithLabelValues(transport).Add(float64(bytesSent))
}

func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.handshakeFailed.Inc()
}

// Request records one dispatched message and its handling time.
func (m *Metrics) Request(service string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(service).Inc()
	m.requestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

func (m *Metrics) SlowRequest(service string) {
	if m == nil {
		return
	}
	m.slowRequests.WithLabelValues(service).Inc()
}

func (m *Metrics) InstanceCreated(service string) {
	if m == nil {
		return
	}
	m.instances.WithLabelValues(service).Inc()
}

func (m *Metrics) InstanceDropped(service string) {
	if m == nil {
		return
	}
	m.instances.WithLabelValues(service).Dec()
}

func (m *Metrics) ChildDaemonCrashed(service string) {
	if m == nil {
		return
	}
	m.childDaemonCrash.WithLabelValues(service).Inc()
}
