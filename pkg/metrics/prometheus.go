package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the session service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Relay (WebSocket) metrics
	relayConnections   prometheus.Gauge
	relayFramesTotal   *prometheus.CounterVec
	relayErrorsTotal   *prometheus.CounterVec
	relayRejectedTotal *prometheus.CounterVec

	// Session metrics
	sessionsTotal      *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	sessionDuration    prometheus.Histogram
	sessionCostDollars prometheus.Histogram

	// Chat metrics
	chatMessagesTotal prometheus.Counter

	// Notification metrics
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec
	emailsTotal             *prometheus.CounterVec
	emailsFailed            *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: registry,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		relayConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "relay_connections",
				Help:        "Number of registered relay participants",
				ConstLabels: labels,
			},
		),
		relayFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "relay_frames_total",
				Help:        "Total number of relayed signaling frames",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		relayErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "relay_errors_total",
				Help:        "Total number of relay errors",
				ConstLabels: labels,
			},
			[]string{"error"},
		),
		relayRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "relay_rejected_total",
				Help:        "Total number of refused relay join attempts",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),

		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "sessions_total",
				Help:        "Total number of session status transitions",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "sessions_active",
				Help:        "Number of sessions currently in the active state",
				ConstLabels: labels,
			},
		),
		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "session_duration_seconds",
				Help:        "Billed session duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		),
		sessionCostDollars: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "session_cost_dollars",
				Help:        "Billed session cost in dollars",
				ConstLabels: labels,
				Buckets:     []float64{1, 5, 10, 25, 50, 100, 250},
			},
		),

		chatMessagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "chat_messages_total",
				Help:        "Total number of persisted chat messages",
				ConstLabels: labels,
			},
		),

		pushNotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of push notifications sent",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		pushNotificationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Total number of failed push notifications",
				ConstLabels: labels,
			},
			[]string{"type", "reason"},
		),
		emailsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "emails_total",
				Help:        "Total number of emails sent",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		emailsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "emails_failed_total",
				Help:        "Total number of failed emails",
				ConstLabels: labels,
			},
			[]string{"type", "reason"},
		),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.relayConnections,
		m.relayFramesTotal,
		m.relayErrorsTotal,
		m.relayRejectedTotal,
		m.sessionsTotal,
		m.sessionsActive,
		m.sessionDuration,
		m.sessionCostDollars,
		m.chatMessagesTotal,
		m.pushNotificationsTotal,
		m.pushNotificationsFailed,
		m.emailsTotal,
		m.emailsFailed,
	)

	return m
}

// GetRegistry returns the private registry for the /metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RelayConnectionOpened increments the relay connection gauge
func (m *Metrics) RelayConnectionOpened() {
	m.relayConnections.Inc()
}

// RelayConnectionClosed decrements the relay connection gauge
func (m *Metrics) RelayConnectionClosed() {
	m.relayConnections.Dec()
}

// RecordRelayFrame records a relayed frame
func (m *Metrics) RecordRelayFrame(frameType, direction string) {
	m.relayFramesTotal.WithLabelValues(frameType, direction).Inc()
}

// RecordRelayError records a relay error
func (m *Metrics) RecordRelayError(err string) {
	m.relayErrorsTotal.WithLabelValues(err).Inc()
}

// RecordRelayRejected records a refused join attempt
func (m *Metrics) RecordRelayRejected(reason string) {
	m.relayRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordSessionTransition records a session status transition
func (m *Metrics) RecordSessionTransition(status string) {
	m.sessionsTotal.WithLabelValues(status).Inc()
}

// SessionStarted increments the active session gauge
func (m *Metrics) SessionStarted() {
	m.sessionsActive.Inc()
}

// SessionEnded decrements the active session gauge and records the billing outcome
func (m *Metrics) SessionEnded(duration time.Duration, cost float64) {
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(duration.Seconds())
	m.sessionCostDollars.Observe(cost)
}

// RecordChatMessage records a persisted chat message
func (m *Metrics) RecordChatMessage() {
	m.chatMessagesTotal.Inc()
}

// RecordPushNotification records a push notification outcome
func (m *Metrics) RecordPushNotification(notifType string, err error) {
	m.pushNotificationsTotal.WithLabelValues(notifType).Inc()
	if err != nil {
		m.pushNotificationsFailed.WithLabelValues(notifType, err.Error()).Inc()
	}
}

// RecordEmail records an email send outcome
func (m *Metrics) RecordEmail(emailType string, err error) {
	m.emailsTotal.WithLabelValues(emailType).Inc()
	if err != nil {
		m.emailsFailed.WithLabelValues(emailType, err.Error()).Inc()
	}
}
