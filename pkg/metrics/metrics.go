// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-zkauth.
//
// go-zkauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the zkauth client
// and reference server: authentication operations, signature failures,
// session wipes, storage warnings, HTTP traffic and server state.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all zkauth metrics
	Namespace = "zkauth"

	// Label names
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelCode       = "code"
	LabelMode       = "mode"
	LabelRoute      = "route"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpRequestLink   = "request_link"
	OpValidateLink  = "validate_link"
	OpRefresh       = "refresh"
	OpRotate        = "rotate"
	OpResource      = "resource"
	OpLogout        = "logout"
	OpEncryptParams = "encrypt_params"
	OpDecryptParams = "decrypt_params"

	// Session clear modes
	ClearPreventive = "preventive"
	ClearSensitive  = "sensitive"
)

var (
	// OperationsTotal tracks authentication operations by type and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of zkauth operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// OperationDuration tracks the duration of operations in seconds.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of zkauth operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation},
	)

	// RejectionsTotal counts protocol error codes, either received by the
	// client or issued by the server.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rejections_total",
			Help:      "Total number of protocol rejections by error code",
		},
		[]string{LabelCode},
	)

	// SignatureFailuresTotal counts envelope or request signatures that
	// failed verification.
	SignatureFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "signature_failures_total",
			Help:      "Total number of signature verification failures by operation",
		},
		[]string{LabelOperation},
	)

	// SessionClearsTotal counts session wipes by mode.
	SessionClearsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "session_clears_total",
			Help:      "Total number of session clears by mode",
		},
		[]string{LabelMode},
	)

	// StorageWarningsTotal counts session records that failed to persist.
	StorageWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "storage_warnings_total",
			Help:      "Total number of session storage write failures",
		},
	)

	// OutstandingLinks tracks unredeemed magic links held by the server.
	OutstandingLinks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "server",
			Name:      "outstanding_links",
			Help:      "Number of issued magic links not yet redeemed or expired",
		},
	)

	// PendingRotations tracks rotation contexts sealed to clients and not
	// yet consumed by a rotation.
	PendingRotations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "server",
			Name:      "pending_rotations",
			Help:      "Number of outstanding key rotation contexts",
		},
	)

	// RevokedCredentials tracks revoked renewal credentials that have not
	// expired yet.
	RevokedCredentials = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "server",
			Name:      "revoked_credentials",
			Help:      "Number of revoked, unexpired renewal credentials",
		},
	)

	// ReplayCacheEntries tracks request nonces remembered for replay
	// detection.
	ReplayCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "server",
			Name:      "replay_cache_entries",
			Help:      "Number of request nonces held for replay detection",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "server",
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// ActiveRequests tracks in-flight HTTP requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	// HTTPRequestsTotal counts HTTP requests by route pattern, method and
	// status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method and status code",
		},
		[]string{LabelRoute, LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelRoute},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records an operation with its duration and status.
//
// Example:
//
//	start := time.Now()
//	err := authenticator.RequestLink(ctx, req)
//	metrics.RecordOperation(metrics.OpRequestLink, metrics.Status(err), time.Since(start).Seconds())
func RecordOperation(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// Status returns StatusError for a non-nil err and StatusSuccess otherwise.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordRejection records a protocol error code.
func RecordRejection(code string) {
	if !enabled.Load() || code == "" {
		return
	}
	RejectionsTotal.WithLabelValues(code).Inc()
}

// RecordSignatureFailure records a failed signature verification.
func RecordSignatureFailure(operation string) {
	if !enabled.Load() {
		return
	}
	SignatureFailuresTotal.WithLabelValues(operation).Inc()
}

// RecordSessionClear records a session wipe.
func RecordSessionClear(mode string) {
	if !enabled.Load() {
		return
	}
	SessionClearsTotal.WithLabelValues(mode).Inc()
}

// RecordStorageWarning records a failed session write.
func RecordStorageWarning() {
	if !enabled.Load() {
		return
	}
	StorageWarningsTotal.Inc()
}

const routeUnmatched = "unmatched"

// RecordHTTPRequest records an HTTP request with its duration and status.
// Unmatched requests share the route label "unmatched" to bound
// cardinality.
func RecordHTTPRequest(route, method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	if route == "" {
		route = routeUnmatched
	}
	HTTPRequestsTotal.WithLabelValues(route, method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
