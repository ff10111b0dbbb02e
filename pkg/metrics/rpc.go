package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RPCMetrics provides observability for ONC-RPC adapter operations.
//
// Implementations can collect metrics about calls, connection lifecycle,
// throughput, and errors. This interface is optional - if not provided to the
// RPC adapter, a no-op implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := metrics.NewRPCMetrics("naming-service")
//	adapter := rpc.New(config, handler, m)
//
//	// Without metrics (no-op)
//	adapter := rpc.New(config, handler, nil)
type RPCMetrics interface {
	// RecordRequest records a completed call with its procedure name,
	// duration, and outcome.
	//
	// Parameters:
	//   - procedure: procedure name (e.g., "LOCK", "READ", "COPY")
	//   - duration: Time taken to process the call
	//   - err: Error if the call failed, nil if successful
	RecordRequest(procedure string, duration time.Duration, err error)

	// RecordRequestStart increments the in-flight call counter.
	RecordRequestStart(procedure string)

	// RecordRequestEnd decrements the in-flight call counter.
	RecordRequestEnd(procedure string)

	// RecordBytesTransferred records record bytes received or sent.
	//
	// Parameters:
	//   - direction: "in" or "out"
	//   - bytes: Number of bytes transferred
	RecordBytesTransferred(direction string, bytes int64)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed when the
	// shutdown timeout expired.
	RecordConnectionForceClosed()

	// RecordRateLimited counts calls rejected by the rate limiter.
	RecordRateLimited()
}

// rpcVectors holds the process-wide collectors shared by every adapter.
// Several adapters run in one process (a storage node serves both the data
// and the command program), so collectors are registered once and
// distinguished by the adapter label.
type rpcVectors struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	requestsInFlight       *prometheus.GaugeVec
	bytesTransferred       *prometheus.CounterVec
	activeConnections      *prometheus.GaugeVec
	connectionsAccepted    *prometheus.CounterVec
	connectionsClosed      *prometheus.CounterVec
	connectionsForceClosed *prometheus.CounterVec
	rateLimited            *prometheus.CounterVec
}

var (
	rpcShared     *rpcVectors
	rpcSharedOnce sync.Once
)

func rpcCollectors(reg prometheus.Registerer) *rpcVectors {
	rpcSharedOnce.Do(func() {
		rpcShared = &rpcVectors{
			requestsTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittodfs_rpc_requests_total",
					Help: "Total number of RPC calls by adapter, procedure and status",
				},
				[]string{"adapter", "procedure", "status"},
			),
			requestDuration: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "dittodfs_rpc_request_duration_seconds",
					Help: "Duration of RPC calls in seconds",
					Buckets: []float64{
						0.0001, // 100µs
						0.001,  // 1ms
						0.005,  // 5ms
						0.025,  // 25ms
						0.1,    // 100ms
						0.5,    // 500ms
						1.0,    // 1s
						5.0,    // 5s
						30.0,   // 30s
					},
				},
				[]string{"adapter", "procedure"},
			),
			requestsInFlight: promauto.With(reg).NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "dittodfs_rpc_requests_in_flight",
					Help: "Current number of RPC calls being processed",
				},
				[]string{"adapter", "procedure"},
			),
			bytesTransferred: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittodfs_rpc_bytes_transferred_total",
					Help: "Total RPC record bytes received and sent",
				},
				[]string{"adapter", "direction"},
			),
			activeConnections: promauto.With(reg).NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "dittodfs_rpc_active_connections",
					Help: "Current number of active RPC connections",
				},
				[]string{"adapter"},
			),
			connectionsAccepted: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittodfs_rpc_connections_accepted_total",
					Help: "Total number of RPC connections accepted",
				},
				[]string{"adapter"},
			),
			connectionsClosed: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittodfs_rpc_connections_closed_total",
					Help: "Total number of RPC connections closed",
				},
				[]string{"adapter"},
			),
			connectionsForceClosed: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittodfs_rpc_connections_force_closed_total",
					Help: "Total number of RPC connections closed after the shutdown timeout",
				},
				[]string{"adapter"},
			),
			rateLimited: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "dittodfs_rpc_rate_limited_total",
					Help: "Total number of RPC calls rejected by the rate limiter",
				},
				[]string{"adapter"},
			),
		}
	})
	return rpcShared
}

// rpcMetrics binds the shared collectors to one adapter name.
type rpcMetrics struct {
	adapter string
	v       *rpcVectors
}

// NewRPCMetrics creates a Prometheus-backed RPCMetrics instance labelled
// with the adapter name.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewRPCMetrics(adapter string) RPCMetrics {
	if !IsEnabled() {
		return NewNoopRPCMetrics()
	}

	return &rpcMetrics{adapter: adapter, v: rpcCollectors(GetRegistry())}
}

func (m *rpcMetrics) RecordRequest(procedure string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = statusLabel(err)
	}

	m.v.requestsTotal.WithLabelValues(m.adapter, procedure, status).Inc()
	m.v.requestDuration.WithLabelValues(m.adapter, procedure).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordRequestStart(procedure string) {
	m.v.requestsInFlight.WithLabelValues(m.adapter, procedure).Inc()
}

func (m *rpcMetrics) RecordRequestEnd(procedure string) {
	m.v.requestsInFlight.WithLabelValues(m.adapter, procedure).Dec()
}

func (m *rpcMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.v.bytesTransferred.WithLabelValues(m.adapter, direction).Add(float64(bytes))
}

func (m *rpcMetrics) SetActiveConnections(count int32) {
	m.v.activeConnections.WithLabelValues(m.adapter).Set(float64(count))
}

func (m *rpcMetrics) RecordConnectionAccepted() {
	m.v.connectionsAccepted.WithLabelValues(m.adapter).Inc()
}

func (m *rpcMetrics) RecordConnectionClosed() {
	m.v.connectionsClosed.WithLabelValues(m.adapter).Inc()
}

func (m *rpcMetrics) RecordConnectionForceClosed() {
	m.v.connectionsForceClosed.WithLabelValues(m.adapter).Inc()
}

func (m *rpcMetrics) RecordRateLimited() {
	m.v.rateLimited.WithLabelValues(m.adapter).Inc()
}

// noopRPCMetrics is a no-op implementation of RPCMetrics with zero overhead.
type noopRPCMetrics struct{}

// NewNoopRPCMetrics returns an RPCMetrics that discards everything.
func NewNoopRPCMetrics() RPCMetrics {
	return noopRPCMetrics{}
}

func (noopRPCMetrics) RecordRequest(procedure string, duration time.Duration, err error) {}
func (noopRPCMetrics) RecordRequestStart(procedure string)                               {}
func (noopRPCMetrics) RecordRequestEnd(procedure string)                                 {}
func (noopRPCMetrics) RecordBytesTransferred(direction string, bytes int64)              {}
func (noopRPCMetrics) SetActiveConnections(count int32)                                  {}
func (noopRPCMetrics) RecordConnectionAccepted()                                         {}
func (noopRPCMetrics) RecordConnectionClosed()                                           {}
func (noopRPCMetrics) RecordConnectionForceClosed()                                      {}
func (noopRPCMetrics) RecordRateLimited()                                                {}
