package metrics

import (
	"time"

	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NamingMetrics provides metrics collection for the naming coordinator.
//
// Implementations must be safe for concurrent use. Use NewNamingMetrics to
// obtain a Prometheus-backed collector, which falls back to a no-op
// implementation when metrics are disabled.
type NamingMetrics interface {
	// RecordOperation records the outcome of a coordinator operation.
	// The status label is derived from the error code.
	RecordOperation(operation string, duration time.Duration, err error)

	// ObserveLockWait records how long a lock chain took to acquire.
	ObserveLockWait(mode string, duration time.Duration)

	// RecordReplicaCreated counts a successful replication copy.
	RecordReplicaCreated()

	// RecordReplicationFailure counts a failed replication attempt on one node.
	RecordReplicationFailure()

	// RecordReplicasInvalidated counts replicas deleted by a write lock.
	RecordReplicasInvalidated(count int)

	// SetStorageNodes sets the number of registered storage nodes.
	SetStorageNodes(count int)

	// SetNamespaceSize sets the number of known files and directories.
	SetNamespaceSize(files, directories int)
}

type namingMetrics struct {
	operationsTotal     *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	lockWaitDuration    *prometheus.HistogramVec
	replicasCreated     prometheus.Counter
	replicationFailures prometheus.Counter
	replicasInvalidated prometheus.Counter
	storageNodes        prometheus.Gauge
	namespaceEntries    *prometheus.GaugeVec
}

// NewNamingMetrics creates Prometheus metrics for the naming coordinator.
//
// Returns a no-op implementation if the registry has not been initialized.
func NewNamingMetrics() NamingMetrics {
	if !IsEnabled() {
		return NewNoopNamingMetrics()
	}

	reg := GetRegistry()

	return &namingMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodfs_naming_operations_total",
				Help: "Total number of naming operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodfs_naming_operation_duration_seconds",
				Help: "Duration of naming operations in seconds, lock waits included",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
					10.0,   // 10s
				},
			},
			[]string{"operation"},
		),
		lockWaitDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodfs_naming_lock_wait_seconds",
				Help: "Time spent waiting for a lock chain by requested mode",
				Buckets: []float64{
					0.00001, // 10µs
					0.0001,  // 100µs
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
					1.0,     // 1s
					10.0,    // 10s
				},
			},
			[]string{"mode"},
		),
		replicasCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodfs_naming_replicas_created_total",
				Help: "Total number of replicas created by the read-triggered replication policy",
			},
		),
		replicationFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodfs_naming_replication_failures_total",
				Help: "Total number of failed replication attempts",
			},
		),
		replicasInvalidated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodfs_naming_replicas_invalidated_total",
				Help: "Total number of replicas deleted before a write",
			},
		),
		storageNodes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodfs_naming_storage_nodes",
				Help: "Number of registered storage nodes",
			},
		),
		namespaceEntries: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittodfs_naming_namespace_entries",
				Help: "Number of known namespace entries by type",
			},
			[]string{"type"},
		),
	}
}

func (m *namingMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = statusLabel(err)
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *namingMetrics) ObserveLockWait(mode string, duration time.Duration) {
	m.lockWaitDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *namingMetrics) RecordReplicaCreated() {
	m.replicasCreated.Inc()
}

func (m *namingMetrics) RecordReplicationFailure() {
	m.replicationFailures.Inc()
}

func (m *namingMetrics) RecordReplicasInvalidated(count int) {
	m.replicasInvalidated.Add(float64(count))
}

func (m *namingMetrics) SetStorageNodes(count int) {
	m.storageNodes.Set(float64(count))
}

func (m *namingMetrics) SetNamespaceSize(files, directories int) {
	m.namespaceEntries.WithLabelValues("file").Set(float64(files))
	m.namespaceEntries.WithLabelValues("directory").Set(float64(directories))
}

// statusLabel maps an error to a bounded label value.
func statusLabel(err error) string {
	if code := dfs.CodeOf(err); code != 0 {
		return code.String()
	}
	return "error"
}

// noopNamingMetrics is a no-op implementation used when metrics are disabled.
type noopNamingMetrics struct{}

// NewNoopNamingMetrics returns a collector that discards everything.
func NewNoopNamingMetrics() NamingMetrics {
	return noopNamingMetrics{}
}

func (noopNamingMetrics) RecordOperation(string, time.Duration, error) {}
func (noopNamingMetrics) ObserveLockWait(string, time.Duration)        {}
func (noopNamingMetrics) RecordReplicaCreated()                        {}
func (noopNamingMetrics) RecordReplicationFailure()                    {}
func (noopNamingMetrics) RecordReplicasInvalidated(int)                {}
func (noopNamingMetrics) SetStorageNodes(int)                          {}
func (noopNamingMetrics) SetNamespaceSize(int, int)                    {}
