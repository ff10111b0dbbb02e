package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics observes content store backends (memory, filesystem, badger, s3).
type StoreMetrics interface {
	// ObserveOperation records one backend call.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes moved by a backend call ("read" or "write").
	RecordBytes(operation string, bytes int64)
}

// StorageMetrics observes a storage node's lifecycle and replication work.
type StorageMetrics interface {
	// RecordCommand records a command call (create, delete, copy) served
	// for the naming coordinator.
	RecordCommand(command string, ok bool, err error)

	// RecordCopy records a completed replication copy.
	RecordCopy(bytes int64, duration time.Duration, err error)

	// SetFilesHosted sets the number of files in the local store.
	SetFilesHosted(count int)

	// RecordDuplicatesRemoved counts files deleted after registration
	// because the coordinator already knew them.
	RecordDuplicatesRemoved(count int)
}

type storeMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

// NewStoreMetrics creates Prometheus metrics for a content store backend.
// The backend name becomes a constant label.
//
// Returns a no-op implementation if metrics are not enabled.
func NewStoreMetrics(backend string) StoreMetrics {
	if !IsEnabled() {
		return NewNoopStoreMetrics()
	}

	reg := GetRegistry()
	labels := prometheus.Labels{"backend": backend}

	return &storeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dittodfs_store_operations_total",
				Help:        "Total number of content store operations by operation type and status",
				ConstLabels: labels,
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "dittodfs_store_operation_duration_seconds",
				Help:        "Duration of content store operations in seconds",
				ConstLabels: labels,
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.25,   // 250ms
					1.0,    // 1s
					5.0,    // 5s
					30.0,   // 30s
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dittodfs_store_bytes_transferred_total",
				Help:        "Total bytes transferred by content store operations",
				ConstLabels: labels,
			},
			[]string{"operation"}, // read or write
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dittodfs_store_errors_total",
				Help:        "Total number of content store errors by operation type",
				ConstLabels: labels,
			},
			[]string{"operation"},
		),
	}
}

func (m *storeMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errorsTotal.WithLabelValues(operation).Inc()
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *storeMetrics) RecordBytes(operation string, bytes int64) {
	m.bytesTransferred.WithLabelValues(operation).Add(float64(bytes))
}

type storageMetrics struct {
	commandsTotal     *prometheus.CounterVec
	copiesTotal       *prometheus.CounterVec
	copyBytes         prometheus.Histogram
	copyDuration      prometheus.Histogram
	filesHosted       prometheus.Gauge
	duplicatesRemoved prometheus.Counter
}

// NewStorageMetrics creates Prometheus metrics for a storage node.
// The node instance ID becomes a constant label.
//
// Returns a no-op implementation if metrics are not enabled.
func NewStorageMetrics(instance string) StorageMetrics {
	if !IsEnabled() {
		return NewNoopStorageMetrics()
	}

	reg := GetRegistry()
	labels := prometheus.Labels{"instance_id": instance}

	return &storageMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dittodfs_storage_commands_total",
				Help:        "Total number of coordinator commands served by command and result",
				ConstLabels: labels,
			},
			[]string{"command", "result"},
		),
		copiesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dittodfs_storage_copies_total",
				Help:        "Total number of replication copies by status",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		copyBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:        "dittodfs_storage_copy_bytes",
				Help:        "Size of replicated files in bytes",
				ConstLabels: labels,
				Buckets: []float64{
					4096,       // 4KB
					65536,      // 64KB
					1048576,    // 1MB
					10485760,   // 10MB
					104857600,  // 100MB
					1073741824, // 1GB
				},
			},
		),
		copyDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:        "dittodfs_storage_copy_duration_seconds",
				Help:        "Duration of replication copies in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		filesHosted: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name:        "dittodfs_storage_files_hosted",
				Help:        "Number of files in the local content store",
				ConstLabels: labels,
			},
		),
		duplicatesRemoved: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name:        "dittodfs_storage_duplicates_removed_total",
				Help:        "Total number of local files deleted as duplicates at registration",
				ConstLabels: labels,
			},
		),
	}
}

func (m *storageMetrics) RecordCommand(command string, ok bool, err error) {
	result := "true"
	switch {
	case err != nil:
		result = statusLabel(err)
	case !ok:
		result = "false"
	}
	m.commandsTotal.WithLabelValues(command, result).Inc()
}

func (m *storageMetrics) RecordCopy(bytes int64, duration time.Duration, err error) {
	if err != nil {
		m.copiesTotal.WithLabelValues("error").Inc()
		return
	}
	m.copiesTotal.WithLabelValues("success").Inc()
	m.copyBytes.Observe(float64(bytes))
	m.copyDuration.Observe(duration.Seconds())
}

func (m *storageMetrics) SetFilesHosted(count int) {
	m.filesHosted.Set(float64(count))
}

func (m *storageMetrics) RecordDuplicatesRemoved(count int) {
	m.duplicatesRemoved.Add(float64(count))
}

type noopStoreMetrics struct{}

// NewNoopStoreMetrics returns a StoreMetrics that discards everything.
func NewNoopStoreMetrics() StoreMetrics { return noopStoreMetrics{} }

func (noopStoreMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopStoreMetrics) RecordBytes(string, int64)                     {}

type noopStorageMetrics struct{}

// NewNoopStorageMetrics returns a StorageMetrics that discards everything.
func NewNoopStorageMetrics() StorageMetrics { return noopStorageMetrics{} }

func (noopStorageMetrics) RecordCommand(string, bool, error)      {}
func (noopStorageMetrics) RecordCopy(int64, time.Duration, error) {}
func (noopStorageMetrics) SetFilesHosted(int)                     {}
func (noopStorageMetrics) RecordDuplicatesRemoved(int)            {}
