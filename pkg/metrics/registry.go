// Package metrics provides Prometheus metrics for the naming coordinator,
// the storage nodes and the RPC adapters in front of them.
//
// Metrics are optional. Until InitRegistry is called every constructor
// returns a no-op implementation, so components take a nil or noop value
// and never check whether collection is on.
//
//	metrics.InitRegistry()
//	coordinator := naming.New(cfg, dialer, metrics.NewNamingMetrics())
//	node := node.New(cfg, store, dialer, metrics.NewStorageMetrics(id.String()))
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry, including the Go runtime
// and process collectors. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "dittodfs"}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
