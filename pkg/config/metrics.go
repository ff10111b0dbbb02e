package config

import (
	"github.com/marmos91/dittodfs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Enabled reports whether collectors are backed by Prometheus
	Enabled bool
}

// InitializeMetrics prepares the metrics registry for one process role
// ("naming" or "storage").
//
// When enabled, the global Prometheus registry is initialized so that the
// metrics constructors (NewNamingMetrics, NewRPCMetrics, NewStorageMetrics,
// NewStoreMetrics) return real collectors, and an HTTP server is created.
// When disabled those constructors return no-op implementations.
//
// Must be called before any component is built.
func InitializeMetrics(cfg *Config, component string) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:      cfg.Metrics.Port,
		Component: component,
	})

	return &MetricsResult{
		Server:  server,
		Enabled: true,
	}
}
