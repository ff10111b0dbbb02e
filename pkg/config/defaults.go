package config

import (
	"fmt"
	"strings"
	"time"

	rpcadapter "github.com/marmos91/dittodfs/pkg/adapter/rpc"
	"github.com/marmos91/dittodfs/pkg/naming"
	"github.com/marmos91/dittodfs/pkg/storage/node"
)

// Default ports of the four endpoints.
const (
	DefaultServicePort      = 6000
	DefaultRegistrationPort = 6001
	DefaultDataPort         = 7000
	DefaultCommandPort      = 7001
	DefaultMetricsPort      = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
// Store-specific defaults are filled into every backend section so that a
// generated sample file documents all of them.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyNamingDefaults(&cfg.Naming)
	applyStorageDefaults(&cfg.Storage)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func applyNamingDefaults(cfg *NamingConfig) {
	applyRPCDefaults(&cfg.Service, DefaultServicePort)
	applyRPCDefaults(&cfg.Registration, DefaultRegistrationPort)

	if cfg.ReplicationThreshold == 0 {
		cfg.ReplicationThreshold = naming.DefaultReplicationThreshold
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	// LockTimeout defaults to 0 (wait forever)
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Hostname == "" {
		cfg.Hostname = "127.0.0.1"
	}
	if cfg.NamingAddress == "" {
		cfg.NamingAddress = fmt.Sprintf("127.0.0.1:%d", DefaultRegistrationPort)
	}

	applyRPCDefaults(&cfg.Data, DefaultDataPort)
	applyRPCDefaults(&cfg.Command, DefaultCommandPort)

	if cfg.CopyChunkSize == 0 {
		cfg.CopyChunkSize = node.DefaultCopyChunkSize
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	applyContentDefaults(&cfg.Content)
}

// applyRPCDefaults sets the port and timeouts of one RPC endpoint.
//
// Calls may legitimately wait a long time for a lock, so the read timeout
// only bounds a partially received record and the idle timeout stays long.
func applyRPCDefaults(cfg *rpcadapter.RPCConfig, port int) {
	if cfg.Port == 0 {
		cfg.Port = port
	}

	// MaxConnections defaults to 0 (unlimited)

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/tmp/dittodfs-content"
	}
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/tmp/dittodfs-badger"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// Used to generate sample configuration files and in tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
