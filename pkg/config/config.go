package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	rpcadapter "github.com/marmos91/dittodfs/pkg/adapter/rpc"
	"github.com/spf13/viper"
)

// Config represents the complete DittoDFS configuration.
//
// One file configures both process roles: `dittodfs naming` reads the
// naming section, `dittodfs storage` reads the storage section, and both
// share logging, server and metrics.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTODFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Naming configures the naming coordinator
	Naming NamingConfig `mapstructure:"naming" yaml:"naming"`

	// Storage configures a storage node
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns on metric collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// NamingConfig configures the naming coordinator process.
type NamingConfig struct {
	// Service is the endpoint clients use (lock, list, create, delete...)
	Service rpcadapter.RPCConfig `mapstructure:"service" yaml:"service"`

	// Registration is the endpoint storage nodes register with
	Registration rpcadapter.RPCConfig `mapstructure:"registration" yaml:"registration"`

	// ReplicationThreshold is the number of shared locks on a file after
	// which one more replica is created
	ReplicationThreshold int `mapstructure:"replication_threshold" yaml:"replication_threshold" validate:"gte=1"`

	// LockTimeout bounds how long a Lock call waits in a queue. 0 waits forever.
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout" validate:"min=0"`

	// DialTimeout bounds connecting to a storage node
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"gt=0"`
}

// StorageConfig configures a storage node process.
type StorageConfig struct {
	// Hostname is the address other processes use to reach this node.
	// It is combined with the data and command ports to form the handles
	// sent at registration.
	Hostname string `mapstructure:"hostname" yaml:"hostname" validate:"required"`

	// NamingAddress is the host:port of the coordinator's registration endpoint
	NamingAddress string `mapstructure:"naming_address" yaml:"naming_address" validate:"required,hostname_port"`

	// Data is the endpoint serving file bytes to clients
	Data rpcadapter.RPCConfig `mapstructure:"data" yaml:"data"`

	// Command is the endpoint the coordinator drives (create, delete, copy)
	Command rpcadapter.RPCConfig `mapstructure:"command" yaml:"command"`

	// CopyChunkSize is the read size used when copying a file from another node
	CopyChunkSize int `mapstructure:"copy_chunk_size" yaml:"copy_chunk_size" validate:"gt=0"`

	// DialTimeout bounds connecting to the coordinator and to other nodes
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"gt=0"`

	// Content selects and configures the byte backend
	Content ContentConfig `mapstructure:"content" yaml:"content"`
}

// ContentConfig specifies content store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: memory, filesystem, badger, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory filesystem badger s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTODFS_NAMING_REPLICATION_THRESHOLD=5
	v.SetEnvPrefix("DITTODFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about, so register every
	// scalar key that may be set from the environment alone.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"metrics.enabled",
	"metrics.port",
	"naming.service.host",
	"naming.service.port",
	"naming.registration.host",
	"naming.registration.port",
	"naming.replication_threshold",
	"naming.lock_timeout",
	"naming.dial_timeout",
	"storage.hostname",
	"storage.naming_address",
	"storage.data.host",
	"storage.data.port",
	"storage.command.host",
	"storage.command.port",
	"storage.copy_chunk_size",
	"storage.dial_timeout",
	"storage.content.type",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittodfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittodfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
