package main

import (
	"fmt"
	"io"
	"os"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/config"
)

// loadConfig loads the configuration, applies flag overrides (highest
// priority) and validates the result.
func loadConfig(path string, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if override != nil {
		override(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return cfg, nil
}

// setupLogging configures the global logger. The returned closer releases
// the log file, if any.
func setupLogging(cfg config.LoggingConfig, component string) (io.Closer, error) {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	logger.SetComponent(component)

	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		return f, nil
	}

	return io.NopCloser(nil), nil
}
