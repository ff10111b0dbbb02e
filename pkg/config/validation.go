package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	storageproto "github.com/marmos91/dittodfs/internal/protocol/storage"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that cannot be expressed in tags.
func validateCustomRules(cfg *Config) error {
	n := cfg.Naming
	if n.Service.Port != 0 && n.Service.Port == n.Registration.Port && n.Service.Host == n.Registration.Host {
		return fmt.Errorf("naming: service and registration endpoints share port %d", n.Service.Port)
	}

	s := cfg.Storage
	if s.Data.Port != 0 && s.Data.Port == s.Command.Port && s.Data.Host == s.Command.Host {
		return fmt.Errorf("storage: data and command endpoints share port %d", s.Data.Port)
	}

	if s.CopyChunkSize > storageproto.MaxReadLength {
		return fmt.Errorf("storage.copy_chunk_size: %d exceeds the maximum read of %d bytes",
			s.CopyChunkSize, storageproto.MaxReadLength)
	}

	if cfg.Metrics.Enabled {
		endpoints := []struct {
			name string
			port int
		}{
			{"naming.service", n.Service.Port},
			{"naming.registration", n.Registration.Port},
			{"storage.data", s.Data.Port},
			{"storage.command", s.Command.Port},
		}
		for _, e := range endpoints {
			if e.port == cfg.Metrics.Port {
				return fmt.Errorf("metrics: port %d conflicts with %s", e.port, e.name)
			}
		}
	}

	switch s.Content.Type {
	case "s3":
		if len(s.Content.S3) == 0 {
			return fmt.Errorf("storage.content: type is s3 but the s3 section is empty")
		}
	case "filesystem":
		if p, _ := s.Content.Filesystem["path"].(string); p == "" {
			return fmt.Errorf("storage.content.filesystem: path is required")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
