package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/marmos91/dittodfs/pkg/store/content"
	contentBadger "github.com/marmos91/dittodfs/pkg/store/content/badger"
	contentFs "github.com/marmos91/dittodfs/pkg/store/content/fs"
	contentMemory "github.com/marmos91/dittodfs/pkg/store/content/memory"
	contentS3 "github.com/marmos91/dittodfs/pkg/store/content/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateContentStore creates a content store based on configuration.
//
// The Type field selects the implementation; the matching type-specific map
// is decoded into that store's configuration.
//
// Supported types:
//   - "memory": in-process map, lost on exit
//   - "filesystem": directory tree under a base path
//   - "badger": BadgerDB key-value database
//   - "s3": Amazon S3 or a compatible service
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	storeMetrics := metrics.NewStoreMetrics(cfg.Type)

	switch cfg.Type {
	case "memory":
		return contentMemory.NewMemoryContentStore(), nil
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem, storeMetrics)
	case "badger":
		return createBadgerContentStore(ctx, cfg.Badger, storeMetrics)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3, storeMetrics)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

func decodeOptions(kind string, options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("failed to decode %s content store config: %w", kind, err)
	}
	return nil
}

func createFilesystemContentStore(ctx context.Context, options map[string]any, storeMetrics metrics.StoreMetrics) (content.Store, error) {
	var storeCfg contentFs.Config
	if err := decodeOptions("filesystem", options, &storeCfg); err != nil {
		return nil, err
	}

	store, err := contentFs.NewFSContentStore(ctx, storeCfg, storeMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}

	logger.Info("Filesystem content store initialized: path=%s", storeCfg.Path)
	return store, nil
}

func createBadgerContentStore(ctx context.Context, options map[string]any, storeMetrics metrics.StoreMetrics) (content.Store, error) {
	var storeCfg contentBadger.Config
	if err := decodeOptions("badger", options, &storeCfg); err != nil {
		return nil, err
	}

	store, err := contentBadger.NewBadgerContentStore(ctx, storeCfg, storeMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger content store: %w", err)
	}

	logger.Info("Badger content store initialized: path=%s, in_memory=%v", storeCfg.Path, storeCfg.InMemory)
	return store, nil
}

func createS3ContentStore(ctx context.Context, options map[string]any, storeMetrics metrics.StoreMetrics) (content.Store, error) {
	type S3ContentStoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeCfg S3ContentStoreConfig
	if err := decodeOptions("S3", options, &storeCfg); err != nil {
		return nil, err
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}

	client, err := contentS3.NewClient(ctx, contentS3.ClientConfig{
		Region:          storeCfg.Region,
		Endpoint:        storeCfg.Endpoint,
		AccessKeyID:     storeCfg.AccessKeyID,
		SecretAccessKey: storeCfg.SecretAccessKey,
		MaxRetries:      storeCfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	store, err := contentS3.NewS3ContentStore(ctx, contentS3.S3ContentStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	}, storeMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}
