package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/marmos91/dittodfs/pkg/config"
	contents3 "github.com/marmos91/dittodfs/pkg/store/content/s3"
)

// ContentStoreType selects the backend every storage node of a test cluster uses.
type ContentStoreType string

const (
	ContentMemory     ContentStoreType = "memory"
	ContentFilesystem ContentStoreType = "filesystem"
	ContentBadger     ContentStoreType = "badger"
	ContentS3         ContentStoreType = "s3"
)

// TestConfig describes one cluster configuration.
type TestConfig struct {
	Name         string
	ContentStore ContentStoreType

	// ReplicationThreshold of the coordinator. 0 means the default.
	ReplicationThreshold int

	s3Endpoint string
	s3Bucket   string
}

func (tc *TestConfig) String() string {
	return tc.Name
}

// ContentConfig returns the content section for a new storage node. Every
// node gets its own directory, database or key prefix.
func (tc *TestConfig) ContentConfig(t *testing.T) config.ContentConfig {
	t.Helper()

	switch tc.ContentStore {
	case ContentMemory:
		return config.ContentConfig{Type: "memory"}

	case ContentFilesystem:
		return config.ContentConfig{
			Type:       "filesystem",
			Filesystem: map[string]any{"path": t.TempDir()},
		}

	case ContentBadger:
		return config.ContentConfig{
			Type:   "badger",
			Badger: map[string]any{"path": t.TempDir(), "block_cache_size_mb": 8},
		}

	case ContentS3:
		return config.ContentConfig{
			Type: "s3",
			S3: map[string]any{
				"region":            "us-east-1",
				"endpoint":          tc.s3Endpoint,
				"bucket":            tc.s3Bucket,
				"key_prefix":        "node-" + uuid.NewString()[:8],
				"access_key_id":     "test",
				"secret_access_key": "test",
				"max_retries":       3,
			},
		}

	default:
		t.Fatalf("unknown content store type: %s", tc.ContentStore)
		return config.ContentConfig{}
	}
}

// AllConfigurations returns the local cluster configurations, plus an S3
// one when DITTODFS_TEST_S3_ENDPOINT points at an S3-compatible service.
func AllConfigurations(t *testing.T) []*TestConfig {
	configs := []*TestConfig{
		{Name: "memory", ContentStore: ContentMemory},
		{Name: "filesystem", ContentStore: ContentFilesystem},
		{Name: "badger", ContentStore: ContentBadger},
	}

	if s3Config := s3Configuration(t); s3Config != nil {
		configs = append(configs, s3Config)
	}

	return configs
}

// s3Configuration creates a bucket on the configured endpoint, or returns
// nil if none is configured.
func s3Configuration(t *testing.T) *TestConfig {
	t.Helper()

	endpoint := os.Getenv("DITTODFS_TEST_S3_ENDPOINT")
	if endpoint == "" {
		return nil
	}

	ctx := context.Background()
	client, err := contents3.NewClient(ctx, contents3.ClientConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		MaxRetries:      3,
	})
	if err != nil {
		t.Fatalf("Failed to create S3 client: %v", err)
	}

	bucket := fmt.Sprintf("dittodfs-e2e-%s", uuid.NewString()[:8])
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Fatalf("Failed to create bucket %s: %v", bucket, err)
	}
	t.Cleanup(func() { emptyBucket(client, bucket) })

	return &TestConfig{
		Name:         "s3",
		ContentStore: ContentS3,
		s3Endpoint:   endpoint,
		s3Bucket:     bucket,
	}
}

// emptyBucket deletes every object and then the bucket itself.
func emptyBucket(client *s3.Client, bucket string) {
	ctx := context.Background()

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			break
		}
		for _, obj := range page.Contents {
			_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
		}
	}

	_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
}
