// Package s3 implements a content store on Amazon S3 or any S3-compatible
// service (MinIO, Localstack).
//
// Each file is one object. The key is the configured prefix followed by the
// canonical path without its leading separator, so the bucket mirrors the
// namespace: "/docs/report.pdf" with prefix "node1/" is stored at
// "node1/docs/report.pdf". Directories are implicit.
//
// Objects are immutable, so WriteAt is a read-modify-write of the whole
// object. Reads use ranged GETs.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/store/content"
)

// maxDeleteBatch is the DeleteObjects limit per request.
const maxDeleteBatch = 1000

// Client is the subset of the S3 API the store uses. *s3.Client
// satisfies it.
type Client interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3ContentStoreConfig configures the S3 store.
type S3ContentStoreConfig struct {
	Client    Client
	Bucket    string
	KeyPrefix string
}

// S3ContentStore stores files as S3 objects.
type S3ContentStore struct {
	client    Client
	bucket    string
	keyPrefix string
	metrics   metrics.StoreMetrics
	closed    atomic.Bool
}

var _ content.Store = (*S3ContentStore)(nil)

// NewS3ContentStore verifies bucket access and returns a store.
func NewS3ContentStore(ctx context.Context, cfg S3ContentStoreConfig, storeMetrics metrics.StoreMetrics) (*S3ContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, errors.New("s3 content store: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 content store: bucket is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	if storeMetrics == nil {
		storeMetrics = metrics.NewNoopStoreMetrics()
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix != "" && !strings.HasSuffix(keyPrefix, path.Separator) {
		keyPrefix += path.Separator
	}

	return &S3ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: keyPrefix,
		metrics:   storeMetrics,
	}, nil
}

func (s *S3ContentStore) objectKey(p path.Path) string {
	return s.keyPrefix + strings.TrimPrefix(p.String(), path.Separator)
}

// childPrefix is the key prefix of every object strictly below p.
func (s *S3ContentStore) childPrefix(p path.Path) string {
	if p.IsRoot() {
		return s.keyPrefix
	}
	return s.objectKey(p) + path.Separator
}

// pathOf maps an object key back to a namespace path.
func (s *S3ContentStore) pathOf(key string) (path.Path, bool) {
	rel, ok := strings.CutPrefix(key, s.keyPrefix)
	if !ok || rel == "" || strings.HasSuffix(rel, path.Separator) {
		return path.Path{}, false
	}
	p, err := path.Parse(path.Separator + rel)
	if err != nil {
		return path.Path{}, false
	}
	return p, true
}

// isNotFound reports whether err is S3's answer for a missing object.
// HeadObject reports NotFound, GetObject reports NoSuchKey.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func (s *S3ContentStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return content.ErrClosed
	}
	return nil
}

func (s *S3ContentStore) headSize(ctx context.Context, p path.Path) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%s: %w", p, content.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to head %s: %w", p, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3ContentStore) Stat(ctx context.Context, p path.Path) (info content.Info, err error) {
	start := time.Now()
	defer func() {
		// A missing path is an answer, not a backend failure.
		if errors.Is(err, content.ErrNotFound) {
			s.metrics.ObserveOperation("Stat", time.Since(start), nil)
			return
		}
		s.metrics.ObserveOperation("Stat", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return content.Info{}, err
	}
	if p.IsRoot() {
		return content.Info{Kind: content.KindDirectory}, nil
	}

	size, err := s.headSize(ctx, p)
	if err == nil {
		return content.Info{Kind: content.KindFile, Size: size}, nil
	}
	if !errors.Is(err, content.ErrNotFound) {
		return content.Info{}, err
	}

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.childPrefix(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return content.Info{}, fmt.Errorf("failed to list %s: %w", p, err)
	}
	if len(out.Contents) > 0 {
		return content.Info{Kind: content.KindDirectory}, nil
	}
	return content.Info{}, fmt.Errorf("%s: %w", p, content.ErrNotFound)
}

func (s *S3ContentStore) ReadAt(ctx context.Context, p path.Path, offset int64, length int) (data []byte, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("ReadAt", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return nil, err
	}

	size, err := s.headSize(ctx, p)
	if err != nil {
		return nil, err
	}
	if err = content.CheckRange(p, size, offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+int64(length)-1)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", p, content.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", p, err)
	}
	defer func() { _ = out.Body.Close() }()

	data = make([]byte, length)
	if _, err = io.ReadFull(out.Body, data); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	s.metrics.RecordBytes("read", int64(length))
	return data, nil
}

func (s *S3ContentStore) getAll(ctx context.Context, p path.Path) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", p, content.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", p, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

func (s *S3ContentStore) put(ctx context.Context, p path.Path, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(p)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", p, err)
	}
	return nil
}

func (s *S3ContentStore) WriteAt(ctx context.Context, p path.Path, offset int64, data []byte) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("WriteAt", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("%s: negative offset %d: %w", p, offset, content.ErrOutOfRange)
	}

	current, err := s.getAll(ctx, p)
	if err != nil {
		return err
	}
	if err = s.put(ctx, p, content.Grow(current, offset, data)); err != nil {
		return err
	}

	s.metrics.RecordBytes("write", int64(len(data)))
	return nil
}

func (s *S3ContentStore) Create(ctx context.Context, p path.Path) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Create", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return err
	}
	if err = content.CheckCreate(ctx, s, p); err != nil {
		return err
	}
	return s.put(ctx, p, nil)
}

func (s *S3ContentStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3ContentStore) Delete(ctx context.Context, p path.Path) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Delete", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return err
	}

	keys, err := s.listKeys(ctx, s.childPrefix(p))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", p, err)
	}
	if !p.IsRoot() {
		keys = append(keys, s.objectKey(p))
	}

	for len(keys) > 0 {
		batch := keys[:min(len(keys), maxDeleteBatch)]
		keys = keys[len(batch):]

		objects := make([]types.ObjectIdentifier, len(batch))
		for i, key := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
		for _, failed := range out.Errors {
			if aws.ToString(failed.Code) == "NoSuchKey" {
				continue
			}
			return fmt.Errorf("failed to delete %s: %s: %s", p, aws.ToString(failed.Key), aws.ToString(failed.Message))
		}
	}
	return nil
}

func (s *S3ContentStore) List(ctx context.Context) ([]path.Path, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	keys, err := s.listKeys(ctx, s.keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	files := make([]path.Path, 0, len(keys))
	for _, key := range keys {
		if p, ok := s.pathOf(key); ok {
			files = append(files, p)
		}
	}
	path.Sort(files)
	return files, nil
}

// PruneEmpty has nothing to remove: S3 has no directories.
func (s *S3ContentStore) PruneEmpty(ctx context.Context) error {
	return s.check(ctx)
}

func (s *S3ContentStore) Close() error {
	s.closed.Store(true)
	return nil
}
