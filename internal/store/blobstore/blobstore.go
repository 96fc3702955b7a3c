// Package blobstore offloads execution output that exceeds the inline
// size threshold to S3-compatible storage (or a local directory when no
// bucket is configured), returning a reference the API layer can resolve
// back to the full content on demand.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store persists overflow execution output and returns an opaque
// reference string that Retrieve can resolve.
type Store interface {
	Store(ctx context.Context, executionID string, data []byte) (string, error)
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // for MinIO or other S3-compatible local stores
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

// S3Store stores overflow output in S3-compatible object storage, with an
// optional local cache for recently written or read blobs.
type S3Store struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

// NewS3Store builds the AWS client from cfg and ensures the local cache
// directory exists.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, clientOpts...)

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("blobstore: create cache dir: %w", err)
		}
	}

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, localCache: cfg.LocalCacheDir}, nil
}

func (s *S3Store) Store(ctx context.Context, executionID string, data []byte) (string, error) {
	key := s.buildKey(executionID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put object: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, executionID+".out"), data, 0o644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := s.extractKey(reference)

	if s.localCache != "" {
		if data, err := os.ReadFile(filepath.Join(s.localCache, filepath.Base(key))); err == nil {
			return data, nil
		}
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get object: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read object: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, filepath.Base(key)), data, 0o644)
	}

	return data, nil
}

func (s *S3Store) buildKey(executionID string) string {
	timestamp := time.Now().UTC().Format("2006/01/02")
	return fmt.Sprintf("%s%s/%s.out", s.prefix, timestamp, executionID)
}

func (s *S3Store) extractKey(reference string) string {
	if strings.HasPrefix(reference, "s3://") {
		rest := reference[len("s3://"):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return rest[idx+1:]
		}
	}
	return reference
}

// LocalStore stores overflow output on the local filesystem, for
// deployments with no object storage configured.
type LocalStore struct {
	basePath string
}

// NewLocalStore ensures basePath exists and returns a LocalStore rooted there.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create base dir: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) Store(ctx context.Context, executionID string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, executionID+".out")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("blobstore: write file: %w", err)
	}
	return path, nil
}

func (l *LocalStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return os.ReadFile(reference)
}
