// Package archive offloads oversized job payloads to S3-compatible
// storage so the hot path (Redis queue, Postgres event store) only
// ever carries small references, per the DOMAIN STACK wiring for
// aws-sdk-go-v2/service/s3.
//
// Grounded on S3LogStore (teacher pkg/storage/log_store.go): same
// client construction (static credentials + custom endpoint for
// MinIO), same bucket/prefix/local-cache shape, repurposed from
// execution logs to job payload bytes.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"taskqueue/pkg/taskerr"
)

// InlineThresholdBytes is the default payload size above which a
// payload is archived rather than carried inline in the envelope.
const InlineThresholdBytes = 256 * 1024

// Store archives oversized payloads and retrieves them by reference.
type Store interface {
	Put(ctx context.Context, jobID string, payload []byte) (reference string, err error)
	Get(ctx context.Context, reference string) ([]byte, error)
}

// S3Store is an S3-compatible (including MinIO) payload archive.
type S3Store struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

// Config configures an S3Store.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // set for MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

// NewS3Store builds an S3-backed archive.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, &taskerr.TransientBackendError{Backend: "s3", Err: err}
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("taskqueue: create archive cache dir: %w", err)
		}
	}

	return &S3Store{
		client:     s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
	}, nil
}

// Put uploads payload under a key derived from jobID and the current
// date, returning an s3:// reference.
func (s *S3Store) Put(ctx context.Context, jobID string, payload []byte) (string, error) {
	key := s.buildKey(jobID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", &taskerr.TransientBackendError{Backend: "s3", Err: err}
	}

	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, jobID+".bin"), payload, 0644)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Get retrieves a payload previously archived by Put.
func (s *S3Store) Get(ctx context.Context, reference string) ([]byte, error) {
	key := s.extractKey(reference)

	if s.localCache != "" {
		path := filepath.Join(s.localCache, filepath.Base(key))
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &taskerr.TransientBackendError{Backend: "s3", Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: read archived payload: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, filepath.Base(key)), data, 0644)
	}
	return data, nil
}

func (s *S3Store) buildKey(jobID string) string {
	return fmt.Sprintf("%s%s/%s.bin", s.prefix, time.Now().Format("2006/01/02"), jobID)
}

func (s *S3Store) extractKey(reference string) string {
	const scheme = "s3://"
	if len(reference) > len(scheme) && reference[:len(scheme)] == scheme {
		rest := reference[len(scheme):]
		for i, c := range rest {
			if c == '/' {
				return rest[i+1:]
			}
		}
	}
	return reference
}

// ShouldArchive reports whether payload exceeds the inline threshold.
func ShouldArchive(payload []byte, thresholdBytes int) bool {
	if thresholdBytes <= 0 {
		thresholdBytes = InlineThresholdBytes
	}
	return len(payload) > thresholdBytes
}
