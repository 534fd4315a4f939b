package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/scanchain/scanchain/internal/logging"
)

// DefaultBucket is the bucket documents are stored in when none is configured.
const DefaultBucket = "scanchain-bucket"

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Config holds configuration for an S3-compatible store (AWS, MinIO, Greenfield gateways).
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional custom endpoint; enables path-style addressing
	PublicURL string // base of returned locators; defaults to Endpoint
	AccessKey string
	SecretKey string
}

// S3Store stores documents in a single bucket of an S3-compatible service.
type S3Store struct {
	client    s3API
	bucket    string
	publicURL string
}

// NewS3Store creates an S3-backed object store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = cfg.Endpoint
	}
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.Region)
	}

	return newS3Store(client, cfg.Bucket, publicURL), nil
}

func newS3Store(client s3API, bucket, publicURL string) *S3Store {
	return &S3Store{client: client, bucket: bucket, publicURL: publicURL}
}

// Name implements ObjectStore.
func (s *S3Store) Name() string { return "s3" }

// Simulated implements ObjectStore.
func (s *S3Store) Simulated() bool { return false }

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("bucket %s: %w", s.bucket, classifyS3Error(err))
	}
	return nil
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !errors.Is(classifyS3Error(err), ErrNotFound) {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, classifyS3Error(err))
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, classifyS3Error(err))
	}

	logging.Info("created storage bucket",
		"bucket", s.bucket,
		logging.Component("storage"))
	return nil
}

// Upload implements ObjectStore.
func (s *S3Store) Upload(ctx context.Context, data []byte, name, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, classifyS3Error(err))
	}

	return BuildLocator(s.publicURL, s.bucket, name), nil
}

// Download implements ObjectStore.
func (s *S3Store) Download(ctx context.Context, locator string) ([]byte, error) {
	object, err := s.objectKey(locator)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s/%s: %w", s.bucket, object, classifyS3Error(err))
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w: %v", s.bucket, object, ErrUnavailable, err)
	}
	return data, nil
}

// Delete implements ObjectStore.
func (s *S3Store) Delete(ctx context.Context, locator string) error {
	object, err := s.objectKey(locator)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", s.bucket, object, classifyS3Error(err))
	}
	return nil
}

// objectKey returns the object name of a locator this store issued. Locators
// on another host or bucket are rejected so callers cannot read outside the
// document bucket.
func (s *S3Store) objectKey(locator string) (string, error) {
	bucket, object, err := ParseLocator(locator)
	if err != nil {
		return "", err
	}
	if bucket != s.bucket {
		return "", fmt.Errorf("%w: bucket %q is not the document bucket", ErrInvalidLocator, bucket)
	}
	if host := locatorHost(locator); !strings.EqualFold(host, locatorHost(s.publicURL)) {
		return "", fmt.Errorf("%w: host %q does not serve the document bucket", ErrInvalidLocator, host)
	}
	return object, nil
}

func locatorHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}

// classifyS3Error maps SDK errors onto the package sentinels.
func classifyS3Error(err error) error {
	var noKey *s3types.NoSuchKey
	var noBucket *s3types.NoSuchBucket
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "EntityTooLarge", "QuotaExceeded", "InsufficientQuota":
			return fmt.Errorf("%w: %v", ErrQuota, err)
		case "AccessDenied", "InvalidRequest", "InvalidArgument", "InvalidObjectName", "KeyTooLongError":
			return fmt.Errorf("%w: %v", ErrRejected, err)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if apiErr.ErrorFault() == smithy.FaultClient {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}

	// Connection refused, DNS failure, deadline exceeded and server faults.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
