package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nucleus/search-export/internal/export"
)

// S3Store implements ObjectStore against MinIO or any S3-compatible service.
type S3Store struct {
	client *minio.Client
	region string
}

// NewS3Store creates a MinIO/S3 store from cfg.
func NewS3Store(cfg Config) (*S3Store, error) {
	if cfg.Endpoint == "" {
		return nil, export.Errorf(export.CodeInvalidInput, false, "artifact endpoint is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, export.Errorf(export.CodeInvalidInput, false, "artifact credentials are required")
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, export.WrapError(export.CodeInvalidInput, false, fmt.Errorf("invalid endpoint URL: %w", err))
	}
	host := u.Host
	if host == "" {
		host = cfg.Endpoint
	}
	useSSL := cfg.UseSSL || u.Scheme == "https"

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, export.WrapError(export.CodeIO, true, fmt.Errorf("failed to create minio client: %w", err))
	}
	return &S3Store{client: client, region: cfg.Region}, nil
}

func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	if bucket == "" {
		return export.Errorf(export.CodeInvalidInput, false, "bucket name is required")
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return classifyMinioError(err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

// PutFile streams path to bucket/key without loading it into memory.
func (s *S3Store) PutFile(ctx context.Context, bucket, key, path string) error {
	if key == "" {
		return export.Errorf(export.CodeInvalidInput, false, "object key is required")
	}
	_, err := s.client.FPutObject(ctx, bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (s *S3Store) URL(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	case strings.HasSuffix(key, ".parquet"):
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// classifyMinioError maps minio-go failures onto export error codes.
func classifyMinioError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchBucket", "InvalidBucketName":
			return export.WrapError(export.CodeInvalidInput, false, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return export.WrapError(export.CodeBackendRejected, false, err)
		case "SlowDown", "InternalError", "ServiceUnavailable", "RequestTimeout":
			return export.WrapError(export.CodeTransientBackend, true, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "signature"):
		return export.WrapError(export.CodeBackendRejected, false, err)
	case strings.Contains(msg, "no such file"):
		return export.WrapError(export.CodeInvalidInput, false, err)
	}
	return export.WrapError(export.CodeIO, true, err)
}
