package s3storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/dokey/internal/config"
)

// Storage wraps MinIO/S3 interactions for uploaded document PDFs.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{client: client, bucket: cfg.S3Bucket, region: cfg.S3Region}, nil
}

// EnsureBucket makes sure the document bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// PutPDF uploads a document's PDF.
func (s *Storage) PutPDF(ctx context.Context, objectKey string, reader io.Reader, size int64) error {
	opts := minio.PutObjectOptions{ContentType: "application/pdf"}
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, opts); err != nil {
		return fmt.Errorf("upload pdf: %w", err)
	}
	return nil
}

// DeletePDF removes a stored PDF. Missing objects are not an error.
func (s *Storage) DeletePDF(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove pdf: %w", err)
	}
	return nil
}

// PresignPDF returns a signed GET URL for a stored PDF.
func (s *Storage) PresignPDF(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-type", "application/pdf")
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign pdf: %w", err)
	}
	return u.String(), nil
}

// ObjectKey builds the storage key for a document upload. The file name is
// reduced to its base name so client paths never leak into the bucket layout.
func ObjectKey(documentID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "document.pdf"
	}
	return fmt.Sprintf("documents/%s/%d-%s", documentID, time.Now().UnixNano(), base)
}
