package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/config"
)

// objectClient is the subset of *minio.Client the store uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIO uploads images to an S3 compatible bucket.
type MinIO struct {
	client  objectClient
	bucket  string
	baseURL string
	logger  *zap.Logger
}

func NewMinIO(ctx context.Context, cfg config.MinIOConfig, publicBaseURL string, logger *zap.Logger) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint not configured")
	}
	// minio.New 不需要协议前缀
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	if publicBaseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBaseURL = scheme + "://" + endpoint
	}
	return newMinIOWithClient(ctx, client, cfg.Bucket, publicBaseURL, logger)
}

func newMinIOWithClient(ctx context.Context, client objectClient, bucket, publicBaseURL string, logger *zap.Logger) (*MinIO, error) {
	m := &MinIO{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:  logger.Named("minio"),
	}
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	m.logger.Info("Created bucket", zap.String("bucket", m.bucket))
	return nil
}

func (m *MinIO) Put(ctx context.Context, data []byte) (string, error) {
	mtype, err := sniff(data)
	if err != nil {
		return "", err
	}
	key, err := ObjectKey(data, mtype.Extension())
	if err != nil {
		return "", err
	}

	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mtype.String(),
	})
	if err != nil {
		m.logger.Error("Upload failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("upload image: %w", err)
	}
	return fmt.Sprintf("%s/%s/%s", m.baseURL, m.bucket, key), nil
}
