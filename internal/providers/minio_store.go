package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/osvaldoandrade/captionq/pkg/domain"
)

type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"useSSL"`
	// PublicBaseURL, when set, is used to build object URLs. Otherwise a
	// presigned GET URL valid for PresignTTL is returned.
	PublicBaseURL string        `yaml:"publicBaseUrl"`
	PresignTTL    time.Duration `yaml:"presignTtl"`
}

type minioStore struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinioStore connects to the endpoint and creates the bucket when missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 24 * time.Hour
	}
	return &minioStore{client: client, cfg: cfg}, nil
}

func (s *minioStore) Upload(ctx context.Context, payload string) (*StoredObject, error) {
	data, contentType, err := DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := "uploads/" + uuid.NewString() + extensionFor(contentType)
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.ErrUpload, Message: err.Error()}
	}
	objectURL, err := s.objectURL(ctx, key)
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.ErrUpload, Message: err.Error()}
	}
	return &StoredObject{URL: objectURL, Bytes: info.Size}, nil
}

func (s *minioStore) objectURL(ctx context.Context, key string) (string, error) {
	if base := strings.TrimSuffix(strings.TrimSpace(s.cfg.PublicBaseURL), "/"); base != "" {
		return fmt.Sprintf("%s/%s/%s", base, s.cfg.Bucket, key), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.PresignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
