package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/configuration"
	"tiktok-publisher/infrastructure/logger"
)

var ErrStorageNotConfigured = errors.New("object storage not configured")

// MinioBlobStore presigns uploads against any S3-compatible endpoint.
type MinioBlobStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewMinioBlobStore(cfg configuration.StorageConfig) (repository.IBlobStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrStorageNotConfigured
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	secure := cfg.UseSSL || strings.HasPrefix(cfg.Endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, cfg.Bucket)
	}

	logger.GetLogger().WithField("endpoint", endpoint).WithField("bucket", cfg.Bucket).Info("S3 storage initialized")
	return &MinioBlobStore{client: client, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

func (s *MinioBlobStore) PresignUpload(ctx context.Context, key, contentType string, expiry time.Duration) (string, string, error) {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	signed, err := s.client.PresignHeader(ctx, http.MethodPut, s.bucket, key, expiry, url.Values{}, headers)
	if err != nil {
		return "", "", fmt.Errorf("presign %s: %w", key, err)
	}
	return signed.String(), s.publicURL + "/" + (&url.URL{Path: key}).EscapedPath(), nil
}
