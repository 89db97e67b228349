package providers

import (
	"context"
	"fmt"
	"strings"
)

// StoredObject is what an object store hands back after an upload.
type StoredObject struct {
	URL   string `json:"url"`
	Bytes int64  `json:"bytes"`
}

// ObjectStore uploads a base64 or data URI payload and returns its public URL.
// Failures match domain.ErrUpload. Uploads are attempted once.
type ObjectStore interface {
	Upload(ctx context.Context, payload string) (*StoredObject, error)
}

// ObjectStoreConfig selects and configures an ObjectStore backend.
type ObjectStoreConfig struct {
	Backend string

	CloudinaryBaseURL      string
	CloudinaryCloudID      string
	CloudinaryUploadPreset string

	Minio MinioConfig

	LocalDir string
}

// NewObjectStore builds the backend named by cfg.Backend.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig, client HTTPDoer) (ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "cloudinary":
		return NewCloudinaryStore(cfg.CloudinaryBaseURL, cfg.CloudinaryCloudID, cfg.CloudinaryUploadPreset, client), nil
	case "minio":
		return NewMinioStore(ctx, cfg.Minio)
	case "local":
		return NewLocalStore(cfg.LocalDir), nil
	default:
		return nil, fmt.Errorf("unknown object store backend: %s", cfg.Backend)
	}
}
