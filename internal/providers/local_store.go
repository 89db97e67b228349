package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/osvaldoandrade/captionq/pkg/domain"
)

type localStore struct {
	rootDir string
}

// NewLocalStore writes uploads below rootDir and returns file:// URLs. Those
// URLs are not reachable by the remote services, so this is for development.
func NewLocalStore(rootDir string) ObjectStore {
	return &localStore{rootDir: rootDir}
}

func (s *localStore) Upload(ctx context.Context, payload string) (*StoredObject, error) {
	data, contentType, err := DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := filepath.Join(s.rootDir, "uploads", uuid.NewString()+extensionFor(contentType))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	abs, _ := filepath.Abs(dst)
	return &StoredObject{URL: "file://" + abs, Bytes: int64(len(data))}, nil
}
