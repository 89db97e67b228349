package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/captionq/pkg/domain"
)

const DefaultCloudinaryBaseURL = "https://api.cloudinary.com/v1_1"

type cloudinaryStore struct {
	uploadURL string
	preset    string
	client    HTTPDoer
}

// NewCloudinaryStore uploads through the unsigned upload endpoint of cloudID
// using the given upload preset.
func NewCloudinaryStore(baseURL, cloudID, preset string, client HTTPDoer) ObjectStore {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultCloudinaryBaseURL
	}
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &cloudinaryStore{
		uploadURL: fmt.Sprintf("%s/%s/image/upload", strings.TrimSuffix(baseURL, "/"), cloudID),
		preset:    preset,
		client:    client,
	}
}

type cloudinaryUploadReq struct {
	File         string `json:"file"`
	UploadPreset string `json:"upload_preset"`
}

func (s *cloudinaryStore) Upload(ctx context.Context, payload string) (*StoredObject, error) {
	status, raw, err := doJSON(ctx, s.client, http.MethodPost, s.uploadURL, "", cloudinaryUploadReq{File: payload, UploadPreset: s.preset})
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.ErrUpload, Message: err.Error()}
	}
	if !isSuccess(status) {
		return nil, &domain.RemoteError{Kind: domain.ErrUpload, Status: status, Message: remoteMessage(raw)}
	}
	var out struct {
		URL       string `json:"url"`
		SecureURL string `json:"secure_url"`
		Bytes     int64  `json:"bytes"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrUpload, domain.ErrMalformedResponse, err)
	}
	url := out.URL
	if url == "" {
		url = out.SecureURL
	}
	if url == "" {
		return nil, fmt.Errorf("%w: %w: missing url", domain.ErrUpload, domain.ErrMalformedResponse)
	}
	return &StoredObject{URL: url, Bytes: out.Bytes}, nil
}
