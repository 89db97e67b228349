package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/osvaldoandrade/captionq/pkg/domain"
)

const (
	DefaultReplicateBaseURL = "https://api.replicate.com/v1"
	// DefaultCaptionModelVersion pins the BLIP captioning model.
	DefaultCaptionModelVersion = "2e1dddc8621f72155f24cf2e0adbde548458d3cab9f00c0139eea840d0ac4746"
)

// PredictionClient submits caption predictions and fetches their snapshots.
type PredictionClient interface {
	SubmitPrediction(ctx context.Context, imageURL string) (*domain.PredictionJob, error)
	FetchPrediction(ctx context.Context, id string) (*domain.PredictionJob, error)
}

type ReplicateConfig struct {
	BaseURL          string
	APIToken         string
	ModelVersion     string
	MaxFileSizeBytes int64
}

type replicateClient struct {
	cfg    ReplicateConfig
	client HTTPDoer
}

func NewReplicateClient(cfg ReplicateConfig, client HTTPDoer) PredictionClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultReplicateBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.ModelVersion) == "" {
		cfg.ModelVersion = DefaultCaptionModelVersion
	}
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &replicateClient{cfg: cfg, client: client}
}

type predictionInput struct {
	Image         string `json:"image"`
	Model         string `json:"model"`
	Task          string `json:"task"`
	UseBeamSearch bool   `json:"use_beam_search"`
}

type predictionReq struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

// wirePrediction mirrors the service payload. output is a string or an array
// of streamed string chunks.
type wirePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

func (c *replicateClient) auth() string { return "Token " + c.cfg.APIToken }

func (c *replicateClient) SubmitPrediction(ctx context.Context, imageURL string) (*domain.PredictionJob, error) {
	if err := CheckPayloadSize(imageURL, c.cfg.MaxFileSizeBytes); err != nil {
		return nil, err
	}
	body := predictionReq{
		Version: c.cfg.ModelVersion,
		Input: predictionInput{
			Image:         imageURL,
			Model:         "blip",
			Task:          "image_captioning",
			UseBeamSearch: true,
		},
	}
	status, raw, err := doJSON(ctx, c.client, http.MethodPost, c.cfg.BaseURL+"/predictions", c.auth(), body)
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.ErrPredictionSubmit, Message: err.Error()}
	}
	if !isSuccess(status) {
		return nil, &domain.RemoteError{Kind: domain.ErrPredictionSubmit, Status: status, Message: remoteMessage(raw)}
	}
	job, err := decodePrediction(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPredictionSubmit, err)
	}
	if job.Error != "" {
		return nil, &domain.RemoteError{Kind: domain.ErrPredictionSubmit, Status: status, Message: job.Error}
	}
	return job, nil
}

func (c *replicateClient) FetchPrediction(ctx context.Context, id string) (*domain.PredictionJob, error) {
	status, raw, err := doJSON(ctx, c.client, http.MethodGet, c.cfg.BaseURL+"/predictions/"+url.PathEscape(id), c.auth(), nil)
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.ErrPredictionFetch, Message: err.Error()}
	}
	if status != http.StatusOK {
		return nil, &domain.RemoteError{Kind: domain.ErrPredictionFetch, Status: status, Message: remoteMessage(raw)}
	}
	job, err := decodePrediction(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPredictionFetch, err)
	}
	return job, nil
}

func decodePrediction(raw []byte) (*domain.PredictionJob, error) {
	var w wirePrediction
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: missing prediction id", domain.ErrMalformedResponse)
	}
	return &domain.PredictionJob{
		ID:     w.ID,
		Status: domain.PredictionStatus(w.Status),
		Output: flattenOutput(w.Output),
		Error:  flattenOutput(w.Error),
	}, nil
}

func flattenOutput(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var parts []string
	if json.Unmarshal(raw, &parts) == nil {
		return strings.Join(parts, "")
	}
	return string(raw)
}
