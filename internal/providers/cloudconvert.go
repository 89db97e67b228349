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
	DefaultCloudConvertBaseURL     = "https://api.cloudconvert.com/v2"
	DefaultCloudConvertSyncBaseURL = "https://sync.api.cloudconvert.com/v2"
)

// ConversionClient submits SVG to PNG jobs and reads their results.
type ConversionClient interface {
	SubmitConversion(ctx context.Context, sourceURL string) (string, error)
	FetchConversionResult(ctx context.Context, taskID string) (string, error)
}

type CloudConvertConfig struct {
	BaseURL          string
	SyncBaseURL      string
	APIToken         string
	MaxFileSizeBytes int64
}

type cloudConvertClient struct {
	cfg    CloudConvertConfig
	client HTTPDoer
}

func NewCloudConvertClient(cfg CloudConvertConfig, client HTTPDoer) ConversionClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultCloudConvertBaseURL
	}
	if strings.TrimSpace(cfg.SyncBaseURL) == "" {
		cfg.SyncBaseURL = DefaultCloudConvertSyncBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.SyncBaseURL = strings.TrimSuffix(cfg.SyncBaseURL, "/")
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &cloudConvertClient{cfg: cfg, client: client}
}

type ccTask struct {
	Operation    string   `json:"operation"`
	URL          string   `json:"url,omitempty"`
	Input        []string `json:"input,omitempty"`
	InputFormat  string   `json:"input_format,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
}

type ccJobReq struct {
	Tasks map[string]ccTask `json:"tasks"`
}

func (c *cloudConvertClient) auth() string { return "Bearer " + c.cfg.APIToken }

func (c *cloudConvertClient) SubmitConversion(ctx context.Context, sourceURL string) (string, error) {
	if err := CheckPayloadSize(sourceURL, c.cfg.MaxFileSizeBytes); err != nil {
		return "", err
	}
	body := ccJobReq{Tasks: map[string]ccTask{
		"import_svg": {Operation: "import/url", URL: sourceURL},
		"convert_svg_to_png": {
			Operation:    "convert",
			Input:        []string{"import_svg"},
			InputFormat:  "svg",
			OutputFormat: "png",
		},
		domain.ExportTaskName: {Operation: "export/url", Input: []string{"convert_svg_to_png"}},
	}}
	status, raw, err := doJSON(ctx, c.client, http.MethodPost, c.cfg.BaseURL+"/jobs", c.auth(), body)
	if err != nil {
		return "", &domain.RemoteError{Kind: domain.ErrConversionSubmit, Message: err.Error()}
	}
	if !isSuccess(status) {
		return "", &domain.RemoteError{Kind: domain.ErrConversionSubmit, Status: status, Message: remoteMessage(raw)}
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Data.ID == "" {
		return "", fmt.Errorf("%w: %w: missing job id", domain.ErrConversionSubmit, domain.ErrMalformedResponse)
	}
	return out.Data.ID, nil
}

type ccJob struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Tasks  []struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Message string `json:"message"`
			Result  *struct {
				Files []struct {
					Filename string `json:"filename"`
					URL      string `json:"url"`
				} `json:"files"`
			} `json:"result"`
		} `json:"tasks"`
	} `json:"data"`
}

// FetchConversionResult performs a single request against the synchronous
// endpoint, which answers once the job has finished.
func (c *cloudConvertClient) FetchConversionResult(ctx context.Context, taskID string) (string, error) {
	job, err := c.fetchJob(ctx, taskID)
	if err != nil {
		return "", err
	}
	st := job.State()
	switch st.Kind {
	case domain.JobSucceeded:
		return st.Payload, nil
	case domain.JobFailed:
		return "", &domain.RemoteError{Kind: domain.ErrConversionFetch, Message: st.Reason}
	default:
		return "", fmt.Errorf("%w: %w: no %s file in job %s", domain.ErrConversionFetch, domain.ErrMalformedResponse, domain.ExportTaskName, taskID)
	}
}

func (c *cloudConvertClient) fetchJob(ctx context.Context, taskID string) (*domain.ConversionJob, error) {
	endpoint := c.cfg.SyncBaseURL + "/jobs/" + url.PathEscape(taskID)
	status, raw, err := doJSON(ctx, c.client, http.MethodGet, endpoint, c.auth(), nil)
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.ErrConversionFetch, Message: err.Error()}
	}
	if status != http.StatusOK {
		return nil, &domain.RemoteError{Kind: domain.ErrConversionFetch, Status: status, Message: remoteMessage(raw)}
	}
	var out ccJob
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrConversionFetch, domain.ErrMalformedResponse, err)
	}
	job := &domain.ConversionJob{TaskID: taskID, Status: out.Data.Status}
	for _, t := range out.Data.Tasks {
		if t.Status == domain.ConversionError && job.Message == "" {
			job.Message = fmt.Sprintf("task %s: %s", t.Name, t.Message)
		}
		if t.Name != domain.ExportTaskName || t.Result == nil || len(t.Result.Files) == 0 {
			continue
		}
		job.OutputURL = t.Result.Files[0].URL
	}
	return job, nil
}
