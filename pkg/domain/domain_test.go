package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPredictionStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status PredictionStatus
		want   bool
	}{
		{PredictionStarting, false},
		{PredictionProcessing, false},
		{PredictionSucceeded, true},
		{PredictionFailed, true},
		{PredictionStatus("canceled"), false},
		{PredictionStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestPredictionJobState(t *testing.T) {
	tests := []struct {
		name string
		job  PredictionJob
		want JobState
	}{
		{"processing", PredictionJob{ID: "p1", Status: PredictionProcessing}, Pending()},
		{"succeeded", PredictionJob{ID: "p1", Status: PredictionSucceeded, Output: "Caption: a cat"}, Succeeded("Caption: a cat")},
		{"failed with reason", PredictionJob{ID: "p1", Status: PredictionFailed, Error: "CUDA OOM"}, Failed("CUDA OOM")},
		{"failed without reason", PredictionJob{ID: "p1", Status: PredictionFailed}, Failed("prediction failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.State(); got != tt.want {
				t.Errorf("State() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConversionJobState(t *testing.T) {
	if got := (ConversionJob{TaskID: "t1", Status: ConversionProcessing}).State(); got.Kind != JobPending {
		t.Errorf("processing job kind = %s, want %s", got.Kind, JobPending)
	}
	if got := (ConversionJob{TaskID: "t1", OutputURL: "https://x/out.png"}).State(); got != Succeeded("https://x/out.png") {
		t.Errorf("finished job state = %+v", got)
	}
	if got := (ConversionJob{TaskID: "t1", Status: ConversionError, Message: "bad svg"}).State(); got != Failed("bad svg") {
		t.Errorf("error job state = %+v", got)
	}
}

func TestImageUploadIsSVG(t *testing.T) {
	tests := []struct {
		name   string
		upload ImageUpload
		want   bool
	}{
		{"content type", ImageUpload{ContentType: "image/svg+xml"}, true},
		{"content type case", ImageUpload{ContentType: "Image/SVG+XML"}, true},
		{"extension", ImageUpload{FileName: "logo.SVG"}, true},
		{"data uri", ImageUpload{Payload: "data:image/svg+xml;base64,PHN2Zz4="}, true},
		{"png", ImageUpload{FileName: "photo.png", ContentType: "image/png"}, false},
		{"empty", ImageUpload{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.upload.IsSVG(); got != tt.want {
				t.Errorf("IsSVG() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnrichCopiesImageMetadata(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	img := UploadedImage{ID: "img-1", URL: "https://cdn/img.png", SizeBytes: 1234, FileName: "img.png"}
	job := PredictionJob{ID: "p1", Status: PredictionSucceeded, Output: "Caption: a dog"}

	res := Enrich(job, img, now)
	if res.ImageID != "img-1" || res.Image != img.URL || res.ImageSize != 1234 || res.FileName != "img.png" {
		t.Fatalf("unexpected enriched result: %+v", res)
	}
	if res.ID != "p1" || res.Status != PredictionSucceeded {
		t.Errorf("prediction fields not carried: %+v", res.PredictionJob)
	}
	if res.Caption() != "a dog" {
		t.Errorf("Caption() = %q, want %q", res.Caption(), "a dog")
	}
	if !res.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt = %v, want %v", res.CompletedAt, now)
	}
}

func TestCaptionWithoutPrefix(t *testing.T) {
	res := EnrichedResult{PredictionJob: PredictionJob{Output: "a bare caption"}}
	if res.Caption() != "a bare caption" {
		t.Errorf("Caption() = %q", res.Caption())
	}
}

func TestPollErrorClassification(t *testing.T) {
	timeout := &PollError{JobID: "p1", Status: PredictionProcessing, Attempts: 5}
	if !errors.Is(timeout, ErrPredictionTimeout) {
		t.Error("processing PollError should match ErrPredictionTimeout")
	}
	if errors.Is(timeout, ErrPredictionFailed) {
		t.Error("processing PollError must not match ErrPredictionFailed")
	}

	failed := fmt.Errorf("wrapped: %w", &PollError{JobID: "p1", Status: PredictionFailed, Attempts: 2, Reason: "boom"})
	if !errors.Is(failed, ErrPredictionTimeout) || !errors.Is(failed, ErrPredictionFailed) {
		t.Error("failed PollError should match both sentinels")
	}
}

func TestRemoteErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("upload: %w", &RemoteError{Kind: ErrUpload, Status: 400, Message: "Invalid image file"})
	if !errors.Is(err, ErrUpload) {
		t.Fatal("RemoteError should unwrap to its kind")
	}
	var re *RemoteError
	if !errors.As(err, &re) || re.Message != "Invalid image file" {
		t.Errorf("errors.As RemoteError = %+v", re)
	}
}

func TestFailedStep(t *testing.T) {
	err := &StepError{Step: StepConverting, Err: ErrConversionFetch}
	step, ok := FailedStep(fmt.Errorf("pipeline: %w", err))
	if !ok || step != StepConverting {
		t.Errorf("FailedStep() = %q, %v", step, ok)
	}
	if !errors.Is(err, ErrConversionFetch) {
		t.Error("StepError should unwrap to the cause")
	}
	if _, ok := FailedStep(errors.New("plain")); ok {
		t.Error("plain error has no step")
	}
}

func TestSizeLimitError(t *testing.T) {
	err := &SizeLimitError{Estimated: 2000, Max: 1000}
	if !errors.Is(err, ErrSizeLimitExceeded) {
		t.Error("SizeLimitError should match ErrSizeLimitExceeded")
	}
}
