package domain

import (
	"strings"
	"time"
)

// CaptionPrefix is prepended by the captioning model to its output.
const CaptionPrefix = "Caption: "

// EnrichedResult is a terminal prediction merged with the metadata of the
// image it was computed for. ImageID references an UploadedImage of the same
// session.
type EnrichedResult struct {
	PredictionJob
	ImageID     string    `json:"imageId"`
	Image       string    `json:"image"`
	ImageSize   int64     `json:"imageSize"`
	FileName    string    `json:"fileName,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Caption returns the output without the model prefix.
func (r EnrichedResult) Caption() string {
	return strings.TrimPrefix(r.Output, CaptionPrefix)
}

// Enrich merges a terminal job with the image metadata.
func Enrich(job PredictionJob, img UploadedImage, completedAt time.Time) EnrichedResult {
	return EnrichedResult{
		PredictionJob: job,
		ImageID:       img.ID,
		Image:         img.URL,
		ImageSize:     img.SizeBytes,
		FileName:      img.FileName,
		CompletedAt:   completedAt,
	}
}
