package domain

import (
	"path"
	"strings"
	"time"
)

const SVGContentType = "image/svg+xml"

// UploadedImage is created once the object store upload completes and is
// immutable afterwards.
type UploadedImage struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	SizeBytes   int64     `json:"sizeBytes"`
	FileName    string    `json:"fileName,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ImageUpload is a file handed to the pipeline.
type ImageUpload struct {
	FileName    string `json:"fileName,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	// Data holds the raw file bytes. Payload is an alternative base64 or data
	// URI form; when both are set Data wins.
	Data    []byte `json:"-"`
	Payload string `json:"file,omitempty"`
}

// IsSVG reports whether the upload must go through SVG to PNG conversion.
func (u ImageUpload) IsSVG() bool {
	if strings.EqualFold(strings.TrimSpace(u.ContentType), SVGContentType) {
		return true
	}
	if strings.EqualFold(path.Ext(u.FileName), ".svg") {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(u.Payload), "data:"+SVGContentType)
}
