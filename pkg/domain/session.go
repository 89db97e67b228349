package domain

import "time"

// Session scopes the image list, result list and last error of one client.
type Session struct {
	ID        string    `json:"id"`
	Webhook   string    `json:"webhook,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SessionSnapshot struct {
	Session   Session          `json:"session"`
	Images    []UploadedImage  `json:"images"`
	Results   []EnrichedResult `json:"results"`
	LastError string           `json:"lastError,omitempty"`
}

type CreateSessionRequest struct {
	Webhook string `json:"webhook,omitempty"`
}
