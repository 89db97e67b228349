package auth

import (
	"time"
)

// Claims represents authentication token claims
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Raw       map[string]interface{}
}

// Validator validates authentication tokens
type Validator interface {
	Validate(token string) (*Claims, error)
}

// Issuer mints tokens for a subject.
type Issuer interface {
	Issue(subject string, ttl time.Duration) (string, error)
}

// Config contains token configuration
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}
