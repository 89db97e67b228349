package hs256

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/osvaldoandrade/captionq/pkg/auth"
)

const (
	DefaultIssuer   = "captionq"
	DefaultAudience = "captionq-session"
)

// TokenService issues and validates HS256 session tokens. The subject is the
// session id.
type TokenService struct {
	secret    []byte
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
}

func NewTokenService(cfg auth.Config) (*TokenService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("hs256: secret is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	return &TokenService{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		clockSkew: cfg.ClockSkew,
		now:       time.Now,
	}, nil
}

func (s *TokenService) Issue(subject string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) Validate(tokenString string) (*auth.Claims, error) {
	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &rc, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid || rc.Subject == "" {
		return nil, errors.New("invalid token")
	}
	out := &auth.Claims{
		Subject:  rc.Subject,
		Issuer:   rc.Issuer,
		Audience: rc.Audience,
		Raw:      map[string]interface{}{"jti": rc.ID},
	}
	if rc.ExpiresAt != nil {
		out.ExpiresAt = rc.ExpiresAt.Time
	}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	return out, nil
}

type providerConfig struct {
	Secret           string `json:"secret"`
	Issuer           string `json:"issuer,omitempty"`
	Audience         string `json:"audience,omitempty"`
	ClockSkewSeconds int    `json:"clockSkewSeconds,omitempty"`
}

// NewValidatorFromJSON builds a TokenService from {"secret": "..."}.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	var pc providerConfig
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("hs256: invalid config: %w", err)
	}
	return NewTokenService(auth.Config{
		Secret:    pc.Secret,
		Issuer:    pc.Issuer,
		Audience:  pc.Audience,
		ClockSkew: time.Duration(pc.ClockSkewSeconds) * time.Second,
	})
}

func init() {
	auth.RegisterProvider("hs256", NewValidatorFromJSON)
}
