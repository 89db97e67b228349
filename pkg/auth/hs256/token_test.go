package hs256

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/osvaldoandrade/captionq/pkg/auth"
)

func newService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService(auth.Config{Secret: "0123456789abcdef"})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func TestIssueAndValidate(t *testing.T) {
	svc := newService(t)
	tok, err := svc.Issue("session-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := svc.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "session-1" || claims.Issuer != DefaultIssuer {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != DefaultAudience {
		t.Errorf("audience = %v", claims.Audience)
	}
}

func TestValidateRejects(t *testing.T) {
	svc := newService(t)
	other, _ := NewTokenService(auth.Config{Secret: "another-secret-value"})
	foreign, _ := other.Issue("session-1", time.Hour)

	expiredSvc := newService(t)
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredSvc.Issue("session-1", time.Hour)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "s"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"wrong secret": foreign,
		"expired":      expired,
		"alg none":     none,
		"garbage":      "not-a-token",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Validate(tok); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService(auth.Config{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRegisteredProvider(t *testing.T) {
	v, err := auth.NewValidator(auth.ProviderConfig{Type: "hs256", Config: json.RawMessage(`{"secret":"0123456789abcdef"}`)})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	tok, _ := newService(t).Issue("s1", time.Minute)
	if _, err := v.Validate(tok); err != nil {
		t.Errorf("registered validator rejected a valid token: %v", err)
	}
}
