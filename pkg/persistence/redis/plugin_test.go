package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/osvaldoandrade/captionq/internal/ratelimit"
	"github.com/osvaldoandrade/captionq/pkg/domain"
	"github.com/osvaldoandrade/captionq/pkg/persistence"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisPluginDialsFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	raw, _ := json.Marshal(Config{Addr: mr.Addr()})

	plugin, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "redis", Config: raw}, persistence.PluginConfig{})
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}
	defer plugin.Close()

	ctx := context.Background()
	if err := plugin.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	now := time.Now()
	if err := plugin.ResultStorage().CreateSession(ctx, domain.Session{ID: "s1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !mr.Exists("captionq:session:s1") {
		t.Error("session not written to redis")
	}

	bucket := ratelimit.Bucket{RequestsPerMinute: 60, BurstSize: 1}
	if dec, err := plugin.Limiter().Allow(ctx, "uploads", "s1", bucket); err != nil || !dec.Allowed {
		t.Fatalf("first Allow = %+v, %v", dec, err)
	}
	if dec, _ := plugin.Limiter().Allow(ctx, "uploads", "s1", bucket); dec.Allowed {
		t.Error("burst of one should deny the second call")
	}
}

func TestRedisPluginRequiresAddr(t *testing.T) {
	if _, err := NewPlugin(persistence.PluginConfig{Config: []byte(`{}`)}); err == nil {
		t.Error("missing addr should fail")
	}
	if _, err := NewPlugin(persistence.PluginConfig{Config: []byte(`nope`)}); err == nil {
		t.Error("bad json should fail")
	}
}
