package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/osvaldoandrade/captionq/internal/providers"
	"github.com/osvaldoandrade/captionq/internal/ratelimit"
	"github.com/osvaldoandrade/captionq/internal/repository"
	"github.com/osvaldoandrade/captionq/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	PoolSize int    `json:"poolSize,omitempty"`
}

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client     *redis.Client
	resultRepo repository.ResultRepository
	limiter    ratelimit.Limiter
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	client := config.Redis
	if client == nil {
		var cfg Config
		if len(config.Config) > 0 {
			if err := json.Unmarshal(config.Config, &cfg); err != nil {
				return nil, fmt.Errorf("redis persistence: invalid config: %w", err)
			}
		}
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis persistence: addr is required")
		}
		client = providers.NewRedisProvider(providers.RedisOptions{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		})
	}

	return &Plugin{
		client:     client,
		resultRepo: repository.NewResultRepository(client, config.Now),
		limiter:    ratelimit.NewTokenBucketLimiter(client),
	}, nil
}

// Client exposes the underlying connection.
func (p *Plugin) Client() *redis.Client { return p.client }

func (p *Plugin) ResultStorage() repository.ResultRepository { return p.resultRepo }

func (p *Plugin) Limiter() ratelimit.Limiter { return p.limiter }

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases Redis connection
func (p *Plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}
