package providers

import (
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions sizes the client backing session results and rate limits.
// Zero values fall back to the defaults below.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

const (
	redisDialTimeout = 5 * time.Second
	redisIOTimeout   = 3 * time.Second
	redisMinIdle     = 2
)

func NewRedisProvider(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: redisMinIdle,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisIOTimeout,
		WriteTimeout: redisIOTimeout,
	})
}
