package persistence

import (
	"context"

	"github.com/osvaldoandrade/captionq/internal/ratelimit"
	"github.com/osvaldoandrade/captionq/internal/repository"
)

// PluginPersistence is a session store backend.
type PluginPersistence interface {
	// ResultStorage returns the session, image and result aggregator.
	ResultStorage() repository.ResultRepository

	// Limiter returns the shared rate limiter, or nil when the backend
	// cannot coordinate limits across replicas.
	Limiter() ratelimit.Limiter

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}
