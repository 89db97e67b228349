package memory

import (
	"context"

	"github.com/osvaldoandrade/captionq/internal/ratelimit"
	"github.com/osvaldoandrade/captionq/internal/repository"
	"github.com/osvaldoandrade/captionq/pkg/persistence"
)

// Plugin keeps sessions in process memory. Sessions are lost on restart and
// rate limits are not enforced, so it is meant for dev, tests and the local
// CLI.
type Plugin struct {
	results repository.ResultRepository
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	return &Plugin{results: repository.NewMemoryResultRepository(config.Now)}, nil
}

func (p *Plugin) ResultStorage() repository.ResultRepository { return p.results }

func (p *Plugin) Limiter() ratelimit.Limiter { return nil }

func (p *Plugin) Health(ctx context.Context) error { return nil }

func (p *Plugin) Close() error { return nil }

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}
