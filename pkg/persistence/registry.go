package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrUnknownBackend is returned when storeBackend names no registered store.
var ErrUnknownBackend = errors.New("unknown store backend")

// ProviderConfig is the storeBackend name plus its raw settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// PluginConfig is what a store factory receives.
type PluginConfig struct {
	Config json.RawMessage

	// Now stamps result and session times. Defaults to time.Now.
	Now func() time.Time

	// Redis, when set, is used instead of dialing from Config.
	Redis *redis.Client
}

type PluginFactory func(config PluginConfig) (PluginPersistence, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]PluginFactory)
)

// RegisterProvider is called from each backend package's init.
func RegisterProvider(name string, factory PluginFactory) {
	mu.Lock()
	defer mu.Unlock()
	factories[normalize(name)] = factory
}

// NewPersistence opens the named store. Names match case-insensitively.
func NewPersistence(pc ProviderConfig, plugin PluginConfig) (PluginPersistence, error) {
	name := normalize(pc.Type)
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (have %s)", ErrUnknownBackend, pc.Type, strings.Join(ListProviders(), ", "))
	}

	plugin.Config = pc.Config
	if plugin.Now == nil {
		plugin.Now = time.Now
	}
	store, err := factory(plugin)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("store backend %q returned no store", name)
	}
	return store, nil
}

func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
