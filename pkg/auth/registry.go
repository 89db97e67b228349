package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownProvider is returned for a token provider type nobody registered.
var ErrUnknownProvider = errors.New("unknown auth provider")

// ProviderConfig selects a token provider and carries its raw settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory builds a provider from its raw settings. Providers that
// can also mint session tokens return a value implementing Issuer.
type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	registry = make(map[string]ValidatorFactory)
	mu       sync.RWMutex
)

// RegisterProvider is called from provider package init functions.
func RegisterProvider(providerType string, factory ValidatorFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[providerType] = factory
}

func NewValidator(pc ProviderConfig) (Validator, error) {
	mu.RLock()
	factory, ok := registry[pc.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, pc.Type)
	}
	return factory(pc.Config)
}

// NewIssuer builds the provider and requires that it can mint tokens.
func NewIssuer(pc ProviderConfig) (Issuer, error) {
	v, err := NewValidator(pc)
	if err != nil {
		return nil, err
	}
	iss, ok := v.(Issuer)
	if !ok {
		return nil, fmt.Errorf("auth provider %q cannot issue tokens", pc.Type)
	}
	return iss, nil
}

// ListProviders returns registered provider types in sorted order.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
