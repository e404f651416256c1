package adapters

import (
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/kinship/internal/payment/domain"
)

const defaultTolerance = 5 * time.Minute

// Registry resolves webhook adapters by provider name.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		registry.Register(factory)
	}
	return registry
}

func (r *Registry) Register(factory domain.AdapterFactory) {
	if factory == nil {
		return
	}
	if provider := normalizeProvider(factory.Provider()); provider != "" {
		r.factories[provider] = factory
	}
}

// Providers lists registered provider names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.factories))
	for provider := range r.factories {
		out = append(out, provider)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalizeProvider(provider)]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalizeProvider(provider)
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	cfg.Provider = provider
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaultTolerance
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return factory.NewAdapter(cfg)
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
