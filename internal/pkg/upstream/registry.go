package upstream

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"go.uber.org/zap"
)

// Registry is the fixed set of providers this gateway can reach, plus the one
// new uploads are written to. It is read only after construction.
type Registry struct {
	providers map[string]Provider
	preferred string
}

// NewRegistry builds a registry. An empty preferred id selects the first
// provider by id.
func NewRegistry(preferred string, providers ...Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("upstream: registry needs at least one provider")
	}

	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.providers[p.ID()]; dup {
			return nil, fmt.Errorf("upstream: duplicate provider %q", p.ID())
		}
		r.providers[p.ID()] = p
	}

	if preferred == "" {
		preferred = r.IDs()[0]
	}
	if _, ok := r.providers[preferred]; !ok {
		return nil, fmt.Errorf("%w: preferred provider %q", ErrUnknownProvider, preferred)
	}
	r.preferred = preferred
	return r, nil
}

// Build constructs every configured provider
func Build(ctx context.Context, cfg *Config, log *logger.Logger) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	providers := make([]Provider, 0, len(ids))
	for _, id := range ids {
		pc := cfg.Providers[id]
		var (
			p   Provider
			err error
		)
		switch pc.Type {
		case TypeMinIO:
			p, err = NewMinIOProvider(ctx, id, pc, log)
		default:
			p, err = NewHTTPProvider(id, pc, log)
		}
		if err != nil {
			return nil, err
		}
		log.Info("upstream provider registered", zap.String("provider", id), zap.String("type", string(pc.Type)))
		providers = append(providers, p)
	}

	return NewRegistry(cfg.Preferred, providers...)
}

// Get returns the provider with the given id
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.providers[id]
	return ok
}

// Preferred returns the provider new uploads are written to
func (r *Registry) Preferred() Provider {
	return r.providers[r.preferred]
}

// IDs returns the registered ids in sorted order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
