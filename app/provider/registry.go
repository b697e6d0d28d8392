package provider

import "errors"

var ErrProviderNotSupported = errors.New("provider is not supported")

type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	items := make(map[string]Provider, len(providers))
	for _, p := range providers {
		items[p.Rail()] = p
	}
	return &Registry{providers: items}
}

func (r *Registry) Get(rail string) (Provider, error) {
	provider, ok := r.providers[rail]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return provider, nil
}
