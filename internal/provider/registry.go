package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type Factory func(ctx context.Context) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(platform string, f Factory) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = f
}

func (r *Registry) Get(ctx context.Context, platform string) (Provider, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	r.mu.RLock()
	f, ok := r.factories[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown platform provider: %s", platform)
	}
	return f(ctx)
}
