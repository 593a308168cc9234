// Package resolver provides the blocking resolution primitives wrapped by
// gai.Resolver and the process-wide instance built from configuration.
package resolver

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gaiwait/pkg/config"
	"gaiwait/pkg/gai"
)

// NewPrimitive builds the primitive selected by cfg.Backend.
func NewPrimitive(cfg *config.ResolverConfig, opts gai.Options) (gai.Primitive, error) {
	switch cfg.Backend {
	case "", config.BackendSystem:
		return NewSystem(cfg.PreferGo, opts.Logger), nil
	case config.BackendUpstream:
		if len(cfg.Upstreams) == 0 {
			return nil, fmt.Errorf("resolver backend %q needs at least one upstream", cfg.Backend)
		}
		return NewUpstream(cfg.Upstreams, cfg.ExchangeTimeout, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown resolver backend %q", cfg.Backend)
	}
}

// NewFromConfig builds a gai.Resolver around the configured primitive.
// cfg.Timeout becomes the default wait unless opts already sets one.
func NewFromConfig(cfg *config.ResolverConfig, opts gai.Options) (*gai.Resolver, error) {
	p, err := NewPrimitive(cfg, opts)
	if err != nil {
		return nil, err
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = cfg.Timeout
	}
	return gai.New(p, opts), nil
}

var (
	defaultResolver atomic.Pointer[gai.Resolver]
	defaultOnce     sync.Once
)

// Default returns the process-wide resolver. Unless SetDefault was called
// it wraps the system resolver with default options.
func Default() *gai.Resolver {
	if r := defaultResolver.Load(); r != nil {
		return r
	}
	defaultOnce.Do(func() {
		defaultResolver.CompareAndSwap(nil, gai.New(NewSystem(false, nil), gai.Options{}))
	})
	return defaultResolver.Load()
}

// SetDefault replaces the process-wide resolver.
func SetDefault(r *gai.Resolver) {
	defaultResolver.Store(r)
}

// GetaddrinfoWithTimeout calls GetaddrinfoWithTimeout on Default.
func GetaddrinfoWithTimeout(node, service string, hints *gai.Hints, res **gai.Result, isTimeout *bool, timeoutMsec uint64) int {
	return Default().GetaddrinfoWithTimeout(node, service, hints, res, isTimeout, timeoutMsec)
}
