package config

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
)

// Provider resolves the configuration for a single invocation. The step asks
// for a fresh value on every record so changes apply without a restart.
type Provider interface {
	Config(ctx context.Context) (Config, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Config, error)

// Config implements Provider.
func (f ProviderFunc) Config(ctx context.Context) (Config, error) {
	return f(ctx)
}

// Static returns a Provider that always yields cfg.
func Static(cfg Config) Provider {
	cfg.ApplyDefaults()
	return ProviderFunc(func(ctx context.Context) (Config, error) {
		if err := ctx.Err(); err != nil {
			return Config{}, err
		}
		return cloneConfig(cfg), nil
	})
}

// Dynamic is a Provider whose value can be swapped at any time. Reads never
// block writers.
type Dynamic struct {
	current atomic.Pointer[Config]
}

// NewDynamic seeds a Dynamic provider with cfg.
func NewDynamic(cfg Config) *Dynamic {
	d := &Dynamic{}
	d.Store(cfg)
	return d
}

// Store replaces the configuration returned to subsequent invocations.
func (d *Dynamic) Store(cfg Config) {
	cfg.ApplyDefaults()
	cfg = cloneConfig(cfg)
	d.current.Store(&cfg)
}

// Config implements Provider.
func (d *Dynamic) Config(ctx context.Context) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}
	cfg := d.current.Load()
	if cfg == nil {
		return Defaults(), nil
	}
	return cloneConfig(*cfg), nil
}

// FileProvider re-reads a configuration file on every call.
type FileProvider struct {
	path      string
	overrides []func(*Config)
}

// NewFileProvider returns a Provider backed by the YAML file at path.
// overrides run after each load, letting callers pin individual options.
func NewFileProvider(path string, overrides ...func(*Config)) (*FileProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config: file provider requires a path")
	}
	return &FileProvider{path: path, overrides: overrides}, nil
}

// Config implements Provider.
func (p *FileProvider) Config(ctx context.Context) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}
	cfg, err := LoadFile(p.path)
	if err != nil {
		return Config{}, err
	}
	for _, override := range p.overrides {
		if override != nil {
			override(&cfg)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	if cfg.InlineTemplate != nil {
		body := *cfg.InlineTemplate
		cfg.InlineTemplate = &body
	}
	return cfg
}
