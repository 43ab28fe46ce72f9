package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"curiosity/internal/config"
	"curiosity/internal/domain"
)

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["ollama"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Logger: logger})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.defaultName()
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Another goroutine may have created it while we waited.
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	var p domain.Provider
	if ctor, found := f.constructors[name]; found {
		p = ctor(pc, f.logger)
	} else if pc.APIBase != "" {
		// Unknown providers are treated as OpenAI-compatible.
		p = NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: f.logger})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// Resolve returns the provider the assistant should use: the failover chain
// when one is configured, otherwise the assistant's or the default provider.
func (f *Factory) Resolve() (domain.Provider, error) {
	chain := f.cfg.General.FailoverChain
	if len(chain) == 0 {
		return f.Get("")
	}

	providers := make([]domain.Provider, 0, len(chain))
	for _, name := range chain {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping provider in failover chain", "provider", name, "err", err)
			continue
		}
		providers = append(providers, p)
	}
	switch len(providers) {
	case 0:
		return nil, fmt.Errorf("no usable provider in failover chain %v", chain)
	case 1:
		return providers[0], nil
	}
	return NewFailoverProvider(providers, f.logger), nil
}

func (f *Factory) defaultName() string {
	if f.cfg.Assistant.Provider != "" {
		return f.cfg.Assistant.Provider
	}
	return f.cfg.General.DefaultProvider
}
