package prompts

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
	"sms-agent/internal/infra/metrics"
)

//go:embed text/*.txt
var texts embed.FS

type loader func() (*Module, error)

// registry is the lookup table of supported variants. A variant missing here
// cannot be resolved.
var registry = map[Variant]loader{
	VariantV1:       textModule(VariantV1, "text/v1.txt", buildV1),
	VariantV2Unpaid: textModule(VariantV2Unpaid, "text/v2_unpaid.txt", buildV2Unpaid),
	VariantV2Paid:   textModule(VariantV2Paid, "text/v2_paid.txt", buildV2Paid),
}

func textModule(v Variant, path string, build func(string, PromptInput) Prompt) loader {
	return func() (*Module, error) {
		b, err := texts.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &Module{
			Variant:         v,
			NoReplySentinel: NoReplySentinel,
			build:           build,
			system:          strings.TrimSpace(string(b)),
		}, nil
	}
}

// Resolver resolves a conversation tier to a prompt Module for one
// process-wide Version.
//
// Lifecycle: create one Resolver at startup and share it. Modules are loaded
// lazily on first resolution and kept for the life of the process; nothing
// invalidates them. Concurrent first resolutions of the same variant may both
// load; the first stored Module wins and both callers get it.
type Resolver struct {
	version Version
	loaders map[Variant]loader

	mu    sync.RWMutex
	cache map[Variant]*Module
}

func NewResolver(version Version) *Resolver {
	return &Resolver{
		version: version,
		loaders: registry,
		cache:   make(map[Variant]*Module, len(registry)),
	}
}

func (r *Resolver) Version() Version { return r.version }

// Resolve returns the cached Module for tier, loading it on first use.
func (r *Resolver) Resolve(tier model.Tier) (*Module, error) {
	variant, err := VariantFor(r.version, tier)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	m, ok := r.cache[variant]
	r.mu.RUnlock()
	if ok {
		metrics.IncCacheRequest("prompt_module", "hit")
		return m, nil
	}
	metrics.IncCacheRequest("prompt_module", "miss")

	load, ok := r.loaders[variant]
	if !ok {
		return nil, fmt.Errorf("%w: no prompt registered for %s", domain.ErrConfiguration, variant)
	}
	loaded, err := load()
	if err != nil {
		return nil, fmt.Errorf("%w: load prompt %s: %w", domain.ErrConfiguration, variant, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[variant]; ok {
		return existing, nil
	}
	r.cache[variant] = loaded
	return loaded, nil
}
