// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"fmt"
	"strings"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/ports/adapter"
)

var _ adapter.ModelClient = (*MultiModelClient)(nil)

// MultiModelClient routes each request to a provider client by model name.
type MultiModelClient struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.ModelClient
	modelToProvider map[string]string // model -> provider ("openai" | "gemini")
}

func NewMultiModelClient(
	defaultProvider string,
	byProvider map[string]adapter.ModelClient,
	modelToProvider map[string]string,
) *MultiModelClient {
	return &MultiModelClient{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

// ProviderFor returns the provider name a model routes to.
func (m *MultiModelClient) ProviderFor(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiModelClient) pick(model string) adapter.ModelClient {
	if c := m.byProvider[m.ProviderFor(model)]; c != nil {
		return c
	}
	// last resort: the default provider
	return m.byProvider[m.defaultProvider]
}

func (m *MultiModelClient) Respond(ctx context.Context, req adapter.ModelRequest) (adapter.ModelResponse, error) {
	c := m.pick(req.Model)
	if c == nil {
		return adapter.ModelResponse{}, fmt.Errorf("%w: no model client for %q", domain.ErrConfiguration, req.Model)
	}
	return c.Respond(ctx, req)
}
