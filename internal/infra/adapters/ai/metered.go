package ai

import (
	"context"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"sms-agent/internal/domain/ports/adapter"
	"sms-agent/internal/infra/metrics"
)

var _ adapter.ModelClient = (*meteredClient)(nil)

type meteredClient struct {
	inner    adapter.ModelClient
	provider string
	count    func(model, text string) int
}

// NewMeteredModelClient records latency and token usage for every call.
// When the provider reports no usage, tokens are estimated locally.
func NewMeteredModelClient(inner adapter.ModelClient, provider string) adapter.ModelClient {
	return &meteredClient{inner: inner, provider: provider, count: EstimateTokens}
}

func (m *meteredClient) Respond(ctx context.Context, req adapter.ModelRequest) (adapter.ModelResponse, error) {
	start := time.Now()
	resp, err := m.inner.Respond(ctx, req)
	latency := int(time.Since(start).Milliseconds())

	model := req.Model
	if resp.Model != "" {
		model = resp.Model
	}
	if err != nil {
		metrics.ObserveModelCall(m.provider, model, 0, 0, latency, false)
		return resp, err
	}

	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 {
		resp.Usage.PromptTokens = m.count(model, req.Instructions) + m.count(model, req.Input)
		resp.Usage.CompletionTokens = m.count(model, resp.Output)
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	metrics.ObserveModelCall(m.provider, model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, latency, true)
	return resp, nil
}

var (
	encMu    sync.RWMutex
	encCache = map[string]*tiktoken.Tiktoken{}

	// loadEncoding may download BPE ranks on first use.
	loadEncoding = func(model string) *tiktoken.Tiktoken {
		enc, err := tiktoken.EncodingForModel(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			return nil
		}
		return enc
	}
)

// encodingFor loads outside the lock; a slow load for one model does not
// hold up callers of another.
func encodingFor(model string) *tiktoken.Tiktoken {
	encMu.RLock()
	enc, ok := encCache[model]
	encMu.RUnlock()
	if ok {
		return enc
	}

	enc = loadEncoding(model)

	encMu.Lock()
	defer encMu.Unlock()
	if cached, ok := encCache[model]; ok {
		return cached
	}
	encCache[model] = enc
	return enc
}

// EstimateTokens counts tokens with the model's BPE when available, else
// assumes about four characters per token.
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := encodingFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
