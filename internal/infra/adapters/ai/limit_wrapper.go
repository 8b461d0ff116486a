package ai

import (
	"context"
	"fmt"
	"time"

	"sms-agent/internal/domain/ports/adapter"
	"sms-agent/internal/infra/metrics"
)

// Compile-time check
var _ adapter.ModelClient = (*limitedClient)(nil)

// limitedClient shares one pool of slots between the inference processor and
// context extraction.
type limitedClient struct {
	inner adapter.ModelClient
	slots chan struct{}
}

// NewLimitedModelClient bounds in-flight calls to maxConcurrent. Waiting for a
// slot gives up when ctx is done.
func NewLimitedModelClient(inner adapter.ModelClient, maxConcurrent int) adapter.ModelClient {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedClient{
		inner: inner,
		slots: make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedClient) Respond(ctx context.Context, req adapter.ModelRequest) (adapter.ModelResponse, error) {
	start := time.Now()
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return adapter.ModelResponse{}, fmt.Errorf("waiting for model slot: %w", ctx.Err())
	}
	done := metrics.ModelSlotAcquired(time.Since(start))
	defer func() {
		done()
		<-l.slots
	}()
	return l.inner.Respond(ctx, req)
}
