package ai

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sms-agent/internal/domain/ports/adapter"
)

var _ adapter.ModelClient = (*NoopModelClient)(nil)

// NoopModelClient answers every request with a fixed reply. For local runs
// without provider credentials.
type NoopModelClient struct {
	Reply string
	Delay time.Duration
	log   *zerolog.Logger
}

func NewNoopModelClient(logger *zerolog.Logger) *NoopModelClient {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NoopModelClient{
		Reply: "hey! this is a dev reply.\nwhat should I call you?",
		Delay: 100 * time.Millisecond,
		log:   logger,
	}
}

func (a *NoopModelClient) Respond(ctx context.Context, req adapter.ModelRequest) (adapter.ModelResponse, error) {
	// Simulate processing and respect ctx
	select {
	case <-time.After(a.Delay):
	case <-ctx.Done():
		return adapter.ModelResponse{}, ctx.Err()
	}
	a.log.Debug().Str("model", req.Model).Int("input_len", len(req.Input)).Msg("noop model call")
	return adapter.ModelResponse{Output: a.Reply, Model: "noop"}, nil
}
