package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/responses"
	"github.com/openai/openai-go/v2/shared"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ModelClient = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.ModelClient on the Responses API
// (instructions + input, output_text back).
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

// NewOpenAIAdapter builds a client for apiKey. baseURL may be empty for the
// public endpoint or point at any OpenAI-compatible gateway. SDK-level
// retries are disabled; callers retry through the retry package.
func NewOpenAIAdapter(apiKey, baseURL, model string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-5"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...), model: model}, nil
}

func (o *OpenAIAdapter) Respond(ctx context.Context, req adapter.ModelRequest) (adapter.ModelResponse, error) {
	model := modelOrDefault(req.Model, o.model)
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Input)},
	}
	if strings.TrimSpace(req.Instructions) != "" {
		params.Instructions = openai.String(req.Instructions)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return adapter.ModelResponse{}, classifyOpenAIError(err)
	}

	served := string(resp.Model)
	if served == "" {
		served = model
	}
	return adapter.ModelResponse{
		Output: resp.OutputText(),
		Model:  served,
		Usage: adapter.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// classifyOpenAIError marks client-side rejections as invalid arguments so
// they are not retried. Rate limits and timeouts stay retryable.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch code := apiErr.StatusCode; {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return err
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: openai http %d: %w", domain.ErrInvalidArgument, code, err)
	}
	return err
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
