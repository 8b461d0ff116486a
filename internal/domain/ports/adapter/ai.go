package adapter

import "context"

// ModelRequest is one call to a generative model: system-level instructions
// plus the user-facing input (usually a rendered transcript).
type ModelRequest struct {
	Model        string
	Instructions string
	Input        string
}

// Usage for a single model call, as reported by the provider (zero when unknown).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ModelResponse carries the output text and the model that actually served it.
type ModelResponse struct {
	Output string
	Model  string
	Usage  Usage
}

// ModelClient is the port for the external generative model.
// Implementations must abort the in-flight request when ctx is done.
type ModelClient interface {
	Respond(ctx context.Context, req ModelRequest) (ModelResponse, error)
}
