// Package llm provides an abstraction for the generative text provider.
package llm

import "context"

// Client defines the interface for LLM provider operations.
type Client interface {
	// CreateChatCompletion sends a chat completion request (non-streaming).
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// CreateChatCompletionStream sends a streaming chat completion request.
	// The callback is called for each chunk received.
	CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error)

	// ListModels retrieves the list of available models.
	ListModels(ctx context.Context) ([]Model, error)

	// HealthCheck probes the provider with a minimal one-token request.
	HealthCheck(ctx context.Context, model string) error
}

// Ensure HTTPClient implements Client interface.
var _ Client = (*HTTPClient)(nil)
