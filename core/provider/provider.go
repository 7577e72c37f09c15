// Package provider defines the LLM provider port. Concrete providers live
// outside this repository; the runtime depends only on these interfaces.
package provider

import "context"

// Request carries one model invocation.
type Request struct {
	Model        string
	SystemPrompt string
	UserContent  string
	MaxTokens    int
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int64 { return u.PromptTokens + u.CompletionTokens }

// Response is the result of a generate call.
type Response struct {
	Content string
	Usage   Usage
	Model   string
}

// Chunk is one streamed fragment of a response. Usage is only populated on
// the final chunk.
type Chunk struct {
	Content string
	Done    bool
	Usage   Usage
}

// Provider is the generation port.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Embedder is the optional embedding port used for semantic memory.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EstimateTokens approximates the token count of a text at four characters
// per token, matching the accounting used before a provider reports real
// usage.
func EstimateTokens(text string) int64 {
	return int64(len(text) / 4)
}
