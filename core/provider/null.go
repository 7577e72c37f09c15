package provider

import "context"

// NullProvider is a deterministic stand-in used in development and tests.
// It echoes the user content and reports estimated usage.
type NullProvider struct{}

// NewNullProvider creates a NullProvider.
func NewNullProvider() *NullProvider { return &NullProvider{} }

func (p *NullProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := "echo: " + req.UserContent
	return &Response{
		Content: content,
		Usage: Usage{
			PromptTokens:     EstimateTokens(req.SystemPrompt + req.UserContent),
			CompletionTokens: EstimateTokens(content),
		},
		Model: req.Model,
	}, nil
}

func (p *NullProvider) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan Chunk, 2)
	ch <- Chunk{Content: resp.Content}
	ch <- Chunk{Done: true, Usage: resp.Usage}
	close(ch)
	return ch, nil
}
