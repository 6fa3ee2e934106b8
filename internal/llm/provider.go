package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"fleetctl/internal/logging"
)

// HostedProvider is the opaque interface the coordinator's model
// registry names as a `provider` string ("Hosted LLM
// providers... opaque to the core except that each provider's model
// id, rate limits, and per-1M-token costs are entries in the model
// registry"). The core consumes only latency/tokens/cost observations
// back out of a call; it never inspects Response.
type HostedProvider interface {
	Complete(ctx context.Context, modelID, prompt string) (*CompletionResult, error)
}

// CompletionResult is what a daemon folds into events.Observations
// after a hosted call.
type CompletionResult struct {
	Response   string
	LatencyMs  int64
	TokensIn   int64
	TokensOut  int64
}

// GenAIProvider wraps google.golang.org/genai as one HostedProvider,
// built on the same client-construction pattern used for embeddings
// elsewhere in this module but driving chat completion instead.
type GenAIProvider struct {
	client *genai.Client
}

// NewGenAIProvider builds a provider bound to apiKey.
func NewGenAIProvider(ctx context.Context, apiKey string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	logging.LLM("genai provider ready")
	return &GenAIProvider{client: client}, nil
}

// Complete issues a single-turn generation call and reports
// latency/token usage for the caller's signal_metadata.
func (p *GenAIProvider) Complete(ctx context.Context, modelID, prompt string) (*CompletionResult, error) {
	start := time.Now()
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, modelID, contents, nil)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("genai generate: %w", err)
	}

	var text string
	var tokensOut int64
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			text += part.Text
		}
	}
	if resp.UsageMetadata != nil {
		tokensOut = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	logging.LLMDebug("genai complete model=%s latency=%v tokens_out=%d", modelID, latency, tokensOut)
	return &CompletionResult{
		Response:  text,
		LatencyMs: latency.Milliseconds(),
		TokensOut: tokensOut,
	}, nil
}
