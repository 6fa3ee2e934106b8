// Package llm holds the opaque clients for the local model server and
// hosted chat/embedding providers treated as external collaborators.
// The core only ever passes model_id/provider strings into
// signal_metadata (internal/events); the clients here exist purely so
// the scheduler's warm-up task and any daemon making an inference call
// have a concrete wire protocol to drive, one HTTP client per provider.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fleetctl/internal/logging"
)

// DefaultOllamaHost is the connection target per OLLAMA_HOST.
const DefaultOllamaHost = "http://127.0.0.1:11434"

// DefaultWarmUpKeepAlive is the keep_alive duration the embed-sweep
// warm-up task requests by default.
const DefaultWarmUpKeepAlive = "30m"

// OllamaClient drives the local model server's wire protocol:
// POST /api/generate, GET /api/tags, GET /api/ps.
type OllamaClient struct {
	host   string
	client *http.Client
}

// NewOllamaClient builds a client against host (defaults to
// DefaultOllamaHost when empty), with a 180s default timeout for
// local model server calls.
func NewOllamaClient(host string) *OllamaClient {
	if host == "" {
		host = DefaultOllamaHost
	}
	return &OllamaClient{
		host:   host,
		client: &http.Client{Timeout: 180 * time.Second},
	}
}

// GenerateOptions mirrors the wire protocol's options object.
type GenerateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// GenerateRequest is the POST /api/generate request body.
type GenerateRequest struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	System    string          `json:"system,omitempty"`
	Stream    bool            `json:"stream"`
	Options   GenerateOptions `json:"options,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
}

// GenerateResponse is the POST /api/generate response body.
type GenerateResponse struct {
	Response      string `json:"response"`
	TotalDuration int64  `json:"total_duration"`
	EvalCount     int64  `json:"eval_count"`
	EvalDuration  int64  `json:"eval_duration"`
	Model         string `json:"model"`
	Done          bool   `json:"done"`
}

// Generate issues a non-streaming completion request. Callers
// (daemons, the scheduler's warm-up) read back latency/tokens to feed
// into signal_metadata observations — the core never parses Response.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("generate request to %s: %w", c.host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("generate returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	logging.LLMDebug("generate model=%s latency=%v eval_count=%d", req.Model, latency, out.EvalCount)
	return &out, nil
}

// TagsResponse is the GET /api/tags response body.
type TagsResponse struct {
	Models []TagModel `json:"models"`
}

// TagModel is one entry in TagsResponse.Models.
type TagModel struct {
	Name string `json:"name"`
}

// Tags lists models the server has pulled.
func (c *OllamaClient) Tags(ctx context.Context) (*TagsResponse, error) {
	var out TagsResponse
	if err := c.getJSON(ctx, "/api/tags", &out); err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}
	return &out, nil
}

// PsResponse is the GET /api/ps response body.
type PsResponse struct {
	Models []TagModel `json:"models"`
}

// Ps lists currently-loaded models, used by the coordinator's
// duplicate-daemon/VRAM-contention diagnostics.
func (c *OllamaClient) Ps(ctx context.Context) (*PsResponse, error) {
	var out PsResponse
	if err := c.getJSON(ctx, "/api/ps", &out); err != nil {
		return nil, fmt.Errorf("ps: %w", err)
	}
	return &out, nil
}

func (c *OllamaClient) getJSON(ctx context.Context, path string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// WarmUp issues the idempotent keep-alive POST /api/generate the
// scheduler's embed-sweep tick uses to pre-load a small model. An empty
// prompt generates nothing; the call exists only to pin the model in
// VRAM for keepAlive (defaults to DefaultWarmUpKeepAlive when empty).
func (c *OllamaClient) WarmUp(ctx context.Context, model, keepAlive string) error {
	if keepAlive == "" {
		keepAlive = DefaultWarmUpKeepAlive
	}
	_, err := c.Generate(ctx, GenerateRequest{Model: model, Prompt: "", KeepAlive: keepAlive})
	if err != nil {
		return fmt.Errorf("warm up %s: %w", model, err)
	}
	logging.LLM("warmed up model=%s keep_alive=%s", model, keepAlive)
	return nil
}
