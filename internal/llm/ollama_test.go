package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOllamaClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"hi there","total_duration":123,"eval_count":4,"model":"gemma3:4b","done":true}`))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL)
	resp, err := client.Generate(context.Background(), GenerateRequest{Model: "gemma3:4b", Prompt: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hi there", resp.Response)
	require.EqualValues(t, 4, resp.EvalCount)
	require.True(t, resp.Done)
}

func TestOllamaClientGenerateNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not found"))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL)
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "missing", Prompt: "x"})
	require.Error(t, err)
}

func TestOllamaClientTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"gemma3:4b"},{"name":"qwen2.5:14b"}]}`))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL)
	tags, err := client.Tags(context.Background())
	require.NoError(t, err)
	require.Len(t, tags.Models, 2)
	require.Equal(t, "gemma3:4b", tags.Models[0].Name)
}

func TestOllamaClientPs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/ps", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"gemma3:4b"}]}`))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL)
	ps, err := client.Ps(context.Background())
	require.NoError(t, err)
	require.Len(t, ps.Models, 1)
}

func TestOllamaClientWarmUp(t *testing.T) {
	var gotKeepAlive string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		decodeJSONBody(t, r, &req)
		gotKeepAlive = req.KeepAlive
		require.Empty(t, req.Prompt)
		w.Write([]byte(`{"response":"","done":true}`))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL)
	err := client.WarmUp(context.Background(), "gemma3:4b", "")
	require.NoError(t, err)
	require.Equal(t, DefaultWarmUpKeepAlive, gotKeepAlive)
}

func TestNewOllamaClientDefaultsHost(t *testing.T) {
	client := NewOllamaClient("")
	require.Equal(t, DefaultOllamaHost, client.host)
}
