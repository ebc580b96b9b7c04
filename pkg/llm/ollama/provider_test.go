package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"podcast-research-sync/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatStreamForwardsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "llama3", req.Model)
		assert.Equal(t, "assistant", req.Messages[1].Role)

		for _, part := range []string{"Three ", "themes ", "emerge."} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	var out strings.Builder
	err := p.ChatStream(context.Background(), []llm.Message{
		{Role: "user", Content: "hi"},
		{Role: "model", Content: "hello"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Three themes emerge.", out.String())
}

func TestChatStreamSurfacesModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	err := NewOllamaProvider(srv.URL, "x").ChatStream(context.Background(), nil, &strings.Builder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, 64, req.Options.NumPredict)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"done"},"done":true}`)
	}))
	defer srv.Close()

	answer, err := NewOllamaProvider(srv.URL, "x").Generate(context.Background(), "q", llm.WithMaxTokens(64))
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "x").Chat(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
