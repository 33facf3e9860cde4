package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIConfig(url string) *Config {
	return &Config{
		Provider:  ProviderOpenAI,
		APIKey:    "sk-test",
		APIURL:    url,
		Model:     "gpt-4o-mini",
		MaxTokens: 256,
		Timeout:   10,
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		messages, _ := body["messages"].([]any)
		assert.Len(t, messages, 3)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini-2024",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hi there"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(openAIConfig(server.URL))
	require.NoError(t, err)

	answer, err := client.Chat(context.Background(), []Message{
		SystemMessage("sys"),
		UserMessage("hello"),
		AssistantMessage("earlier"),
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", answer.Content)
	assert.Equal(t, "gpt-4o-mini-2024", answer.Model)
	assert.Equal(t, 5, answer.Tokens)
}

func TestOpenAIClient_Chat_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key","type":"auth"}}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(openAIConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{UserMessage("hello")})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ProviderOpenAI, pe.Provider)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
}

func TestOpenAIClient_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"SELECT", " 1"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewOpenAIClient(openAIConfig(server.URL))
	require.NoError(t, err)

	var fragments []string
	for fragment, err := range client.ChatStream(context.Background(), []Message{UserMessage("hello")}) {
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}
	assert.Equal(t, []string{"SELECT", " 1"}, fragments)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     any
	}{
		{provider: "", want: &Client{}},
		{provider: "OpenRouter", want: &Client{}},
		{provider: ProviderOllama, want: &OllamaClient{}},
		{provider: ProviderOpenAI, want: &OpenAIClient{}},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := openAIConfig("http://localhost:1234")
			cfg.Provider = tt.provider

			p, err := NewProvider(cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}

	cfg := openAIConfig("http://localhost:1234")
	cfg.Provider = "palm"
	_, err := NewProvider(cfg)
	require.Error(t, err)
}
