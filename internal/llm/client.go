package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/cass/pkg/sse"
)

// Client is a Provider for OpenAI-compatible chat completion APIs such as
// OpenRouter. Safe for concurrent use.
//
// config: Configuration for the LLM API
// httpClient: HTTP client for non-streaming requests
// streamClient: HTTP client for streaming requests, bounded by the context only
// baseURL: Base URL for the LLM API
type Client struct {
	config       *Config
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
}

// NewClient creates a new LLM client with the given configuration
//
// Example:
//
//	client, err := llm.NewClient(&llm.Config{
//		APIKey: key,
//		APIURL: "https://openrouter.ai/api/v1",
//		Model:  "deepseek/deepseek-chat",
//		Timeout: 120,
//	})
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := &Client{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
		streamClient: &http.Client{},
	}

	return client, nil
}

// Chat implements Provider.
func (c *Client) Chat(ctx context.Context, messages []Message) (*Answer, error) {
	response, err := c.ChatCompletion(ctx, messages)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, newProviderError(ProviderOpenRouter, nil, "no choices in response")
	}

	model := response.Model
	if model == "" {
		model = c.config.Model
	}
	return &Answer{
		Content: response.Choices[0].Message.Content,
		Model:   model,
		Tokens:  response.Usage.TotalTokens,
	}, nil
}

// ChatCompletion sends a non-streaming chat completion request and returns
// the raw API response.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message) (*ChatResponse, error) {
	req, err := c.newRequest(ctx, c.buildRequest(messages, false))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ProviderOpenRouter, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newProviderError(ProviderOpenRouter, err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(ProviderOpenRouter, resp.StatusCode, string(responseBody))
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(responseBody, &chatResponse); err != nil {
		return nil, newProviderError(ProviderOpenRouter, err, "failed to parse response")
	}

	// Some gateways report errors with a 200 status
	if chatResponse.Error != nil && chatResponse.Error.Message != "" {
		return nil, newProviderError(ProviderOpenRouter, chatResponse.Error, "API returned an error")
	}

	return &chatResponse, nil
}

// ChatStream implements Provider using server-sent events.
func (c *Client) ChatStream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req, err := c.newRequest(ctx, c.buildRequest(messages, true))
		if err != nil {
			yield("", err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.streamClient.Do(req)
		if err != nil {
			yield("", transportError(ProviderOpenRouter, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", newStatusError(ProviderOpenRouter, resp.StatusCode, string(body)))
			return
		}

		scanner := sse.NewScanner(resp.Body)
		for {
			ev, err := scanner.Scan()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", transportError(ProviderOpenRouter, err))
				return
			}
			if ev.Data == "[DONE]" {
				return
			}
			// named events without a payload, e.g. keep-alive pings
			if strings.TrimSpace(ev.Data) == "" {
				continue
			}

			var chunk ChatChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				yield("", newProviderError(ProviderOpenRouter, err, "failed to parse stream chunk"))
				return
			}
			if chunk.Error != nil && chunk.Error.Message != "" {
				yield("", newProviderError(ProviderOpenRouter, chunk.Error, "stream returned an error"))
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}

func (c *Client) buildRequest(messages []Message, stream bool) ChatRequest {
	return ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Stream:      stream,
	}
}

func (c *Client) newRequest(ctx context.Context, payload ChatRequest) (*http.Request, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, newProviderError(ProviderOpenRouter, err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, newProviderError(ProviderOpenRouter, err, "failed to create request")
	}

	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}
	return req, nil
}

func transportError(provider string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return newProviderError(provider, err, "request timed out")
	}
	return newProviderError(provider, err, "failed to make request")
}
