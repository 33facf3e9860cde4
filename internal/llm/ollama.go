package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"
)

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaResponse is both the non-streaming reply and one NDJSON stream line.
type ollamaResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	EvalCount       int     `json:"eval_count"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	Error           string  `json:"error,omitempty"`
}

// OllamaClient is a Provider backed by a local Ollama server.
type OllamaClient struct {
	config       *Config
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
}

func NewOllamaClient(config *Config) (*OllamaClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &OllamaClient{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
		streamClient: &http.Client{},
	}, nil
}

// Chat implements Provider.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message) (*Answer, error) {
	req, err := c.newRequest(ctx, messages, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ProviderOllama, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newProviderError(ProviderOllama, err, "failed to read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ollamaStatusError(resp.StatusCode, body)
	}

	var result ollamaResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, newProviderError(ProviderOllama, err, "failed to parse response")
	}
	if result.Error != "" {
		return nil, newProviderError(ProviderOllama, nil, "%s", result.Error)
	}

	model := result.Model
	if model == "" {
		model = c.config.Model
	}
	return &Answer{
		Content: result.Message.Content,
		Model:   model,
		Tokens:  result.EvalCount,
	}, nil
}

// ChatStream implements Provider. Ollama streams one JSON object per line.
func (c *OllamaClient) ChatStream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req, err := c.newRequest(ctx, messages, true)
		if err != nil {
			yield("", err)
			return
		}

		resp, err := c.streamClient.Do(req)
		if err != nil {
			yield("", transportError(ProviderOllama, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", ollamaStatusError(resp.StatusCode, body))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk ollamaResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				yield("", newProviderError(ProviderOllama, err, "failed to parse stream chunk"))
				return
			}
			if chunk.Error != "" {
				yield("", newProviderError(ProviderOllama, nil, "%s", chunk.Error))
				return
			}
			if chunk.Message.Content != "" {
				if !yield(chunk.Message.Content, nil) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", transportError(ProviderOllama, err))
		}
	}
}

func (c *OllamaClient) newRequest(ctx context.Context, messages []Message, stream bool) (*http.Request, error) {
	payload := ollamaRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   stream,
	}
	if c.config.Temperature > 0 || c.config.MaxTokens > 0 {
		payload.Options = &ollamaOptions{
			Temperature: c.config.Temperature,
			NumPredict:  c.config.MaxTokens,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, newProviderError(ProviderOllama, err, "failed to marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, newProviderError(ProviderOllama, err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func ollamaStatusError(status int, body []byte) *ProviderError {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return newStatusError(ProviderOllama, status, payload.Error)
	}
	return newStatusError(ProviderOllama, status, string(body))
}
