package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient is a Provider backed by the official OpenAI SDK.
type OpenAIClient struct {
	config      *Config
	completions openai.ChatCompletionService
	timeout     time.Duration
}

func NewOpenAIClient(config *Config) (*OpenAIClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithBaseURL(config.APIURL),
		option.WithMaxRetries(0),
	}
	if config.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", config.SiteURL))
	}
	if config.AppName != "" {
		opts = append(opts, option.WithHeader("X-Title", config.AppName))
	}

	return &OpenAIClient{
		config:      config,
		completions: openai.NewChatCompletionService(opts...),
		timeout:     time.Duration(config.Timeout) * time.Second,
	}, nil
}

// Chat implements Provider.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (*Answer, error) {
	resp, err := c.completions.New(ctx, c.params(messages), option.WithRequestTimeout(c.timeout))
	if err != nil {
		return nil, sdkError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, newProviderError(ProviderOpenAI, nil, "no choices in response")
	}

	model := resp.Model
	if model == "" {
		model = c.config.Model
	}
	return &Answer{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Tokens:  int(resp.Usage.TotalTokens),
	}, nil
}

// ChatStream implements Provider.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := c.completions.NewStreaming(ctx, c.params(messages))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", sdkError(err))
		}
	}
}

func (c *OpenAIClient) params(messages []Message) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			converted = append(converted, openai.SystemMessage(m.Content))
		case RoleAssistant:
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: converted,
		Model:    c.config.Model,
	}
	if c.config.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.config.MaxTokens))
	}
	if c.config.Temperature > 0 {
		params.Temperature = openai.Float(c.config.Temperature)
	}
	return params
}

func sdkError(err error) *ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe := newProviderError(ProviderOpenAI, err, "API request failed")
		pe.StatusCode = apiErr.StatusCode
		return pe
	}
	return transportError(ProviderOpenAI, err)
}
