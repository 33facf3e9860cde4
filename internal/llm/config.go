package llm

import (
	"fmt"
	"strings"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
)

// Config holds the configuration for LLM providers
//
// Provider: Backend name, one of "openrouter", "ollama", "openai"
// APIKey: API key (required for openrouter and openai)
// APIURL: API endpoint URL (base URL for ollama)
// Model: Model name to use
// MaxTokens: Maximum tokens for responses
// Temperature: Sampling temperature (0-2)
// Timeout: Request timeout in seconds
// SiteURL: Site URL for the HTTP-Referer header (optional)
// AppName: Application name for the X-Title header (optional)
type Config struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.providerName() {
	case ProviderOpenRouter, ProviderOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("API key is required")
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the LLM API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if c.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.APIKey
	}
	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}

func (c *Config) providerName() string {
	name := strings.ToLower(strings.TrimSpace(c.Provider))
	if name == "" {
		return ProviderOpenRouter
	}
	return name
}
