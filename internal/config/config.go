package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/MimeLyc/cass/internal/database"
	"github.com/MimeLyc/cass/internal/llm"
	"github.com/MimeLyc/cass/pkg/icron"
	"github.com/MimeLyc/cass/pkg/log"
)

// Config holds all application configuration.
//
// Values are resolved in order: built-in defaults, the TOML file named by
// CASS_CONFIG, environment variables (a .env file in the working directory
// is loaded first), then Options.
//
// Environment Variables:
// LLM Configuration:
// - LLM_PROVIDER: openrouter, ollama or openai (default: openrouter)
// - LLM_API_KEY: API key, required for openrouter and openai
// - LLM_API_URL: API endpoint URL (default depends on the provider)
// - LLM_MODEL: Model name (default depends on the provider)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 0, provider default)
// - LLM_TEMPERATURE: Sampling temperature (default: 0, provider default)
// - LLM_TIMEOUT: Request timeout in seconds (default: 120)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (default: CASS)
//
// Database Configuration:
// - DATABASE_URL: postgres:// URL or SQLite file path (required)
// - DATABASE_DRIVER: postgres or sqlite (default: detected from the URL)
// - DATABASE_MAX_OPEN_CONNS: Connection pool size (default: 10)
// - DATABASE_QUERY_TIMEOUT: Per-query timeout in seconds (default: 60)
//
// Server Configuration:
// - HTTP_ADDR: Listen address (default: :8000)
// - HTTP_CORS_ORIGIN: Allowed CORS origin, empty disables CORS (default: *)
//
// Agent Configuration:
// - AGENT_SYSTEM_PROMPT: Replaces the generated system prompt (optional)
// - AGENT_RETRY: Ask the model to correct a failed query once (default: true)
// - AGENT_READ_ONLY: Reject generated statements other than SELECT (default: false)
//
// Maintenance:
// - SCHEMA_REFRESH_CRON: Schema cache refresh schedule, empty reads the schema per request (default: */5 * * * *)
// - HISTORY_ENABLED: Record answered questions (default: true)
// - HISTORY_DB_PATH: SQLite file for the history (default: data/history.db)
// - HISTORY_RETENTION_DAYS: Prune older history daily, 0 keeps everything (default: 30)
// - LOG_LEVEL: debug, info, warn or error (default: info)
type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Database DatabaseConfig `toml:"database"`
	HTTP     HTTPConfig     `toml:"http"`
	Agent    AgentConfig    `toml:"agent"`
	Schema   SchemaConfig   `toml:"schema"`
	History  HistoryConfig  `toml:"history"`
	Log      LogConfig      `toml:"log"`
}

// LLMConfig holds the configuration for the model provider
type LLMConfig struct {
	Provider    string  `toml:"provider"`
	APIKey      string  `toml:"api_key"`
	APIURL      string  `toml:"api_url"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	Timeout     int     `toml:"timeout"`
	SiteURL     string  `toml:"site_url"`
	AppName     string  `toml:"app_name"`
}

type DatabaseConfig struct {
	Driver       string `toml:"driver"`
	URL          string `toml:"url"`
	MaxOpenConns int    `toml:"max_open_conns"`
	QueryTimeout int    `toml:"query_timeout"` // seconds
}

type HTTPConfig struct {
	Addr       string `toml:"addr"`
	CORSOrigin string `toml:"cors_origin"`
}

type AgentConfig struct {
	SystemPrompt string `toml:"system_prompt"`
	Retry        bool   `toml:"retry"`
	ReadOnly     bool   `toml:"read_only"`
}

type SchemaConfig struct {
	RefreshCron string `toml:"refresh_cron"`
}

type HistoryConfig struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

var providerDefaults = map[string]struct{ url, model string }{
	llm.ProviderOpenRouter: {url: "https://openrouter.ai/api/v1", model: "deepseek/deepseek-chat"},
	llm.ProviderOllama:     {url: "http://localhost:11434", model: "llama3.2:latest"},
	llm.ProviderOpenAI:     {url: "https://api.openai.com/v1", model: "gpt-4o-mini"},
}

// Option is a function type for configuring Config
type Option func(*Config)

func defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: llm.ProviderOpenRouter,
			Timeout:  120,
			AppName:  "CASS",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			QueryTimeout: 60,
		},
		HTTP: HTTPConfig{
			Addr:       ":8000",
			CORSOrigin: "*",
		},
		Agent: AgentConfig{
			Retry: true,
		},
		Schema: SchemaConfig{
			RefreshCron: "*/5 * * * *",
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "data/history.db",
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// NewFromEnv builds the configuration from defaults, the optional TOML file,
// the environment and opts, then validates it.
func NewFromEnv(opts ...Option) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	config := defaults()
	if path := strings.TrimSpace(os.Getenv("CASS_CONFIG")); path != "" {
		if err := LoadTOML(config, path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()

	for _, opt := range opts {
		opt(config)
	}
	config.applyProviderDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: provider=%s model=%s database=%s addr=%s retry=%t read_only=%t",
		config.LLM.Provider, config.LLM.Model, config.DatabaseDriver(), config.HTTP.Addr,
		config.Agent.Retry, config.Agent.ReadOnly)
	return config, nil
}

// LoadTOML overlays the values present in the file at path onto cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LLM.Provider = getEnvString("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.APIKey = getEnvString("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.APIURL = getEnvString("LLM_API_URL", c.LLM.APIURL)
	c.LLM.Model = getEnvString("LLM_MODEL", c.LLM.Model)
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvInt("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.SiteURL = getEnvString("LLM_SITE_URL", c.LLM.SiteURL)
	c.LLM.AppName = getEnvString("LLM_APP_NAME", c.LLM.AppName)

	c.Database.Driver = getEnvString("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = getEnvString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.QueryTimeout = getEnvInt("DATABASE_QUERY_TIMEOUT", c.Database.QueryTimeout)

	c.HTTP.Addr = getEnvString("HTTP_ADDR", c.HTTP.Addr)
	if origin, ok := os.LookupEnv("HTTP_CORS_ORIGIN"); ok {
		c.HTTP.CORSOrigin = strings.TrimSpace(origin)
	}

	c.Agent.SystemPrompt = getEnvString("AGENT_SYSTEM_PROMPT", c.Agent.SystemPrompt)
	c.Agent.Retry = getEnvBool("AGENT_RETRY", c.Agent.Retry)
	c.Agent.ReadOnly = getEnvBool("AGENT_READ_ONLY", c.Agent.ReadOnly)

	if expr, ok := os.LookupEnv("SCHEMA_REFRESH_CRON"); ok {
		c.Schema.RefreshCron = strings.TrimSpace(expr)
	}

	c.History.Enabled = getEnvBool("HISTORY_ENABLED", c.History.Enabled)
	c.History.Path = getEnvString("HISTORY_DB_PATH", c.History.Path)
	c.History.RetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", c.History.RetentionDays)

	c.Log.Level = getEnvString("LOG_LEVEL", c.Log.Level)
}

func (c *Config) applyProviderDefaults() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	d, ok := providerDefaults[c.LLM.Provider]
	if !ok {
		return
	}
	if c.LLM.APIURL == "" {
		c.LLM.APIURL = d.url
	}
	if c.LLM.Model == "" {
		c.LLM.Model = d.model
	}
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if err := c.LLMConfig().Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.Driver != "" {
		if _, err := database.NormalizeDriver(c.Database.Driver); err != nil {
			return fmt.Errorf("DATABASE_DRIVER: %w", err)
		}
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("DATABASE_MAX_OPEN_CONNS must not be negative")
	}
	if c.Database.QueryTimeout < 0 {
		return fmt.Errorf("DATABASE_QUERY_TIMEOUT must not be negative")
	}
	if c.Schema.RefreshCron != "" {
		if _, err := icron.Parse(c.Schema.RefreshCron); err != nil {
			return fmt.Errorf("SCHEMA_REFRESH_CRON: %w", err)
		}
	}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		return fmt.Errorf("HISTORY_DB_PATH is required when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must not be negative")
	}
	return nil
}

func (c *Config) LLMConfig() *llm.Config {
	return &llm.Config{
		Provider:    c.LLM.Provider,
		APIKey:      c.LLM.APIKey,
		APIURL:      c.LLM.APIURL,
		Model:       c.LLM.Model,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
		SiteURL:     c.LLM.SiteURL,
		AppName:     c.LLM.AppName,
	}
}

func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Driver:       c.DatabaseDriver(),
		URL:          c.Database.URL,
		MaxOpenConns: c.Database.MaxOpenConns,
		QueryTimeout: time.Duration(c.Database.QueryTimeout) * time.Second,
	}
}

// DatabaseDriver is the configured driver, or the one implied by the URL.
func (c *Config) DatabaseDriver() string {
	if d, err := database.NormalizeDriver(c.Database.Driver); err == nil && c.Database.Driver != "" {
		return d
	}
	return database.DetectDriver(c.Database.URL)
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
