package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultConfigFile   = "config.json"
	DefaultRefusal      = "I do not have enough information in the provided documents."
	DefaultMemoryPrefix = "securerag:memory:"

	DefaultToxicityThreshold = 0.5
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Model       ModelConfig               `json:"model"`
	Providers   map[string]ProviderConfig `json:"providers"`
	RAG         RAGConfig                 `json:"rag"`
	Memory      MemoryConfig              `json:"memory"`
	Guard       GuardConfig               `json:"guard"`
	Redis       RedisConfig               `json:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Log         LogConfig                 `json:"log"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	DocsPath      string `json:"docs_path"`
	// MockMode swaps the chat model for a canned generator.
	MockMode bool `json:"mock_mode"`
}

type ModelConfig struct {
	Provider    string  `json:"provider"`
	Name        string  `json:"name"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type RAGConfig struct {
	TopK           int  `json:"top_k"`
	ChunkSize      int  `json:"chunk_size"`
	ChunkOverlap   *int `json:"chunk_overlap"`
	HistoryLimit   int  `json:"history_limit"`
	MaxQueryLength int  `json:"max_query_length"`
}

// Overlap is the configured chunk overlap; an explicit 0 is kept.
func (r RAGConfig) Overlap() int {
	if r.ChunkOverlap == nil {
		return defaultOverlap(r.ChunkSize)
	}
	return *r.ChunkOverlap
}

func defaultOverlap(size int) int {
	if size > 200 {
		return 200
	}
	return size / 5
}

type MemoryConfig struct {
	Enabled    *bool  `json:"enabled"`
	TTLSeconds int    `json:"ttl_seconds"`
	KeyPrefix  string `json:"key_prefix"`
}

// IsEnabled defaults to true when the flag is absent from the file.
func (m MemoryConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// GuardConfig toggles each validator rule independently.
type GuardConfig struct {
	LengthCheck       *bool    `json:"length_check"`
	PIICheck          *bool    `json:"pii_check"`
	ToxicityCheck     *bool    `json:"toxicity_check"`
	ConfidenceCheck   *bool    `json:"confidence_check"`
	SourcesCheck      *bool    `json:"sources_check"`
	ToxicityThreshold *float64 `json:"toxicity_threshold"`
	PolicyPath        string   `json:"policy_path"`
	RefusalMessage    string   `json:"refusal_message"`
}

// Threshold is the toxicity threshold; an explicit 0 is kept.
func (g GuardConfig) Threshold() float64 {
	if g.ToxicityThreshold == nil {
		return DefaultToxicityThreshold
	}
	return *g.ToxicityThreshold
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Disabled bool   `json:"disabled"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// Enabled resolves an optional switch, treating nil as on.
func Enabled(flag *bool) bool {
	return flag == nil || *flag
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; built-in defaults are used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := &Config{}
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if cfg.BasicConfig.DocsPath != "" && !filepath.IsAbs(cfg.BasicConfig.DocsPath) {
			cfg.BasicConfig.DocsPath = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.DocsPath)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if overlap := c.RAG.Overlap(); overlap < 0 || overlap >= c.RAG.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be within [0, chunk_size (%d))", overlap, c.RAG.ChunkSize)
	}
	if th := c.Guard.Threshold(); th < 0 || th > 1 {
		return fmt.Errorf("toxicity_threshold must be within [0,1], got %v", th)
	}
	if _, ok := c.Providers[c.Model.Provider]; !ok && !c.BasicConfig.MockMode {
		return fmt.Errorf("provider %s not configured", c.Model.Provider)
	}
	return nil
}

// Provider returns the settings of the selected model provider.
func (c *Config) Provider() ProviderConfig {
	return c.Providers[c.Model.Provider]
}

func (c *Config) applyEnv() {
	if strings.EqualFold(os.Getenv("SECURERAG_MODE"), "mock") {
		c.BasicConfig.MockMode = true
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for provider, env := range map[string]string{
		"openai": "OPENAI_API_KEY",
		"claude": "ANTHROPIC_API_KEY",
		"gemini": "GEMINI_API_KEY",
	} {
		key := strings.TrimSpace(os.Getenv(env))
		if key == "" {
			continue
		}
		p := c.Providers[provider]
		if p.APIKey == "" {
			p.APIKey = key
		}
		c.Providers[provider] = p
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8000"
	}
	if c.BasicConfig.DocsPath == "" {
		c.BasicConfig.DocsPath = "./documents"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	if c.Model.Name == "" {
		c.Model.Name = c.Providers[c.Model.Provider].Model
	}
	if c.Model.Name == "" {
		c.Model.Name = "gpt-4o"
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = 1024
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if _, ok := c.Providers["openai"]; !ok {
		c.Providers["openai"] = ProviderConfig{}
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 3
	}
	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = 1000
	}
	if c.RAG.ChunkOverlap == nil {
		overlap := defaultOverlap(c.RAG.ChunkSize)
		c.RAG.ChunkOverlap = &overlap
	}
	if c.RAG.HistoryLimit <= 0 {
		c.RAG.HistoryLimit = 10
	}
	if c.RAG.MaxQueryLength <= 0 {
		c.RAG.MaxQueryLength = 500
	}
	if c.Memory.TTLSeconds <= 0 {
		c.Memory.TTLSeconds = 3600
	}
	if c.Memory.KeyPrefix == "" {
		c.Memory.KeyPrefix = DefaultMemoryPrefix
	}
	if c.Guard.ToxicityThreshold == nil {
		threshold := DefaultToxicityThreshold
		c.Guard.ToxicityThreshold = &threshold
	}
	if c.Guard.RefusalMessage == "" {
		c.Guard.RefusalMessage = DefaultRefusal
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "file:securerag.db?_foreign_keys=on"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
