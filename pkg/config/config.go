// Package config loads the sceneforge configuration from a YAML (or JSON)
// file and environment variables.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `yaml:"app" json:"app"`
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`
	Memory    MemoryConfig              `yaml:"memory" json:"memory"`
	Knowledge KnowledgeConfig           `yaml:"knowledge" json:"knowledge"`
	Agent     AgentConfig               `yaml:"agent" json:"agent"`
	Logging   LoggingConfig             `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig             `yaml:"metrics" json:"metrics"`
	Policy    PolicyConfig              `yaml:"policy" json:"policy"`
}

type AppConfig struct {
	Name      string `yaml:"name" json:"name"`
	Workspace string `yaml:"workspace" json:"workspace"`
}

type ProviderConfig struct {
	APIKey         string `yaml:"api_key" json:"api_key"`
	Model          string `yaml:"model" json:"model"`
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	BaseURL        string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	// PricePer1K is the cost of 1000 tokens, used for plan estimates.
	PricePer1K float64 `yaml:"price_per_1k" json:"price_per_1k"`
}

type MemoryConfig struct {
	// Path of the sqlite database holding history, runs and knowledge.
	Path string `yaml:"path" json:"path"`
}

type KnowledgeConfig struct {
	Dimensions       int `yaml:"dimensions" json:"dimensions"`
	ContextBudget    int `yaml:"context_budget" json:"context_budget"`
	KnowledgeCeiling int `yaml:"knowledge_ceiling" json:"knowledge_ceiling"`
	ReplyReserve     int `yaml:"reply_reserve" json:"reply_reserve"`
	TopK             int `yaml:"top_k" json:"top_k"`
	ChunkTokens      int `yaml:"chunk_tokens" json:"chunk_tokens"`
}

type AgentConfig struct {
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`
	MaxToolRounds   int     `yaml:"max_tool_rounds" json:"max_tool_rounds"`
	HistoryLimit    int     `yaml:"history_limit" json:"history_limit"`
	PromptsDir      string  `yaml:"prompts_dir" json:"prompts_dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// LLMLog is the JSONL transcript of model exchanges.
	LLMLog string `yaml:"llm_log" json:"llm_log"`
}

type MetricsConfig struct {
	// Listen is the address serving /metrics. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`
}

type PolicyConfig struct {
	DeniedTools    []string `yaml:"denied_tools" json:"denied_tools"`
	DeniedPatterns []string `yaml:"denied_patterns" json:"denied_patterns"`
}

// Default returns a configuration that works with an OpenAI key in
// SCENEFORGE_API_KEY.
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "sceneforge", Workspace: "."},
		Providers: map[string]ProviderConfig{
			"openai": {
				Model:          "gpt-4o-mini",
				EmbeddingModel: "text-embedding-3-small",
				Enabled:        true,
			},
		},
		Memory: MemoryConfig{Path: "sceneforge.db"},
		Knowledge: KnowledgeConfig{
			Dimensions:       1536,
			ContextBudget:    8000,
			KnowledgeCeiling: 2000,
			ReplyReserve:     1024,
			TopK:             8,
			ChunkTokens:      512,
		},
		Agent: AgentConfig{
			Temperature:     0.2,
			MaxOutputTokens: 2048,
			MaxToolRounds:   8,
			HistoryLimit:    20,
			PromptsDir:      "./prompts",
		},
		Logging: LoggingConfig{Level: "info", LLMLog: "logs/llm.jsonl"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	var errs []string

	if name, _ := c.GetDefaultProvider(); name == "" {
		errs = append(errs, "at least one provider must be enabled")
	}
	if c.Memory.Path == "" {
		errs = append(errs, "memory.path is required")
	}
	k := c.Knowledge
	if k.Dimensions <= 0 {
		errs = append(errs, "knowledge.dimensions must be positive")
	}
	if k.ContextBudget <= 0 {
		errs = append(errs, "knowledge.context_budget must be positive")
	}
	if k.KnowledgeCeiling < 0 || k.KnowledgeCeiling > k.ContextBudget {
		errs = append(errs, "knowledge.knowledge_ceiling must be between 0 and context_budget")
	}
	if k.ReplyReserve < 0 || k.ReplyReserve >= k.ContextBudget {
		errs = append(errs, "knowledge.reply_reserve must be between 0 and context_budget")
	}
	if k.TopK <= 0 {
		errs = append(errs, "knowledge.top_k must be positive")
	}
	if k.ChunkTokens <= 0 {
		errs = append(errs, "knowledge.chunk_tokens must be positive")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, "agent.temperature must be between 0 and 2")
	}
	if c.Agent.MaxToolRounds <= 0 {
		errs = append(errs, "agent.max_tool_rounds must be positive")
	}
	if c.Agent.MaxOutputTokens <= 0 {
		errs = append(errs, "agent.max_output_tokens must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// applyEnvOverrides reads SCENEFORGE_* variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCENEFORGE_API_KEY"); v != "" {
		if name, p := cfg.GetDefaultProvider(); name != "" {
			p.APIKey = v
			cfg.Providers[name] = p
		}
	}
	if v := os.Getenv("SCENEFORGE_DB"); v != "" {
		cfg.Memory.Path = v
	}
	if v := os.Getenv("SCENEFORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCENEFORGE_CONTEXT_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Knowledge.ContextBudget = n
		}
	}
}
