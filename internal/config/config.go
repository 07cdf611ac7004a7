package config

import (
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Config represents the main VWork configuration
type Config struct {
	// Provider selects and tunes the LLM backend
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Workspace is the root directory file tools operate in
	Workspace string `json:"workspace" mapstructure:"workspace"`

	// Notebook holds the daily todo markdown files
	Notebook NotebookConfig `json:"notebook" mapstructure:"notebook"`

	// Transcripts controls conversation persistence
	Transcripts TranscriptsConfig `json:"transcripts" mapstructure:"transcripts"`

	// Gateway configures the local HTTP and websocket server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Agent tunes the tool-calling loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// ToolServers lists external tool server processes
	ToolServers []ToolServerConfig `json:"tool_servers" mapstructure:"tool_servers"`

	// Reports defines scheduled report generation
	Reports []ReportConfig `json:"reports" mapstructure:"reports"`

	// Logging holds logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is the base directory for state files
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig holds LLM provider configuration
type ProviderConfig struct {
	Name        string  `json:"name" mapstructure:"name"` // anthropic, openai
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// NotebookConfig holds todo notebook configuration
type NotebookConfig struct {
	Dir   string `json:"dir" mapstructure:"dir"`
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// TranscriptsConfig holds conversation persistence settings
type TranscriptsConfig struct {
	Dir           string `json:"dir" mapstructure:"dir"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port int `json:"port" mapstructure:"port"`
}

// AgentConfig tunes the agent session loop
type AgentConfig struct {
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
	MaxRounds    int    `json:"max_rounds" mapstructure:"max_rounds"`
}

// ToolServerConfig describes one external tool server process
type ToolServerConfig struct {
	Name      string   `json:"name" mapstructure:"name"`
	Command   string   `json:"command" mapstructure:"command"`
	Args      []string `json:"args" mapstructure:"args"`
	Allowlist []string `json:"allowlist" mapstructure:"allowlist"`
}

// ReportConfig describes one scheduled report
type ReportConfig struct {
	Name     string `json:"name" mapstructure:"name"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // 5-field cron expression
	Timezone string `json:"timezone" mapstructure:"timezone"`
	Prompt   string `json:"prompt" mapstructure:"prompt"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:        "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Notebook: NotebookConfig{
			Watch: true,
		},
		Transcripts: TranscriptsConfig{
			RetentionDays: 30,
		},
		Gateway: GatewayConfig{
			Port: 3141,
		},
		Agent: AgentConfig{
			MaxRounds: 20,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai":
	case "":
		return fmt.Errorf("provider name is required")
	default:
		return fmt.Errorf("invalid provider %s (must be: anthropic, openai)", c.Provider.Name)
	}

	if c.Provider.Model == "" {
		return fmt.Errorf("provider model is required")
	}
	if c.Provider.MaxTokens <= 0 {
		return fmt.Errorf("provider max_tokens must be positive")
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return fmt.Errorf("provider temperature must be between 0 and 2")
	}

	if c.Agent.MaxRounds < 0 {
		return fmt.Errorf("agent max_rounds must not be negative")
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}

	if c.Transcripts.RetentionDays < 0 {
		return fmt.Errorf("transcript retention_days must not be negative")
	}

	seen := make(map[string]bool)
	for i, srv := range c.ToolServers {
		if srv.Name == "" {
			return fmt.Errorf("tool server %d: name is required", i)
		}
		if seen[srv.Name] {
			return fmt.Errorf("tool server %s: duplicate name", srv.Name)
		}
		seen[srv.Name] = true
		if srv.Command == "" {
			return fmt.Errorf("tool server %s: command is required", srv.Name)
		}
	}

	for i, rep := range c.Reports {
		if rep.Name == "" {
			return fmt.Errorf("report %d: name is required", i)
		}
		if rep.Prompt == "" {
			return fmt.Errorf("report %s: prompt is required", rep.Name)
		}
		if _, err := cronParser.Parse(rep.Schedule); err != nil {
			return fmt.Errorf("report %s: invalid schedule %q: %w", rep.Name, rep.Schedule, err)
		}
	}

	return nil
}
