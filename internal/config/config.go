package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models briefline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Provider struct {
		Kind            string  `yaml:"kind"`
		BaseURL         string  `yaml:"base_url"`
		Model           string  `yaml:"model"`
		EmbedModel      string  `yaml:"embed_model"`
		EmbedDimensions int     `yaml:"embed_dimensions"`
		Voice           string  `yaml:"voice"`
		APIKeyEnv       string  `yaml:"api_key_env"`
		MaxTokens       int     `yaml:"max_tokens"`
		Temperature     float64 `yaml:"temperature"`
	} `yaml:"provider"`
	Retry struct {
		MaxRetries        int `yaml:"max_retries"`
		InitialDelayMS    int `yaml:"initial_delay_ms"`
		MaxDelayMS        int `yaml:"max_delay_ms"`
		BackoffMultiplier int `yaml:"backoff_multiplier"`
	} `yaml:"retry"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var providerKinds = map[string]bool{
	"openai": true,
	"stub":   true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bf config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Provider.Kind == "" {
		return fmt.Errorf("config.provider.kind is required")
	}
	if !providerKinds[c.Provider.Kind] {
		return fmt.Errorf("config.provider.kind %s not supported", c.Provider.Kind)
	}
	if c.Provider.Kind == "openai" {
		if c.Provider.Model == "" {
			return fmt.Errorf("config.provider.model is required for openai")
		}
		if c.Provider.APIKeyEnv == "" {
			return fmt.Errorf("config.provider.api_key_env is required for openai")
		}
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return fmt.Errorf("config.provider.temperature must be in [0,2]")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config.retry.max_retries must be >= 0")
	}
	if c.Retry.InitialDelayMS < 0 || c.Retry.MaxDelayMS < 0 {
		return fmt.Errorf("config.retry delays must be >= 0")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "briefline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: Briefline

provider:
  kind: stub
  base_url: https://api.openai.com
  model: gpt-4o-mini
  embed_model: text-embedding-3-small
  embed_dimensions: 1536
  voice: alloy
  api_key_env: BRIEFLINE_API_KEY
  max_tokens: 4096
  temperature: 0.7

retry:
  max_retries: 3
  initial_delay_ms: 1000
  max_delay_ms: 10000
  backoff_multiplier: 2
`
