// Package config loads chorusd runtime settings from chorus.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Normalize.
const (
	DefaultListen                  = ":3000"
	DefaultHistoryWindow           = 10
	DefaultBackendTimeoutSeconds   = 120
	DefaultSynthesisTimeoutSeconds = 45
)

// BackendConfig describes one OpenAI-compatible backend endpoint.
type BackendConfig struct {
	// Name is the backend identifier used in client-visible frames.
	Name string `yaml:"name"`

	// BaseURL is the API root, e.g. "https://api.deepseek.com/v1".
	BaseURL string `yaml:"baseUrl"`

	// Model is the model name sent in completion requests.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// Empty means the endpoint is unauthenticated.
	APIKeyEnv string `yaml:"apiKeyEnv,omitempty"`
}

// Config holds runtime configuration for chorusd.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen,omitempty"`

	// HistoryWindow is the number of messages kept per chat.
	HistoryWindow int `yaml:"historyWindow,omitempty"`

	// BackendTimeoutSeconds bounds each backend invocation's time-to-terminal.
	BackendTimeoutSeconds int `yaml:"backendTimeoutSeconds,omitempty"`

	// SynthesisTimeoutSeconds bounds the merge strategy invocation.
	SynthesisTimeoutSeconds int `yaml:"synthesisTimeoutSeconds,omitempty"`

	// Backends are the fan-out targets.
	Backends []BackendConfig `yaml:"backends"`

	// Judge is the arbiter backend used by synthesis. Nil selects plain
	// deterministic concatenation.
	Judge *BackendConfig `yaml:"judge,omitempty"`
}

// Load attempts to read chorus.yml or chorus.yaml from the given directory.
// Returns a normalized zero-value config (not an error) if no config file
// exists.
func Load(dir string) (*Config, error) {
	for _, name := range []string{"chorus.yml", "chorus.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return parse(data)
	}
	cfg := &Config{}
	cfg.Normalize()
	return cfg, nil
}

// LoadFile reads exactly the given config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.BackendTimeoutSeconds <= 0 {
		c.BackendTimeoutSeconds = DefaultBackendTimeoutSeconds
	}
	if c.SynthesisTimeoutSeconds <= 0 {
		c.SynthesisTimeoutSeconds = DefaultSynthesisTimeoutSeconds
	}
}

// Validate checks backend entries for completeness and name collisions.
// Zero backends is valid at load time; the dispatcher rejects it per request.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if err := validateBackend("backends", i, b); err != nil {
			return err
		}
		if seen[b.Name] {
			return fmt.Errorf("config: duplicate backend name %q", b.Name)
		}
		seen[b.Name] = true
	}
	if c.Judge != nil {
		if err := validateBackend("judge", -1, *c.Judge); err != nil {
			return err
		}
	}
	return nil
}

func validateBackend(section string, idx int, b BackendConfig) error {
	at := section
	if idx >= 0 {
		at = fmt.Sprintf("%s[%d]", section, idx)
	}
	switch {
	case b.Name == "":
		return fmt.Errorf("config: %s: missing name", at)
	case b.BaseURL == "":
		return fmt.Errorf("config: %s (%s): missing baseUrl", at, b.Name)
	case b.Model == "":
		return fmt.Errorf("config: %s (%s): missing model", at, b.Name)
	}
	return nil
}

// BackendTimeout returns the per-backend timeout as a duration.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSeconds) * time.Second
}

// SynthesisTimeout returns the synthesis timeout as a duration.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.SynthesisTimeoutSeconds) * time.Second
}
