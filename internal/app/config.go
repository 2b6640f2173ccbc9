package app

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is the connection profile for one provider entry.
type ProviderConfig struct {
	APIKey string `yaml:"api_key"`
	APIURL string `yaml:"api_url"`
	Model  string `yaml:"model"`
}

type Config struct {
	ActiveProvider string                    `yaml:"active_provider"`
	DebugMode      bool                      `yaml:"debug_mode"`
	WorkspacePath  string                    `yaml:"workspace_path"`
	ConfirmActions bool                      `yaml:"confirm_actions"`
	MaxSteps       int                       `yaml:"max_steps"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ActiveProvider: "google",
		DebugMode:      false,
		ConfirmActions: false,
		MaxSteps:       DefaultMaxSteps,
		Providers: map[string]ProviderConfig{
			"google": {
				APIKey: "YOUR_GOOGLE_AI_STUDIO_API_KEY_HERE",
				APIURL: "https://generativelanguage.googleapis.com/v1beta/models",
				Model:  "gemini-2.0-flash-exp",
			},
			"openai": {
				APIKey: "YOUR_OPENAI_API_KEY_HERE",
				APIURL: "https://api.openai.com/v1/chat/completions",
				Model:  "gpt-4o",
			},
			"openrouter": {
				APIKey: "YOUR_OPENROUTER_KEY_HERE",
				APIURL: "https://openrouter.ai/api/v1/chat/completions",
				Model:  "anthropic/claude-3.5-sonnet",
			},
			"groq": {
				APIKey: "YOUR_GROQ_API_KEY_HERE",
				APIURL: "https://api.groq.com/openai/v1/chat/completions",
				Model:  "llama3-70b-8192",
			},
			"ollama": {
				APIKey: "ollama",
				APIURL: "http://localhost:11434/api/chat",
				Model:  "llama3.1",
			},
			"lmstudio": {
				APIKey: "lm-studio",
				APIURL: "http://localhost:1234/v1/chat/completions",
				Model:  "local-model",
			},
		},
	}
}

// LoadConfig reads the config file, creating it with defaults on first run.
// Files written by older versions are migrated in place: missing providers
// and empty provider fields are filled from the defaults and the result is
// saved back.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if saveErr := SaveConfig(cfg, path); saveErr != nil {
				return cfg, saveErr
			}
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), err
	}
	if cfg.migrate() {
		// Best effort: a read-only config dir should not block startup.
		_ = SaveConfig(cfg, path)
	}
	return cfg, nil
}

// migrate fills gaps left by older config files and reports whether anything
// changed.
func (c *Config) migrate() bool {
	defaults := DefaultConfig()
	changed := false

	if c.ActiveProvider == "" {
		c.ActiveProvider = defaults.ActiveProvider
		changed = true
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = defaults.MaxSteps
		changed = true
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for name, def := range defaults.Providers {
		entry, ok := c.Providers[name]
		if !ok {
			c.Providers[name] = def
			changed = true
			continue
		}
		if entry.APIKey == "" {
			entry.APIKey = def.APIKey
			changed = true
		}
		if entry.APIURL == "" {
			entry.APIURL = def.APIURL
			changed = true
		}
		if entry.Model == "" {
			entry.Model = def.Model
			changed = true
		}
		c.Providers[name] = entry
	}
	return changed
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "forge", "config.yml")
}

// Provider returns the active provider's settings; a zero value if the
// active name has no entry.
func (c *Config) Provider() ProviderConfig {
	return c.Providers[c.ActiveProvider]
}

// SetActiveProvider switches providers, seeding an entry for names that have
// none yet. Unknown names are allowed so local gateways can be added without
// a code change.
func (c *Config) SetActiveProvider(name string) {
	name = strings.ToLower(name)
	if _, ok := c.Providers[name]; !ok {
		if c.Providers == nil {
			c.Providers = map[string]ProviderConfig{}
		}
		if def, ok := DefaultConfig().Providers[name]; ok {
			c.Providers[name] = def
		} else {
			c.Providers[name] = ProviderConfig{}
		}
	}
	c.ActiveProvider = name
}

// SetProviderSetting updates one field of the active provider entry.
func (c *Config) SetProviderSetting(key, value string) {
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	entry := c.Providers[c.ActiveProvider]
	switch key {
	case "api_key":
		entry.APIKey = value
	case "api_url":
		entry.APIURL = value
	case "model":
		entry.Model = value
	}
	c.Providers[c.ActiveProvider] = entry
}

// ProviderNames lists configured providers in stable order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KeyConfigured reports whether the entry carries a usable API key rather
// than the placeholder shipped in the default file.
func (p ProviderConfig) KeyConfigured() bool {
	return p.APIKey != "" && !strings.Contains(p.APIKey, "YOUR_")
}

// RequiresAPIKey reports whether a provider refuses unauthenticated
// requests. Local servers do not.
func RequiresAPIKey(provider string) bool {
	return provider != "ollama" && provider != "lmstudio"
}
