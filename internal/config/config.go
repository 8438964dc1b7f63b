package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Pilot         struct {
		BaseURL        string `json:"base_url"`
		APIKey         string `json:"api_key"`
		PollIntervalMS int    `json:"poll_interval_ms"`
		TimeoutSeconds int    `json:"timeout_seconds"`
		RetryAttempts  int    `json:"retry_attempts"`
	} `json:"pilot"`
	Layout struct {
		Margin     float64 `json:"margin"`
		RowSpacing float64 `json:"row_spacing"`
	} `json:"layout"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
}

// PollInterval returns the configured polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pilot.PollIntervalMS) * time.Millisecond
}

// Timeout returns the configured pilot API request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Pilot.TimeoutSeconds) * time.Second
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".pilotsync"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.Pilot.BaseURL = "http://localhost:5800/v1"
	cfg.Pilot.PollIntervalMS = 2000
	cfg.Pilot.TimeoutSeconds = 30
	cfg.Pilot.RetryAttempts = 3
	cfg.Layout.Margin = 800
	cfg.Layout.RowSpacing = 500
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:7420"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("PILOT_API_KEY"); apiKey != "" {
		cfg.Pilot.APIKey = apiKey
	}
	if baseURL := os.Getenv("PILOT_BASE_URL"); baseURL != "" {
		cfg.Pilot.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	return writeFile(path, cfg)
}

// ToMap converts cfg to a nested map keyed by JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every config value keyed by dotted path. Secrets are
// masked when mask is true.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]any)
	flattenKeys("", m, flat)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dotted key from the config file at path. A missing file
// is created with defaults first.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readFile(path)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]any)
	flattenKeys("", m, flat)
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dotted key to the config file at path. Keys of Config
// are coerced to their type and range-checked, so a bad value fails with
// ErrInvalidValue and leaves the file untouched. Other keys are kept as given.
func SetValue(path, key, value string) error {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: malformed key %q", ErrInvalidValue, key)
	}
	parsed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	m, err := readFile(path)
	if err != nil {
		return err
	}
	if m == nil {
		m = make(map[string]any)
	}
	if err := setKey(m, key, parsed); err != nil {
		return err
	}
	return writeFile(path, m)
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

func writeFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
