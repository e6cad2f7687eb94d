// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/nexus-chat/internal/cloud"
	"github.com/jeranaias/nexus-chat/internal/logging"
	"github.com/jeranaias/nexus-chat/internal/memory"
	"github.com/jeranaias/nexus-chat/internal/storage"
	"github.com/jeranaias/nexus-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete nexus configuration.
type Config struct {
	// Completion endpoint and transport
	Completion CompletionConfig `toml:"completion" json:"completion"`

	// Long-term memory switches
	Memory MemoryConfig `toml:"memory" json:"memory"`

	// Memory marker grammar taught to the model
	Marker memory.Delimiters `toml:"marker" json:"marker"`

	// Where transcripts and facts live
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Logger settings
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// CompletionConfig configures the completion client.
type CompletionConfig struct {
	BaseURL            string  `toml:"base_url" json:"base_url"`
	Model              string  `toml:"model" json:"model"`
	APIKey             string  `toml:"api_key" json:"api_key"`
	Temperature        float64 `toml:"temperature" json:"temperature"`
	TopP               float64 `toml:"top_p" json:"top_p"`
	MaxAttempts        int     `toml:"max_attempts" json:"max_attempts"`
	RetryDelayMs       int     `toml:"retry_delay_ms" json:"retry_delay_ms"`
	ConnectTimeoutSecs int     `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
	RequestsPerMinute  int     `toml:"requests_per_minute" json:"requests_per_minute"` // 0 = unlimited
}

// RetryDelay returns the backoff unit as a duration.
func (c CompletionConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// ConnectTimeout returns the connect bound as a duration.
func (c CompletionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// MemoryConfig switches fact handling. Enabled gates injecting stored facts
// and the marker instruction; AutoSave gates writing newly found facts.
type MemoryConfig struct {
	Enabled  bool `toml:"enabled" json:"enabled"`
	AutoSave bool `toml:"auto_save" json:"auto_save"`
}

// StorageConfig locates persisted data.
type StorageConfig struct {
	DataDir          string `toml:"data_dir" json:"data_dir"`
	MaxConversations int    `toml:"max_conversations" json:"max_conversations"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `toml:"level" json:"level"`
	Development bool   `toml:"development" json:"development"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Completion: CompletionConfig{
			BaseURL:            cloud.DefaultBaseURL,
			Model:              cloud.DefaultModel,
			Temperature:        cloud.DefaultTemperature,
			TopP:               cloud.DefaultTopP,
			MaxAttempts:        cloud.DefaultMaxAttempts,
			RetryDelayMs:       int(cloud.DefaultRetryDelay / time.Millisecond),
			ConnectTimeoutSecs: int(cloud.DefaultConnectTimeout / time.Second),
		},
		Memory: MemoryConfig{
			Enabled:  true,
			AutoSave: true,
		},
		Marker: memory.DefaultDelimiters(),
		Storage: StorageConfig{
			DataDir:          defaultDataDir(),
			MaxConversations: storage.DefaultMaxConversations,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the nexus configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".nexus"), nil
}

// ConfigPath returns the config file path: $NEXUS_CONFIG when set,
// otherwise ~/.nexus/config.toml.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("NEXUS_CONFIG")); p != "" {
		return expandHome(p), nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

func defaultDataDir() string {
	dir, err := ConfigDir()
	if err != nil {
		return ".nexus"
	}
	return dir
}

// expandHome replaces a leading "~" with the home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ConfigPath, then the JSON file, falling
// back to defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	if path, err := ConfigPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Keys missing from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(cfg, path); err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decodeFile decodes a TOML or JSON file (by extension) over cfg.
func decodeFile(cfg *Config, path string) error {
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
		return nil
	}
	if err := LoadTOML(cfg, path); err != nil {
		return fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	return nil
}

// LoadTOML decodes a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Log warning but don't fail - permissions might not be fixable on all systems
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// fillDefaults fills in blank values left by a sparse file and expands "~"
// in the data directory.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if strings.TrimSpace(cfg.Completion.BaseURL) == "" {
		cfg.Completion.BaseURL = defaults.Completion.BaseURL
	}
	if strings.TrimSpace(cfg.Completion.Model) == "" {
		cfg.Completion.Model = defaults.Completion.Model
	}
	if cfg.Completion.MaxAttempts == 0 {
		cfg.Completion.MaxAttempts = defaults.Completion.MaxAttempts
	}
	if cfg.Completion.ConnectTimeoutSecs == 0 {
		cfg.Completion.ConnectTimeoutSecs = defaults.Completion.ConnectTimeoutSecs
	}

	if cfg.Marker.Open == "" {
		cfg.Marker.Open = defaults.Marker.Open
	}
	if cfg.Marker.Close == "" {
		cfg.Marker.Close = defaults.Marker.Close
	}
	if cfg.Marker.Keyword == "" {
		cfg.Marker.Keyword = defaults.Marker.Keyword
	}

	if strings.TrimSpace(cfg.Storage.DataDir) == "" {
		cfg.Storage.DataDir = defaults.Storage.DataDir
	}
	cfg.Storage.DataDir = expandHome(cfg.Storage.DataDir)

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Writes with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# nexus configuration file\n")
	sb.WriteString("# Generated by nexus - edit with care\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file.
// SECURITY: Writes with 0600 permissions (owner read/write only).
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and returns all problems at once as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Completion
	if u, err := url.Parse(c.Completion.BaseURL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		add("completion.base_url", "must be an absolute http(s) URL, got %q", c.Completion.BaseURL)
	}
	if strings.TrimSpace(c.Completion.Model) == "" {
		add("completion.model", "must not be empty")
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		add("completion.temperature", "must be between 0 and 2, got %g", c.Completion.Temperature)
	}
	if c.Completion.TopP <= 0 || c.Completion.TopP > 1 {
		add("completion.top_p", "must be in (0, 1], got %g", c.Completion.TopP)
	}
	if c.Completion.MaxAttempts < 1 || c.Completion.MaxAttempts > 10 {
		add("completion.max_attempts", "must be between 1 and 10, got %d", c.Completion.MaxAttempts)
	}
	if c.Completion.RetryDelayMs < 0 || c.Completion.RetryDelayMs > 60000 {
		add("completion.retry_delay_ms", "must be between 0 and 60000, got %d", c.Completion.RetryDelayMs)
	}
	if c.Completion.ConnectTimeoutSecs < 1 || c.Completion.ConnectTimeoutSecs > 300 {
		add("completion.connect_timeout_secs", "must be between 1 and 300, got %d", c.Completion.ConnectTimeoutSecs)
	}
	if c.Completion.RequestsPerMinute < 0 {
		add("completion.requests_per_minute", "must not be negative, got %d", c.Completion.RequestsPerMinute)
	}

	// Marker
	if err := c.Marker.Validate(); err != nil {
		add("marker", "%v", err)
	}

	// Storage
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		add("storage.data_dir", "must not be empty")
	}
	if c.Storage.MaxConversations < 0 {
		add("storage.max_conversations", "must not be negative, got %d", c.Storage.MaxConversations)
	}

	// Logging
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variables on top of the file:
//   - NEXUS_BASE_URL: overrides completion.base_url
//   - NEXUS_MODEL: overrides completion.model
//   - NEXUS_API_KEY: overrides completion.api_key
//   - NEXUS_MEMORY: overrides memory.enabled ("1", "true", "0", "false")
//   - NEXUS_DATA_DIR: overrides storage.data_dir
//   - NEXUS_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NEXUS_BASE_URL"); v != "" {
		c.Completion.BaseURL = v
	}
	if v := os.Getenv("NEXUS_MODEL"); v != "" {
		c.Completion.Model = v
	}
	if v := os.Getenv("NEXUS_API_KEY"); v != "" {
		c.Completion.APIKey = v
	}
	if v := os.Getenv("NEXUS_MEMORY"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Memory.Enabled = b
		}
	}
	if v := os.Getenv("NEXUS_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("NEXUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// =============================================================================
// COPY AND DISPLAY
// =============================================================================

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// FactsPath returns the fact database location inside the data directory.
func (c *Config) FactsPath() string {
	return filepath.Join(c.Storage.DataDir, "facts.db")
}

// String returns a JSON rendering for debugging.
// SECURITY: Redacts the API key so the output is safe to log.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Completion.APIKey != "" {
		safe.Completion.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
