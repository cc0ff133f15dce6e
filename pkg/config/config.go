package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath = "ONEBRIDGE_CONFIG"
	envListenPath = "ONEBRIDGE_LISTEN_PATH"
	envPlugins    = "ONEBRIDGE_PLUGINS"
)

const (
	defaultListenHost        = "0.0.0.0"
	defaultListenPort        = 8080
	defaultListenPath        = "/onebot/v11/ws"
	defaultMaxFrameBytes     = 1 << 20
	defaultFrameQueue        = 64
	defaultProvider          = "dify"
	defaultTimeoutSeconds    = 60
	defaultHealthSeconds     = 30
	defaultHeartbeatSeconds  = 300
	defaultDedupeTTLSeconds  = 300
	defaultDedupeMaxEntries  = 10_000
	defaultGroupsStore       = "sqlite"
	defaultGroupsSQLitePath  = "onebridge.db"
	defaultDifyBaseURL       = "https://api.dify.ai/v1"
	defaultDifyAPIKeyEnv     = "DIFY_API_KEY"
	defaultOpenAIAPIKeyEnv   = "OPENAI_API_KEY"
	defaultOpenCodeUsername  = "opencode"
	defaultConsoleUserID     = 10001
	defaultConsoleNickname   = "console"
	defaultConsoleGroupID    = 20001
)

var supportedExtensions = []string{".json", ".yaml", ".yml", ".toml"}

// Config is the root runtime configuration loaded from config.{json,yaml,toml}.
type Config struct {
	Listener  ListenerConfig  `json:"listener" yaml:"listener" toml:"listener"`
	Backend   BackendConfig   `json:"backend" yaml:"backend" toml:"backend"`
	Providers ProvidersConfig `json:"providers" yaml:"providers" toml:"providers"`
	Plugins   PluginsConfig   `json:"plugins" yaml:"plugins" toml:"plugins"`
	Groups    GroupsConfig    `json:"groups" yaml:"groups" toml:"groups"`
	Heartbeat HeartbeatConfig `json:"heartbeat" yaml:"heartbeat" toml:"heartbeat"`
	Dedupe    DedupeConfig    `json:"dedupe" yaml:"dedupe" toml:"dedupe"`
	Console   ConsoleConfig   `json:"console,omitempty" yaml:"console,omitempty" toml:"console,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty" toml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty" toml:"add_source,omitempty"`
}

// ListenerConfig is the endpoint the IM gateway connects to.
type ListenerConfig struct {
	Host          string `json:"host" yaml:"host" toml:"host"`
	Port          int    `json:"port" yaml:"port" toml:"port"`
	Path          string `json:"path" yaml:"path" toml:"path"`
	MaxFrameBytes int64  `json:"max_frame_bytes" yaml:"max_frame_bytes" toml:"max_frame_bytes"`
	FrameQueue    int    `json:"frame_queue" yaml:"frame_queue" toml:"frame_queue"`
}

// Addr returns host:port for net/http.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// BackendConfig selects and tunes the AI fallback responder.
type BackendConfig struct {
	Provider           string  `json:"provider" yaml:"provider" toml:"provider"`
	Model              string  `json:"model" yaml:"model" toml:"model"`
	SystemPrompt       string  `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	TimeoutSeconds     int     `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	HealthCheckSeconds int     `json:"health_check_seconds" yaml:"health_check_seconds" toml:"health_check_seconds"`
	PlainText          bool    `json:"plain_text" yaml:"plain_text" toml:"plain_text"`
	MaxTokens          int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature        float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
}

// Timeout is the bound applied by the router to one backend round trip.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// HealthCheckInterval is the period between backend health probes.
func (b BackendConfig) HealthCheckInterval() time.Duration {
	return time.Duration(b.HealthCheckSeconds) * time.Second
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	Dify     DifyProviderConfig     `json:"dify" yaml:"dify" toml:"dify"`
	OpenAI   OpenAIProviderConfig   `json:"openai" yaml:"openai" toml:"openai"`
	OpenCode OpenCodeProviderConfig `json:"opencode" yaml:"opencode" toml:"opencode"`
}

// DifyProviderConfig configures the Dify chat-app client.
type DifyProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env" toml:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env" toml:"api_key_env"`
	Organization          string `json:"organization" yaml:"organization" toml:"organization"`
	Project               string `json:"project" yaml:"project" toml:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Username              string `json:"username" yaml:"username" toml:"username"`
	PasswordEnv           string `json:"password_env" yaml:"password_env" toml:"password_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
}

// PluginsConfig lists the enabled built-in plugins and their settings.
type PluginsConfig struct {
	Enabled   []string        `json:"enabled" yaml:"enabled" toml:"enabled"`
	Blocklist BlocklistConfig `json:"blocklist" yaml:"blocklist" toml:"blocklist"`
	Keyword   KeywordConfig   `json:"keyword" yaml:"keyword" toml:"keyword"`
}

// IsEnabled reports whether the plugin with the given ID is switched on.
func (p PluginsConfig) IsEnabled(id string) bool {
	return slices.Contains(p.Enabled, strings.TrimSpace(id))
}

// BlocklistConfig lists senders whose messages are swallowed without reply.
type BlocklistConfig struct {
	Users []int64 `json:"users" yaml:"users" toml:"users"`
}

// KeywordConfig maps exact message texts to canned replies.
type KeywordConfig struct {
	Replies map[string]string `json:"replies" yaml:"replies" toml:"replies"`
}

// GroupsConfig selects the per-group policy store.
type GroupsConfig struct {
	Store string `json:"store" yaml:"store" toml:"store"`
	Path  string `json:"path" yaml:"path" toml:"path"`
}

// HeartbeatConfig controls the gateway liveness check period.
type HeartbeatConfig struct {
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds" toml:"interval_seconds"`
}

// Interval returns the liveness check period.
func (h HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSeconds) * time.Second
}

// DedupeConfig controls dropping of redelivered message IDs.
type DedupeConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	TTLSeconds int  `json:"ttl_seconds" yaml:"ttl_seconds" toml:"ttl_seconds"`
	MaxEntries int  `json:"max_entries" yaml:"max_entries" toml:"max_entries"`
}

// TTL returns how long a message ID is remembered.
func (d DedupeConfig) TTL() time.Duration {
	return time.Duration(d.TTLSeconds) * time.Second
}

// ConsoleConfig sets the identities used by the local console simulator.
type ConsoleConfig struct {
	UserID   int64  `json:"user_id" yaml:"user_id" toml:"user_id"`
	Nickname string `json:"nickname" yaml:"nickname" toml:"nickname"`
	GroupID  int64  `json:"group_id" yaml:"group_id" toml:"group_id"`
}

// LoadConfig resolves the config file, decodes it, and applies defaults and env overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFromPath(configPath)
}

// LoadFromPath decodes the config file at path based on its extension.
func LoadFromPath(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := []byte(expandEnvVars(string(content)))

	var cfg Config
	if err := decode(filepath.Ext(path), expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func decode(ext string, content []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(content))
		return decoder.Decode(cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, cfg)
	case ".toml":
		_, err := toml.Decode(string(content), cfg)
		return err
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(strings.TrimSpace(name))
	})
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if path := strings.TrimSpace(os.Getenv(envListenPath)); path != "" {
		cfg.Listener.Path = path
	}

	if rawPlugins := strings.TrimSpace(os.Getenv(envPlugins)); rawPlugins != "" {
		cfg.Plugins.Enabled = parseCSV(rawPlugins)
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Listener.Host) == "" {
		cfg.Listener.Host = defaultListenHost
	}
	if cfg.Listener.Port <= 0 {
		cfg.Listener.Port = defaultListenPort
	}
	if strings.TrimSpace(cfg.Listener.Path) == "" {
		cfg.Listener.Path = defaultListenPath
	}
	if !strings.HasPrefix(cfg.Listener.Path, "/") {
		cfg.Listener.Path = "/" + cfg.Listener.Path
	}
	if cfg.Listener.MaxFrameBytes <= 0 {
		cfg.Listener.MaxFrameBytes = defaultMaxFrameBytes
	}
	if cfg.Listener.FrameQueue <= 0 {
		cfg.Listener.FrameQueue = defaultFrameQueue
	}

	cfg.Backend.Provider = strings.ToLower(strings.TrimSpace(cfg.Backend.Provider))
	if cfg.Backend.Provider == "" {
		cfg.Backend.Provider = defaultProvider
	}
	if cfg.Backend.TimeoutSeconds <= 0 {
		cfg.Backend.TimeoutSeconds = defaultTimeoutSeconds
	}
	if cfg.Backend.HealthCheckSeconds <= 0 {
		cfg.Backend.HealthCheckSeconds = defaultHealthSeconds
	}

	if strings.TrimSpace(cfg.Providers.Dify.BaseURL) == "" {
		cfg.Providers.Dify.BaseURL = defaultDifyBaseURL
	}
	if strings.TrimSpace(cfg.Providers.Dify.APIKeyEnv) == "" {
		cfg.Providers.Dify.APIKeyEnv = defaultDifyAPIKeyEnv
	}
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKeyEnv) == "" {
		cfg.Providers.OpenAI.APIKeyEnv = defaultOpenAIAPIKeyEnv
	}
	if strings.TrimSpace(cfg.Providers.OpenCode.Username) == "" {
		cfg.Providers.OpenCode.Username = defaultOpenCodeUsername
	}

	cfg.Groups.Store = strings.ToLower(strings.TrimSpace(cfg.Groups.Store))
	if cfg.Groups.Store == "" {
		cfg.Groups.Store = defaultGroupsStore
	}
	if strings.TrimSpace(cfg.Groups.Path) == "" && cfg.Groups.Store == defaultGroupsStore {
		cfg.Groups.Path = defaultGroupsSQLitePath
	}

	if cfg.Heartbeat.IntervalSeconds <= 0 {
		cfg.Heartbeat.IntervalSeconds = defaultHeartbeatSeconds
	}

	if cfg.Dedupe.TTLSeconds <= 0 {
		cfg.Dedupe.TTLSeconds = defaultDedupeTTLSeconds
	}
	if cfg.Dedupe.MaxEntries <= 0 {
		cfg.Dedupe.MaxEntries = defaultDedupeMaxEntries
	}

	if cfg.Console.UserID == 0 {
		cfg.Console.UserID = defaultConsoleUserID
	}
	if strings.TrimSpace(cfg.Console.Nickname) == "" {
		cfg.Console.Nickname = defaultConsoleNickname
	}
	if cfg.Console.GroupID == 0 {
		cfg.Console.GroupID = defaultConsoleGroupID
	}
}

// Validate checks fields whose values cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case "dify", "openai", "opencode", "fantasy":
	default:
		return fmt.Errorf("backend.provider %q is not supported", c.Backend.Provider)
	}

	switch c.Groups.Store {
	case "sqlite", "file":
	default:
		return fmt.Errorf("groups.store %q is not supported", c.Groups.Store)
	}
	if c.Groups.Store == "file" && strings.TrimSpace(c.Groups.Path) == "" {
		return errors.New("groups.path is required for the file store")
	}

	if c.Listener.Port > 65535 {
		return fmt.Errorf("listener.port %d is out of range", c.Listener.Port)
	}

	return nil
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is ONEBRIDGE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := make([]string, 0, len(supportedExtensions)*2)
	for _, dir := range []string{cwd, filepath.Join(cwd, "config")} {
		for _, ext := range supportedExtensions {
			candidates = append(candidates, filepath.Join(dir, "config"+ext))
		}
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no config file found (checked %s)", strings.Join(candidates, ", "))
}
