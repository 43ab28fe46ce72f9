package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by the server and the client.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Server    ServerConfig              `json:"server"`
	Storage   StorageConfig             `json:"storage"`
	Assistant AssistantConfig           `json:"assistant"`
	Providers map[string]ProviderConfig `json:"providers"`
	Client    ClientConfig              `json:"client"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel        string   `json:"logLevel"`
	LogFile         string   `json:"logFile,omitempty"` // optional log file path
	DefaultProvider string   `json:"defaultProvider"`
	FailoverChain   []string `json:"failoverChain,omitempty"` // provider failover order
}

type ServerConfig struct {
	Host                   string   `json:"host"`
	Port                   int      `json:"port"`
	AllowedOrigins         []string `json:"allowedOrigins"`
	RateLimitPerMinute     int      `json:"rateLimitPerMinute"` // POST requests per client IP; 0 = unlimited
	RateLimitBurst         int      `json:"rateLimitBurst"`
	MaxBodyBytes           int64    `json:"maxBodyBytes"`
	ShutdownTimeoutSeconds int      `json:"shutdownTimeoutSeconds"`
}

type StorageConfig struct {
	ConversationPath string `json:"conversationPath"`
}

// AssistantConfig shapes the persona that answers every user message.
type AssistantConfig struct {
	Name              string   `json:"name"`
	Principles        []string `json:"principles,omitempty"`
	SystemPromptExtra string   `json:"systemPromptExtra,omitempty"` // custom text appended to system prompt
	Provider          string   `json:"provider,omitempty"`          // overrides general.defaultProvider
	Model             string   `json:"model,omitempty"`
	MaxTokens         int      `json:"maxTokens"`
	Temperature       float64  `json:"temperature"`
	HistoryLimit      int      `json:"historyLimit"` // prior messages sent with each request; 0 = none
	TimeoutSeconds    int      `json:"timeoutSeconds"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// ClientConfig configures the terminal client and one-shot client commands.
type ClientConfig struct {
	ServerURL        string `json:"serverUrl"`
	Author           string `json:"author"`
	BackupPath       string `json:"backupPath"`
	TimeoutSeconds   int    `json:"timeoutSeconds"`
	ScrollDebounceMs int    `json:"scrollDebounceMs"`
	ScrollSettleMs   int    `json:"scrollSettleMs"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

func (a AssistantConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ClientConfig) ScrollDebounce() time.Duration {
	return time.Duration(c.ScrollDebounceMs) * time.Millisecond
}

func (c ClientConfig) ScrollSettle() time.Duration {
	return time.Duration(c.ScrollSettleMs) * time.Millisecond
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.curiosity).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".curiosity"
	}
	return filepath.Join(home, ".curiosity")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads KEY=value pairs from a .env file into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("cannot load %s: %w", path, err)
	}
	return nil
}

// Load reads the config file at path, which must exist. Files ending in
// .yaml or .yml are parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = unmarshalYAML(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadOrDefaults behaves like Load but falls back to Defaults when the file
// does not exist.
func LoadOrDefaults(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, fs.ErrNotExist) {
		return finish(Defaults())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Storage.ConversationPath = ExpandPath(cfg.Storage.ConversationPath)
	cfg.Client.BackupPath = ExpandPath(cfg.Client.BackupPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets a few well-known variables win over the file.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		pc := cfg.Providers["openai"]
		pc.APIKey = key
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		cfg.Providers["openai"] = pc
	}
	if v := os.Getenv("CURIOSITY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CURIOSITY_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("CURIOSITY_LOG_LEVEL"); v != "" {
		cfg.General.LogLevel = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg to path, as YAML when the extension asks for it.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = marshalYAML(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server.rateLimitPerMinute must be >= 0")
	}
	if cfg.Server.RateLimitPerMinute > 0 && cfg.Server.RateLimitBurst < 1 {
		errs = append(errs, "server.rateLimitBurst must be >= 1 when rate limiting is enabled")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.maxBodyBytes must be >= 1")
	}
	if cfg.Server.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, "server.shutdownTimeoutSeconds must be >= 1")
	}

	if cfg.Storage.ConversationPath == "" {
		errs = append(errs, "storage.conversationPath is required")
	}

	if strings.TrimSpace(cfg.Assistant.Name) == "" {
		errs = append(errs, "assistant.name is required")
	}
	if cfg.Assistant.MaxTokens < 1 {
		errs = append(errs, "assistant.maxTokens must be >= 1")
	}
	if cfg.Assistant.Temperature < 0 || cfg.Assistant.Temperature > 2 {
		errs = append(errs, "assistant.temperature must be between 0 and 2")
	}
	if cfg.Assistant.HistoryLimit < 0 {
		errs = append(errs, "assistant.historyLimit must be >= 0")
	}
	if cfg.Assistant.TimeoutSeconds < 1 {
		errs = append(errs, "assistant.timeoutSeconds must be >= 1")
	}

	if u, err := url.Parse(cfg.Client.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "client.serverUrl must be an absolute URL")
	}
	if strings.TrimSpace(cfg.Client.Author) == "" {
		errs = append(errs, "client.author is required")
	}
	if cfg.Client.BackupPath == "" {
		errs = append(errs, "client.backupPath is required")
	}
	if cfg.Client.TimeoutSeconds < 1 {
		errs = append(errs, "client.timeoutSeconds must be >= 1")
	}
	if cfg.Client.ScrollDebounceMs < 0 || cfg.Client.ScrollSettleMs < 0 {
		errs = append(errs, "client scroll delays must be >= 0")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		// Ollama has a usable default base URL.
		if pc.Enabled && pc.APIBase == "" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// unmarshalYAML decodes YAML through a generic tree so the json tags stay
// the single source of key names.
func unmarshalYAML(data []byte, cfg *Config) error {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	if tree == nil {
		return nil
	}
	buf, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("yaml to json: %w", err)
	}
	return json.Unmarshal(buf, cfg)
}

func marshalYAML(cfg *Config) ([]byte, error) {
	tree, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(integralNumbers(tree))
}

// integralNumbers turns whole float64 values from a JSON tree back into
// integers so YAML does not render them in exponent form.
func integralNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = integralNumbers(val)
		}
	case []any:
		for i, val := range x {
			x[i] = integralNumbers(val)
		}
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
	}
	return v
}
