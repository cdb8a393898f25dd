package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for the bot.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Provider   ProviderConfig   `json:"provider"`
	Channels   ChannelsConfig   `json:"channels"`
	Routes     RoutesConfig     `json:"routes"`
	Transcript TranscriptConfig `json:"transcript"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	BusBufferSize         int    `json:"busBufferSize,omitempty"`
}

// ProviderConfig configures the completion provider. Only
// OpenAI-compatible API providers are supported; Groq is the default.
type ProviderConfig struct {
	Name        string  `json:"name"`
	APIBase     string  `json:"apiBase,omitempty"`
	APIKey      string  `json:"apiKey,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TimeoutSecs int     `json:"timeoutSeconds,omitempty"`
}

type ChannelsConfig struct {
	Teams    TeamsConfig    `json:"teams"`
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	CLI      CLIConfig      `json:"cli"`
}

type TeamsConfig struct {
	Enabled     bool   `json:"enabled"`
	Port        int    `json:"port"`
	Path        string `json:"path,omitempty"`
	AppID       string `json:"appId,omitempty"`
	AppPassword string `json:"appPassword,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// RoutesConfig points at the YAML pattern-routes table. An empty File
// means the built-in defaults are used.
type RoutesConfig struct {
	File string `json:"file,omitempty"`
}

// TranscriptConfig configures the append-only exchange log.
type TranscriptConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Port     int    `json:"port"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.teamsbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".teamsbot"
	}
	return filepath.Join(home, ".teamsbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Transcript.DBPath = ExpandPath(cfg.Transcript.DBPath)
	cfg.Routes.File = ExpandPath(cfg.Routes.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
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
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Provider.Name == "" {
		errs = append(errs, "provider.name is required")
	}
	if cfg.Provider.Temperature < 0 || cfg.Provider.Temperature > 2 {
		errs = append(errs, "provider.temperature must be between 0 and 2")
	}

	if cfg.Channels.Teams.Port < 0 || cfg.Channels.Teams.Port > 65535 {
		errs = append(errs, "channels.teams.port must be between 0 and 65535")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}

	if cfg.Transcript.Enabled && cfg.Transcript.DBPath == "" {
		errs = append(errs, "transcript.dbPath is required when transcript is enabled")
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
