package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for pdfrelay.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Transport TransportConfig `json:"transport"`
	Relay     RelayConfig     `json:"relay"`
	Extractor ExtractorConfig `json:"extractor"`
	TempStore TempStoreConfig `json:"tempStore"`
	Bot       BotConfig       `json:"bot"`
	Dedup     DedupConfig     `json:"dedup"`
	Metrics   MetricsConfig   `json:"metrics"`
	API       APIConfig       `json:"api"`
}

// GeneralConfig holds process-wide settings.
type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
	DataDir  string `json:"dataDir"`
}

// TransportConfig selects and tunes the messaging transport.
type TransportConfig struct {
	Kind string `json:"kind"` // "whatsapp" | "telegram"
	// ReconnectDelaySeconds postpones restarts after transient drops; 0 = immediate.
	ReconnectDelaySeconds int            `json:"reconnectDelaySeconds"`
	WhatsApp              WhatsAppConfig `json:"whatsapp"`
	Telegram              TelegramConfig `json:"telegram"`
}

// WhatsAppConfig configures the whatsmeow session store.
type WhatsAppConfig struct {
	SessionDB string `json:"sessionDb"`
}

// TelegramConfig configures the Telegram bot.
type TelegramConfig struct {
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
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

// RelayConfig configures the automation webhook.
type RelayConfig struct {
	WebhookURL     string `json:"webhookUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	// IncludeExtraction attaches page/word counts, summary and sections to PDF payloads.
	IncludeExtraction bool `json:"includeExtraction"`
}

// ExtractorConfig configures PDF extraction.
type ExtractorConfig struct {
	Sections        bool   `json:"sections"`
	TitlePolicyFile string `json:"titlePolicyFile,omitempty"`
	KeepTempCopy    bool   `json:"keepTempCopy"`
}

// TempStoreConfig configures temporary artifact retention.
type TempStoreConfig struct {
	Dir                  string `json:"dir,omitempty"` // default: <os temp>/pdfrelay
	RetentionMinutes     int    `json:"retentionMinutes"`
	StaleAfterMinutes    int    `json:"staleAfterMinutes"`
	SweepIntervalMinutes int    `json:"sweepIntervalMinutes"`
}

// BotConfig holds the user-facing texts. Empty texts use built-in defaults.
type BotConfig struct {
	StartCommand string `json:"startCommand"`
	WelcomeText  string `json:"welcomeText,omitempty"`
	AckText      string `json:"ackText,omitempty"`
	FailureText  string `json:"failureText,omitempty"`
}

// DedupConfig selects the redelivery filter backend.
type DedupConfig struct {
	Backend       string `json:"backend"` // "memory" | "redis" | "none"
	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDb,omitempty"`
	TTLMinutes    int    `json:"ttlMinutes"`
}

// MetricsConfig configures the Prometheus text endpoint on the operator API.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// APIConfig configures the operator HTTP surface.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Secret  string `json:"secret,omitempty"` // HMAC secret for /send-message
}

// DefaultConfigDir returns the default config directory (~/.pdfrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pdfrelay"
	}
	return filepath.Join(home, ".pdfrelay")
}

// DefaultConfigPath returns ~/.pdfrelay/config.json.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads KEY=VALUE pairs from .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path over the defaults and applies environment overrides
// before validating.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

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
	return finish(cfg)
}

// LoadOrDefaults loads path, or falls back to Defaults when the file does
// not exist so the service can run from environment variables alone.
func LoadOrDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return finish(Defaults())
	}
	return nil, err
}

func finish(cfg *Config) (*Config, error) {
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.Transport.WhatsApp.SessionDB = ExpandPath(cfg.Transport.WhatsApp.SessionDB)
	cfg.Extractor.TitlePolicyFile = ExpandPath(cfg.Extractor.TitlePolicyFile)
	cfg.TempStore.Dir = ExpandPath(cfg.TempStore.Dir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies the well-known environment variables PORT,
// N8N_WEBHOOK_URL and LOG_LEVEL on top of cfg.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv("N8N_WEBHOOK_URL"); v != "" {
		cfg.Relay.WebhookURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.General.LogLevel = v
	}
	return nil
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
			return match
		}
		return val
	})
}

// Save writes cfg as indented JSON with owner-only permissions.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// May hold bot tokens and webhook secrets.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values and reports all
// problems at once.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Transport.Kind {
	case "whatsapp":
		if cfg.Transport.WhatsApp.SessionDB == "" {
			errs = append(errs, "transport.whatsapp.sessionDb is required")
		}
	case "telegram":
		if cfg.Transport.Telegram.Token == "" {
			errs = append(errs, "transport.telegram.token is required for the telegram transport")
		}
	default:
		errs = append(errs, "transport.kind must be one of: whatsapp, telegram")
	}
	if cfg.Transport.ReconnectDelaySeconds < 0 {
		errs = append(errs, "transport.reconnectDelaySeconds must be >= 0")
	}

	if cfg.Relay.TimeoutSeconds < 1 {
		errs = append(errs, "relay.timeoutSeconds must be >= 1")
	}

	if cfg.TempStore.RetentionMinutes < 1 {
		errs = append(errs, "tempStore.retentionMinutes must be >= 1")
	}
	if cfg.TempStore.StaleAfterMinutes < 1 {
		errs = append(errs, "tempStore.staleAfterMinutes must be >= 1")
	}
	if cfg.TempStore.SweepIntervalMinutes < 1 {
		errs = append(errs, "tempStore.sweepIntervalMinutes must be >= 1")
	}

	if strings.TrimSpace(cfg.Bot.StartCommand) == "" {
		errs = append(errs, "bot.startCommand must not be empty")
	}

	switch cfg.Dedup.Backend {
	case "memory", "none":
	case "redis":
		if cfg.Dedup.RedisAddr == "" {
			errs = append(errs, "dedup.redisAddr is required for the redis backend")
		}
	default:
		errs = append(errs, "dedup.backend must be one of: memory, redis, none")
	}
	if cfg.Dedup.TTLMinutes < 1 {
		errs = append(errs, "dedup.ttlMinutes must be >= 1")
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
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
