package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvAPIBaseURL       = "QRFORM_API_BASE_URL"
	EnvTemplateEndpoint = "QRFORM_TEMPLATE_ENDPOINT"
	EnvKeyEndpoint      = "QRFORM_KEY_ENDPOINT"
	EnvLogsEndpoint     = "QRFORM_LOGS_ENDPOINT"
	EnvTimeoutSeconds   = "QRFORM_TIMEOUT_SECONDS"
	EnvLogLevel         = "QRFORM_LOG_LEVEL"
)

// Config holds application configuration.
type Config struct {
	// APIBaseURL is prepended to every endpoint path. Empty means same-origin
	// relative paths, which only works when a base is supplied some other way.
	APIBaseURL string `json:"api_base_url,omitempty"`

	// TemplatePath is the collection path for templates; the department id is appended.
	TemplatePath string `json:"template_path,omitempty"`

	// KeyPath serves the PEM encoded RSA public key.
	KeyPath string `json:"key_path,omitempty"`

	// LogPath receives LogRecords via POST.
	LogPath string `json:"log_path,omitempty"`

	// TimeoutSeconds bounds every network request.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// JournalDisabled turns off the local sqlite journal of LogRecords.
	JournalDisabled bool `json:"journal_disabled,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DisabledTools lists MCP tool names that are not registered.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TemplatePath:   "/api/templates",
		KeyPath:        "/api/public-key",
		LogPath:        "/api/logs",
		TimeoutSeconds: 5,
		LogLevel:       "info",
	}
}

// Timeout returns the request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Level maps LogLevel onto a slog level. Unknown values fall back to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load loads configuration from baseDir/config.json and then applies the environment.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.qrform.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	env, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	return Merge(cfg, env), nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process environment.
// Missing files are skipped; variables already set are left untouched.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds an overlay config from environment variables.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		APIBaseURL:   strings.TrimSpace(getenv(EnvAPIBaseURL)),
		TemplatePath: strings.TrimSpace(getenv(EnvTemplateEndpoint)),
		KeyPath:      strings.TrimSpace(getenv(EnvKeyEndpoint)),
		LogPath:      strings.TrimSpace(getenv(EnvLogsEndpoint)),
		LogLevel:     strings.TrimSpace(getenv(EnvLogLevel)),
	}
	if raw := strings.TrimSpace(getenv(EnvTimeoutSeconds)); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer, got %q", EnvTimeoutSeconds, raw)
		}
		cfg.TimeoutSeconds = secs
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence when non-zero.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		APIBaseURL:     pick(overlay.APIBaseURL, base.APIBaseURL),
		TemplatePath:   pick(overlay.TemplatePath, base.TemplatePath),
		KeyPath:        pick(overlay.KeyPath, base.KeyPath),
		LogPath:        pick(overlay.LogPath, base.LogPath),
		LogLevel:       pick(overlay.LogLevel, base.LogLevel),
		TimeoutSeconds: overlay.TimeoutSeconds,
	}
	if result.TimeoutSeconds == 0 {
		result.TimeoutSeconds = base.TimeoutSeconds
	}

	// Booleans: overlay wins if true, else base
	result.JournalDisabled = base.JournalDisabled || overlay.JournalDisabled

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pick(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
