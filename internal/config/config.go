package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          int
	DBPath        string
	Token         string
	ConfigPath    string
	LogLevel      string
	CatalogDir    string
	CallbackRate  float64
	CallbackBurst int
	PrintToken    bool

	// DispatchTimeout bounds one outbound dispatch call. Zero means no timeout.
	DispatchTimeout time.Duration

	AppBaseURL          string
	OrchestratorBaseURL string
	PrivacyKey          string
	ApplicationID       string
	ModelName           string
	ModelAPIKey         string
	BrowserModelName    string
	BrowserModelAPIKey  string
	GitHubToken         string
	FirecrawlAPIKey     string
}

// MissingError lists mandatory settings that were not provided.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Keys, ", "))
}

// setting binds one config field to its file key and environment variable.
type setting struct {
	fileKey  string
	envKey   string
	required bool
	target   func(c *Config) *string
}

var stringSettings = []setting{
	{fileKey: "AppBaseURL", envKey: "PROD_BASE_URL", required: true, target: func(c *Config) *string { return &c.AppBaseURL }},
	{fileKey: "OrchestratorBaseURL", envKey: "CORAL_BASE_URL", required: true, target: func(c *Config) *string { return &c.OrchestratorBaseURL }},
	{fileKey: "PrivacyKey", envKey: "CORAL_PRIVACY_KEY", required: true, target: func(c *Config) *string { return &c.PrivacyKey }},
	{fileKey: "ApplicationID", envKey: "CORAL_APPLICATION_ID", required: true, target: func(c *Config) *string { return &c.ApplicationID }},
	{fileKey: "ModelName", envKey: "MODEL_NAME", required: true, target: func(c *Config) *string { return &c.ModelName }},
	{fileKey: "ModelAPIKey", envKey: "MODEL_API_KEY", required: true, target: func(c *Config) *string { return &c.ModelAPIKey }},
	{fileKey: "BrowserModelName", envKey: "BROWSER_USE_MODEL_NAME", required: true, target: func(c *Config) *string { return &c.BrowserModelName }},
	{fileKey: "BrowserModelAPIKey", envKey: "BROWSER_USE_MODEL_API_KEY", required: true, target: func(c *Config) *string { return &c.BrowserModelAPIKey }},
	{fileKey: "GitHubToken", envKey: "GITHUB_PERSONAL_ACCESS_TOKEN", required: true, target: func(c *Config) *string { return &c.GitHubToken }},
	{fileKey: "FirecrawlAPIKey", envKey: "FIRECRAWL_API_KEY", required: true, target: func(c *Config) *string { return &c.FirecrawlAPIKey }},
	{fileKey: "Token", envKey: "BUFFALO_TOKEN", target: func(c *Config) *string { return &c.Token }},
	{fileKey: "DBPath", envKey: "BUFFALO_DB_PATH", target: func(c *Config) *string { return &c.DBPath }},
	{fileKey: "LogLevel", envKey: "BUFFALO_LOG_LEVEL", target: func(c *Config) *string { return &c.LogLevel }},
	{fileKey: "CatalogDir", envKey: "BUFFALO_CATALOG_DIR", target: func(c *Config) *string { return &c.CatalogDir }},
}

func defaults() (*Config, error) {
	cfg := &Config{
		Port:          8787,
		LogLevel:      "info",
		CallbackRate:  20,
		CallbackBurst: 40,
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cfg.ConfigPath = filepath.Join(homeDir, ".config", "buffalo", "config")
	cfg.DBPath = filepath.Join(homeDir, ".config", "buffalo", "buffalo.db")
	return cfg, nil
}

func Load() (*Config, error) {
	return LoadFrom(flag.CommandLine, os.Args[1:], os.LookupEnv)
}

// LoadFrom layers defaults, the config file, environment variables and flags,
// in that order, and validates the result.
func LoadFrom(fs *flag.FlagSet, args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg, err := defaults()
	if err != nil {
		return nil, err
	}

	if path, ok := lookupEnv("BUFFALO_CONFIG"); ok && strings.TrimSpace(path) != "" {
		cfg.ConfigPath = strings.TrimSpace(path)
	}
	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := cfg.loadFromEnv(lookupEnv); err != nil {
		return nil, err
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "API bearer token (auto-generated if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.CatalogDir, "catalog", cfg.CatalogDir, "directory with buffalo-defined test YAML files")
	fs.DurationVar(&cfg.DispatchTimeout, "dispatch-timeout", cfg.DispatchTimeout, "timeout for remote dispatch calls (0 disables)")
	fs.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return nil, err
	}

	cfg.AppBaseURL = NormalizeBaseURL(cfg.AppBaseURL)
	cfg.OrchestratorBaseURL = NormalizeBaseURL(cfg.OrchestratorBaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	missing := []string{}
	for _, s := range stringSettings {
		if s.required && strings.TrimSpace(*s.target(c)) == "" {
			missing = append(missing, s.envKey)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingError{Keys: missing}
	}
	return nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
}

var schemePattern = regexp.MustCompile(`^(https?:)?//`)

// NormalizeBaseURL adds an http scheme when none is present and drops a
// trailing slash.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !schemePattern.MatchString(raw) {
		raw = "http://" + raw
	}
	return strings.TrimSuffix(raw, "/")
}

func (c *Config) loadFromEnv(lookupEnv func(string) (string, bool)) error {
	for _, s := range stringSettings {
		if v, ok := lookupEnv(s.envKey); ok && strings.TrimSpace(v) != "" {
			*s.target(c) = strings.TrimSpace(v)
		}
	}
	if v, ok := lookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := lookupEnv("BUFFALO_CALLBACK_RATE"); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid BUFFALO_CALLBACK_RATE: %w", err)
		}
		c.CallbackRate = rate
	}
	if v, ok := lookupEnv("BUFFALO_CALLBACK_BURST"); ok && v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BUFFALO_CALLBACK_BURST: %w", err)
		}
		c.CallbackBurst = burst
	}
	if v, ok := lookupEnv("BUFFALO_DISPATCH_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BUFFALO_DISPATCH_TIMEOUT: %w", err)
		}
		c.DispatchTimeout = d
	}
	return nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "Port":
			var port int
			if _, err := fmt.Sscanf(value, "%d", &port); err != nil {
				return fmt.Errorf("invalid Port value %q: %w", value, err)
			}
			c.Port = port
		case "CallbackRate":
			rate, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("invalid CallbackRate value %q: %w", value, err)
			}
			c.CallbackRate = rate
		case "CallbackBurst":
			burst, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid CallbackBurst value %q: %w", value, err)
			}
			c.CallbackBurst = burst
		case "DispatchTimeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid DispatchTimeout value %q: %w", value, err)
			}
			c.DispatchTimeout = d
		default:
			for _, s := range stringSettings {
				if s.fileKey == key {
					*s.target(c) = value
					break
				}
			}
		}
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	existing, err := os.ReadFile(c.ConfigPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	lines := []string{}
	for _, line := range strings.Split(string(existing), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "Token=") {
			continue
		}
		lines = append(lines, trimmed)
	}
	lines = append(lines, "Token="+c.Token)
	return os.WriteFile(c.ConfigPath, []byte(strings.Join(lines, "\n")+"\n"), 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
