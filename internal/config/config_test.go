package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func fullEnv(configPath string) map[string]string {
	return map[string]string{
		"BUFFALO_CONFIG":               configPath,
		"BUFFALO_TOKEN":                "test-token",
		"PROD_BASE_URL":                "buffalo.example.com/",
		"CORAL_BASE_URL":               "https://coral.example.com/",
		"CORAL_PRIVACY_KEY":            "privacy",
		"CORAL_APPLICATION_ID":         "app",
		"MODEL_NAME":                   "gpt-4.1",
		"MODEL_API_KEY":                "model-key",
		"BROWSER_USE_MODEL_NAME":       "browser-model",
		"BROWSER_USE_MODEL_API_KEY":    "browser-key",
		"GITHUB_PERSONAL_ACCESS_TOKEN": "gh-token",
		"FIRECRAWL_API_KEY":            "fc-key",
	}
}

func lookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadFromFileParsesRemoteSettings(t *testing.T) {
	cfg := &Config{}
	cfg.ConfigPath = filepath.Join(t.TempDir(), "config")

	content := "Port=9999\nToken=test-token\nDBPath=/tmp/custom/buffalo.db\nPrivacyKey=pk\nDispatchTimeout=45s\n# comment\n"
	if err := os.WriteFile(cfg.ConfigPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}

	if err := cfg.loadFromFile(); err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}

	if cfg.DBPath != "/tmp/custom/buffalo.db" {
		t.Fatalf("DBPath = %q, want /tmp/custom/buffalo.db", cfg.DBPath)
	}
	if cfg.Port != 9999 || cfg.PrivacyKey != "pk" || cfg.DispatchTimeout != 45*time.Second {
		t.Fatalf("loadFromFile() cfg = %#v", cfg)
	}
}

func TestLoadFromLayersEnvAndFlags(t *testing.T) {
	env := fullEnv(filepath.Join(t.TempDir(), "config"))
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	cfg, err := LoadFrom(fs, []string{"-port", "9100"}, lookup(env))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Port != 9100 {
		t.Fatalf("Port = %d, want 9100", cfg.Port)
	}
	if cfg.AppBaseURL != "http://buffalo.example.com" {
		t.Fatalf("AppBaseURL = %q", cfg.AppBaseURL)
	}
	if cfg.OrchestratorBaseURL != "https://coral.example.com" {
		t.Fatalf("OrchestratorBaseURL = %q", cfg.OrchestratorBaseURL)
	}
	if cfg.Token != "test-token" || cfg.FirecrawlAPIKey != "fc-key" {
		t.Fatalf("unexpected cfg = %#v", cfg)
	}
}

func TestLoadFromEnvSetsCallbackLimits(t *testing.T) {
	env := fullEnv(filepath.Join(t.TempDir(), "config"))
	env["BUFFALO_CALLBACK_RATE"] = "5.5"
	env["BUFFALO_CALLBACK_BURST"] = "11"
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	cfg, err := LoadFrom(fs, nil, lookup(env))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.CallbackRate != 5.5 || cfg.CallbackBurst != 11 {
		t.Fatalf("callback limits = %v/%d, want 5.5/11", cfg.CallbackRate, cfg.CallbackBurst)
	}

	env["BUFFALO_CALLBACK_BURST"] = "many"
	if _, err := LoadFrom(flag.NewFlagSet("test", flag.ContinueOnError), nil, lookup(env)); err == nil {
		t.Fatal("expected invalid BUFFALO_CALLBACK_BURST error")
	}
}

func TestLoadFromReportsEveryMissingKey(t *testing.T) {
	env := fullEnv(filepath.Join(t.TempDir(), "config"))
	delete(env, "MODEL_API_KEY")
	delete(env, "FIRECRAWL_API_KEY")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	_, err := LoadFrom(fs, nil, lookup(env))
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("LoadFrom() error = %v, want MissingError", err)
	}
	want := []string{"FIRECRAWL_API_KEY", "MODEL_API_KEY"}
	if !reflect.DeepEqual(missing.Keys, want) {
		t.Fatalf("missing keys = %v, want %v", missing.Keys, want)
	}
}

func TestLoadFromRejectsBadLogLevel(t *testing.T) {
	env := fullEnv(filepath.Join(t.TempDir(), "config"))
	env["BUFFALO_LOG_LEVEL"] = "loud"
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	if _, err := LoadFrom(fs, nil, lookup(env)); err == nil {
		t.Fatal("expected invalid log level error")
	}
}

func TestLoadFromGeneratesAndPersistsToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	env := fullEnv(path)
	delete(env, "BUFFALO_TOKEN")
	if err := os.WriteFile(path, []byte("Port=9200\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(flag.NewFlagSet("test", flag.ContinueOnError), nil, lookup(env))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if len(cfg.Token) != 32 {
		t.Fatalf("generated token = %q", cfg.Token)
	}

	reloaded := &Config{ConfigPath: path}
	if err := reloaded.loadFromFile(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Token != cfg.Token || reloaded.Port != 9200 {
		t.Fatalf("persisted config = %#v", reloaded)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                       "",
		"localhost:3000":         "http://localhost:3000",
		"https://app.example/":   "https://app.example",
		"//cdn.example.com/base": "//cdn.example.com/base",
	}
	for in, want := range cases {
		if got := NormalizeBaseURL(in); got != want {
			t.Fatalf("NormalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
