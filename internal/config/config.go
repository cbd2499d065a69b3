package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type BrowserConfig struct {
	Headless        bool   `mapstructure:"headless"`
	ChromePath      string `mapstructure:"chrome_path"`
	Width           int    `mapstructure:"width"`
	Height          int    `mapstructure:"height"`
	SettleMs        int    `mapstructure:"settle_ms"`
	RestrictNetwork bool   `mapstructure:"restrict_network"`
}

type RunConfig struct {
	TestTimeoutSeconds int `mapstructure:"test_timeout_seconds"`
}

// BackendConfig selects how backend-type tests and callAPI reach the
// student's Python code: "remote" posts to URL, "local" runs it in a Docker
// sandbox, "off" leaves the bridge disconnected.
type BackendConfig struct {
	Mode           string `mapstructure:"mode"`
	URL            string `mapstructure:"url"`
	Image          string `mapstructure:"image"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// JudgeConfig selects the verdict service for visual tests: "remote" posts
// to a judge endpoint, "openai" calls a vision model directly, "off"
// disables visual tests.
type JudgeConfig struct {
	Mode    string `mapstructure:"mode"`
	URL     string `mapstructure:"url"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Browser BrowserConfig `mapstructure:"browser"`
	Run     RunConfig     `mapstructure:"run"`
	Backend BackendConfig `mapstructure:"backend"`
	Judge   JudgeConfig   `mapstructure:"judge"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("proctor")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.proctor")

	v.SetDefault("server.port", 8750)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".proctor", "proctor.db"))
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.chrome_path", "")
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 800)
	v.SetDefault("browser.settle_ms", 300)
	v.SetDefault("browser.restrict_network", true)
	v.SetDefault("run.test_timeout_seconds", 30)
	v.SetDefault("backend.mode", "off")
	v.SetDefault("backend.url", "http://localhost:8400/execute")
	v.SetDefault("backend.image", "python:3.12-slim")
	v.SetDefault("backend.timeout_seconds", 30)
	v.SetDefault("judge.mode", "off")
	v.SetDefault("judge.url", "http://localhost:8500/judge")
	v.SetDefault("judge.base_url", "")
	v.SetDefault("judge.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("judge.model", "gpt-4o")

	if err := v.ReadInConfig(); err != nil {
		// Running with pure defaults is fine; only a broken file is fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Judge.APIKey = expandEnv(cfg.Judge.APIKey)

	return &cfg, nil
}

// expandEnv resolves a ${VAR} placeholder so secrets stay out of the file.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// TestTimeout returns the per-test budget as a duration.
func (c RunConfig) TestTimeout() time.Duration {
	return time.Duration(c.TestTimeoutSeconds) * time.Second
}

// Timeout returns the backend call budget as a duration.
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SettleDelay returns the post-load settle time as a duration.
func (c BrowserConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}

// Enabled reports whether a backend executor should be constructed.
func (c BackendConfig) Enabled() bool {
	return c.Mode == "remote" || c.Mode == "local"
}

// Enabled reports whether a judge should be constructed.
func (c JudgeConfig) Enabled() bool {
	return c.Mode == "remote" || c.Mode == "openai"
}
