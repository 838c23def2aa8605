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

// Config holds all configuration for the research service
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Storage StorageConfig `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug      bool          `mapstructure:"debug"`
	LogLevel   string        `mapstructure:"log_level"`
	RunTimeout time.Duration `mapstructure:"run_timeout"` // 0 disables the overall run deadline
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains the model provider configuration.
// Provider is one of: openai, anthropic, ollama.
type LLMConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// FetchConfig contains web fetch settings
type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxPageChars int           `mapstructure:"max_page_chars"`
}

// LimitsConfig contains default per-run research limits
type LimitsConfig struct {
	MaxSources        int  `mapstructure:"max_sources"`
	MaxLinksPerSource int  `mapstructure:"max_links_per_source"`
	FollowLinks       bool `mapstructure:"follow_links"`
}

// StorageConfig contains artifact persistence settings
type StorageConfig struct {
	RunsDir string `mapstructure:"runs_dir"`
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("llm.provider must be one of openai, anthropic, ollama (got %q)", l.Provider)
	}
	if l.Provider != "ollama" && l.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", l.Provider)
	}
	return nil
}

// LoadConfig reads configuration from file and environment.
// Environment variables use the DEEPRESEARCH prefix with dots replaced
// by underscores, e.g. DEEPRESEARCH_LLM_API_KEY.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.run_timeout", time.Duration(0))
	viper.SetDefault("server.address", ":10002")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.base_url", "")
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("llm.max_tokens", 350)
	viper.SetDefault("llm.max_retries", 1)
	viper.SetDefault("fetch.timeout", 20*time.Second)
	viper.SetDefault("fetch.max_page_chars", 15000)
	viper.SetDefault("limits.max_sources", 1)
	viper.SetDefault("limits.max_links_per_source", 0)
	viper.SetDefault("limits.follow_links", false)
	viper.SetDefault("storage.runs_dir", "runs")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEEPRESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional when running on defaults + env
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &config
}
