package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// GmailConfig holds paths for the Gmail OAuth credential files.
type GmailConfig struct {
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	TokenFile       string `mapstructure:"token_file" yaml:"token_file"`
}

// IMAPConfig holds settings for the IMAP/SMTP gateway, used when the
// mailbox is not a Gmail account.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// AIConfig holds settings for the classification model.
type AIConfig struct {
	Model       string  `mapstructure:"model" yaml:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// RateLimitConfig bounds outbound classification calls.
type RateLimitConfig struct {
	Calls     int `mapstructure:"calls" yaml:"calls"`
	PeriodSec int `mapstructure:"period_sec" yaml:"period_sec"`
}

// ScanConfig controls batch size and worker-pool behavior.
type ScanConfig struct {
	MaxEmails      int    `mapstructure:"max_emails" yaml:"max_emails"`
	Workers        int    `mapstructure:"workers" yaml:"workers"`
	AutoDraft      bool   `mapstructure:"auto_draft" yaml:"auto_draft"`
	BodyPreviewLen int    `mapstructure:"body_preview_len" yaml:"body_preview_len"`
	UserName       string `mapstructure:"user_name" yaml:"user_name"`

	// PollIntervalSec enables periodic background scans when positive.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// HTTPConfig holds the API listen address.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Gateway    string          `mapstructure:"gateway" yaml:"gateway"` // "gmail" or "imap"
	Database   DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Gmail      GmailConfig     `mapstructure:"gmail" yaml:"gmail"`
	IMAP       IMAPConfig      `mapstructure:"imap" yaml:"imap"`
	AI         AIConfig        `mapstructure:"ai" yaml:"ai"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Scan       ScanConfig      `mapstructure:"scan" yaml:"scan"`
	Automation RuleSet         `mapstructure:"automation" yaml:"automation"`
	HTTP       HTTPConfig      `mapstructure:"http" yaml:"http"`
}

// DefaultConfigPath returns the default path for the configuration
// file, located at ~/.config/inboxzero/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "inboxzero", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Gateway:  "gmail",
		Database: DatabaseConfig{Path: "inbox_zero.db"},
		Gmail: GmailConfig{
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
		},
		AI: AIConfig{
			Model:       "llama-3.3-70b-versatile",
			MaxTokens:   600,
			Temperature: 0.3,
		},
		RateLimit: RateLimitConfig{Calls: 30, PeriodSec: 60},
		Scan: ScanConfig{
			MaxEmails:      20,
			Workers:        10,
			AutoDraft:      true,
			BodyPreviewLen: 1500,
		},
		Automation: RuleSet{
			Enabled:            true,
			ArchiveNewsletters: true,
			DeleteSpam:         true,
			ArchiveLowPriority: false,
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:5000"},
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. If the file does not exist, it returns a default
// configuration. Environment variables prefixed INBOXZERO_ override
// file values.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("gateway", "gmail")
	v.SetDefault("database.path", "inbox_zero.db")
	v.SetDefault("gmail.credentials_file", "credentials.json")
	v.SetDefault("gmail.token_file", "token.json")
	v.SetDefault("ai.model", "llama-3.3-70b-versatile")
	v.SetDefault("ai.max_tokens", 600)
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("rate_limit.calls", 30)
	v.SetDefault("rate_limit.period_sec", 60)
	v.SetDefault("scan.max_emails", 20)
	v.SetDefault("scan.workers", 10)
	v.SetDefault("scan.auto_draft", true)
	v.SetDefault("scan.body_preview_len", 1500)
	v.SetDefault("scan.poll_interval_sec", 0)
	v.SetDefault("automation.enabled", true)
	v.SetDefault("automation.archive_newsletters", true)
	v.SetDefault("automation.delete_spam", true)
	v.SetDefault("automation.archive_low_priority", false)
	v.SetDefault("http.addr", "127.0.0.1:5000")

	v.SetEnvPrefix("INBOXZERO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("gateway", cfg.Gateway)
	v.Set("database", cfg.Database)
	v.Set("gmail", cfg.Gmail)
	v.Set("imap", cfg.IMAP)
	v.Set("ai", cfg.AI)
	v.Set("rate_limit", cfg.RateLimit)
	v.Set("scan", cfg.Scan)
	v.Set("automation", cfg.Automation)
	v.Set("http", cfg.HTTP)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
