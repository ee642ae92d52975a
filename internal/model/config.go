package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// IMAPConfig holds the connection settings for the remote mailbox.
// The password lives in the OS keychain, not in this file.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// SMTPConfig holds the outbound settings used to deliver digests.
type SMTPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
	TLS  bool   `mapstructure:"tls" yaml:"tls"`
}

// Triage operating modes. In triage mode low-priority mail is archived
// out of the inbox; in label-only mode nothing is moved, only labeled.
const (
	ModeTriage    = "triage"
	ModeLabelOnly = "label_only"
)

// TriageConfig controls the classification loop.
type TriageConfig struct {
	// Mode is "triage" or "label_only".
	Mode string `mapstructure:"mode" yaml:"mode"`

	// PollIntervalSec is how often the triage cycle runs.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// SelfAddress is the triage account's own address; mail it authored
	// is never classified.
	SelfAddress string `mapstructure:"self_address" yaml:"self_address"`

	// StripInbox removes classified mail from the inbox after labeling.
	StripInbox bool `mapstructure:"strip_inbox" yaml:"strip_inbox"`
}

// FoldersConfig names the well-known folders the engine manages.
type FoldersConfig struct {
	// Parent is the root classification folder; one child per
	// classification is created under it.
	Parent string `mapstructure:"parent" yaml:"parent"`

	// Correction is the folder whose subfolders carry free-text
	// reclassification instructions.
	Correction string `mapstructure:"correction" yaml:"correction"`
}

// DigestConfig controls digest generation and delivery.
type DigestConfig struct {
	IntervalSec int    `mapstructure:"interval_sec" yaml:"interval_sec"`
	Recipient   string `mapstructure:"recipient" yaml:"recipient"`

	// CleanupBaseURL, when set, is prepended to /cleanup/{token} to
	// build the one-click cleanup link embedded in sent digests.
	CleanupBaseURL string `mapstructure:"cleanup_base_url" yaml:"cleanup_base_url"`

	// MessageLinkTemplate renders a deep link to a source message; the
	// message id is substituted for %s.
	MessageLinkTemplate string `mapstructure:"message_link_template" yaml:"message_link_template"`
}

// AIConfig holds settings for the classifier integration.
type AIConfig struct {
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// HTTPConfig holds settings for the cleanup/metrics HTTP listener.
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	DBPath  string        `mapstructure:"db_path" yaml:"db_path"`
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	SMTP    SMTPConfig    `mapstructure:"smtp" yaml:"smtp"`
	Triage  TriageConfig  `mapstructure:"triage" yaml:"triage"`
	Folders FoldersConfig `mapstructure:"folders" yaml:"folders"`
	Digest  DigestConfig  `mapstructure:"digest" yaml:"digest"`
	AI      AIConfig      `mapstructure:"ai" yaml:"ai"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailtriage/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailtriage", "config.yaml")
}

// DefaultDBPath returns the default SQLite database location.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailtriage.db")
	}
	return filepath.Join(home, ".config", "mailtriage", "mailtriage.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DBPath: DefaultDBPath(),
		IMAP:   IMAPConfig{Port: "993", TLS: true},
		SMTP:   SMTPConfig{Port: "465", TLS: true},
		Triage: TriageConfig{
			Mode:            ModeTriage,
			PollIntervalSec: 300,
			StripInbox:      false,
		},
		Folders: FoldersConfig{
			Parent:     "Triage",
			Correction: "Corrections",
		},
		Digest: DigestConfig{
			IntervalSec: 86400,
		},
		AI: AIConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 2048,
		},
		HTTP: HTTPConfig{ListenAddr: "127.0.0.1:8321"},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", DefaultDBPath())
	v.SetDefault("imap.port", "993")
	v.SetDefault("imap.tls", true)
	v.SetDefault("smtp.port", "465")
	v.SetDefault("smtp.tls", true)
	v.SetDefault("triage.mode", ModeTriage)
	v.SetDefault("triage.poll_interval_sec", 300)
	v.SetDefault("folders.parent", "Triage")
	v.SetDefault("folders.correction", "Corrections")
	v.SetDefault("digest.interval_sec", 86400)
	v.SetDefault("ai.model", "claude-sonnet-4-20250514")
	v.SetDefault("ai.max_tokens", 2048)
	v.SetDefault("http.listen_addr", "127.0.0.1:8321")

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

	if cfg.Triage.Mode != ModeTriage && cfg.Triage.Mode != ModeLabelOnly {
		return nil, fmt.Errorf(
			"invalid triage mode %q (want %q or %q)",
			cfg.Triage.Mode, ModeTriage, ModeLabelOnly,
		)
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

	v.Set("db_path", cfg.DBPath)
	v.Set("imap", cfg.IMAP)
	v.Set("smtp", cfg.SMTP)
	v.Set("triage", cfg.Triage)
	v.Set("folders", cfg.Folders)
	v.Set("digest", cfg.Digest)
	v.Set("ai", cfg.AI)
	v.Set("http", cfg.HTTP)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
